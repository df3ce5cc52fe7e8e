package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IsConfigured reports whether every value is non-empty.
func IsConfigured(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// ValidatePath rejects empty paths and paths that try to escape their root.
func ValidatePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s: is required", field)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s: path cannot contain '..'", field)
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("%s: invalid path", field)
	}
	return nil
}

// ValidateKey checks a storage key. Keys may contain slashes but never
// traversal components or absolute prefixes.
func ValidateKey(key string) error {
	if err := ValidatePath("key", key); err != nil {
		return err
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return fmt.Errorf("key: must be relative")
	}
	return nil
}

// EnsureWritableDir creates dir if needed and verifies a file can be written in it.
func EnsureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("create directory", err)
	}
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	return os.Remove(name)
}
