package util

import (
	"fmt"
	"log/slog"
	"strings"
)

// maxErrorLineLength caps messages pulled from subprocess stderr.
const maxErrorLineLength = 200

// WrapError adds the failed operation to err.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ExtractLastError returns the last non-blank stderr line, truncated.
func ExtractLastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}

// SafeCloseFunc returns a func that calls closeFn and logs any error.
// Intended for defer statements where the close error has nowhere to go.
func SafeCloseFunc(closeFn func() error, what string) func() {
	return func() {
		if err := closeFn(); err != nil {
			slog.Warn("close failed", "resource", what, "error", err)
		}
	}
}
