// Package storage provides key/value blob stores for persisted tutor state.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors for blob stores.
var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned for empty or unsafe keys.
	ErrInvalidKey = errors.New("invalid key")
)

// BlobStore stores opaque values under string keys. Put overwrites.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by configuration.
const (
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)
