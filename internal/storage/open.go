package storage

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr       string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	DB         int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix     string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string // directory for the file backend
	S3      S3Config
	Redis   RedisConfig
}

// Open creates the configured BlobStore.
func Open(opts *Options) (BlobStore, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Path)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendS3:
		return NewS3Store(&opts.S3)
	case BackendRedis:
		if opts.Redis.Addr == "" {
			return nil, fmt.Errorf("redis: addr is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     opts.Redis.Addr,
			Password: opts.Redis.Password,
			DB:       opts.Redis.DB,
		})
		ropts := []RedisOption{WithRedisTTL(secondsToDuration(opts.Redis.TTLSeconds))}
		if opts.Redis.Prefix != "" {
			ropts = append(ropts, WithRedisPrefix(opts.Redis.Prefix))
		}
		slog.Info("using redis history store", "addr", opts.Redis.Addr, "db", opts.Redis.DB)
		return NewRedisStore(client, ropts...), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
