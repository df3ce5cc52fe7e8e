package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/oszuidwest/voicetutor/internal/util"
)

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`                   // Custom endpoint (empty for AWS)
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`                       // Region, "auto" when empty
	Bucket          string `json:"bucket,omitempty" yaml:"bucket,omitempty"`                       // Bucket name
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`                       // Object key prefix
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`         // Access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"` // Secret access key
}

// IsConfigured reports whether bucket and credentials are set.
func (c *S3Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// S3Store stores values as objects in an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a store for the configured bucket.
func NewS3Store(cfg *S3Config) (*S3Store, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("s3: bucket and credentials are required")
	}
	return &S3Store{
		client: newS3Client(cfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// newS3Client builds a client with static credentials. A custom endpoint
// switches to path-style addressing for S3-compatible services.
func newS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key + ".json"
}

// Get implements BlobStore.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, util.WrapError("get object", err)
	}
	defer util.SafeCloseFunc(out.Body.Close, "s3 object body")()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, util.WrapError("read object", err)
	}
	return data, nil
}

// Put implements BlobStore.
func (s *S3Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
		ContentType:   aws.String("application/json"),
	})
	return util.WrapError("put object", err)
}

// Delete implements BlobStore.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return util.WrapError("delete object", err)
}

// TestConnection writes and removes a test object to verify access.
func (s *S3Store) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	key := fmt.Sprintf("connection-test-%d", time.Now().UnixNano())
	if err := s.Put(ctx, key, []byte(`{"test":true}`)); err != nil {
		return err
	}
	if err := s.Delete(ctx, key); err != nil {
		slog.Warn("failed to delete test object", "key", key, "error", err)
	}
	return nil
}
