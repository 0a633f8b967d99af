// Package storage mirrors rendered artifacts into an S3-compatible
// object store. Two interchangeable backends: the AWS SDK client (R2 and
// friends) and minio-go (Supabase or any plain S3 endpoint).
package storage

import (
	"context"
	"time"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/config"
)

// ObjectStore is what the pipeline and the beat CRUD need from a bucket.
type ObjectStore interface {
	Upload(ctx context.Context, key, srcPath, contentType string) error
	Download(ctx context.Context, key, dstPath string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// New builds the configured backend, or (nil, nil) when object storage
// is not configured; rendering then serves from local disk only.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.StorageBackend {
	case "r2":
		return NewR2(ctx, cfg)
	case "minio":
		return NewMinio(cfg)
	default:
		return nil, nil
	}
}
