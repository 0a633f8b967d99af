package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/evrardkodia/PSR-MANAGER-BEAT/internal/config"
)

// MinioClient is the minio-go backend, for Supabase storage or any
// plain S3 endpoint where the AWS SDK is overkill.
type MinioClient struct {
	bucket string
	mc     *minio.Client
}

func NewMinio(cfg *config.Config) (*MinioClient, error) {
	endpoint := cfg.S3Endpoint
	secure := true
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		secure = u.Scheme != "http"
		endpoint = u.Host
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: secure,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioClient{bucket: cfg.S3Bucket, mc: mc}, nil
}

func (m *MinioClient) Upload(ctx context.Context, key, srcPath, contentType string) error {
	_, err := m.mc.FPutObject(ctx, m.bucket, key, srcPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (m *MinioClient) Download(ctx context.Context, key, dstPath string) error {
	if err := m.mc.FGetObject(ctx, m.bucket, key, dstPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

func (m *MinioClient) DeletePrefix(ctx context.Context, prefix string) error {
	for obj := range m.mc.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if err := m.mc.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete %s: %w", obj.Key, err)
		}
	}
	return nil
}

func (m *MinioClient) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.mc.PresignedGetObject(ctx, m.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(u.String()), nil
}

// PresignPut signs an upload URL. minio cannot pin the content type into
// the signature, so the uploader's header is taken on trust here.
func (m *MinioClient) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	u, err := m.mc.PresignedPutObject(ctx, m.bucket, key, ttl)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(u.String()), nil
}
