package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio stores objects in one bucket of an S3-compatible service.
type Minio struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinio connects to the configured endpoint and creates the bucket if it
// does not exist.
func NewMinio(ctx context.Context, cfg config.ObjectStoreConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	m := &Minio{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.WithComponent("objectstore"),
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
		m.logger.Info("bucket created", "bucket", cfg.Bucket)
	}
	return m, nil
}

func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}

// Open stats the object first so a missing key surfaces here rather than on
// the first Read.
func (m *Minio) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperrors.Wrap(apperrors.ErrNotFound, "object %s", key)
		}
		return nil, fmt.Errorf("s3 stat object %s: %w", key, err)
	}
	return obj, nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 remove object %s: %w", key, err)
	}
	return nil
}

// Ping is used by the readiness check.
func (m *Minio) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucket); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}
	return nil
}
