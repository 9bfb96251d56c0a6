package routes

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/transitlive/pkg/options"
)

// ObjectStore reads static objects by key.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// MinIO reads objects from one S3 bucket.
type MinIO struct {
	client     *minio.Client
	bucketName string
}

var _ ObjectStore = (*MinIO)(nil)

// NewMinIO creates an S3 object reader for opts.BucketName.
func NewMinIO(opts *options.S3Options) (*MinIO, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIO{
		client:     client,
		bucketName: opts.BucketName,
	}, nil
}

// CheckBucket fails when the bucket is unreachable or missing.
func (m *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", m.bucketName)
	}
	return nil
}

func (m *MinIO) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", m.bucketName, key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("failed to stat object %s/%s: %w", m.bucketName, key, err)
	}
	return obj, nil
}
