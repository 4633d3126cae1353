// Package objectstore mirrors local checkpoint and output files to an
// S3-compatible bucket.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// defaultRegion avoids a bucket location lookup on every upload; MinIO
// answers to it regardless of its configured region.
const defaultRegion = "us-east-1"

// Options configures the mirror.
type Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// Mirror uploads files to one bucket.
type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New connects to the object store and creates the bucket when it does not
// exist. Connection attempts are retried for up to readyTimeout.
func New(ctx context.Context, opts Options, readyTimeout time.Duration, logger *slog.Logger) (*Mirror, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: defaultRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	m := &Mirror{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: logger,
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = readyTimeout
	if err := backoff.Retry(func() error { return m.ensureBucket(ctx) }, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("object store not ready: %w", err)
	}
	return m, nil
}

func (m *Mirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		m.logger.Warn("object store bucket check failed, retrying", "bucket", m.bucket, "error", err)
		return err
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: defaultRegion}); err != nil {
		return fmt.Errorf("make bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("object store bucket created", "bucket", m.bucket)
	return nil
}

// Key returns the object key for a relative name.
func (m *Mirror) Key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Upload copies the file at localPath to key.
func (m *Mirror) Upload(ctx context.Context, localPath, key string) error {
	info, err := m.client.FPutObject(ctx, m.bucket, m.Key(key), localPath, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Debug("file mirrored", "bucket", m.bucket, "key", info.Key, "bytes", info.Size)
	return nil
}
