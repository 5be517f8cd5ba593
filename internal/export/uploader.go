package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rowmark/rowmark/internal/config"
)

// ErrNotConfigured is returned when an upload is requested but the
// [export] section names no object storage.
var ErrNotConfigured = errors.New("export: upload storage not configured")

// Uploader pushes a finished export file to object storage.
type Uploader interface {
	// Upload stores the file at filePath under the configured prefix,
	// keyed by the file's base name.
	Upload(ctx context.Context, filePath string) error
}

// s3Client is the minimal minio.Client surface used by S3Uploader,
// injectable for tests.
type s3Client interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Uploader uploads export files to an S3-compatible bucket.
type S3Uploader struct {
	client s3Client
	bucket string
	prefix string
}

// Upload stores filePath as {prefix}/{basename}.
func (u *S3Uploader) Upload(ctx context.Context, filePath string) error {
	key := objectKey(u.prefix, filePath)

	opts := minio.PutObjectOptions{ContentType: "application/x-ndjson"}

	if _, err := u.client.FPutObject(ctx, u.bucket, key, filePath, opts); err != nil {
		return fmt.Errorf("export: uploading %s: %w", key, err)
	}

	return nil
}

// NoopUploader stands in when no storage is configured. Upload returns
// ErrNotConfigured so an explicit upload request fails loudly instead of
// silently dropping the file.
type NoopUploader struct{}

// Upload always returns ErrNotConfigured.
func (NoopUploader) Upload(context.Context, string) error {
	return ErrNotConfigured
}

// NewUploader builds an Uploader from the [export] config section.
// Uploads stay disabled until endpoint and bucket are both set; until
// then the NoopUploader is returned.
func NewUploader(cfg config.ExportConfig) (Uploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return NoopUploader{}, nil
	}

	host, secure := endpointHost(cfg.Endpoint, cfg.UseSSL)

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("export: creating S3 client: %w", err)
	}

	return &S3Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// endpointHost strips an optional scheme from the configured endpoint.
// A scheme, when present, decides TLS and overrides use_ssl.
func endpointHost(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, useSSL
	}
}

// objectKey builds the object key {prefix}/{basename}. Keys use forward
// slashes regardless of the local path separator.
func objectKey(prefix, filePath string) string {
	base := filepath.Base(filePath)
	if prefix == "" {
		return base
	}

	return prefix + "/" + base
}
