// Package objectstore abstracts blob storage behind a small interface,
// backed in production by github.com/aws/aws-sdk-go-v2/service/s3 and in
// tests by an in-memory implementation.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Store is the object storage surface consumed by the upload pipeline and
// document manager for backups/exports.
type Store interface {
	// UploadStream reads all of body and stores it under key.
	UploadStream(ctx context.Context, key string, body io.Reader, contentType string) error

	// DownloadStream opens key for reading; the caller must Close it.
	DownloadStream(ctx context.Context, key string) (io.ReadCloser, error)

	// PresignGet returns a time-limited URL for direct client download.
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)

	// SetTags attaches key-value tags to an existing object (used to mark
	// retention class on backups and exports).
	SetTags(ctx context.Context, key string, tags map[string]string) error

	// Delete removes key; used by Document Manager retention sweeps.
	Delete(ctx context.Context, key string) error
}
