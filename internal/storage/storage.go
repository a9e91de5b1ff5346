// Package storage materializes downloaded artifacts on local disk and
// optionally mirrors them to S3.
package storage

import (
	"context"
	"io"
)

// Storage defines where finished artifacts land.
type Storage interface {
	// Materialize streams data into destDir under name+ext. The file only
	// becomes visible once it is fully written and closed. Existing files are
	// never overwritten: a numeric suffix is appended instead. An empty destDir
	// selects the default download directory.
	Materialize(ctx context.Context, destDir, name, ext string, data io.Reader) (path string, size int64, err error)

	// Open returns a reader for a materialized file.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupPartials removes in-progress files left behind in dir by an
	// interrupted process and returns how many were removed.
	CleanupPartials(ctx context.Context, dir string) (int, error)

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
