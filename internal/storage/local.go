package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// partialPrefix marks files that are still being written.
const partialPrefix = ".partial-"

// maxSuffix bounds the search for a free file name.
const maxSuffix = 10000

var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrNoFreeName is returned when every suffixed name is already taken.
	ErrNoFreeName = errors.New("storage: no free file name")
	// ErrInvalidName is returned when a name would escape the destination dir.
	ErrInvalidName = errors.New("storage: invalid file name")
)

// LocalStorage implements the Storage interface using local disk.
// It does not support S3 operations unless wrapped with S3Storage.
type LocalStorage struct {
	downloadDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If downloadDir is empty, a kling-panel directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(downloadDir string) (*LocalStorage, error) {
	if downloadDir == "" {
		downloadDir = filepath.Join(os.TempDir(), "kling-panel")
	}

	if err := os.MkdirAll(downloadDir, 0750); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	return &LocalStorage{downloadDir: downloadDir}, nil
}

// DownloadDir returns the default destination directory.
func (s *LocalStorage) DownloadDir() string {
	return s.downloadDir
}

// Materialize writes data to a hidden partial file in destDir, syncs and
// closes it, then publishes it under the first free name among
// name+ext, name_1+ext, name_2+ext and so on. The partial file is removed in
// every outcome.
func (s *LocalStorage) Materialize(ctx context.Context, destDir, name, ext string, data io.Reader) (string, int64, error) {
	select {
	case <-ctx.Done():
		return "", 0, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if destDir == "" {
		destDir = s.downloadDir
	}
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return "", 0, fmt.Errorf("create destination directory: %w", err)
	}

	f, err := os.CreateTemp(destDir, partialPrefix+name+"-*")
	if err != nil {
		return "", 0, fmt.Errorf("create partial file: %w", err)
	}
	partial := f.Name()
	defer func() { _ = os.Remove(partial) }()

	size, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		return "", 0, fmt.Errorf("write partial file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", 0, fmt.Errorf("sync partial file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("close partial file: %w", err)
	}

	path, err := publish(partial, destDir, name, ext)
	if err != nil {
		return "", 0, err
	}
	return path, size, nil
}

// publish gives the finished partial file its final name without ever
// replacing an existing file.
func publish(partial, dir, name, ext string) (string, error) {
	for i := 0; i < maxSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate += "_" + strconv.Itoa(i)
		}
		target := filepath.Join(dir, candidate+ext)

		err := os.Link(partial, target)
		if err == nil {
			return target, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		// No hard links on this filesystem: reserve the name exclusively and
		// move the partial file onto the reservation.
		reserved, rerr := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640) // #nosec G304 - target is built from a sanitized name
		if errors.Is(rerr, fs.ErrExist) {
			continue
		}
		if rerr != nil {
			return "", fmt.Errorf("publish %s: %w", target, errors.Join(err, rerr))
		}
		_ = reserved.Close()
		if err := os.Rename(partial, target); err != nil {
			_ = os.Remove(target)
			return "", fmt.Errorf("publish %s: %w", target, err)
		}
		return target, nil
	}
	return "", fmt.Errorf("%w: %s%s in %s", ErrNoFreeName, name, ext, dir)
}

// Open opens a materialized file for reading.
func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return f, nil
}

// CleanupPartials removes leftover partial files in dir. It continues even if
// some files fail to delete, returning the first error encountered.
func (s *LocalStorage) CleanupPartials(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		dir = s.downloadDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read directory: %w", err)
	}

	var firstErr error
	removed := 0
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return removed, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if e.IsDir() || !strings.HasPrefix(e.Name(), partialPrefix) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove partial file %s: %w", p, err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)
