// Package fetcher downloads finished generation results into a local
// destination directory.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/maauso/kling-panel/internal/generation"
	"github.com/maauso/kling-panel/internal/storage"
)

// DefaultProgressEvery is the number of bytes between periodic progress events.
const DefaultProgressEvery = 8 << 20

// DefaultExt is used when the result URL carries no usable extension.
const DefaultExt = ".mp4"

// timestampLayout is the UTC timestamp embedded in artifact file names.
const timestampLayout = "20060102T150405Z"

var (
	// ErrSizeMismatch is returned when the body length differs from Content-Length.
	ErrSizeMismatch = errors.New("fetcher: size mismatch")
	// ErrEmptyURL is returned when no result URL is given.
	ErrEmptyURL = errors.New("fetcher: result URL is required")

	extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

// Fetcher streams result URLs to disk through a Storage.
type Fetcher struct {
	store         storage.Storage
	httpClient    *http.Client
	progressEvery int64
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// WithProgressEvery sets the byte interval between periodic progress events.
func WithProgressEvery(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.progressEvery = n
		}
	}
}

// WithClock sets the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Fetcher that materializes files through store.
func New(store storage.Storage, opts ...Option) *Fetcher {
	f := &Fetcher{
		store: store,
		// no overall timeout; the caller's context bounds the transfer
		httpClient:    &http.Client{},
		progressEvery: DefaultProgressEvery,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Download streams resultURL into destDir as <jobID>_<UTC timestamp><ext>.
// The returned artifact always names a complete, closed file; on any failure
// nothing is left behind in destDir.
func (f *Fetcher) Download(ctx context.Context, resultURL, destDir, jobID string, onProgress generation.ProgressFunc) (generation.Artifact, error) {
	if strings.TrimSpace(resultURL) == "" {
		return generation.Artifact{}, generation.NewError(generation.KindDownload, "", ErrEmptyURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return generation.Artifact{}, generation.NewError(generation.KindDownload, "invalid result URL", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return generation.Artifact{}, f.fail(ctx, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return generation.Artifact{}, generation.NewError(generation.KindDownload,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	expected := resp.ContentLength
	if expected >= 0 {
		onProgress.Emit(generation.StageDownloading, "download started (%s)", formatBytes(expected))
	} else {
		onProgress.Emit(generation.StageDownloading, "download started")
	}

	body := &progressReader{
		ctx:        ctx,
		r:          resp.Body,
		expected:   expected,
		every:      f.progressEvery,
		next:       f.progressEvery,
		onProgress: onProgress,
	}

	name := jobID + "_" + f.now().UTC().Format(timestampLayout)
	localPath, size, err := f.store.Materialize(ctx, destDir, name, extFromURL(resultURL), body)
	if err != nil {
		return generation.Artifact{}, f.fail(ctx, "write failed", err)
	}

	onProgress.Emit(generation.StageDownloading, "download complete: %s (%s)", localPath, formatBytes(size))
	f.logger.InfoContext(ctx, "artifact downloaded",
		slog.String("prediction_id", jobID),
		slog.String("path", localPath),
		slog.Int64("size_bytes", size),
	)

	return generation.Artifact{LocalPath: localPath, SizeBytes: size}, nil
}

func (f *Fetcher) fail(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return generation.NewError(generation.KindCanceled, "", ctx.Err())
	}
	return generation.NewError(generation.KindDownload, msg, err)
}

// extFromURL returns the lowercased extension of the URL path, or DefaultExt.
func extFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return DefaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !extPattern.MatchString(ext) {
		return DefaultExt
	}
	return ext
}

// progressReader observes cancellation on every read, reports coarse
// progress and enforces the declared length.
type progressReader struct {
	ctx        context.Context
	r          io.Reader
	expected   int64
	read       int64
	every      int64
	next       int64
	onProgress generation.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := p.r.Read(b)
	p.read += int64(n)

	if p.expected >= 0 && p.read > p.expected {
		return n, fmt.Errorf("%w: received more than %d bytes", ErrSizeMismatch, p.expected)
	}
	if errors.Is(err, io.EOF) && p.expected >= 0 && p.read != p.expected {
		return n, fmt.Errorf("%w: received %d of %d bytes", ErrSizeMismatch, p.read, p.expected)
	}

	if p.read >= p.next && (p.expected < 0 || p.read < p.expected) {
		if p.expected > 0 {
			p.onProgress.Emit(generation.StageDownloading, "downloaded %s of %s", formatBytes(p.read), formatBytes(p.expected))
		} else {
			p.onProgress.Emit(generation.StageDownloading, "downloaded %s", formatBytes(p.read))
		}
		p.next = (p.read/p.every + 1) * p.every
	}

	return n, err
}

func formatBytes(n int64) string {
	const mib = 1 << 20
	if n < mib {
		return fmt.Sprintf("%d bytes", n)
	}
	return fmt.Sprintf("%.1f MiB", float64(n)/mib)
}
