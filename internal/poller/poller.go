// Package poller waits for a remote generation job to reach a terminal state.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/kling-panel/internal/generation"
)

// Defaults applied to zero Options fields.
const (
	DefaultInterval               = 5 * time.Second
	DefaultTimeout                = 15 * time.Minute
	DefaultMaxConsecutiveFailures = 3
)

// StatusQuerier performs a single status query for a job.
type StatusQuerier interface {
	Status(ctx context.Context, handle generation.JobHandle, credential string) (generation.JobStatus, error)
}

// Options configures polling.
type Options struct {
	// Interval is the fixed delay between queries.
	Interval time.Duration
	// Timeout bounds the total wall-clock time spent polling.
	Timeout time.Duration
	// MaxConsecutiveFailures is the number of transient query failures in a
	// row tolerated before giving up.
	MaxConsecutiveFailures int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return o
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Poller repeatedly queries a job until it is done.
type Poller struct {
	querier StatusQuerier
	opts    Options
	clock   Clock
	logger  *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Poller.
func New(querier StatusQuerier, opts Options, options ...Option) *Poller {
	p := &Poller{
		querier: querier,
		opts:    opts.withDefaults(),
		clock:   realClock{},
		logger:  slog.Default(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Options returns the effective options.
func (p *Poller) Options() Options {
	return p.opts
}

// WaitUntilDone queries the job immediately and then once per interval until
// it reaches a terminal state. Every query produces exactly one progress
// event. A query already in flight is allowed to finish when ctx is canceled;
// cancellation is observed before each query and while waiting.
//
// The returned status is terminal whenever err is nil. Failed and Canceled
// remote outcomes are returned as statuses, not errors.
func (p *Poller) WaitUntilDone(ctx context.Context, handle generation.JobHandle, credential string, onProgress generation.ProgressFunc) (generation.JobStatus, error) {
	start := p.clock.Now()
	queryCtx := context.WithoutCancel(ctx)
	failures := 0
	queries := 0

	for {
		if err := ctx.Err(); err != nil {
			return generation.JobStatus{}, canceled(err)
		}
		if elapsed := p.clock.Now().Sub(start); elapsed > p.opts.Timeout {
			return generation.JobStatus{}, generation.NewError(generation.KindTimeout,
				fmt.Sprintf("job %s not finished after %s (%d queries)", handle.RemoteID, p.opts.Timeout, queries), nil)
		}

		queries++
		status, err := p.querier.Status(queryCtx, handle, credential)
		switch {
		case err == nil:
			failures = 0
			onProgress.Emit(generation.StagePolling, "job %s %s", handle.RemoteID, status.Describe())
			if status.IsTerminal() {
				p.logger.DebugContext(ctx, "job reached terminal state",
					slog.String("prediction_id", handle.RemoteID),
					slog.String("state", string(status.State)),
					slog.Int("queries", queries),
				)
				return status, nil
			}
			if status.State == generation.StateUnknown {
				p.logger.WarnContext(ctx, "unrecognised job status",
					slog.String("prediction_id", handle.RemoteID),
					slog.String("status", status.Raw),
				)
			}
		case generation.IsTransient(err):
			failures++
			onProgress.Emit(generation.StagePolling, "status check failed (%d/%d): %v", failures, p.opts.MaxConsecutiveFailures, err)
			p.logger.WarnContext(ctx, "status query failed",
				slog.String("prediction_id", handle.RemoteID),
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if failures >= p.opts.MaxConsecutiveFailures {
				return generation.JobStatus{}, generation.NewError(generation.KindNetwork,
					fmt.Sprintf("%d consecutive status queries failed", failures), err)
			}
		default:
			onProgress.Emit(generation.StagePolling, "status check failed: %v", err)
			if generation.KindOf(err) != "" {
				return generation.JobStatus{}, err
			}
			return generation.JobStatus{}, generation.NewError(generation.KindNetwork, "", err)
		}

		select {
		case <-ctx.Done():
			return generation.JobStatus{}, canceled(ctx.Err())
		case <-p.clock.After(p.opts.Interval):
		}
	}
}

func canceled(err error) error {
	return generation.NewError(generation.KindCanceled, "", err)
}
