// Package orchestrator runs one generation call end to end: submit the
// request, wait for the remote job and download its result.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maauso/kling-panel/internal/generation"
)

// DefaultCancelTimeout bounds the best-effort remote cancel sent when the
// caller gives up while the job is still running.
const DefaultCancelTimeout = 10 * time.Second

// Generator submits and cancels remote jobs.
type Generator interface {
	Submit(ctx context.Context, req generation.Request, credential string) (generation.JobHandle, error)
	Cancel(ctx context.Context, handle generation.JobHandle, credential string) error
}

// Poller waits for a remote job to reach a terminal state.
type Poller interface {
	WaitUntilDone(ctx context.Context, handle generation.JobHandle, credential string, onProgress generation.ProgressFunc) (generation.JobStatus, error)
}

// Fetcher downloads a result URL into a directory.
type Fetcher interface {
	Download(ctx context.Context, resultURL, destDir, jobID string, onProgress generation.ProgressFunc) (generation.Artifact, error)
}

// Orchestrator composes the three stages. It keeps no per-call state and is
// safe for concurrent use.
type Orchestrator struct {
	generator     Generator
	poller        Poller
	fetcher       Fetcher
	destDir       string
	cancelTimeout time.Duration
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDestDir sets the directory results are downloaded into.
func WithDestDir(dir string) Option {
	return func(o *Orchestrator) {
		o.destDir = dir
	}
}

// WithCancelTimeout sets the budget of the remote cancel request.
func WithCancelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cancelTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(gen Generator, poller Poller, fetcher Fetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator:     gen,
		poller:        poller,
		fetcher:       fetcher,
		cancelTimeout: DefaultCancelTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs submit, poll and download in order and returns the local
// artifact. It fails at the first failing stage; the returned error is a
// *generation.Error tagged with that stage, and onProgress receives exactly
// one failure event for it.
func (o *Orchestrator) Generate(ctx context.Context, req generation.Request, credential string, onProgress generation.ProgressFunc) (generation.Artifact, error) {
	return o.GenerateTo(ctx, req, credential, o.destDir, onProgress)
}

// GenerateTo is Generate with an explicit destination directory.
func (o *Orchestrator) GenerateTo(ctx context.Context, req generation.Request, credential, destDir string, onProgress generation.ProgressFunc) (generation.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return generation.Artifact{}, o.fail(ctx, generation.StageSubmitting, err, onProgress)
	}

	handle, err := o.generator.Submit(ctx, req, credential)
	if err != nil {
		return generation.Artifact{}, o.fail(ctx, generation.StageSubmitting, err, onProgress)
	}
	if onProgress != nil {
		onProgress(generation.ProgressEvent{
			Stage:    generation.StageSubmitting,
			Message:  "submitted job " + handle.RemoteID,
			RemoteID: handle.RemoteID,
		})
	}

	status, err := o.poller.WaitUntilDone(ctx, handle, credential, onProgress)
	if err != nil {
		// an abandoned job would otherwise keep running remotely
		if errors.Is(err, generation.ErrCanceled) || errors.Is(err, generation.ErrTimeout) {
			o.cancelRemote(ctx, handle, credential)
		}
		return generation.Artifact{}, o.fail(ctx, generation.StagePolling, err, onProgress)
	}
	if err := outcome(status); err != nil {
		return generation.Artifact{}, o.fail(ctx, generation.StagePolling, err, onProgress)
	}

	if err := ctx.Err(); err != nil {
		return generation.Artifact{}, o.fail(ctx, generation.StageDownloading, err, onProgress)
	}

	artifact, err := o.fetcher.Download(ctx, status.ResultURL, destDir, handle.RemoteID, onProgress)
	if err != nil {
		return generation.Artifact{}, o.fail(ctx, generation.StageDownloading, err, onProgress)
	}

	o.logger.InfoContext(ctx, "generation complete",
		slog.String("prediction_id", handle.RemoteID),
		slog.String("path", artifact.LocalPath),
		slog.Int64("size_bytes", artifact.SizeBytes),
	)
	return artifact, nil
}

// outcome turns a terminal non-success status into an error.
func outcome(status generation.JobStatus) error {
	switch status.State {
	case generation.StateSucceeded:
		return nil
	case generation.StateCanceled:
		return generation.NewError(generation.KindCanceled, "job was canceled remotely", nil)
	default:
		reason := status.Reason
		if reason == "" {
			reason = status.Describe()
		}
		return generation.NewError(generation.KindSubmission, reason, nil)
	}
}

// fail tags err with stage and sends the single failure notification.
func (o *Orchestrator) fail(ctx context.Context, stage generation.Stage, err error, onProgress generation.ProgressFunc) error {
	tagged := generation.WithStage(err, stage)

	if errors.Is(tagged, generation.ErrCanceled) {
		onProgress.Emit(generation.StageCanceled, "%v", tagged)
		o.logger.InfoContext(ctx, "generation canceled", slog.String("stage", string(stage)))
		return tagged
	}

	onProgress.Emit(generation.StageFailed, "%v", tagged)
	o.logger.WarnContext(ctx, "generation failed",
		slog.String("stage", string(stage)),
		slog.String("kind", string(generation.KindOf(tagged))),
		slog.String("error", tagged.Error()),
	)
	return tagged
}

// cancelRemote asks the service to stop a job that was abandoned. It runs
// detached from the canceled context with its own short deadline.
func (o *Orchestrator) cancelRemote(ctx context.Context, handle generation.JobHandle, credential string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cancelTimeout)
	defer cancel()

	if err := o.generator.Cancel(cctx, handle, credential); err != nil {
		o.logger.WarnContext(ctx, "remote cancel failed",
			slog.String("prediction_id", handle.RemoteID),
			slog.String("error", err.Error()),
		)
	}
}
