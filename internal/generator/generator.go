// Package generator submits generation requests to the remote video model and
// reads back their status. It owns request validation, reference image
// encoding and the translation of remote statuses and failures into the
// generation domain.
package generator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/maauso/kling-panel/internal/generation"
	"github.com/maauso/kling-panel/internal/media"
	"github.com/maauso/kling-panel/internal/replicate"
)

// Kling quality modes.
const (
	ModeStandard = "standard"
	ModePro      = "pro"
)

// Generator defines the generation client used by the poller and orchestrator.
type Generator interface {
	// Submit validates req and starts a remote job.
	Submit(ctx context.Context, req generation.Request, credential string) (generation.JobHandle, error)

	// Status performs a single status query.
	Status(ctx context.Context, handle generation.JobHandle, credential string) (generation.JobStatus, error)

	// Cancel asks the service to stop the job.
	Cancel(ctx context.Context, handle generation.JobHandle, credential string) error
}

// Client is the Replicate-backed Generator.
type Client struct {
	api         replicate.Client
	media       media.Processor
	defaultMode string
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMedia sets the processor used to reduce video references to a frame.
// Without one, video references are rejected.
func WithMedia(p media.Processor) Option {
	return func(c *Client) {
		c.media = p
	}
}

// WithDefaultMode sets the Kling mode used when no end image is supplied.
func WithDefaultMode(mode string) Option {
	return func(c *Client) {
		if mode != "" {
			c.defaultMode = mode
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a generation client over the given Replicate API.
func NewClient(api replicate.Client, opts ...Option) *Client {
	c := &Client{
		api:         api,
		defaultMode: ModeStandard,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates req, inlines its reference images and creates one remote
// prediction. Nothing is sent when validation fails.
func (c *Client) Submit(ctx context.Context, req generation.Request, credential string) (generation.JobHandle, error) {
	req, err := req.Validate()
	if err != nil {
		return generation.JobHandle{}, err
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return generation.JobHandle{}, generation.NewError(generation.KindValidation, "api key is required", nil)
	}

	input := replicate.Input{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Duration:       req.DurationSeconds,
		Mode:           c.defaultMode,
	}

	if req.StartImage != nil {
		uri, err := c.encodeImage(ctx, req.StartImage, "start image")
		if err != nil {
			return generation.JobHandle{}, err
		}
		input.StartImage = uri
	}
	if req.EndImage != nil {
		uri, err := c.encodeImage(ctx, req.EndImage, "end image")
		if err != nil {
			return generation.JobHandle{}, err
		}
		input.EndImage = uri
		// end frames are only honoured by the pro tier
		input.Mode = ModePro
	}

	pred, err := c.api.CreatePrediction(ctx, credential, input)
	if err != nil {
		return generation.JobHandle{}, submitError(ctx, err)
	}

	createdAt := c.now().UTC()
	if t, err := time.Parse(time.RFC3339Nano, pred.CreatedAt); err == nil {
		createdAt = t.UTC()
	}

	c.logger.InfoContext(ctx, "prediction created",
		slog.String("prediction_id", pred.ID),
		slog.String("mode", string(req.Mode)),
		slog.String("kling_mode", input.Mode),
		slog.Int("duration", req.DurationSeconds),
	)

	return generation.JobHandle{RemoteID: pred.ID, CreatedAt: createdAt}, nil
}

// Status performs one status query and parses the remote status string.
func (c *Client) Status(ctx context.Context, handle generation.JobHandle, credential string) (generation.JobStatus, error) {
	pred, err := c.api.GetPrediction(ctx, strings.TrimSpace(credential), handle.RemoteID)
	if err != nil {
		return generation.JobStatus{}, statusError(ctx, err)
	}
	return ParseStatus(pred), nil
}

// Cancel asks the service to stop the job.
func (c *Client) Cancel(ctx context.Context, handle generation.JobHandle, credential string) error {
	if err := c.api.CancelPrediction(ctx, strings.TrimSpace(credential), handle.RemoteID); err != nil {
		return statusError(ctx, err)
	}
	c.logger.InfoContext(ctx, "prediction cancel requested", slog.String("prediction_id", handle.RemoteID))
	return nil
}

// ParseStatus maps a Replicate prediction onto the closed JobState set.
func ParseStatus(pred replicate.Prediction) generation.JobStatus {
	st := generation.JobStatus{Raw: string(pred.Status)}

	switch pred.Status {
	case replicate.StatusStarting:
		st.State = generation.StateQueued
	case replicate.StatusProcessing:
		st.State = generation.StateRunning
	case replicate.StatusSucceeded:
		st.ResultURL = pred.OutputURL()
		if st.ResultURL == "" {
			st.State = generation.StateFailed
			st.Reason = "no output URL"
			break
		}
		st.State = generation.StateSucceeded
	case replicate.StatusFailed:
		st.State = generation.StateFailed
		st.Reason = pred.ErrorMessage()
	case replicate.StatusCanceled, replicate.StatusAborted:
		st.State = generation.StateCanceled
	default:
		st.State = generation.StateUnknown
	}

	return st
}

// submitError classifies a create-prediction failure. Any answer from the
// service is a rejection; anything else never reached it.
func submitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return generation.NewError(generation.KindCanceled, "", err)
	}
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		return generation.NewError(generation.KindSubmission, apiErr.Message, err)
	}
	if errors.Is(err, replicate.ErrNoPredictionID) {
		return generation.NewError(generation.KindSubmission, "no job id returned", err)
	}
	return generation.NewError(generation.KindNetwork, "", err)
}

// statusError keeps the transient marker of the underlying error so the
// poller can decide whether to keep going.
func statusError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return generation.NewError(generation.KindCanceled, "", err)
	}
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) {
		return generation.NewError(generation.KindNetwork, apiErr.Message, err)
	}
	return generation.NewError(generation.KindNetwork, "", err)
}

// Compile-time check that Client implements Generator.
var _ Generator = (*Client)(nil)
