// Package generation holds the domain model shared by the generation
// orchestration stages: the request a caller submits, the remote job handle,
// parsed job statuses, the downloaded artifact, progress events and the typed
// error taxonomy every stage reports with.
package generation

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how the remote model is driven.
type Mode string

const (
	// ModeTextToVideo generates a clip from the prompt alone.
	ModeTextToVideo Mode = "t2v"
	// ModeImageToVideo animates a start image, optionally towards an end image.
	ModeImageToVideo Mode = "i2v"
)

// AllowedDurations lists the clip lengths, in seconds, the remote model accepts.
var AllowedDurations = []int{5, 10}

// FramePosition picks which frame is used when a reference points at a video.
type FramePosition string

const (
	// FrameFirst uses the first frame of a video source.
	FrameFirst FramePosition = "first"
	// FrameLast uses the last frame of a video source.
	FrameLast FramePosition = "last"
)

// ImageRef references binary image content, either on disk or inline.
type ImageRef struct {
	// Path is a local file path. Video files are reduced to a single frame.
	Path string
	// Data is inline image content. It takes precedence over Path.
	Data []byte
	// Frame selects the frame when Path is a video. Defaults to FrameFirst.
	Frame FramePosition `validate:"omitempty,oneof=first last"`
}

// IsZero reports whether the reference points at nothing.
func (r *ImageRef) IsZero() bool {
	return r == nil || (strings.TrimSpace(r.Path) == "" && len(r.Data) == 0)
}

// Layer is what the host's layer-selection bridge reports for a selected layer.
type Layer struct {
	Name       string  `json:"name"`
	SourcePath *string `json:"source_path"`
}

// ImageRef converts the layer into a reference image.
// A layer without a source path has no valid reference image and yields nil.
func (l *Layer) ImageRef() *ImageRef {
	if l == nil || l.SourcePath == nil || strings.TrimSpace(*l.SourcePath) == "" {
		return nil
	}
	return &ImageRef{Path: strings.TrimSpace(*l.SourcePath)}
}

// Request is one generation request as submitted by the caller.
type Request struct {
	Mode            Mode      `validate:"required,oneof=t2v i2v"`
	Prompt          string    `validate:"required,max=2500"`
	NegativePrompt  string    `validate:"max=2500"`
	DurationSeconds int       `validate:"required,oneof=5 10"`
	StartImage      *ImageRef `validate:"-"`
	EndImage        *ImageRef `validate:"-"`
}

// JobHandle identifies a job accepted by the remote service.
type JobHandle struct {
	RemoteID  string
	CreatedAt time.Time
}

// JobState is the closed set of states a remote job can be observed in.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCanceled  JobState = "canceled"
	// StateUnknown marks a status string the service returned that this
	// module does not recognise. It is never terminal.
	StateUnknown JobState = "unknown"
)

// JobStatus is the result of one status query.
type JobStatus struct {
	State JobState
	// ResultURL is set when State is StateSucceeded.
	ResultURL string
	// Reason is set when State is StateFailed.
	Reason string
	// Raw is the status string exactly as the service sent it.
	Raw string
}

// IsTerminal reports whether no further transition can follow.
func (s JobStatus) IsTerminal() bool {
	switch s.State {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Describe renders the status for progress output.
func (s JobStatus) Describe() string {
	switch s.State {
	case StateFailed:
		if s.Reason == "" {
			return "failed"
		}
		return "failed: " + s.Reason
	case StateUnknown:
		return fmt.Sprintf("unknown status %q", s.Raw)
	default:
		return string(s.State)
	}
}

// Artifact is a downloaded result file owned by the caller.
type Artifact struct {
	LocalPath string
	SizeBytes int64
}

// Stage is a state of one orchestration call.
type Stage string

const (
	StageIdle        Stage = "IDLE"
	StageSubmitting  Stage = "SUBMITTING"
	StagePolling     Stage = "POLLING"
	StageDownloading Stage = "DOWNLOADING"
	StageDone        Stage = "DONE"
	StageFailed      Stage = "FAILED"
	StageCanceled    Stage = "CANCELED"
)

// label is the short name used in error and progress messages.
func (s Stage) label() string {
	switch s {
	case StageSubmitting:
		return "submit"
	case StagePolling:
		return "poll"
	case StageDownloading:
		return "download"
	default:
		return strings.ToLower(string(s))
	}
}

// ProgressEvent is one human-readable notification emitted during a call.
type ProgressEvent struct {
	Stage   Stage
	Message string
	// RemoteID is set on the submission acknowledgement.
	RemoteID string
}

func (e ProgressEvent) String() string {
	return e.Message
}

// ProgressFunc observes progress events. It is called synchronously on the
// goroutine running the call, so events never overlap.
type ProgressFunc func(ProgressEvent)

// Emit sends a formatted event. A nil ProgressFunc drops it.
func (f ProgressFunc) Emit(stage Stage, format string, args ...any) {
	if f == nil {
		return
	}
	f(ProgressEvent{Stage: stage, Message: fmt.Sprintf(format, args...)})
}
