// Package job tracks generation calls started through the local bridge.
// A Job mirrors the orchestration state machine of one call and records the
// progress messages it produced.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/kling-panel/internal/generation"
	"github.com/maauso/kling-panel/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusIdle indicates the job was accepted but the call has not started.
	StatusIdle Status = "IDLE"
	// StatusSubmitting indicates the request is being sent to the service.
	StatusSubmitting Status = "SUBMITTING"
	// StatusPolling indicates the remote job is being waited on.
	StatusPolling Status = "POLLING"
	// StatusDownloading indicates the result is being transferred.
	StatusDownloading Status = "DOWNLOADING"
	// StatusDone indicates the result is on disk.
	StatusDone Status = "DONE"
	// StatusFailed indicates a stage failed.
	StatusFailed Status = "FAILED"
	// StatusCanceled indicates the caller canceled the call.
	StatusCanceled Status = "CANCELED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusIdle:        {StatusSubmitting, StatusFailed, StatusCanceled},
	StatusSubmitting:  {StatusPolling, StatusFailed, StatusCanceled},
	StatusPolling:     {StatusDownloading, StatusFailed, StatusCanceled},
	StatusDownloading: {StatusDone, StatusFailed, StatusCanceled},
	StatusDone:        {},
	StatusFailed:      {},
	StatusCanceled:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stageStatus maps an orchestration stage onto the job status it implies.
var stageStatus = map[generation.Stage]Status{
	generation.StageSubmitting:  StatusSubmitting,
	generation.StagePolling:     StatusPolling,
	generation.StageDownloading: StatusDownloading,
}

// Event is one progress message recorded for a job.
type Event struct {
	At      time.Time
	Stage   generation.Stage
	Message string
}

// Job represents one generation call.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Mode, Prompt, NegativePrompt and Duration echo the request.
	Mode           generation.Mode
	Prompt         string
	NegativePrompt string
	Duration       int
	// StartLayer and EndLayer name the timeline layers used as references.
	StartLayer string
	EndLayer   string
	// RemoteID is the prediction ID assigned by the service.
	RemoteID string
	// Events holds progress messages in emission order.
	Events []Event
	// OutputPath is the local path of the downloaded artifact.
	OutputPath string
	// SizeBytes is the artifact size.
	SizeBytes int64
	// FailedStage is the stage that produced Error.
	FailedStage generation.Stage
	// ErrorKind classifies Error.
	ErrorKind generation.Kind
	// Error contains the failure message if the job failed.
	Error string
	// PushToS3 indicates whether to mirror the result to S3.
	PushToS3 bool
	// VideoURL is the S3 URL if PushToS3 was true.
	VideoURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when submission started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in IDLE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID in IDLE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusIdle,
		Events:    make([]Event, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusSubmitting:
		j.StartedAt = j.UpdatedAt
	case StatusDone, StatusFailed, StatusCanceled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IDLE to SUBMITTING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusSubmitting)
}

// Record appends a progress event and advances the status to the stage the
// event was emitted from. Failure and cancel events are recorded only; the
// terminal transition is made by Fail or Cancel.
func (j *Job) Record(e generation.ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.Events = append(j.Events, Event{At: now, Stage: e.Stage, Message: e.Message})
	j.UpdatedAt = now
	if e.RemoteID != "" {
		j.RemoteID = e.RemoteID
	}

	if next, ok := stageStatus[e.Stage]; ok && next != j.Status {
		_ = j.transitionLocked(next)
	}
}

// Complete stores the artifact and transitions the job to DONE.
func (j *Job) Complete(artifact generation.Artifact) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusDone); err != nil {
		return err
	}
	j.OutputPath = artifact.LocalPath
	j.SizeBytes = artifact.SizeBytes
	return nil
}

// Fail transitions the job to FAILED, recording the stage and cause.
func (j *Job) Fail(stage generation.Stage, kind generation.Kind, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.FailedStage = stage
	j.ErrorKind = kind
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCanceled)
}

// SetVideoURL stores the S3 mirror URL.
func (j *Job) SetVideoURL(videoURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.VideoURL = videoURL
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	events := make([]Event, len(j.Events))
	copy(events, j.Events)

	return &Job{
		ID:             j.ID,
		Status:         j.Status,
		Mode:           j.Mode,
		Prompt:         j.Prompt,
		NegativePrompt: j.NegativePrompt,
		Duration:       j.Duration,
		StartLayer:     j.StartLayer,
		EndLayer:       j.EndLayer,
		RemoteID:       j.RemoteID,
		Events:         events,
		OutputPath:     j.OutputPath,
		SizeBytes:      j.SizeBytes,
		FailedStage:    j.FailedStage,
		ErrorKind:      j.ErrorKind,
		Error:          j.Error,
		PushToS3:       j.PushToS3,
		VideoURL:       j.VideoURL,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}
