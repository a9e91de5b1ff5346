package job

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/kling-panel/internal/generation"
)

func TestNew(t *testing.T) {
	job := New()

	assert.True(t, strings.HasPrefix(job.ID, "gen-"))
	assert.Equal(t, StatusIdle, job.Status)
	assert.NotNil(t, job.Events)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestNewWithID(t *testing.T) {
	job := NewWithID("custom-id")
	assert.Equal(t, "custom-id", job.ID)
	assert.Equal(t, StatusIdle, job.Status)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"idle to submitting", StatusIdle, StatusSubmitting, true},
		{"idle to failed", StatusIdle, StatusFailed, true},
		{"idle to polling", StatusIdle, StatusPolling, false},
		{"submitting to polling", StatusSubmitting, StatusPolling, true},
		{"submitting to downloading", StatusSubmitting, StatusDownloading, false},
		{"polling to downloading", StatusPolling, StatusDownloading, true},
		{"polling to canceled", StatusPolling, StatusCanceled, true},
		{"downloading to done", StatusDownloading, StatusDone, true},
		{"downloading to failed", StatusDownloading, StatusFailed, true},
		{"done to failed", StatusDone, StatusFailed, false},
		{"failed to submitting", StatusFailed, StatusSubmitting, false},
		{"canceled to done", StatusCanceled, StatusDone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := New()
			job.Status = tt.from

			err := job.TransitionTo(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, job.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, job.Status)
			}
		})
	}
}

func TestTimestamps(t *testing.T) {
	job := New()
	assert.True(t, job.StartedAt.IsZero())

	require.NoError(t, job.Start())
	assert.False(t, job.StartedAt.IsZero())
	assert.True(t, job.CompletedAt.IsZero())

	require.NoError(t, job.Cancel())
	assert.False(t, job.CompletedAt.IsZero())
}

func TestRecord_AdvancesWithStages(t *testing.T) {
	job := New()
	require.NoError(t, job.Start())

	job.Record(generation.ProgressEvent{Stage: generation.StageSubmitting, Message: "submitted job job123", RemoteID: "job123"})
	assert.Equal(t, StatusSubmitting, job.GetStatus())
	assert.Equal(t, "job123", job.RemoteID)

	job.Record(generation.ProgressEvent{Stage: generation.StagePolling, Message: "job job123 running"})
	job.Record(generation.ProgressEvent{Stage: generation.StagePolling, Message: "job job123 succeeded"})
	assert.Equal(t, StatusPolling, job.GetStatus())

	job.Record(generation.ProgressEvent{Stage: generation.StageDownloading, Message: "download started"})
	assert.Equal(t, StatusDownloading, job.GetStatus())

	job.Record(generation.ProgressEvent{Stage: generation.StageFailed, Message: "download: download error"})
	assert.Equal(t, StatusDownloading, job.GetStatus(), "failure events do not transition")

	require.Len(t, job.Events, 5)
	assert.Equal(t, "job job123 running", job.Events[1].Message)
	assert.Equal(t, generation.StagePolling, job.Events[1].Stage)
}

func TestComplete(t *testing.T) {
	job := New()
	require.NoError(t, job.Start())

	err := job.Complete(generation.Artifact{LocalPath: "/out/job123.mp4", SizeBytes: 42})
	assert.ErrorIs(t, err, ErrInvalidTransition, "cannot finish before downloading")

	job.Record(generation.ProgressEvent{Stage: generation.StagePolling})
	job.Record(generation.ProgressEvent{Stage: generation.StageDownloading})
	require.NoError(t, job.Complete(generation.Artifact{LocalPath: "/out/job123.mp4", SizeBytes: 42}))

	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, "/out/job123.mp4", job.OutputPath)
	assert.Equal(t, int64(42), job.SizeBytes)
	assert.True(t, job.IsTerminal())
}

func TestFail(t *testing.T) {
	job := New()
	require.NoError(t, job.Start())

	require.NoError(t, job.Fail(generation.StageSubmitting, generation.KindSubmission, "quota exceeded"))
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, generation.StageSubmitting, job.FailedStage)
	assert.Equal(t, generation.KindSubmission, job.ErrorKind)
	assert.Equal(t, "quota exceeded", job.Error)
	assert.True(t, job.IsTerminal())

	assert.ErrorIs(t, job.Fail(generation.StagePolling, generation.KindNetwork, "again"), ErrInvalidTransition)
	assert.Equal(t, "quota exceeded", job.Error)
}

func TestIsTerminal(t *testing.T) {
	for status, terminal := range map[Status]bool{
		StatusIdle:        false,
		StatusSubmitting:  false,
		StatusPolling:     false,
		StatusDownloading: false,
		StatusDone:        true,
		StatusFailed:      true,
		StatusCanceled:    true,
	} {
		job := New()
		job.Status = status
		assert.Equal(t, terminal, job.IsTerminal(), status)
	}
}

func TestClone(t *testing.T) {
	job := New()
	job.Prompt = "a cat flying"
	job.PushToS3 = true
	job.Record(generation.ProgressEvent{Stage: generation.StageSubmitting, Message: "submitted job job123"})

	clone := job.Clone()
	assert.Equal(t, job.ID, clone.ID)
	assert.Equal(t, job.Prompt, clone.Prompt)
	assert.True(t, clone.PushToS3)
	require.Len(t, clone.Events, 1)

	clone.Events[0].Message = "changed"
	assert.Equal(t, "submitted job job123", job.Events[0].Message)
}
