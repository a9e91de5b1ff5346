package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/kling-panel/internal/generation"
	"github.com/maauso/kling-panel/internal/media"
	"github.com/maauso/kling-panel/internal/replicate"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	mp4Bytes = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41")
)

// mockAPI is a mock replicate.Client that also counts every call.
type mockAPI struct {
	mock.Mock
	calls int
}

func (m *mockAPI) CreatePrediction(ctx context.Context, token string, input replicate.Input) (replicate.Prediction, error) {
	m.calls++
	args := m.Called(ctx, token, input)
	return args.Get(0).(replicate.Prediction), args.Error(1)
}

func (m *mockAPI) GetPrediction(ctx context.Context, token, id string) (replicate.Prediction, error) {
	m.calls++
	args := m.Called(ctx, token, id)
	return args.Get(0).(replicate.Prediction), args.Error(1)
}

func (m *mockAPI) CancelPrediction(ctx context.Context, token, id string) error {
	m.calls++
	args := m.Called(ctx, token, id)
	return args.Error(0)
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ExtractFrame(ctx context.Context, videoPath string, frame media.Frame) ([]byte, error) {
	args := m.Called(ctx, videoPath, frame)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func pngURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}

func TestSubmit_ValidationFailsWithoutNetwork(t *testing.T) {
	tests := []struct {
		name       string
		req        generation.Request
		credential string
	}{
		{
			name:       "image to video without start image",
			req:        generation.Request{Mode: generation.ModeImageToVideo, Prompt: "a cat flying", DurationSeconds: 5},
			credential: "r8_test",
		},
		{
			name:       "end image only",
			req:        generation.Request{Mode: generation.ModeImageToVideo, Prompt: "a cat flying", DurationSeconds: 5, EndImage: &generation.ImageRef{Data: pngBytes}},
			credential: "r8_test",
		},
		{
			name:       "bad duration",
			req:        generation.Request{Mode: generation.ModeTextToVideo, Prompt: "a cat flying", DurationSeconds: 3},
			credential: "r8_test",
		},
		{
			name:       "missing credential",
			req:        generation.Request{Mode: generation.ModeTextToVideo, Prompt: "a cat flying", DurationSeconds: 5},
			credential: "  ",
		},
		{
			name:       "unreadable start image",
			req:        generation.Request{Mode: generation.ModeImageToVideo, Prompt: "a cat flying", DurationSeconds: 5, StartImage: &generation.ImageRef{Path: "/does/not/exist.png"}},
			credential: "r8_test",
		},
		{
			name:       "start image is not an image",
			req:        generation.Request{Mode: generation.ModeImageToVideo, Prompt: "a cat flying", DurationSeconds: 5, StartImage: &generation.ImageRef{Data: []byte("just text")}},
			credential: "r8_test",
		},
		{
			name:       "video reference without media processor",
			req:        generation.Request{Mode: generation.ModeImageToVideo, Prompt: "a cat flying", DurationSeconds: 5, StartImage: &generation.ImageRef{Path: "VIDEO"}},
			credential: "r8_test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.StartImage != nil && tt.req.StartImage.Path == "VIDEO" {
				tt.req.StartImage.Path = writeFile(t, "clip.mp4", mp4Bytes)
			}
			api := &mockAPI{}
			client := NewClient(api)

			_, err := client.Submit(context.Background(), tt.req, tt.credential)
			require.Error(t, err)
			assert.ErrorIs(t, err, generation.ErrValidation)
			assert.Zero(t, api.calls, "no network call may happen on validation failure")
		})
	}
}

func TestSubmit_TextToVideo(t *testing.T) {
	api := &mockAPI{}
	client := NewClient(api)

	api.On("CreatePrediction", mock.Anything, "r8_test", replicate.Input{
		Prompt:         "a cat flying",
		NegativePrompt: "blurry",
		Duration:       10,
		Mode:           ModeStandard,
	}).Return(replicate.Prediction{ID: "job123", Status: replicate.StatusStarting, CreatedAt: "2026-10-16T12:00:00.5Z"}, nil)

	handle, err := client.Submit(context.Background(), generation.Request{
		Mode:            generation.ModeTextToVideo,
		Prompt:          " a cat flying ",
		NegativePrompt:  "blurry",
		DurationSeconds: 10,
		StartImage:      &generation.ImageRef{Path: "/ignored.png"},
	}, "r8_test")

	require.NoError(t, err)
	assert.Equal(t, "job123", handle.RemoteID)
	assert.Equal(t, time.Date(2026, 10, 16, 12, 0, 0, 500000000, time.UTC), handle.CreatedAt)
	api.AssertExpectations(t)
}

func TestSubmit_ImageToVideo(t *testing.T) {
	start := writeFile(t, "start.png", pngBytes)

	t.Run("start image only keeps default mode", func(t *testing.T) {
		api := &mockAPI{}
		client := NewClient(api, WithDefaultMode("standard"))

		api.On("CreatePrediction", mock.Anything, "r8_test", mock.MatchedBy(func(in replicate.Input) bool {
			return in.StartImage == pngURI() && in.EndImage == "" && in.Mode == ModeStandard
		})).Return(replicate.Prediction{ID: "job123"}, nil)

		_, err := client.Submit(context.Background(), generation.Request{
			Mode:            generation.ModeImageToVideo,
			Prompt:          "a cat flying",
			DurationSeconds: 5,
			StartImage:      &generation.ImageRef{Path: start},
		}, "r8_test")
		require.NoError(t, err)
		api.AssertExpectations(t)
	})

	t.Run("end image switches to pro", func(t *testing.T) {
		api := &mockAPI{}
		client := NewClient(api)

		api.On("CreatePrediction", mock.Anything, "r8_test", mock.MatchedBy(func(in replicate.Input) bool {
			return in.StartImage == pngURI() && in.EndImage == pngURI() && in.Mode == ModePro
		})).Return(replicate.Prediction{ID: "job124"}, nil)

		handle, err := client.Submit(context.Background(), generation.Request{
			Mode:            generation.ModeImageToVideo,
			Prompt:          "a cat flying",
			DurationSeconds: 5,
			StartImage:      &generation.ImageRef{Path: start},
			EndImage:        &generation.ImageRef{Data: pngBytes},
		}, "r8_test")
		require.NoError(t, err)
		assert.Equal(t, "job124", handle.RemoteID)
		api.AssertExpectations(t)
	})
}

func TestSubmit_VideoReferenceUsesFrame(t *testing.T) {
	clip := writeFile(t, "clip.mp4", mp4Bytes)

	api := &mockAPI{}
	proc := &mockProcessor{}
	client := NewClient(api, WithMedia(proc))

	proc.On("ExtractFrame", mock.Anything, clip, media.FrameLast).Return(pngBytes, nil)
	api.On("CreatePrediction", mock.Anything, "r8_test", mock.MatchedBy(func(in replicate.Input) bool {
		return in.StartImage == pngURI()
	})).Return(replicate.Prediction{ID: "job123"}, nil)

	_, err := client.Submit(context.Background(), generation.Request{
		Mode:            generation.ModeImageToVideo,
		Prompt:          "continue the shot",
		DurationSeconds: 5,
		StartImage:      &generation.ImageRef{Path: clip, Frame: generation.FrameLast},
	}, "r8_test")
	require.NoError(t, err)
	proc.AssertExpectations(t)
	api.AssertExpectations(t)
}

func TestSubmit_FrameExtractionFailure(t *testing.T) {
	clip := writeFile(t, "clip.mp4", mp4Bytes)

	api := &mockAPI{}
	proc := &mockProcessor{}
	client := NewClient(api, WithMedia(proc))

	proc.On("ExtractFrame", mock.Anything, clip, media.Frame("")).Return(nil, errors.New("moov atom not found"))

	_, err := client.Submit(context.Background(), generation.Request{
		Mode:            generation.ModeImageToVideo,
		Prompt:          "x",
		DurationSeconds: 5,
		StartImage:      &generation.ImageRef{Path: clip},
	}, "r8_test")
	assert.ErrorIs(t, err, generation.ErrValidation)
	assert.Zero(t, api.calls)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantIs      error
		wantMessage string
	}{
		{
			name:        "service rejection",
			err:         &replicate.APIError{StatusCode: http.StatusPaymentRequired, Message: "quota exceeded"},
			wantIs:      generation.ErrSubmission,
			wantMessage: "quota exceeded",
		},
		{
			name:   "missing id",
			err:    replicate.ErrNoPredictionID,
			wantIs: generation.ErrSubmission,
		},
		{
			name:   "transport failure",
			err:    errors.New("dial tcp: connection refused"),
			wantIs: generation.ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			client := NewClient(api)
			api.On("CreatePrediction", mock.Anything, mock.Anything, mock.Anything).Return(replicate.Prediction{}, tt.err)

			_, err := client.Submit(context.Background(), generation.Request{
				Mode: generation.ModeTextToVideo, Prompt: "x", DurationSeconds: 5,
			}, "r8_test")

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			if tt.wantMessage != "" {
				var ge *generation.Error
				require.ErrorAs(t, err, &ge)
				assert.Equal(t, tt.wantMessage, ge.Message)
			}
			assert.Equal(t, 1, api.calls)
		})
	}
}

func TestSubmit_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	api := &mockAPI{}
	client := NewClient(api)
	api.On("CreatePrediction", mock.Anything, mock.Anything, mock.Anything).Return(replicate.Prediction{}, context.Canceled)

	_, err := client.Submit(ctx, generation.Request{Mode: generation.ModeTextToVideo, Prompt: "x", DurationSeconds: 5}, "r8_test")
	assert.ErrorIs(t, err, generation.ErrCanceled)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name string
		pred replicate.Prediction
		want generation.JobStatus
	}{
		{
			name: "starting",
			pred: replicate.Prediction{Status: replicate.StatusStarting},
			want: generation.JobStatus{State: generation.StateQueued, Raw: "starting"},
		},
		{
			name: "processing",
			pred: replicate.Prediction{Status: replicate.StatusProcessing},
			want: generation.JobStatus{State: generation.StateRunning, Raw: "processing"},
		},
		{
			name: "succeeded",
			pred: replicate.Prediction{Status: replicate.StatusSucceeded, Output: []byte(`"https://x/y.mp4"`)},
			want: generation.JobStatus{State: generation.StateSucceeded, ResultURL: "https://x/y.mp4", Raw: "succeeded"},
		},
		{
			name: "succeeded without output",
			pred: replicate.Prediction{Status: replicate.StatusSucceeded},
			want: generation.JobStatus{State: generation.StateFailed, Reason: "no output URL", Raw: "succeeded"},
		},
		{
			name: "failed",
			pred: replicate.Prediction{Status: replicate.StatusFailed, Error: []byte(`"NSFW content detected"`)},
			want: generation.JobStatus{State: generation.StateFailed, Reason: "NSFW content detected", Raw: "failed"},
		},
		{
			name: "canceled",
			pred: replicate.Prediction{Status: replicate.StatusCanceled},
			want: generation.JobStatus{State: generation.StateCanceled, Raw: "canceled"},
		},
		{
			name: "aborted",
			pred: replicate.Prediction{Status: replicate.StatusAborted},
			want: generation.JobStatus{State: generation.StateCanceled, Raw: "aborted"},
		},
		{
			name: "unrecognised",
			pred: replicate.Prediction{Status: "paused"},
			want: generation.JobStatus{State: generation.StateUnknown, Raw: "paused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStatus(tt.pred))
		})
	}
}

type hiccup struct{}

func (hiccup) Error() string   { return "connection reset" }
func (hiccup) Transient() bool { return true }

func TestStatus_Errors(t *testing.T) {
	handle := generation.JobHandle{RemoteID: "job123"}

	t.Run("transient failure keeps its marker", func(t *testing.T) {
		api := &mockAPI{}
		api.On("GetPrediction", mock.Anything, "r8_test", "job123").Return(replicate.Prediction{}, hiccup{})

		_, err := NewClient(api).Status(context.Background(), handle, "r8_test")
		assert.ErrorIs(t, err, generation.ErrNetwork)
		assert.True(t, generation.IsTransient(err))
	})

	t.Run("client error is not transient", func(t *testing.T) {
		api := &mockAPI{}
		api.On("GetPrediction", mock.Anything, "r8_test", "job123").
			Return(replicate.Prediction{}, &replicate.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid token."})

		_, err := NewClient(api).Status(context.Background(), handle, "r8_test")
		assert.ErrorIs(t, err, generation.ErrNetwork)
		assert.False(t, generation.IsTransient(err))
		assert.True(t, strings.Contains(err.Error(), "Invalid token."))
	})
}

func TestStatus_Success(t *testing.T) {
	api := &mockAPI{}
	api.On("GetPrediction", mock.Anything, "r8_test", "job123").
		Return(replicate.Prediction{ID: "job123", Status: replicate.StatusProcessing}, nil)

	st, err := NewClient(api).Status(context.Background(), generation.JobHandle{RemoteID: "job123"}, "r8_test")
	require.NoError(t, err)
	assert.Equal(t, generation.StateRunning, st.State)
	assert.False(t, st.IsTerminal())
}

func TestCancel(t *testing.T) {
	api := &mockAPI{}
	api.On("CancelPrediction", mock.Anything, "r8_test", "job123").Return(nil).Once()
	api.On("CancelPrediction", mock.Anything, "r8_test", "job999").
		Return(&replicate.APIError{StatusCode: http.StatusNotFound, Message: "Not found."}).Once()

	client := NewClient(api)
	require.NoError(t, client.Cancel(context.Background(), generation.JobHandle{RemoteID: "job123"}, "r8_test"))

	err := client.Cancel(context.Background(), generation.JobHandle{RemoteID: "job999"}, "r8_test")
	assert.ErrorIs(t, err, generation.ErrNetwork)
	api.AssertExpectations(t)
}

func TestStatusAndCancel_TrimCredential(t *testing.T) {
	api := &mockAPI{}
	api.On("GetPrediction", mock.Anything, "r8_test", "job123").
		Return(replicate.Prediction{ID: "job123", Status: replicate.StatusSucceeded}, nil).Once()
	api.On("CancelPrediction", mock.Anything, "r8_test", "job123").Return(nil).Once()

	client := NewClient(api)
	handle := generation.JobHandle{RemoteID: "job123"}

	_, err := client.Status(context.Background(), handle, " r8_test\n")
	require.NoError(t, err)
	require.NoError(t, client.Cancel(context.Background(), handle, "r8_test\n"))
	api.AssertExpectations(t)
}
