package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, model string) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(model, WithBaseURL(server.URL+"/"))
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient("  ")
	assert.ErrorIs(t, err, ErrModelRequired)
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(DefaultModel)
	require.NoError(t, err)
	assert.Equal(t, "https://api.replicate.com/v1", client.baseURL)
	assert.Equal(t, DefaultModel, client.Model())
	assert.NotNil(t, client.httpClient)
}

func TestCreatePrediction_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/kwaivgi/kling-v2.1/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Version)
		assert.Equal(t, "a cat flying", req.Input.Prompt)
		assert.Equal(t, "blurry", req.Input.NegativePrompt)
		assert.Equal(t, 5, req.Input.Duration)
		assert.Equal(t, "data:image/png;base64,AAAA", req.Input.StartImage)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"job123","status":"starting","created_at":"2026-10-16T12:00:00Z"}`))
	}, DefaultModel)

	pred, err := client.CreatePrediction(context.Background(), "r8_test", Input{
		Prompt:         "a cat flying",
		NegativePrompt: "blurry",
		Duration:       5,
		StartImage:     "data:image/png;base64,AAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, "job123", pred.ID)
	assert.Equal(t, StatusStarting, pred.Status)
}

func TestCreatePrediction_PinnedVersion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predictions", r.URL.Path)

		var req predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.Version)

		_, _ = w.Write([]byte(`{"id":"job1","status":"starting"}`))
	}, "kwaivgi/kling-v2.1:abc123")

	pred, err := client.CreatePrediction(context.Background(), "r8_test", Input{Prompt: "x", Duration: 5})
	require.NoError(t, err)
	assert.Equal(t, "job1", pred.ID)
}

func TestCreatePrediction_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantIs      error
		wantMessage string
		transient   bool
	}{
		{"payment required", http.StatusPaymentRequired, `{"title":"Insufficient credit","detail":"quota exceeded"}`, ErrRequestFailed, "quota exceeded", false},
		{"invalid input", http.StatusUnprocessableEntity, `{"detail":"duration: must be one of 5, 10"}`, ErrRequestFailed, "duration: must be one of 5, 10", false},
		{"rate limited", http.StatusTooManyRequests, `{"detail":"slow down"}`, ErrRateLimited, "slow down", true},
		{"server error", http.StatusBadGateway, `upstream down`, ErrServerError, "upstream down", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, DefaultModel)

			_, err := client.CreatePrediction(context.Background(), "r8_test", Input{Prompt: "x", Duration: 5})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Equal(t, tt.transient, IsTransient(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
		})
	}
}

func TestCreatePrediction_NoID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, DefaultModel)

	_, err := client.CreatePrediction(context.Background(), "r8_test", Input{Prompt: "x", Duration: 5})
	assert.ErrorIs(t, err, ErrNoPredictionID)
}

func TestCreatePrediction_ErrorPayloadWithoutID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model is disabled"}`))
	}, DefaultModel)

	_, err := client.CreatePrediction(context.Background(), "r8_test", Input{Prompt: "x", Duration: 5})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "model is disabled", apiErr.Message)
}

func TestCreatePrediction_RequiresToken(t *testing.T) {
	client, err := NewClient(DefaultModel)
	require.NoError(t, err)

	_, err = client.CreatePrediction(context.Background(), "", Input{})
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestCreatePrediction_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := NewClient(DefaultModel, WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = client.CreatePrediction(context.Background(), "r8_test", Input{Prompt: "x", Duration: 5})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestGetPrediction(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus Status
		wantURL    string
		wantError  string
	}{
		{"starting", `{"id":"job123","status":"starting"}`, StatusStarting, "", ""},
		{"processing", `{"id":"job123","status":"processing","output":null}`, StatusProcessing, "", ""},
		{"succeeded string output", `{"id":"job123","status":"succeeded","output":"https://x/y.mp4"}`, StatusSucceeded, "https://x/y.mp4", ""},
		{"succeeded list output", `{"id":"job123","status":"succeeded","output":["","https://x/z.mp4"]}`, StatusSucceeded, "https://x/z.mp4", ""},
		{"failed", `{"id":"job123","status":"failed","error":"NSFW content detected"}`, StatusFailed, "", "NSFW content detected"},
		{"failed object error", `{"id":"job123","status":"failed","error":{"message":"CUDA OOM"}}`, StatusFailed, "", "CUDA OOM"},
		{"canceled", `{"id":"job123","status":"canceled"}`, StatusCanceled, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/predictions/job123", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}, DefaultModel)

			pred, err := client.GetPrediction(context.Background(), "r8_test", "job123")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, pred.Status)
			assert.Equal(t, tt.wantURL, pred.OutputURL())
			assert.Equal(t, tt.wantError, pred.ErrorMessage())
		})
	}
}

func TestGetPrediction_RequiresID(t *testing.T) {
	client, err := NewClient(DefaultModel)
	require.NoError(t, err)

	_, err = client.GetPrediction(context.Background(), "r8_test", "")
	assert.ErrorIs(t, err, ErrPredictionIDRequired)
}

func TestGetPrediction_NotFoundIsNotTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}, DefaultModel)

	_, err := client.GetPrediction(context.Background(), "r8_test", "gone")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "404")
}

func TestCancelPrediction(t *testing.T) {
	var called bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predictions/job123/cancel", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"job123","status":"canceled"}`))
	}, DefaultModel)

	require.NoError(t, client.CancelPrediction(context.Background(), "r8_test", "job123"))
	assert.True(t, called)
}
