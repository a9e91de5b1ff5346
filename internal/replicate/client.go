package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultModel is the Kling model the panel generates with.
const DefaultModel = "kwaivgi/kling-v2.1"

// Static errors for Replicate client operations.
var (
	// ErrModelRequired is returned when the model is not provided.
	ErrModelRequired = errors.New("replicate: model is required")
	// ErrTokenRequired is returned when a call is made without an API token.
	ErrTokenRequired = errors.New("replicate: API token is required")
	// ErrPredictionIDRequired is returned when the prediction ID is not provided.
	ErrPredictionIDRequired = errors.New("replicate: prediction ID is required")
	// ErrNoPredictionID is returned when the create response contains no prediction ID.
	ErrNoPredictionID = errors.New("replicate: create failed: no prediction ID returned")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("replicate: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("replicate: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("replicate: request failed")
)

// Client defines the interface for interacting with the Replicate API.
// The API token is passed on every call; the client holds no credential.
type Client interface {
	// CreatePrediction starts a prediction for the configured model.
	CreatePrediction(ctx context.Context, token string, input Input) (Prediction, error)

	// GetPrediction returns the current state of a prediction.
	GetPrediction(ctx context.Context, token, id string) (Prediction, error)

	// CancelPrediction asks the service to stop a running prediction.
	CancelPrediction(ctx context.Context, token, id string) error
}

// HTTPClient is the HTTP implementation of the Replicate Client interface.
type HTTPClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Replicate API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		if d > 0 {
			hc.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a new Replicate HTTP client for the given model.
// The model is either "owner/name" (latest version) or "owner/name:version".
func NewClient(model string, opts ...ClientOption) (*HTTPClient, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, ErrModelRequired
	}

	c := &HTTPClient{
		model:      model,
		baseURL:    "https://api.replicate.com/v1",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string {
	return c.model
}

// CreatePrediction starts a prediction and returns it as accepted by the service.
func (c *HTTPClient) CreatePrediction(ctx context.Context, token string, input Input) (Prediction, error) {
	if token == "" {
		return Prediction{}, ErrTokenRequired
	}

	reqBody := predictionRequest{Input: input}
	endpoint := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	if name, version, ok := strings.Cut(c.model, ":"); ok && name != "" {
		reqBody.Version = version
		endpoint = c.baseURL + "/predictions"
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Prediction{}, fmt.Errorf("replicate: marshal request: %w", err)
	}

	var resp Prediction
	if err := c.doRequest(ctx, http.MethodPost, endpoint, token, bodyBytes, &resp); err != nil {
		return Prediction{}, err
	}

	if resp.ID == "" {
		if msg := resp.ErrorMessage(); msg != "" {
			return Prediction{}, &APIError{StatusCode: http.StatusOK, Message: msg}
		}
		return Prediction{}, ErrNoPredictionID
	}

	return resp, nil
}

// GetPrediction returns the current state of a prediction.
func (c *HTTPClient) GetPrediction(ctx context.Context, token, id string) (Prediction, error) {
	if token == "" {
		return Prediction{}, ErrTokenRequired
	}
	if id == "" {
		return Prediction{}, ErrPredictionIDRequired
	}

	endpoint := fmt.Sprintf("%s/predictions/%s", c.baseURL, url.PathEscape(id))

	var resp Prediction
	if err := c.doRequest(ctx, http.MethodGet, endpoint, token, nil, &resp); err != nil {
		return Prediction{}, err
	}
	return resp, nil
}

// CancelPrediction asks the service to stop a prediction.
func (c *HTTPClient) CancelPrediction(ctx context.Context, token, id string) error {
	if token == "" {
		return ErrTokenRequired
	}
	if id == "" {
		return ErrPredictionIDRequired
	}

	endpoint := fmt.Sprintf("%s/predictions/%s/cancel", c.baseURL, url.PathEscape(id))
	return c.doRequest(ctx, http.MethodPost, endpoint, token, nil, nil)
}

// doRequest performs a single HTTP request. Replicate calls are never retried
// here; callers decide whether a transient failure is worth another attempt.
func (c *HTTPClient) doRequest(ctx context.Context, method, endpoint, token string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("replicate: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("replicate: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{err: fmt.Errorf("replicate: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
		// 5xx and 429 are worth another attempt
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &transientError{err: apiErr}
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("replicate: unmarshal response: %w", err)
		}
	}

	return nil
}

// errorMessage extracts the human-readable message from an error body.
func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil {
		if msg := e.message(); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

// APIError is a non-2xx answer from the Replicate API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("replicate: request failed with status %d: %s", e.StatusCode, e.Message)
}

// Is maps the status code onto the package's static errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrServerError:
		return e.StatusCode >= 500
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrRequestFailed:
		return true
	default:
		return false
	}
}

// transientError wraps errors caused by a brief service or network hiccup.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient marks the error as worth another attempt.
func (e *transientError) Transient() bool {
	return true
}

// IsTransient returns true if the error was caused by a transient failure.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
