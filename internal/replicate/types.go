// Package replicate provides an HTTP client for the Replicate predictions API,
// which hosts the Kling video model used for generation.
package replicate

import (
	"encoding/json"
	"strings"
)

// Status represents the status of a Replicate prediction.
type Status string

// Prediction statuses as reported by the Replicate API.
const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusAborted    Status = "aborted"
)

// Input is the model input for a Kling prediction.
type Input struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Duration       int    `json:"duration"`
	StartImage     string `json:"start_image,omitempty"` // data URI or URL
	EndImage       string `json:"end_image,omitempty"`   // data URI or URL
	Mode           string `json:"mode,omitempty"`        // "standard" or "pro"
}

// predictionRequest is the request body for the create prediction endpoint.
type predictionRequest struct {
	Version string `json:"version,omitempty"`
	Input   Input  `json:"input"`
}

// Prediction is the subset of Replicate's prediction object this module reads.
type Prediction struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// OutputURL returns the first URL found in the prediction output.
// Kling returns a single string, other models return a list.
func (p Prediction) OutputURL() string {
	if len(p.Output) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		return single
	}

	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		for _, u := range list {
			if u != "" {
				return u
			}
		}
	}
	return ""
}

// ErrorMessage returns the prediction error as text.
func (p Prediction) ErrorMessage() string {
	return rawText(p.Error)
}

// apiError is the error body Replicate sends with non-2xx responses.
type apiError struct {
	Title   string          `json:"title,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (e apiError) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Message != "" {
		return e.Message
	}
	if msg := rawText(e.Error); msg != "" {
		return msg
	}
	return e.Title
}

// rawText renders a JSON value that is either a string or some other shape.
func rawText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return trimmed
}
