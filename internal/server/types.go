// Package server provides the local HTTP bridge the editor panel talks to.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// LayerRequest is a layer as reported by the host's layer selection.
type LayerRequest struct {
	// Name is the layer's display name.
	Name string `json:"name" validate:"required"`
	// SourcePath is the media file behind the layer, null for generated layers.
	SourcePath *string `json:"source_path"`
	// Frame picks the frame to use when the source is a video.
	Frame string `json:"frame,omitempty" validate:"omitempty,oneof=first last"`
}

// CreateGenerationRequest is the HTTP request body for starting a generation.
type CreateGenerationRequest struct {
	// Mode is "t2v" or "i2v".
	Mode string `json:"mode" validate:"required,oneof=t2v i2v"`
	// Prompt describes the clip.
	Prompt string `json:"prompt" validate:"required,max=2500"`
	// NegativePrompt lists what the clip should avoid.
	NegativePrompt string `json:"negative_prompt" validate:"max=2500"`
	// Duration is the clip length in seconds.
	Duration int `json:"duration" validate:"required,oneof=5 10"`
	// StartLayer is required in i2v mode.
	StartLayer *LayerRequest `json:"start_layer,omitempty"`
	// EndLayer is optional and only used in i2v mode.
	EndLayer *LayerRequest `json:"end_layer,omitempty"`
	// PushToS3 mirrors the finished clip to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateGenerationResponse is the HTTP response after starting a generation.
type CreateGenerationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EventResponse is one progress message.
type EventResponse struct {
	At      time.Time `json:"at"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// ArtifactResponse describes the downloaded clip.
type ArtifactResponse struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// GenerationResponse is the HTTP response for getting generation details.
type GenerationResponse struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Mode           string            `json:"mode"`
	Prompt         string            `json:"prompt"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	Duration       int               `json:"duration"`
	StartLayer     string            `json:"start_layer,omitempty"`
	EndLayer       string            `json:"end_layer,omitempty"`
	RemoteID       string            `json:"remote_id,omitempty"`
	Events         []EventResponse   `json:"events"`
	Artifact       *ArtifactResponse `json:"artifact,omitempty"`
	// FailedStage is the stage that produced Error.
	FailedStage string `json:"failed_stage,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	// VideoURL is the S3 URL when the clip was mirrored.
	VideoURL    string     `json:"video_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListGenerationsResponse wraps the generation list.
type ListGenerationsResponse struct {
	Generations []GenerationResponse `json:"generations"`
}

// CredentialStatusResponse reports whether an API key is stored.
type CredentialStatusResponse struct {
	Configured bool `json:"configured"`
}

// SetCredentialRequest is the HTTP request body for storing the API key.
type SetCredentialRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
