package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/kling-panel/internal/credential"
	"github.com/maauso/kling-panel/internal/generation"
	"github.com/maauso/kling-panel/internal/job"
)

// GenerationService is the part of job.Service the handlers use.
type GenerationService interface {
	Start(ctx context.Context, in job.StartInput) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	Cancel(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Compile-time check that job.Service satisfies GenerationService.
var _ GenerationService = (*job.Service)(nil)

// Handlers contains the HTTP handlers for the bridge.
type Handlers struct {
	service     GenerationService
	credentials credential.Store
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service GenerationService, creds credential.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:     service,
		credentials: creds,
		validator:   validator.New(),
		logger:      logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateGeneration handles POST /generations requests.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req CreateGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	in := job.StartInput{
		Request: generation.Request{
			Mode:            generation.Mode(req.Mode),
			Prompt:          req.Prompt,
			NegativePrompt:  req.NegativePrompt,
			DurationSeconds: req.Duration,
			StartImage:      layerImage(req.StartLayer),
			EndImage:        layerImage(req.EndLayer),
		},
		StartLayer: layerName(req.StartLayer),
		EndLayer:   layerName(req.EndLayer),
		PushToS3:   req.PushToS3,
	}

	created, err := h.service.Start(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, generation.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		case errors.Is(err, job.ErrBusy):
			writeError(w, http.StatusConflict, err.Error(), "GENERATION_IN_PROGRESS")
		case errors.Is(err, job.ErrNoCredential):
			writeError(w, http.StatusPreconditionFailed, err.Error(), "CREDENTIAL_NOT_CONFIGURED")
		default:
			h.logger.Error("failed to start generation",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to start generation", "GENERATION_START_FAILED")
		}
		return
	}

	h.logger.Info("generation started",
		slog.String("job_id", created.ID),
		slog.String("mode", req.Mode),
		slog.Int("duration", req.Duration),
	)

	writeJSON(w, http.StatusAccepted, CreateGenerationResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetGeneration handles GET /generations/{id} requests.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "generation ID is required", "MISSING_GENERATION_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.writeJobError(w, id, err, "failed to get generation", "GENERATION_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toGenerationResponse(found))
}

// ListGenerations handles GET /generations requests.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list generations",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list generations", "GENERATION_LIST_FAILED")
		return
	}

	resp := ListGenerationsResponse{Generations: make([]GenerationResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Generations = append(resp.Generations, toGenerationResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelGeneration handles POST /generations/{id}/cancel requests.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "generation ID is required", "MISSING_GENERATION_ID")
		return
	}

	if err := h.service.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, job.ErrAlreadyFinished) {
			writeError(w, http.StatusConflict, "generation already finished", "GENERATION_FINISHED")
			return
		}
		h.writeJobError(w, id, err, "failed to cancel generation", "GENERATION_CANCEL_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateGenerationResponse{ID: id, Status: "CANCELING"})
}

// DeleteGeneration handles DELETE /generations/{id} requests.
// The downloaded clip stays on disk.
func (h *Handlers) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "generation ID is required", "MISSING_GENERATION_ID")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, job.ErrStillRunning) {
			writeError(w, http.StatusConflict, "generation is still running", "GENERATION_RUNNING")
			return
		}
		h.writeJobError(w, id, err, "failed to delete generation", "GENERATION_DELETE_FAILED")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCredential handles GET /settings/credential requests.
// The key itself is never returned.
func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	_, err := h.credentials.Get(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CredentialStatusResponse{Configured: true})
	case errors.Is(err, credential.ErrNotConfigured):
		writeJSON(w, http.StatusOK, CredentialStatusResponse{Configured: false})
	default:
		h.logger.Error("failed to read credential", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read credential", "CREDENTIAL_READ_FAILED")
	}
}

// SetCredential handles PUT /settings/credential requests.
func (h *Handlers) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req SetCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if err := h.credentials.Set(r.Context(), req.APIKey); err != nil {
		if errors.Is(err, credential.ErrEmptyKey) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to store credential", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store credential", "CREDENTIAL_WRITE_FAILED")
		return
	}

	h.logger.Info("api key updated")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeJobError(w http.ResponseWriter, id string, err error, message, code string) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "generation not found", "GENERATION_NOT_FOUND")
		return
	}
	h.logger.Error(message,
		slog.String("job_id", id),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, message, code)
}

func layerImage(l *LayerRequest) *generation.ImageRef {
	if l == nil {
		return nil
	}
	ref := (&generation.Layer{Name: l.Name, SourcePath: l.SourcePath}).ImageRef()
	if ref != nil {
		ref.Frame = generation.FramePosition(l.Frame)
	}
	return ref
}

func layerName(l *LayerRequest) string {
	if l == nil {
		return ""
	}
	return l.Name
}

func toGenerationResponse(j *job.Job) GenerationResponse {
	resp := GenerationResponse{
		ID:             j.ID,
		Status:         string(j.Status),
		Mode:           string(j.Mode),
		Prompt:         j.Prompt,
		NegativePrompt: j.NegativePrompt,
		Duration:       j.Duration,
		StartLayer:     j.StartLayer,
		EndLayer:       j.EndLayer,
		RemoteID:       j.RemoteID,
		Events:         make([]EventResponse, 0, len(j.Events)),
		FailedStage:    string(j.FailedStage),
		ErrorKind:      string(j.ErrorKind),
		Error:          j.Error,
		VideoURL:       j.VideoURL,
		CreatedAt:      j.CreatedAt,
	}
	for _, e := range j.Events {
		resp.Events = append(resp.Events, EventResponse{At: e.At, Stage: string(e.Stage), Message: e.Message})
	}
	if j.OutputPath != "" {
		resp.Artifact = &ArtifactResponse{Path: j.OutputPath, SizeBytes: j.SizeBytes}
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
