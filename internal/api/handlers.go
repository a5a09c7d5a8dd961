package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/db"
	"github.com/bobarin/captionreel/internal/errs"
	"github.com/bobarin/captionreel/internal/models"
)

// HealthBody is the liveness response the platform polls for.
const HealthBody = "warm"

type JobQueue interface {
	Name() string
	Enqueue(ctx context.Context, job *models.Job) error
	Length(ctx context.Context) (int64, error)
}

type JobLedger interface {
	RecordQueued(ctx context.Context, job *models.Job) error
	GetRenderJob(ctx context.Context, id string) (*models.RenderRecord, error)
}

type Handler struct {
	queue  JobQueue
	ledger JobLedger
	logger zerolog.Logger
}

// NewHandler builds the API handler. queue and ledger may be nil; the
// endpoints that need them then answer 503.
func NewHandler(q JobQueue, ledger JobLedger, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:  q,
		ledger: ledger,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(HealthBody))
}

// EnqueueJob handles POST /v1/jobs
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Queue not configured")
		return
	}

	var req models.EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := &models.Job{
		Version:          models.CurrentJobVersion,
		JobID:            uuid.NewString(),
		ChatID:           strings.TrimSpace(req.ChatID),
		FileID:           req.FileID,
		MediaKind:        req.MediaKind,
		CaptionText:      req.CaptionText,
		ApplyFade:        req.ApplyFade,
		MessagesToDelete: req.MessagesToDelete,
	}
	if err := job.Validate(); err != nil {
		var e *errs.Error
		msg := err.Error()
		if errors.As(err, &e) {
			msg = e.Message
		}
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.JobID).Msg("enqueue failed")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}
	if h.ledger != nil {
		if err := h.ledger.RecordQueued(r.Context(), job); err != nil {
			// The job is already on the queue; a missing ledger row is not fatal.
			h.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to record queued job")
		}
	}

	n, err := h.queue.Length(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read queue length")
	}
	respondJSON(w, http.StatusCreated, models.EnqueueJobResponse{JobID: job.JobID, QueueLen: n})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "Job ledger not configured")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.ledger.GetRenderJob(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("ledger lookup failed")
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// QueueStatus handles GET /v1/queue
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Queue not configured")
		return
	}
	n, err := h.queue.Length(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read queue length")
		return
	}
	respondJSON(w, http.StatusOK, models.QueueStatusResponse{Queue: h.queue.Name(), Length: n})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
