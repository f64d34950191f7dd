package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clipsmith/clipsmith/internal/db"
	"github.com/clipsmith/clipsmith/internal/engine"
	"github.com/clipsmith/clipsmith/internal/models"
	"github.com/clipsmith/clipsmith/internal/pipeline"
	"github.com/clipsmith/clipsmith/internal/queue"
)

type Handler struct {
	db     *db.DB
	queue  *queue.Queue // nil when async mode is disabled
	engine *engine.Engine
}

func NewHandler(database *db.DB, q *queue.Queue, eng *engine.Engine) *Handler {
	return &Handler{
		db:     database,
		queue:  q,
		engine: eng,
	}
}

// Generate handles POST /v1/videos/generate — the multi-clip chain. With async=true
// the request is queued and a job ID returned instead.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, "user not resolved")
		return
	}

	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Prompt == "" && len(req.ScriptSections) == 0 {
		respondError(w, http.StatusBadRequest, "prompt or scriptSections is required")
		return
	}

	if req.Async {
		if h.queue == nil {
			respondError(w, http.StatusBadRequest, "Async mode is not enabled")
			return
		}

		// Resolve the clip plan up front: the enqueued request carries the
		// final per-clip prompts, so the worker never re-runs the planner
		// and the job's clip count matches what we report here.
		plan, err := h.engine.ResolvePlan(r.Context(), &req)
		if err != nil {
			respondPipelineError(w, err)
			return
		}

		job := &models.GenerationJob{
			ID:        uuid.New(),
			UserID:    userID,
			Status:    models.JobStatusQueued,
			ClipCount: len(plan),
			Prompt:    req.Prompt,
		}
		if err := h.db.CreateGenerationJob(r.Context(), job); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to create job")
			return
		}

		if err := h.queue.EnqueueGenerateVideo(r.Context(), job.ID, userID, req); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
			return
		}

		respondJSON(w, http.StatusAccepted, models.EnqueueResponse{
			JobID:     job.ID,
			ClipCount: len(plan),
			Status:    models.JobStatusQueued,
		})
		return
	}

	resp, err := h.engine.GenerateClips(r.Context(), userID, req)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Status handles POST /v1/videos/status. Accepts a single operationName
// or an operationNames list.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var req models.StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	names := req.OperationNames
	if len(names) == 0 && req.OperationName != "" {
		names = []string{req.OperationName}
	}
	if len(names) == 0 {
		respondError(w, http.StatusBadRequest, "operationName or operationNames is required")
		return
	}

	resp, err := h.engine.CheckStatus(r.Context(), names)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Combine handles POST /v1/videos/combine — stitch already-generated clips.
func (h *Handler) Combine(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, "user not resolved")
		return
	}

	var req models.CombineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.engine.Combine(r.Context(), userID, req)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.db.GetGenerationJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// ListGenerations handles GET /v1/generations
func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, "user not resolved")
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	generations, err := h.db.GetUserGenerations(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list generations")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generations": generations,
		"count":       len(generations),
	})
}

// GetBalance handles GET /v1/credits
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, "user not resolved")
		return
	}

	balance, err := h.db.GetBalance(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get balance")
		return
	}

	respondJSON(w, http.StatusOK, balance)
}

// ListTransactions handles GET /v1/credits/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, "user not resolved")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	txns, err := h.db.GetUserTransactions(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if h.queue != nil {
		if depth, err := h.queue.Length(r.Context()); err == nil {
			resp["queueDepth"] = depth
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondPipelineError maps pipeline failures onto HTTP statuses.
func respondPipelineError(w http.ResponseWriter, err error) {
	var validationErr *pipeline.ValidationError
	var genErr *pipeline.GenerationError

	switch {
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, validationErr.Msg)
	case errors.Is(err, pipeline.ErrInsufficientCredits):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"code":  "insufficient_credits",
		})
	case errors.As(err, &genErr):
		status := http.StatusBadGateway
		if genErr.ContentPolicy {
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, genErr.Error())
	case errors.Is(err, pipeline.ErrPollTimeout):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
