package handlers

import (
	"errors"
	"strconv"
	"time"

	"encoding/json"
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/ferrobene/avalia/internal/app"
	"github.com/ferrobene/avalia/internal/metrics"
	"github.com/ferrobene/avalia/internal/models"
)

type EvaluationHandler struct {
	service *app.Service
}

func NewEvaluationHandler(service *app.Service) *EvaluationHandler {
	return &EvaluationHandler{
		service: service,
	}
}

func (h *EvaluationHandler) reviewerEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := r.Header.Get(h.service.Config.Server.ReviewerHeader)
	if email == "" {
		http.Error(w, "Missing reviewer email header", http.StatusUnauthorized)
		return "", false
	}
	return email, true
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error.Printf("Failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *EvaluationHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}

	reviewer, err := h.service.Login(req.Email)
	if errors.Is(err, app.ErrReviewerNotFound) {
		http.Error(w, "Email is not registered as a reviewer", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error.Printf("Login failed for %s: %v", req.Email, err)
		http.Error(w, "Failed to verify reviewer", http.StatusInternalServerError)
		return
	}

	writeJSON(w, reviewer)
}

func (h *EvaluationHandler) HandleStudies(w http.ResponseWriter, r *http.Request) {
	email, ok := h.reviewerEmail(w, r)
	if !ok {
		return
	}

	studies, err := h.service.ListStudies(r.Context(), email)
	if err != nil {
		logger.Error.Printf("Failed to list studies for %s: %v", email, err)
		http.Error(w, "Failed to fetch studies", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"rows": studies,
	})
}

func (h *EvaluationHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	email, ok := h.reviewerEmail(w, r)
	if !ok {
		return
	}

	summary, err := h.service.GetSummary(r.Context(), email)
	if err != nil {
		logger.Error.Printf("Failed to get summary for %s: %v", email, err)
		http.Error(w, "Failed to fetch summary", http.StatusInternalServerError)
		return
	}

	writeJSON(w, summary)
}

func (h *EvaluationHandler) HandleDeviations(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.reviewerEmail(w, r); !ok {
		return
	}

	studyID, err := strconv.ParseInt(r.PathValue("study"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid study id", http.StatusBadRequest)
		return
	}

	filter := r.URL.Query().Get("status")
	deviations, err := h.service.ListDeviations(r.Context(), studyID, filter)
	if err != nil {
		logger.Error.Printf("Failed to list deviations for study %d: %v", studyID, err)
		http.Error(w, "Failed to fetch deviations", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"rows": deviations,
	})
}

func (h *EvaluationHandler) HandleDeviation(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.reviewerEmail(w, r); !ok {
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid deviation id", http.StatusBadRequest)
		return
	}

	deviation, err := h.service.GetDeviation(id)
	if err != nil {
		logger.Error.Printf("Failed to get deviation %d: %v", id, err)
		http.Error(w, "Failed to fetch deviation", http.StatusInternalServerError)
		return
	}
	if deviation == nil {
		http.Error(w, "Deviation not found", http.StatusNotFound)
		return
	}

	writeJSON(w, deviation)
}

func (h *EvaluationHandler) HandleSubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.APIRequestDuration.WithLabelValues(
			"/api/v1/deviations/{id}/evaluation",
			r.Method,
			status,
		).Observe(time.Since(start).Seconds())
	}()

	email, ok := h.reviewerEmail(w, r)
	if !ok {
		status = "401"
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		status = "400"
		http.Error(w, "Invalid deviation id", http.StatusBadRequest)
		return
	}

	var req struct {
		ExpectedVersion int64  `json:"expected_version"`
		Evaluation      string `json:"evaluation"`
		ActorName       string `json:"actor_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "400"
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ActorName == "" {
		status = "400"
		http.Error(w, "Actor name is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.SubmitEvaluation(r.Context(), models.Submission{
		DeviationID:     id,
		ExpectedVersion: req.ExpectedVersion,
		Evaluation:      req.Evaluation,
		ActorName:       req.ActorName,
		ActorEmail:      email,
	})

	switch {
	case errors.Is(err, app.ErrEmptyEvaluation):
		status = "422"
		http.Error(w, "Evaluation text must not be empty", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, app.ErrVersionConflict):
		status = "409"
		http.Error(w, "Deviation was modified by someone else, reload and retry", http.StatusConflict)
		return
	case err != nil:
		status = "500"
		logger.Error.Printf("Submission failed for deviation %d: %v", id, err)
		http.Error(w, "Failed to save evaluation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"result":  "committed",
		"version": result.NewVersion,
	})
}
