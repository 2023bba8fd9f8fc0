package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"studio/internal/domain"
	"studio/internal/generation"
	"studio/internal/pipeline"
)

type generateStep struct {
	Kind   string          `json:"kind"`
	Params pipeline.Params `json:"params"`
}

type generateRequest struct {
	Prompt          string         `json:"prompt"`
	Provider        string         `json:"provider"`
	Quantity        int            `json:"quantity"`
	SessionID       string         `json:"session_id"`
	SourceVersionID string         `json:"source_version_id"`
	Steps           []generateStep `json:"steps"`
}

type generateResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Quantity int    `json:"quantity"`
}

// GenerateImages creates a fan-out job and returns immediately; slots settle
// in the background and are visible through the status endpoint.
func (a *App) GenerateImages(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.SourceVersionID == "" && req.SessionID != "" {
		session, err := a.Sessions.GetByID(r.Context(), req.SessionID)
		if err != nil || session.UserID != userID {
			a.error(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		req.SourceVersionID = session.ActiveVersionID()
	}
	if req.SourceVersionID != "" {
		source, err := a.Versions.GetByID(r.Context(), req.SourceVersionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				a.error(w, http.StatusNotFound, "not_found", "source version not found")
				return
			}
			a.Logger.Error().Err(err).Msg("generate: load source version")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load source version")
			return
		}
		// Requested preparation steps run once, serially, and all slots
		// share the resulting version. Memoization makes repeats free.
		for _, step := range req.Steps {
			source, err = a.Pipeline.Apply(r.Context(), source.SessionID, source.ID, pipeline.StepKind(step.Kind), step.Params)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrInvalidStep):
					a.error(w, http.StatusBadRequest, "invalid_step", err.Error())
				case errors.Is(err, domain.ErrNotFound):
					a.error(w, http.StatusNotFound, "not_found", "version not found")
				default:
					a.Logger.Error().Err(err).Str("kind", step.Kind).Msg("generate: preparation step")
					a.error(w, http.StatusBadGateway, "step_failed", "preparation step could not be applied")
				}
				return
			}
		}
		req.SourceVersionID = source.ID
	} else if len(req.Steps) > 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "steps require a session or source version")
		return
	}

	job, err := a.Coordinator.Generate(r.Context(), generation.Params{
		UserID:          userID,
		SourceVersionID: req.SourceVersionID,
		Prompt:          req.Prompt,
		Provider:        req.Provider,
		Quantity:        req.Quantity,
	})
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.json(w, http.StatusAccepted, generateResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Quantity: job.Quantity,
	})
}
