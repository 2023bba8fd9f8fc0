package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/pipeline"
)

type applyStepRequest struct {
	Kind            string          `json:"kind"`
	ParentVersionID string          `json:"parent_version_id"`
	Params          pipeline.Params `json:"params"`
}

// ApplyStep runs one preparation step in the session. Repeating a step with
// identical inputs returns the memoized version.
func (a *App) ApplyStep(w http.ResponseWriter, r *http.Request) {
	session, ok := a.ownedSession(w, r)
	if !ok {
		return
	}
	var req applyStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	version, err := a.Pipeline.Apply(r.Context(), session.ID, req.ParentVersionID, pipeline.StepKind(req.Kind), req.Params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidStep):
			a.error(w, http.StatusBadRequest, "invalid_step", err.Error())
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "version not found")
		default:
			a.Logger.Error().Err(err).Str("session_id", session.ID).Msg("sessions: apply step")
			a.error(w, http.StatusBadGateway, "step_failed", "step could not be applied")
		}
		return
	}
	a.json(w, http.StatusOK, versionPayload(version))
}

// UndoStep moves the session pointer one version back.
func (a *App) UndoStep(w http.ResponseWriter, r *http.Request) {
	a.moveStep(w, r, a.Pipeline.Undo)
}

// RedoStep moves the session pointer one version forward.
func (a *App) RedoStep(w http.ResponseWriter, r *http.Request) {
	a.moveStep(w, r, a.Pipeline.Redo)
}

func (a *App) moveStep(w http.ResponseWriter, r *http.Request, move func(context.Context, string) (*domain.Version, error)) {
	session, ok := a.ownedSession(w, r)
	if !ok {
		return
	}
	version, err := move(r.Context(), session.ID)
	if err != nil {
		if errors.Is(err, domain.ErrHistoryBoundary) {
			a.error(w, http.StatusConflict, "history_boundary", "no version to move to")
			return
		}
		a.Logger.Error().Err(err).Str("session_id", session.ID).Msg("sessions: move pointer")
		a.error(w, http.StatusInternalServerError, "internal", "failed to move history pointer")
		return
	}
	a.json(w, http.StatusOK, versionPayload(version))
}

// GetSession returns the session history and its active version.
func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := a.ownedSession(w, r)
	if !ok {
		return
	}
	active, err := a.Versions.GetByID(r.Context(), session.ActiveVersionID())
	if err != nil {
		a.Logger.Error().Err(err).Str("session_id", session.ID).Msg("sessions: load active version")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load session")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":             session.ID,
		"version_ids":    session.VersionIDs,
		"active_index":   session.ActiveIndex,
		"active_version": versionPayload(active),
		"created_at":     session.CreatedAt,
		"updated_at":     session.UpdatedAt,
	})
}

// ownedSession loads the routed session and enforces ownership. Foreign
// sessions surface as 404 to avoid leaking their existence.
func (a *App) ownedSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	sessionID := chi.URLParam(r, "session_id")
	session, err := a.Sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "session not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("session_id", sessionID).Msg("sessions: load")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load session")
		return nil, false
	}
	if session.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	return session, true
}
