// Package handlers contains the HTTP surface. Authentication lives at the
// edge proxy; handlers trust the X-User-ID header it injects.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"studio/internal/domain"
	"studio/internal/gateway"
	"studio/internal/generation"
	"studio/internal/infra"
	"studio/internal/pipeline"
	"studio/internal/storage"
)

type App struct {
	Config      *infra.Config
	Logger      infra.Logger
	Pipeline    *pipeline.Pipeline
	Coordinator *generation.Coordinator
	Gateway     *gateway.Gateway
	Verifier    *gateway.Verifier
	Jobs        domain.JobRepository
	Assets      domain.AssetRepository
	Sessions    domain.SessionRepository
	Versions    domain.VersionRepository
	Blobs       storage.BlobStore
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, errorResponse{Error: slug, Message: message})
}

func (a *App) currentUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func versionPayload(v *domain.Version) map[string]any {
	return map[string]any{
		"id":           v.ID,
		"parent_id":    v.ParentID,
		"session_id":   v.SessionID,
		"kind":         v.Kind,
		"label":        v.Label,
		"content_hash": v.ContentHash,
		"url":          "/v1/blobs/" + v.StorageKey,
		"mime":         v.MIME,
		"width":        v.Width,
		"height":       v.Height,
		"bytes":        v.Bytes,
		"params":       json.RawMessage(v.ParamsJSON),
		"created_at":   v.CreatedAt,
	}
}
