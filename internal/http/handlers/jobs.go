package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/pkg/zip"
)

// JobStatus reports the job's terminal state or per-slot progress.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"provider":   job.Provider,
		"quantity":   job.Quantity,
		"slots":      job.Slots,
		"error":      job.ErrorMessage,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
}

// JobAssets lists the artifacts the job's settled slots produced.
func (a *App) JobAssets(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	assets, err := a.Assets.ListByJobID(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: list assets")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list assets")
		return
	}
	payload := make([]map[string]any, 0, len(assets))
	for _, asset := range assets {
		payload = append(payload, map[string]any{
			"id":         asset.ID,
			"slot_index": asset.SlotIndex,
			"url":        "/v1/blobs/" + asset.StorageKey,
			"mime":       asset.MIME,
			"bytes":      asset.Bytes,
			"width":      asset.Width,
			"height":     asset.Height,
			"checksum":   asset.Checksum,
			"created_at": asset.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"job_id": job.ID, "assets": payload})
}

// JobZip streams all artifacts of a completed job as one archive.
func (a *App) JobZip(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	assets, err := a.Assets.ListByJobID(r.Context(), job.ID)
	if err != nil || len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no assets for job")
		return
	}

	entries := make([]zip.Asset, 0, len(assets))
	for _, asset := range assets {
		data, err := a.Blobs.Get(r.Context(), asset.StorageKey)
		if err != nil {
			a.Logger.Error().Err(err).Str("asset_id", asset.ID).Msg("jobs: read blob for zip")
			continue
		}
		entries = append(entries, zip.Asset{
			Filename: fmt.Sprintf("result-%02d%s", asset.SlotIndex+1, extensionFor(asset.MIME)),
			MIME:     asset.MIME,
			Data:     data,
		})
	}
	archive := zip.ArchiveAssets(entries)
	if len(archive) == 0 {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "job-"+job.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("jobs: load")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return nil, false
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
