package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"studio/internal/storage"
)

// ServeBlob streams a stored blob. Keys are content hashes, so responses are
// immutable and cached aggressively.
func (a *App) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "blob key required")
		return
	}
	data, err := a.Blobs.Get(r.Context(), key)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "blob not found")
		return
	}
	w.Header().Set("Content-Type", storage.MIMEForKey(key))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
