package handlers

import (
	"io"
	"net/http"
	"strings"
)

// maxUploadBytes caps source uploads at 20 MiB.
const maxUploadBytes = 20 << 20

var acceptedUploadMIMEs = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// UploadImage ingests a source image, stores it content-addressed and opens
// an editing session rooted at it. Accepts multipart ("image" field) or a
// raw body.
func (a *App) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	data, mime, err := readUpload(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return
	}
	if !acceptedUploadMIMEs[mime] {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected png, jpeg or webp")
		return
	}

	session, root, err := a.Pipeline.CreateRoot(r.Context(), userID, data, mime)
	if err != nil {
		a.Logger.Error().Err(err).Msg("upload: create root")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store upload")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"version":    versionPayload(root),
	})
}

func readUpload(r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return data, sniffMIME(data, header.Header.Get("Content-Type")), nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, sniffMIME(data, contentType), nil
}

func sniffMIME(data []byte, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if acceptedUploadMIMEs[declared] {
		return declared
	}
	return http.DetectContentType(data)
}
