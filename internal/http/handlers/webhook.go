package handlers

import (
	"io"
	"net/http"
)

// maxCallbackBytes caps webhook payloads at 1 MiB.
const maxCallbackBytes = 1 << 20

// GenerationWebhook receives completion callbacks from queued providers.
// The signature is checked against the raw body before anything is parsed;
// failures return 401 without detail. Unknown task ids still return 200 so
// the provider stops redelivering.
func (a *App) GenerationWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}

	deliveryID := r.Header.Get("Webhook-Id")
	timestamp := r.Header.Get("Webhook-Timestamp")
	signature := r.Header.Get("Webhook-Signature")
	if err := a.Verifier.Verify(deliveryID, timestamp, signature, body); err != nil {
		a.Logger.Warn().Str("delivery_id", deliveryID).Msg("webhook: signature rejected")
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}

	if err := a.Gateway.Process(r.Context(), body); err != nil {
		a.Logger.Error().Err(err).Str("delivery_id", deliveryID).Msg("webhook: process callback")
		a.error(w, http.StatusBadRequest, "bad_request", "unprocessable callback")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
