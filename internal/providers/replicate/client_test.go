package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"studio/internal/domain"
	"studio/internal/generation"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Options{BaseURL: server.URL, Model: "acme/studio-model", HTTPClient: server.Client()})
}

func TestSubmitReturnsPredictionID(t *testing.T) {
	var captured predictionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/acme/studio-model/predictions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer r8-test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"pred-7","status":"starting"}`)
	})

	id, err := client.Submit(context.Background(), generation.Request{
		Prompt:      "studio shot",
		Quantity:    3,
		Secret:      "r8-test",
		SourceData:  []byte{1, 2},
		SourceMIME:  "image/png",
		CallbackURL: "https://api.test/v1/webhooks/generation",
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if id != "pred-7" {
		t.Fatalf("unexpected prediction id %q", id)
	}
	if captured.Input.NumOutputs != 3 {
		t.Fatalf("num_outputs must carry the slot count, got %d", captured.Input.NumOutputs)
	}
	if !strings.HasPrefix(captured.Input.InputImage, "data:image/png;base64,") {
		t.Fatalf("source must be a data url, got %q", captured.Input.InputImage)
	}
	if captured.Webhook != "https://api.test/v1/webhooks/generation" {
		t.Fatalf("webhook must be registered, got %q", captured.Webhook)
	}
	if len(captured.WebhookEventsFilter) != 1 || captured.WebhookEventsFilter[0] != "completed" {
		t.Fatalf("only completed events wanted, got %v", captured.WebhookEventsFilter)
	}
}

func TestSubmitClassifiesRateLimitAsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"detail":"rate limit exceeded"}`)
	})

	_, err := client.Submit(context.Background(), generation.Request{Prompt: "p", Secret: "r8-test"})
	if !domain.IsTransient(err) {
		t.Fatalf("rate limit must be transient, got %v", err)
	}
}

func TestSubmitClassifiesValidationErrorAsFatal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"detail":"input_image is invalid"}`)
	})

	_, err := client.Submit(context.Background(), generation.Request{Prompt: "p", Secret: "r8-test"})
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("validation errors must be fatal, got %v", err)
	}
}

func TestSubmitRequiresToken(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.Submit(context.Background(), generation.Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestGenerateIsUnsupported(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.Generate(context.Background(), generation.Request{}); err == nil {
		t.Fatal("expected unsupported error")
	}
}
