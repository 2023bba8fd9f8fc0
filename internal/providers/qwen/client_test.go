package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"studio/internal/domain"
	"studio/internal/generation"
)

func newEditServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Options{BaseURL: server.URL, Model: "qwen-image-edit", HTTPClient: server.Client()})
	return server, client
}

func successHandler(t *testing.T, imagePayload []byte) http.HandlerFunc {
	t.Helper()
	var serverURL string
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/services/aigc/multimodal-generation/generation":
			if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
				t.Errorf("unexpected authorization header %q", got)
			}
			resp := map[string]any{
				"output": map[string]any{
					"choices": []any{map[string]any{
						"message": map[string]any{
							"content": []any{map[string]any{"image": serverURL + "/result.png"}},
						},
					}},
				},
				"usage":      map[string]any{"width": 1024, "height": 768},
				"request_id": "req-1",
			}
			json.NewEncoder(w).Encode(resp)
		case "/result.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(imagePayload)
		default:
			http.NotFound(w, r)
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		serverURL = "http://" + r.Host
		handler(w, r)
	}
}

func TestGenerateReturnsDownloadedArtifact(t *testing.T) {
	payload := []byte("png-bytes")
	_, client := newEditServer(t, successHandler(t, payload))

	artifact, err := client.Generate(context.Background(), generation.Request{
		Prompt: "remove background",
		Secret: "sk-test",
		Seed:   2,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if string(artifact.Data) != string(payload) {
		t.Fatal("artifact bytes must match the downloaded image")
	}
	if artifact.MIME != "image/png" {
		t.Fatalf("unexpected mime %q", artifact.MIME)
	}
	if artifact.Width != 1024 || artifact.Height != 768 {
		t.Fatalf("dimensions must come from usage, got %dx%d", artifact.Width, artifact.Height)
	}
}

func TestGenerateSendsSourceImageAsDataURL(t *testing.T) {
	var captured struct {
		Input struct {
			Messages []struct {
				Content []struct {
					Text  string `json:"text"`
					Image string `json:"image"`
				} `json:"content"`
			} `json:"messages"`
		} `json:"input"`
	}
	_, client := newEditServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/aigc/multimodal-generation/generation" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"InvalidParameter","message":"stop here"}`)
	})

	_, err := client.Generate(context.Background(), generation.Request{
		Prompt:     "remove background",
		SourceData: []byte{1, 2, 3},
		SourceMIME: "image/jpeg",
		Secret:     "sk-test",
	})
	if err == nil {
		t.Fatal("expected scripted error")
	}
	content := captured.Input.Messages[0].Content
	if len(content) != 2 {
		t.Fatalf("expected image+text content, got %d parts", len(content))
	}
	if !strings.HasPrefix(content[0].Image, "data:image/jpeg;base64,") {
		t.Fatalf("source must be sent as data url, got %q", content[0].Image)
	}
	if content[1].Text != "remove background" {
		t.Fatalf("unexpected prompt %q", content[1].Text)
	}
}

func TestGenerateClassifiesThrottlingAsTransient(t *testing.T) {
	_, client := newEditServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":"Throttling.RateQuota","message":"requests throttled"}`)
	})

	_, err := client.Generate(context.Background(), generation.Request{Prompt: "p", Secret: "sk-test"})
	if !domain.IsTransient(err) {
		t.Fatalf("throttling must be transient, got %v", err)
	}
}

func TestGenerateClassifiesBadRequestAsFatal(t *testing.T) {
	_, client := newEditServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"DataInspectionFailed","message":"content policy violation"}`)
	})

	_, err := client.Generate(context.Background(), generation.Request{Prompt: "p", Secret: "sk-test"})
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("policy violations must be fatal, got %v", err)
	}
	var perr *domain.ProviderError
	if !errors.As(err, &perr) || perr.Code != "DataInspectionFailed" {
		t.Fatalf("provider code must be preserved, got %v", err)
	}
}

func TestGenerateClassifiesServerErrorAsTransient(t *testing.T) {
	_, client := newEditServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":"InternalError","message":"something broke"}`)
	})

	_, err := client.Generate(context.Background(), generation.Request{Prompt: "p", Secret: "sk-test"})
	if !domain.IsTransient(err) {
		t.Fatalf("5xx must be transient, got %v", err)
	}
}

func TestGenerateRequiresSecretAndPrompt(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.Generate(context.Background(), generation.Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error without secret")
	}
	if _, err := client.Generate(context.Background(), generation.Request{Secret: "sk"}); err == nil {
		t.Fatal("expected error without prompt")
	}
}
