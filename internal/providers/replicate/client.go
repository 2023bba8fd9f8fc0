// Package replicate submits generation jobs to Replicate's prediction queue.
// Results come back asynchronously through the signed webhook gateway, so
// Submit only returns the prediction id.
package replicate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studio/internal/domain"
	"studio/internal/generation"
)

const providerName = "replicate"

// Options configures the client. The API token arrives per request from the
// credential pool.
type Options struct {
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the predictions API.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type predictionRequest struct {
	Input               predictionInput `json:"input"`
	Webhook             string          `json:"webhook,omitempty"`
	WebhookEventsFilter []string        `json:"webhook_events_filter,omitempty"`
}

type predictionInput struct {
	Prompt     string `json:"prompt"`
	InputImage string `json:"input_image,omitempty"`
	NumOutputs int    `json:"num_outputs,omitempty"`
}

type predictionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "black-forest-labs/flux-kontext-pro"
	}
	return &Client{baseURL: baseURL, model: model, httpClient: httpClient}
}

func (c *Client) Name() string {
	return providerName
}

// Generate is part of the Provider contract but this provider only works
// through the queue.
func (c *Client) Generate(_ context.Context, _ generation.Request) (*generation.Artifact, error) {
	return nil, &domain.ProviderError{Provider: providerName, Message: "synchronous generation not supported, use Submit"}
}

// Submit enqueues one prediction covering the whole job and returns its id.
// The webhook URL receives the completion callback.
func (c *Client) Submit(ctx context.Context, req generation.Request) (string, error) {
	if strings.TrimSpace(req.Secret) == "" {
		return "", &domain.ProviderError{Provider: providerName, Code: "unauthenticated", Message: "api token is required"}
	}
	payload := predictionRequest{
		Input: predictionInput{
			Prompt:     strings.TrimSpace(req.Prompt),
			NumOutputs: req.Quantity,
		},
	}
	if len(req.SourceData) > 0 {
		mime := req.SourceMIME
		if mime == "" {
			mime = "image/png"
		}
		payload.Input.InputImage = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.SourceData)
	} else if req.SourceURL != "" {
		payload.Input.InputImage = req.SourceURL
	}
	if req.CallbackURL != "" {
		payload.Webhook = req.CallbackURL
		payload.WebhookEventsFilter = []string{"completed"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("replicate: encode request: %w", err)
	}
	endpoint := c.baseURL + "/models/" + c.model + "/predictions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("replicate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &domain.ProviderError{Provider: providerName, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("replicate: read response: %w", err)
	}
	var decoded predictionResponse
	if resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Detail != "" {
			message = decoded.Detail
		}
		return "", &domain.ProviderError{
			Provider:  providerName,
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Message:   message,
			Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("replicate: decode response: %w", err)
	}
	if decoded.ID == "" {
		return "", &domain.ProviderError{Provider: providerName, Message: "prediction without id", Transient: true}
	}
	return decoded.ID, nil
}

var _ generation.QueuedProvider = (*Client)(nil)
