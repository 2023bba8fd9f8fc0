// Package qwen calls DashScope's Qwen image-edit API. One Generate call
// produces one image; fan-out and retries happen upstream.
package qwen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studio/internal/domain"
	"studio/internal/generation"
)

const providerName = "qwen"

// Options configures the DashScope client. Credentials are not part of the
// options: the secret arrives per request from the pool.
type Options struct {
	BaseURL        string
	Model          string
	Watermark      bool
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope multimodal generation API.
type Client struct {
	baseURL    string
	model      string
	watermark  bool
	httpClient *http.Client
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type generationParams struct {
	Watermark *bool `json:"watermark,omitempty"`
	Seed      *int  `json:"seed,omitempty"`
}

type generationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image-edit"
	}
	return &Client{
		baseURL:    baseURL,
		model:      model,
		watermark:  opts.Watermark,
		httpClient: httpClient,
	}
}

func (c *Client) Name() string {
	return providerName
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate invokes the DashScope API once and returns a single image.
func (c *Client) Generate(ctx context.Context, req generation.Request) (*generation.Artifact, error) {
	if strings.TrimSpace(req.Secret) == "" {
		return nil, &domain.ProviderError{Provider: providerName, Code: "MissingApiKey", Message: "api key is required"}
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, &domain.ProviderError{Provider: providerName, Code: "InvalidParameter", Message: "prompt is required"}
	}

	content := []generationContent{}
	if len(req.SourceData) > 0 {
		content = append(content, generationContent{Image: dataURL(req.SourceData, req.SourceMIME)})
	} else if req.SourceURL != "" {
		content = append(content, generationContent{Image: req.SourceURL})
	}
	content = append(content, generationContent{Text: prompt})

	payload := generationRequest{
		Model: c.model,
		Input: generationInput{
			Messages: []generationMessage{{Role: "user", Content: content}},
		},
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark
	if req.Seed > 0 {
		seed := req.Seed
		payload.Parameters.Seed = &seed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, classifyHTTP(resp.StatusCode, raw)
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("qwen: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, classifyCode(decoded.Code, decoded.Message)
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return nil, &domain.ProviderError{Provider: providerName, Message: "empty image url", Transient: true}
	}

	data, mime, err := c.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	width, height := decoded.Usage.Width, decoded.Usage.Height
	if width == 0 || height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			width, height = cfg.Width, cfg.Height
		}
	}
	return &generation.Artifact{URL: imageURL, Data: data, MIME: mime, Width: width, Height: height}, nil
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("qwen: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &domain.ProviderError{Provider: providerName, Message: "download: " + err.Error(), Transient: true}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &domain.ProviderError{
			Provider:  providerName,
			Message:   fmt.Sprintf("download status %d", resp.StatusCode),
			Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: read image: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/png"
	}
	return data, mime, nil
}

// classifyHTTP maps an error status onto the retry taxonomy: throttling and
// server-side failures are transient, everything else sticks.
func classifyHTTP(status int, raw []byte) error {
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
		perr := classifyCode(detail.Code, detail.Message)
		if status == http.StatusTooManyRequests || status >= 500 {
			perr.Transient = true
		}
		return perr
	}
	return &domain.ProviderError{
		Provider:  providerName,
		Message:   fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(raw))),
		Transient: status == http.StatusTooManyRequests || status >= 500,
	}
}

func classifyCode(code, message string) *domain.ProviderError {
	lowered := strings.ToLower(code)
	transient := strings.Contains(lowered, "throttl") ||
		strings.Contains(lowered, "internalerror") ||
		strings.Contains(lowered, "serviceunavailable") ||
		strings.Contains(lowered, "timeout")
	return &domain.ProviderError{Provider: providerName, Code: code, Message: message, Transient: transient}
}

func dataURL(data []byte, mime string) string {
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func firstImageURL(resp generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				return u
			}
		}
	}
	return ""
}

var _ generation.Provider = (*Client)(nil)
