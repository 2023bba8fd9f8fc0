// Package gateway ingests asynchronous completion callbacks from queued
// providers and settles the jobs they reference. Deliveries are
// authenticated by HMAC signature before any payload is trusted.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/metrics"
	"studio/internal/storage"
)

// Callback is the payload queued providers POST when a task settles.
type Callback struct {
	TaskID string   `json:"id"`
	Status string   `json:"status"`
	Error  string   `json:"error,omitempty"`
	Output []string `json:"output,omitempty"`
}

// Fetcher downloads an artifact URL from the callback payload. The default
// implementation uses net/http; tests substitute their own.
type Fetcher func(ctx context.Context, url string) (data []byte, mime string, err error)

// Gateway resolves callbacks to jobs and settles their slots.
type Gateway struct {
	jobs   domain.JobRepository
	assets domain.AssetRepository
	blobs  storage.BlobStore
	fetch  Fetcher
	logger infra.Logger
}

func New(jobs domain.JobRepository, assets domain.AssetRepository, blobs storage.BlobStore, fetch Fetcher, logger infra.Logger) *Gateway {
	if fetch == nil {
		fetch = httpFetcher(&http.Client{Timeout: 60 * time.Second})
	}
	return &Gateway{jobs: jobs, assets: assets, blobs: blobs, fetch: fetch, logger: logger}
}

// Process settles the job referenced by an authenticated callback. Unknown
// task ids and already-terminal jobs are dropped without error: the provider
// gets its 200 and stops redelivering. Non-terminal provider statuses are
// progress notifications and ignored.
func (g *Gateway) Process(ctx context.Context, payload []byte) error {
	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		metrics.WebhookCallbacks.WithLabelValues("malformed").Inc()
		return fmt.Errorf("gateway: decode callback: %w", err)
	}
	if cb.TaskID == "" {
		metrics.WebhookCallbacks.WithLabelValues("malformed").Inc()
		return fmt.Errorf("gateway: callback without task id")
	}

	job, err := g.jobs.GetByTaskID(ctx, cb.TaskID)
	if err != nil {
		if infra.IsNoRows(err) || errors.Is(err, domain.ErrNotFound) {
			metrics.WebhookCallbacks.WithLabelValues("unknown_task").Inc()
			g.logger.Warn().Str("task_id", cb.TaskID).Msg("gateway: callback for unknown task dropped")
			return nil
		}
		return err
	}
	if job.Status.Terminal() {
		metrics.WebhookCallbacks.WithLabelValues("duplicate").Inc()
		return nil
	}

	switch strings.ToLower(cb.Status) {
	case "succeeded", "completed":
		return g.settleSucceeded(ctx, job, cb)
	case "failed", "canceled":
		g.finalize(ctx, job.ID, domain.JobStatusFailed, cb.Error)
		metrics.WebhookCallbacks.WithLabelValues("failed").Inc()
		return nil
	default:
		return nil
	}
}

// settleSucceeded downloads each output artifact into the content-addressed
// store and fills the job's slots in order. A job completes when at least
// one artifact landed.
func (g *Gateway) settleSucceeded(ctx context.Context, job *domain.Job, cb Callback) error {
	var failures []string
	stored := 0
	for i := 0; i < job.Quantity; i++ {
		slot := domain.Slot{Index: i}
		if i >= len(cb.Output) {
			slot.Error = "provider returned fewer artifacts than requested"
		} else if asset, err := g.storeOutput(ctx, job, i, cb.Output[i]); err != nil {
			slot.Error = err.Error()
		} else {
			slot.AssetID = asset.ID
			slot.StorageKey = asset.StorageKey
			stored++
		}
		if slot.Error != "" {
			failures = append(failures, fmt.Sprintf("slot %d: %s", i, slot.Error))
		}
		if err := g.jobs.UpdateSlot(ctx, job.ID, slot); err != nil {
			return err
		}
	}

	if stored > 0 {
		g.finalize(ctx, job.ID, domain.JobStatusCompleted, "")
	} else {
		g.finalize(ctx, job.ID, domain.JobStatusFailed, strings.Join(failures, "; "))
	}
	metrics.WebhookCallbacks.WithLabelValues("settled").Inc()
	g.logger.Info().
		Str("job_id", job.ID).
		Str("task_id", cb.TaskID).
		Int("stored", stored).
		Msg("gateway: queued job settled")
	return nil
}

func (g *Gateway) storeOutput(ctx context.Context, job *domain.Job, index int, url string) (*domain.Asset, error) {
	data, mime, err := g.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	ref, err := g.blobs.Put(ctx, data, mime)
	if err != nil {
		return nil, err
	}
	asset := &domain.Asset{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		UserID:     job.UserID,
		SlotIndex:  index,
		StorageKey: ref.Key,
		MIME:       mime,
		Bytes:      ref.Bytes,
		Checksum:   ref.Hash,
	}
	if err := g.assets.Insert(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (g *Gateway) finalize(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) {
	won, err := g.jobs.Finalize(ctx, jobID, status, errMsg)
	if err != nil {
		g.logger.Error().Err(err).Str("job_id", jobID).Msg("gateway: finalize")
		return
	}
	if won {
		metrics.JobsFinalized.WithLabelValues(string(status)).Inc()
	}
}

func httpFetcher(client *http.Client) Fetcher {
	return func(ctx context.Context, url string) ([]byte, string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("artifact fetch: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return nil, "", err
		}
		mime := resp.Header.Get("Content-Type")
		if mime == "" {
			mime = "image/png"
		}
		return data, mime, nil
	}
}
