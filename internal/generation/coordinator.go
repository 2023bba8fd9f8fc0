// Package generation fans one generation request out across K parallel
// slots. Slots settle independently; the job reaches a terminal status
// exactly once, via a compare-and-swap finalize.
package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio/internal/credentials"
	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/metrics"
	"studio/internal/retry"
	"studio/internal/storage"
)

// PromptFn derives the per-slot prompt from the base prompt. Varying the
// wording per slot pushes the provider toward distinct results.
type PromptFn func(base string, slot int) string

// CredentialSource hands out one credential per slot. Satisfied by
// *credentials.Pool.
type CredentialSource interface {
	Acquire(ctx context.Context, userID, provider string, slotIndex int) (credentials.Credential, error)
}

// Params describes one generation request before fan-out.
type Params struct {
	UserID          string
	SourceVersionID string
	Prompt          string
	Provider        string
	Quantity        int
}

// Options configures the coordinator.
type Options struct {
	Providers       Registry
	DefaultProvider string
	MaxSlots        int
	JobTimeout      time.Duration
	CallbackURL     string
	Prompts         PromptFn
}

// Coordinator creates jobs and runs their slots in-process. Each slot gets
// its own credential, its own retry budget and writes its outcome back the
// moment it settles, so a crash mid-job loses at most the unsettled slots.
type Coordinator struct {
	jobs     domain.JobRepository
	assets   domain.AssetRepository
	versions domain.VersionRepository
	blobs    storage.BlobStore
	pool     CredentialSource
	exec     retry.Executor
	opts     Options
	logger   infra.Logger

	wg sync.WaitGroup
}

func NewCoordinator(
	jobs domain.JobRepository,
	assets domain.AssetRepository,
	versions domain.VersionRepository,
	blobs storage.BlobStore,
	pool CredentialSource,
	exec retry.Executor,
	opts Options,
	logger infra.Logger,
) *Coordinator {
	if opts.MaxSlots <= 0 {
		opts.MaxSlots = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.Prompts == nil {
		opts.Prompts = func(base string, _ int) string { return base }
	}
	return &Coordinator{
		jobs:     jobs,
		assets:   assets,
		versions: versions,
		blobs:    blobs,
		pool:     pool,
		exec:     exec,
		opts:     opts,
		logger:   logger,
	}
}

// Generate validates the request, persists the job in processing with its
// full slot list and starts the fan-out in the background. The returned job
// reflects the state at creation; callers poll the status endpoint for
// progress.
func (c *Coordinator) Generate(ctx context.Context, params Params) (*domain.Job, error) {
	if strings.TrimSpace(params.Prompt) == "" {
		return nil, fmt.Errorf("generation: prompt is required")
	}
	if params.Quantity < 1 || params.Quantity > c.opts.MaxSlots {
		return nil, fmt.Errorf("generation: quantity must be between 1 and %d", c.opts.MaxSlots)
	}
	provider, name := c.opts.Providers.Lookup(params.Provider, c.opts.DefaultProvider)
	if provider == nil {
		return nil, fmt.Errorf("generation: unknown provider %q", params.Provider)
	}

	job := &domain.Job{
		ID:              uuid.NewString(),
		UserID:          params.UserID,
		Status:          domain.JobStatusProcessing,
		SourceVersionID: params.SourceVersionID,
		Prompt:          params.Prompt,
		Provider:        name,
		Quantity:        params.Quantity,
		Slots:           domain.NewSlots(params.Quantity),
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), c.opts.JobTimeout)
		defer cancel()
		c.run(runCtx, job, provider)
	}()
	return job, nil
}

// Wait blocks until all in-flight jobs settle. Used during shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, job *domain.Job, provider Provider) {
	source, mime, err := c.loadSource(ctx, job.SourceVersionID)
	if err != nil {
		c.finalize(ctx, job.ID, domain.JobStatusFailed, fmt.Sprintf("load source: %v", err))
		return
	}

	if queued, ok := provider.(QueuedProvider); ok {
		c.submitQueued(ctx, job, queued, source, mime)
		return
	}
	c.fanOut(ctx, job, provider, source, mime)
}

// submitQueued hands the whole job to the external queue. Slots settle later
// through the webhook gateway; the only local bookkeeping is the task id
// binding the callback back to the job.
func (c *Coordinator) submitQueued(ctx context.Context, job *domain.Job, provider QueuedProvider, source []byte, mime string) {
	cred, err := c.pool.Acquire(ctx, job.UserID, provider.Name(), 0)
	if err != nil {
		c.finalize(ctx, job.ID, domain.JobStatusFailed, err.Error())
		return
	}

	taskID, err := retry.Do(ctx, c.exec, domain.IsTransient, func(ctx context.Context) (string, error) {
		return provider.Submit(ctx, Request{
			Prompt:      job.Prompt,
			SourceData:  source,
			SourceMIME:  mime,
			Quantity:    job.Quantity,
			Secret:      cred.Secret,
			RequestID:   job.ID,
			CallbackURL: c.opts.CallbackURL,
		})
	})
	if err != nil {
		c.finalize(ctx, job.ID, domain.JobStatusFailed, err.Error())
		return
	}
	if err := c.jobs.BindTask(context.WithoutCancel(ctx), job.ID, taskID); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation: bind task")
		return
	}
	c.logger.Info().
		Str("job_id", job.ID).
		Str("task_id", taskID).
		Str("provider", provider.Name()).
		Msg("generation: job queued")
}

// fanOut runs every slot concurrently and finalizes once all of them settled.
// One slot failing never interrupts its siblings.
func (c *Coordinator) fanOut(ctx context.Context, job *domain.Job, provider Provider, source []byte, mime string) {
	slots := make([]domain.Slot, job.Quantity)
	var wg sync.WaitGroup
	for i := 0; i < job.Quantity; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots[i] = c.runSlot(ctx, job, provider, i, source, mime)
			// The outcome must land even when the job deadline expired
			// mid-slot; otherwise the slot stays unsettled forever.
			if err := c.jobs.UpdateSlot(context.WithoutCancel(ctx), job.ID, slots[i]); err != nil {
				c.logger.Error().Err(err).Str("job_id", job.ID).Int("slot", i).Msg("generation: persist slot")
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	var failures []string
	for _, s := range slots {
		if s.AssetID != "" {
			succeeded++
		} else if s.Error != "" {
			failures = append(failures, fmt.Sprintf("slot %d: %s", s.Index, s.Error))
		}
	}

	status := domain.JobStatusCompleted
	errMsg := ""
	if succeeded == 0 {
		status = domain.JobStatusFailed
		errMsg = strings.Join(failures, "; ")
	}
	c.finalize(ctx, job.ID, status, errMsg)
	c.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(status)).
		Int("succeeded", succeeded).
		Int("requested", job.Quantity).
		Msg("generation: job settled")
}

// runSlot settles exactly one slot. A missing credential settles the slot
// without any network call; provider errors pass through the retry executor
// before they stick.
func (c *Coordinator) runSlot(ctx context.Context, job *domain.Job, provider Provider, index int, source []byte, mime string) domain.Slot {
	slot := domain.Slot{Index: index}

	cred, err := c.pool.Acquire(ctx, job.UserID, provider.Name(), index)
	if err != nil {
		slot.Error = err.Error()
		metrics.SlotAttempts.WithLabelValues(provider.Name(), "no_credential").Inc()
		return slot
	}

	start := time.Now()
	artifact, err := retry.Do(ctx, c.exec, domain.IsTransient, func(ctx context.Context) (*Artifact, error) {
		return provider.Generate(ctx, Request{
			Prompt:     c.opts.Prompts(job.Prompt, index),
			SourceData: source,
			SourceMIME: mime,
			Seed:       index,
			Secret:     cred.Secret,
			RequestID:  job.ID,
			SlotIndex:  index,
		})
	})
	metrics.ProviderLatency.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		slot.Error = err.Error()
		metrics.SlotAttempts.WithLabelValues(provider.Name(), "error").Inc()
		c.logger.Warn().Err(err).Str("job_id", job.ID).Int("slot", index).Msg("generation: slot failed")
		return slot
	}

	asset, err := c.storeArtifact(ctx, job, index, artifact)
	if err != nil {
		slot.Error = err.Error()
		metrics.SlotAttempts.WithLabelValues(provider.Name(), "error").Inc()
		return slot
	}
	slot.AssetID = asset.ID
	slot.StorageKey = asset.StorageKey
	metrics.SlotAttempts.WithLabelValues(provider.Name(), "ok").Inc()
	return slot
}

// storeArtifact writes the artifact bytes into the content-addressed store
// and records the asset row pointing at them.
func (c *Coordinator) storeArtifact(ctx context.Context, job *domain.Job, index int, artifact *Artifact) (*domain.Asset, error) {
	if len(artifact.Data) == 0 {
		return nil, fmt.Errorf("generation: provider returned empty artifact")
	}
	ref, err := c.blobs.Put(ctx, artifact.Data, artifact.MIME)
	if err != nil {
		return nil, err
	}
	asset := &domain.Asset{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		UserID:     job.UserID,
		SlotIndex:  index,
		StorageKey: ref.Key,
		MIME:       artifact.MIME,
		Bytes:      ref.Bytes,
		Width:      artifact.Width,
		Height:     artifact.Height,
		Checksum:   ref.Hash,
	}
	if err := c.assets.Insert(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (c *Coordinator) loadSource(ctx context.Context, versionID string) ([]byte, string, error) {
	if versionID == "" {
		return nil, "", nil
	}
	version, err := c.versions.GetByID(ctx, versionID)
	if err != nil {
		return nil, "", err
	}
	data, err := c.blobs.Get(ctx, version.StorageKey)
	if err != nil {
		return nil, "", err
	}
	return data, version.MIME, nil
}

// finalize records the terminal status. It detaches from the caller's
// context first: when the slots burned the whole job timeout the write must
// still land, or the job stays in processing with no one left to move it.
func (c *Coordinator) finalize(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) {
	won, err := c.jobs.Finalize(context.WithoutCancel(ctx), jobID, status, errMsg)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Msg("generation: finalize")
		return
	}
	if won {
		metrics.JobsFinalized.WithLabelValues(string(status)).Inc()
	}
}
