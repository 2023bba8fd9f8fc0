package generation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studio/internal/credentials"
	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/retry"
	"studio/internal/storage"
)

type memJobs struct {
	mu     sync.Mutex
	byID   map[string]*domain.Job
	byTask map[string]string
}

func newMemJobs() *memJobs {
	return &memJobs{byID: map[string]*domain.Job{}, byTask: map[string]string{}}
}

func (m *memJobs) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	copied.Slots = append([]domain.Slot(nil), job.Slots...)
	m.byID[job.ID] = &copied
	return nil
}

func (m *memJobs) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.byID[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	copied.Slots = append([]domain.Slot(nil), job.Slots...)
	return &copied, nil
}

func (m *memJobs) GetByTaskID(_ context.Context, taskID string) (*domain.Job, error) {
	m.mu.Lock()
	id, ok := m.byTask[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.GetByID(context.Background(), id)
}

func (m *memJobs) BindTask(_ context.Context, jobID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.byID[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.TaskID = taskID
	m.byTask[taskID] = jobID
	return nil
}

func (m *memJobs) UpdateSlot(_ context.Context, jobID string, slot domain.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.byID[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Slots[slot.Index] = slot
	return nil
}

func (m *memJobs) Finalize(_ context.Context, jobID string, status domain.JobStatus, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.byID[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = status
	job.ErrorMessage = errMsg
	return true, nil
}

type memAssets struct {
	mu   sync.Mutex
	rows []domain.Asset
}

func (m *memAssets) Insert(_ context.Context, a *domain.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *a)
	return nil
}

func (m *memAssets) ListByJobID(_ context.Context, jobID string) ([]domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Asset
	for _, a := range m.rows {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubCredentials struct {
	err     error
	secrets []string
}

func (s *stubCredentials) Acquire(_ context.Context, _, provider string, slot int) (credentials.Credential, error) {
	if s.err != nil {
		return credentials.Credential{}, s.err
	}
	secret := fmt.Sprintf("key-%d", slot)
	if len(s.secrets) > 0 {
		secret = s.secrets[slot%len(s.secrets)]
	}
	return credentials.Credential{ID: secret, Provider: provider, Secret: secret}, nil
}

// stubProvider scripts one outcome per slot and records the requests it saw.
type stubProvider struct {
	mu       sync.Mutex
	name     string
	bySlot   map[int][]error
	calls    map[int]int
	requests []Request
}

func newStubProvider(name string) *stubProvider {
	return &stubProvider{name: name, bySlot: map[int][]error{}, calls: map[int]int{}}
}

func (p *stubProvider) Name() string { return p.name }

// failSlot queues errs for the slot; once drained, calls succeed.
func (p *stubProvider) failSlot(slot int, errs ...error) {
	p.bySlot[slot] = errs
}

func (p *stubProvider) Generate(_ context.Context, req Request) (*Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[req.SlotIndex]++
	p.requests = append(p.requests, req)
	if queue := p.bySlot[req.SlotIndex]; len(queue) > 0 {
		err := queue[0]
		p.bySlot[req.SlotIndex] = queue[1:]
		return nil, err
	}
	return &Artifact{
		Data: []byte(fmt.Sprintf("artifact-%d", req.SlotIndex)),
		MIME: "image/png",
	}, nil
}

type stubQueuedProvider struct {
	stubProvider
	taskID    string
	submitErr error
	submitted atomic.Int32
	lastReq   Request
}

func (p *stubQueuedProvider) Submit(_ context.Context, req Request) (string, error) {
	p.submitted.Add(1)
	p.lastReq = req
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return p.taskID, nil
}

// deadlineJobs refuses writes once the caller's context is done, the way a
// pgx pool does.
type deadlineJobs struct{ *memJobs }

func (m deadlineJobs) UpdateSlot(ctx context.Context, jobID string, slot domain.Slot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.memJobs.UpdateSlot(ctx, jobID, slot)
}

func (m deadlineJobs) Finalize(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.memJobs.Finalize(ctx, jobID, status, errMsg)
}

// slowProvider never answers before the job deadline.
type slowProvider struct{}

func (slowProvider) Name() string { return "qwen" }

func (slowProvider) Generate(ctx context.Context, _ Request) (*Artifact, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func transientErr(msg string) error {
	return &domain.ProviderError{Provider: "stub", Message: msg, Transient: true}
}

func fatalErr(msg string) error {
	return &domain.ProviderError{Provider: "stub", Message: msg}
}

func newTestCoordinator(t *testing.T, provider Provider, creds CredentialSource) (*Coordinator, *memJobs, *memAssets) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	jobs := newMemJobs()
	assets := &memAssets{}
	opts := Options{
		Providers:       Registry{provider.Name(): provider},
		DefaultProvider: provider.Name(),
		MaxSlots:        4,
		JobTimeout:      5 * time.Second,
	}
	exec := retry.Executor{MaxAttempts: 3, BaseDelay: time.Millisecond}
	c := NewCoordinator(jobs, assets, nil, store, creds, exec, opts, infra.NewLogger("test"))
	return c, jobs, assets
}

func settle(t *testing.T, c *Coordinator, jobs *memJobs, jobID string) *domain.Job {
	t.Helper()
	c.Wait()
	job, err := jobs.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return job
}

func TestGenerateFanOutAllSlotsSucceed(t *testing.T) {
	provider := newStubProvider("qwen")
	c, jobs, assets := newTestCoordinator(t, provider, &stubCredentials{})

	job, err := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 3})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	final := settle(t, c, jobs, job.ID)

	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Status, final.ErrorMessage)
	}
	for i, s := range final.Slots {
		if s.AssetID == "" || s.Error != "" {
			t.Fatalf("slot %d not settled with an artifact: %+v", i, s)
		}
	}
	rows, _ := assets.ListByJobID(context.Background(), job.ID)
	if len(rows) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(rows))
	}
}

func TestGeneratePartialFailureStillCompletes(t *testing.T) {
	provider := newStubProvider("qwen")
	provider.failSlot(1, fatalErr("content rejected"))
	c, jobs, _ := newTestCoordinator(t, provider, &stubCredentials{})

	job, _ := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 3})
	final := settle(t, c, jobs, job.ID)

	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed despite one failure, got %s", final.Status)
	}
	if final.Slots[0].AssetID == "" || final.Slots[2].AssetID == "" {
		t.Fatal("surviving slots must carry artifacts")
	}
	if final.Slots[1].Error == "" || final.Slots[1].AssetID != "" {
		t.Fatalf("failed slot must carry only its error: %+v", final.Slots[1])
	}
	if provider.calls[1] != 1 {
		t.Fatalf("fatal error must not be retried, got %d calls", provider.calls[1])
	}
}

func TestGenerateAllSlotsFailJobFails(t *testing.T) {
	provider := newStubProvider("qwen")
	for i := 0; i < 2; i++ {
		provider.failSlot(i, fatalErr("content rejected"))
	}
	c, jobs, _ := newTestCoordinator(t, provider, &stubCredentials{})

	job, _ := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 2})
	final := settle(t, c, jobs, job.ID)

	if final.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorMessage == "" {
		t.Fatal("failed job must aggregate slot errors")
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	provider := newStubProvider("qwen")
	provider.failSlot(0, transientErr("throttled"), transientErr("throttled"))
	c, jobs, _ := newTestCoordinator(t, provider, &stubCredentials{})

	job, _ := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 1})
	final := settle(t, c, jobs, job.ID)

	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed after retries, got %s (%s)", final.Status, final.ErrorMessage)
	}
	if provider.calls[0] != 3 {
		t.Fatalf("expected 3 attempts, got %d", provider.calls[0])
	}
}

func TestGenerateMissingCredentialSettlesWithoutCall(t *testing.T) {
	provider := newStubProvider("qwen")
	c, jobs, _ := newTestCoordinator(t, provider, &stubCredentials{err: domain.ErrNoCredential})

	job, _ := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 2})
	final := settle(t, c, jobs, job.ID)

	if final.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if len(provider.requests) != 0 {
		t.Fatalf("no provider call expected without credentials, got %d", len(provider.requests))
	}
}

func TestGenerateSlotsUseDistinctCredentials(t *testing.T) {
	provider := newStubProvider("qwen")
	c, jobs, _ := newTestCoordinator(t, provider, &stubCredentials{secrets: []string{"key-a", "key-b", "key-c"}})

	job, _ := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 3})
	settle(t, c, jobs, job.ID)

	seen := map[string]bool{}
	for _, req := range provider.requests {
		seen[req.Secret] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct credentials, got %d", len(seen))
	}
}

func TestGenerateValidatesQuantity(t *testing.T) {
	provider := newStubProvider("qwen")
	c, _, _ := newTestCoordinator(t, provider, &stubCredentials{})

	if _, err := c.Generate(context.Background(), Params{UserID: "u", Prompt: "p", Quantity: 0}); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if _, err := c.Generate(context.Background(), Params{UserID: "u", Prompt: "p", Quantity: 5}); err == nil {
		t.Fatal("expected error above the slot cap")
	}
	if _, err := c.Generate(context.Background(), Params{UserID: "u", Prompt: "  ", Quantity: 1}); err == nil {
		t.Fatal("expected error for blank prompt")
	}
}

func TestGenerateQueuedProviderBindsTask(t *testing.T) {
	provider := &stubQueuedProvider{taskID: "task-42"}
	provider.name = "replicate"
	provider.bySlot = map[int][]error{}
	provider.calls = map[int]int{}
	c, jobs, _ := newTestCoordinator(t, provider, &stubCredentials{})

	job, err := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 2})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	c.Wait()

	bound, err := jobs.GetByTaskID(context.Background(), "task-42")
	if err != nil {
		t.Fatalf("task id not bound: %v", err)
	}
	if bound.ID != job.ID {
		t.Fatal("task id bound to the wrong job")
	}
	if bound.Status != domain.JobStatusProcessing {
		t.Fatalf("queued job must stay processing until the callback, got %s", bound.Status)
	}
	if got := provider.submitted.Load(); got != 1 {
		t.Fatalf("expected one submit, got %d", got)
	}
	if provider.lastReq.Quantity != 2 {
		t.Fatalf("submit must carry the slot count, got %d", provider.lastReq.Quantity)
	}
}

func TestGenerateJobTimeoutStillSettles(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	jobs := newMemJobs()
	provider := slowProvider{}
	opts := Options{
		Providers:       Registry{provider.Name(): provider},
		DefaultProvider: provider.Name(),
		MaxSlots:        4,
		JobTimeout:      30 * time.Millisecond,
	}
	exec := retry.Executor{MaxAttempts: 1, BaseDelay: time.Millisecond}
	c := NewCoordinator(deadlineJobs{jobs}, &memAssets{}, nil, store, &stubCredentials{}, exec, opts, infra.NewLogger("test"))

	job, err := c.Generate(context.Background(), Params{UserID: "user-1", Prompt: "studio shot", Quantity: 2})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	final := settle(t, c, jobs, job.ID)

	if final.Status != domain.JobStatusFailed {
		t.Fatalf("timed-out job must land in failed, got %s", final.Status)
	}
	for i, s := range final.Slots {
		if s.Error == "" {
			t.Fatalf("slot %d must record the deadline error, got %+v", i, s)
		}
	}
}

func TestFinalizeIsCompareAndSwap(t *testing.T) {
	jobs := newMemJobs()
	job := &domain.Job{ID: "job-1", Status: domain.JobStatusProcessing, Slots: domain.NewSlots(1)}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	won, err := jobs.Finalize(context.Background(), job.ID, domain.JobStatusCompleted, "")
	if err != nil || !won {
		t.Fatalf("first finalize must win: won=%v err=%v", won, err)
	}
	won, err = jobs.Finalize(context.Background(), job.ID, domain.JobStatusFailed, "late")
	if err != nil || won {
		t.Fatalf("second finalize must lose: won=%v err=%v", won, err)
	}
	final, _ := jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusCompleted {
		t.Fatalf("losing finalize must not overwrite the status, got %s", final.Status)
	}
}
