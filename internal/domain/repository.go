package domain

import "context"

// JobRepository defines persistence for job entities. UpdateSlot and Finalize
// are guarded: once a job reached a terminal status both become no-ops, which
// makes the synchronous path and the webhook path safe to race.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByTaskID(ctx context.Context, taskID string) (*Job, error)
	BindTask(ctx context.Context, jobID, taskID string) error
	UpdateSlot(ctx context.Context, jobID string, slot Slot) error
	// Finalize performs the compare-and-swap out of processing. It reports
	// whether this call won the transition.
	Finalize(ctx context.Context, jobID string, status JobStatus, errMsg string) (bool, error)
}

// VersionRepository persists version metadata and serves the memoization
// lookup keyed by (parent content hash, step kind, params fingerprint).
type VersionRepository interface {
	Insert(ctx context.Context, v *Version) error
	GetByID(ctx context.Context, id string) (*Version, error)
	FindByMemoKey(ctx context.Context, parentHash, kind, fingerprint string) (*Version, error)
}

// SessionRepository persists editing sessions. Append atomically adds a
// version id and moves the active pointer to it.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	Append(ctx context.Context, sessionID, versionID string) error
	SetActiveIndex(ctx context.Context, sessionID string, index int) error
}

// AssetRepository handles persistence for generated artifacts.
type AssetRepository interface {
	Insert(ctx context.Context, a *Asset) error
	ListByJobID(ctx context.Context, jobID string) ([]Asset, error)
}
