package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// JobRepo persists generation jobs. Slot updates and finalization are
// restricted to jobs still in processing, which makes both operations no-ops
// once a terminal status landed.
type JobRepo struct {
	sql infra.SQLExecutor
}

func NewJobRepo(sql infra.SQLExecutor) *JobRepo {
	return &JobRepo{sql: sql}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	slots, err := json.Marshal(job.Slots)
	if err != nil {
		return fmt.Errorf("jobs: marshal slots: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID, job.UserID, job.SourceVersionID, job.Prompt, job.Provider, job.Quantity, slots, job.TaskID)
	if err != nil {
		return fmt.Errorf("jobs: insert: %w", err)
	}
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return r.scanJob(ctx, sqlinline.QSelectJobByID, jobID)
}

func (r *JobRepo) GetByTaskID(ctx context.Context, taskID string) (*domain.Job, error) {
	return r.scanJob(ctx, sqlinline.QSelectJobByTaskID, taskID)
}

func (r *JobRepo) BindTask(ctx context.Context, jobID, taskID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QBindJobTask, jobID, taskID)
	if err != nil {
		return fmt.Errorf("jobs: bind task: %w", err)
	}
	return nil
}

// UpdateSlot writes one settled slot. Writes target disjoint slot indices, so
// concurrent slots never conflict; a terminal job silently ignores the write.
func (r *JobRepo) UpdateSlot(ctx context.Context, jobID string, slot domain.Slot) error {
	payload, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("jobs: marshal slot: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpdateJobSlot, jobID, strconv.Itoa(slot.Index), payload)
	if err != nil {
		return fmt.Errorf("jobs: update slot %d: %w", slot.Index, err)
	}
	return nil
}

// Finalize moves the job out of processing. The status predicate in the SQL
// makes this a compare-and-swap: the first terminal write wins and later
// calls report false.
func (r *JobRepo) Finalize(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("jobs: finalize to non-terminal status %q", status)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QFinalizeJob, jobID, string(status), errMsg)
	if err != nil {
		return false, fmt.Errorf("jobs: finalize: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepo) scanJob(ctx context.Context, query, arg string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, query, arg)
	var job domain.Job
	var slots []byte
	err := row.Scan(&job.ID, &job.UserID, &job.Status, &job.SourceVersionID, &job.Prompt,
		&job.Provider, &job.Quantity, &slots, &job.TaskID, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("jobs: scan: %w", err)
	}
	if err := json.Unmarshal(slots, &job.Slots); err != nil {
		return nil, fmt.Errorf("jobs: decode slots: %w", err)
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepo)(nil)
