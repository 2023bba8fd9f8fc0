package domain

import "time"

// JobStatus enumerates job lifecycle states. A job is created in processing
// and moves to exactly one terminal state through Finalize.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Slot is one of the K parallel generation attempts belonging to a job. Each
// slot settles independently with either an artifact reference or an error.
type Slot struct {
	Index      int    `json:"index"`
	AssetID    string `json:"asset_id,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Settled reports whether the slot carries a result or an error.
func (s Slot) Settled() bool {
	return s.AssetID != "" || s.Error != ""
}

// Job encapsulates one generation request fanned out across Quantity slots.
// The slot count is fixed at creation and never changes.
type Job struct {
	ID              string
	UserID          string
	Status          JobStatus
	SourceVersionID string
	Prompt          string
	Provider        string
	Quantity        int
	Slots           []Slot
	TaskID          string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSlots returns the initial unsettled slot list for a job of size k.
func NewSlots(k int) []Slot {
	slots := make([]Slot, k)
	for i := range slots {
		slots[i].Index = i
	}
	return slots
}

// SucceededSlots counts slots holding an artifact.
func (j *Job) SucceededSlots() int {
	n := 0
	for _, s := range j.Slots {
		if s.AssetID != "" {
			n++
		}
	}
	return n
}
