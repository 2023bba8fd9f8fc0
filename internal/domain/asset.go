package domain

import "time"

// Asset represents a stored generation artifact belonging to a job slot.
type Asset struct {
	ID         string
	JobID      string
	UserID     string
	SlotIndex  int
	StorageKey string
	MIME       string
	Bytes      int64
	Width      int
	Height     int
	Checksum   string
	CreatedAt  time.Time
}
