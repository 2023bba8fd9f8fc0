package domain

import "time"

// Version is an immutable, content-addressed snapshot of an image after zero
// or more preparation steps. Versions form a tree rooted at the original
// upload; ParentID is empty for the root.
type Version struct {
	ID                string
	ParentID          string
	SessionID         string
	ContentHash       string
	StorageKey        string
	Kind              string
	ParamsJSON        []byte
	ParamsFingerprint string
	Label             string
	MIME              string
	Width             int
	Height            int
	Bytes             int64
	CreatedAt         time.Time
}

// Session holds the append-only version history for one editing session plus
// the active pointer. Undo and redo move the pointer; the list is never
// rewritten.
type Session struct {
	ID          string
	UserID      string
	VersionIDs  []string
	ActiveIndex int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActiveVersionID returns the id the pointer currently addresses.
func (s *Session) ActiveVersionID() string {
	if s == nil || s.ActiveIndex < 0 || s.ActiveIndex >= len(s.VersionIDs) {
		return ""
	}
	return s.VersionIDs[s.ActiveIndex]
}
