package repo

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// SessionRepo persists editing sessions. The version list only ever grows;
// Append and SetActiveIndex move the active pointer.
type SessionRepo struct {
	sql infra.SQLExecutor
}

func NewSessionRepo(sql infra.SQLExecutor) *SessionRepo {
	return &SessionRepo{sql: sql}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertSession, s.ID, s.UserID, s.VersionIDs, s.ActiveIndex)
	if err != nil {
		return fmt.Errorf("sessions: insert: %w", err)
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectSessionByID, id)
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.VersionIDs, &s.ActiveIndex, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sessions: scan: %w", err)
	}
	return &s, nil
}

// Append adds a version id to the end of the history and points the session
// at it in one statement.
func (r *SessionRepo) Append(ctx context.Context, sessionID, versionID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QAppendSessionVersion, sessionID, versionID)
	if err != nil {
		return fmt.Errorf("sessions: append version: %w", err)
	}
	return nil
}

func (r *SessionRepo) SetActiveIndex(ctx context.Context, sessionID string, index int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetSessionActiveIndex, sessionID, index)
	if err != nil {
		return fmt.Errorf("sessions: set active index: %w", err)
	}
	return nil
}

var _ domain.SessionRepository = (*SessionRepo)(nil)
