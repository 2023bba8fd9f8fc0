package repo

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// VersionRepo persists version metadata. The memo lookup backs the pipeline's
// idempotence guarantee: one row per (parent hash, kind, params fingerprint).
type VersionRepo struct {
	sql infra.SQLExecutor
}

func NewVersionRepo(sql infra.SQLExecutor) *VersionRepo {
	return &VersionRepo{sql: sql}
}

func (r *VersionRepo) Insert(ctx context.Context, v *domain.Version) error {
	var parentHash string
	if v.ParentID != "" {
		parent, err := r.GetByID(ctx, v.ParentID)
		if err != nil {
			return fmt.Errorf("versions: load parent: %w", err)
		}
		parentHash = parent.ContentHash
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertVersion,
		v.ID, v.ParentID, parentHash, v.SessionID, v.ContentHash, v.StorageKey,
		v.Kind, v.ParamsJSON, v.ParamsFingerprint, v.Label, v.MIME,
		v.Width, v.Height, v.Bytes)
	if err != nil {
		return fmt.Errorf("versions: insert: %w", err)
	}
	return nil
}

func (r *VersionRepo) GetByID(ctx context.Context, id string) (*domain.Version, error) {
	return r.scanVersion(r.sql.QueryRow(ctx, sqlinline.QSelectVersionByID, id))
}

func (r *VersionRepo) FindByMemoKey(ctx context.Context, parentHash, kind, fingerprint string) (*domain.Version, error) {
	return r.scanVersion(r.sql.QueryRow(ctx, sqlinline.QSelectVersionByMemoKey, parentHash, kind, fingerprint))
}

func (r *VersionRepo) scanVersion(row interface{ Scan(...any) error }) (*domain.Version, error) {
	var v domain.Version
	err := row.Scan(&v.ID, &v.ParentID, &v.SessionID, &v.ContentHash, &v.StorageKey,
		&v.Kind, &v.ParamsJSON, &v.ParamsFingerprint, &v.Label, &v.MIME,
		&v.Width, &v.Height, &v.Bytes, &v.CreatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("versions: scan: %w", err)
	}
	return &v, nil
}

var _ domain.VersionRepository = (*VersionRepo)(nil)
