package repo

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// AssetRepo persists generated artifacts, one row per succeeded slot.
type AssetRepo struct {
	sql infra.SQLExecutor
}

func NewAssetRepo(sql infra.SQLExecutor) *AssetRepo {
	return &AssetRepo{sql: sql}
}

func (r *AssetRepo) Insert(ctx context.Context, a *domain.Asset) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertAsset,
		a.ID, a.JobID, a.UserID, a.SlotIndex, a.StorageKey, a.MIME, a.Bytes,
		a.Width, a.Height, a.Checksum)
	if err != nil {
		return fmt.Errorf("assets: insert: %w", err)
	}
	return nil
}

func (r *AssetRepo) ListByJobID(ctx context.Context, jobID string) ([]domain.Asset, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectJobAssets, jobID)
	if err != nil {
		return nil, fmt.Errorf("assets: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.JobID, &a.UserID, &a.SlotIndex, &a.StorageKey,
			&a.MIME, &a.Bytes, &a.Width, &a.Height, &a.Checksum, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("assets: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assets: iterate: %w", err)
	}
	return out, nil
}

var _ domain.AssetRepository = (*AssetRepo)(nil)
