package assets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type AssetMetadataRepo interface {
	GetByAssetField(dbc dbctx.Context, assetID, fieldID uuid.UUID) (*types.AssetMetadata, error)
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.AssetMetadata, error)

	// Upsert writes the canonical row for (asset, field). Returns the row
	// and whether anything changed, so callers can decide on history rows.
	Upsert(dbc dbctx.Context, row *types.AssetMetadata) (*types.AssetMetadata, bool, error)

	Approve(dbc dbctx.Context, assetID, fieldID, approverID uuid.UUID, at time.Time) error
}

type assetMetadataRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetMetadataRepo(db *gorm.DB, baseLog *logger.Logger) AssetMetadataRepo {
	return &assetMetadataRepo{db: db, log: baseLog.With("repo", "AssetMetadataRepo")}
}

func (r *assetMetadataRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *assetMetadataRepo) GetByAssetField(dbc dbctx.Context, assetID, fieldID uuid.UUID) (*types.AssetMetadata, error) {
	if assetID == uuid.Nil || fieldID == uuid.Nil {
		return nil, nil
	}
	var out []*types.AssetMetadata
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ? AND field_id = ?", assetID, fieldID).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *assetMetadataRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.AssetMetadata, error) {
	var out []*types.AssetMetadata
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ?", assetID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetMetadataRepo) Upsert(dbc dbctx.Context, row *types.AssetMetadata) (*types.AssetMetadata, bool, error) {
	if row == nil || row.AssetID == uuid.Nil || row.FieldID == uuid.Nil {
		return nil, false, nil
	}
	existing, err := r.GetByAssetField(dbc, row.AssetID, row.FieldID)
	if err != nil {
		return nil, false, err
	}
	now := time.Now()
	if existing == nil {
		row.CreatedAt = now
		row.UpdatedAt = now
		if err := r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
			return nil, false, err
		}
		return row, true, nil
	}
	if existing.Value == row.Value && existing.Source == row.Source {
		return existing, false, nil
	}
	updates := map[string]interface{}{
		"value":      row.Value,
		"source":     row.Source,
		"confidence": row.Confidence,
		"updated_at": now,
	}
	// A changed value invalidates any prior approval.
	updates["approved_at"] = row.ApprovedAt
	updates["approved_by"] = row.ApprovedBy
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.AssetMetadata{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return nil, false, err
	}
	existing.Value = row.Value
	existing.Source = row.Source
	existing.Confidence = row.Confidence
	existing.ApprovedAt = row.ApprovedAt
	existing.ApprovedBy = row.ApprovedBy
	existing.UpdatedAt = now
	return existing, true, nil
}

func (r *assetMetadataRepo) Approve(dbc dbctx.Context, assetID, fieldID, approverID uuid.UUID, at time.Time) error {
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.AssetMetadata{}).
		Where("asset_id = ? AND field_id = ? AND approved_at IS NULL", assetID, fieldID).
		Updates(map[string]interface{}{
			"approved_at": at,
			"approved_by": approverID,
			"updated_at":  at,
		}).Error
}
