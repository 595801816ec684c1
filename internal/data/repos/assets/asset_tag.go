package assets

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type AssetTagRepo interface {
	// EnsureTag inserts the (asset, tag) pair if absent. The tag set is
	// idempotent: re-adding an existing tag is a no-op.
	EnsureTag(dbc dbctx.Context, row *types.AssetTag) error
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.AssetTag, error)
	Remove(dbc dbctx.Context, assetID uuid.UUID, tag string) error
}

type assetTagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetTagRepo(db *gorm.DB, baseLog *logger.Logger) AssetTagRepo {
	return &assetTagRepo{db: db, log: baseLog.With("repo", "AssetTagRepo")}
}

func (r *assetTagRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *assetTagRepo) EnsureTag(dbc dbctx.Context, row *types.AssetTag) error {
	if row == nil || row.AssetID == uuid.Nil || row.Tag == "" {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "asset_id"}, {Name: "tag"}},
			DoNothing: true,
		}).
		Create(row).Error
}

func (r *assetTagRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.AssetTag, error) {
	var out []*types.AssetTag
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ?", assetID).
		Order("tag ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetTagRepo) Remove(dbc dbctx.Context, assetID uuid.UUID, tag string) error {
	if assetID == uuid.Nil || tag == "" {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ? AND tag = ?", assetID, tag).
		Delete(&types.AssetTag{}).Error
}
