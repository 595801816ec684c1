package assets

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	damerr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type AssetVersionRepo interface {
	// CreateNext inserts the next version for an asset (version_number =
	// max+1) and, when markCurrent is set, atomically swaps the current
	// pointer in the same transaction.
	CreateNext(dbc dbctx.Context, row *types.AssetVersion, markCurrent bool) (*types.AssetVersion, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AssetVersion, error)
	GetCurrent(dbc dbctx.Context, assetID uuid.UUID) (*types.AssetVersion, error)
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.AssetVersion, error)

	// PromoteCurrent flips is_current to the given version in one atomic
	// update pair: old current -> false, new -> true.
	PromoteCurrent(dbc dbctx.Context, assetID, versionID uuid.UUID) error

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type assetVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetVersionRepo(db *gorm.DB, baseLog *logger.Logger) AssetVersionRepo {
	return &assetVersionRepo{db: db, log: baseLog.With("repo", "AssetVersionRepo")}
}

func (r *assetVersionRepo) CreateNext(dbc dbctx.Context, row *types.AssetVersion, markCurrent bool) (*types.AssetVersion, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.AssetID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing asset_id", damerr.ErrInvalidArgument)
	}
	err := t.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var maxNum int
		if err := txx.Model(&types.AssetVersion{}).
			Where("asset_id = ?", row.AssetID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxNum).Error; err != nil {
			return err
		}
		row.VersionNumber = maxNum + 1
		row.IsCurrent = false
		if err := txx.Create(row).Error; err != nil {
			return err
		}
		if markCurrent {
			return promoteCurrentTx(txx, row.AssetID, row.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *assetVersionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AssetVersion, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.AssetVersion
	if err := t.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *assetVersionRepo) GetCurrent(dbc dbctx.Context, assetID uuid.UUID) (*types.AssetVersion, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if assetID == uuid.Nil {
		return nil, nil
	}
	var out []*types.AssetVersion
	if err := t.WithContext(dbc.Ctx).
		Where("asset_id = ? AND is_current = ?", assetID, true).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *assetVersionRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.AssetVersion, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.AssetVersion
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("asset_id = ?", assetID).
		Order("version_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetVersionRepo) PromoteCurrent(dbc dbctx.Context, assetID, versionID uuid.UUID) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if assetID == uuid.Nil || versionID == uuid.Nil {
		return fmt.Errorf("%w: missing ids", damerr.ErrInvalidArgument)
	}
	return t.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		return promoteCurrentTx(txx, assetID, versionID)
	})
}

func promoteCurrentTx(txx *gorm.DB, assetID, versionID uuid.UUID) error {
	now := time.Now()
	if err := txx.Model(&types.AssetVersion{}).
		Where("asset_id = ? AND is_current = ?", assetID, true).
		Updates(map[string]interface{}{"is_current": false, "updated_at": now}).Error; err != nil {
		return err
	}
	res := txx.Model(&types.AssetVersion{}).
		Where("id = ? AND asset_id = ?", versionID, assetID).
		Updates(map[string]interface{}{"is_current": true, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: version %s not found for asset %s", damerr.ErrVersionConflict, versionID, assetID)
	}
	return nil
}

func (r *assetVersionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.AssetVersion{}).
		Where("id = ?", id).
		Updates(updates).Error
}
