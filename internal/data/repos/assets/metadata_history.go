package assets

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// MetadataHistoryRepo is append-only: no update or delete methods exist.
type MetadataHistoryRepo interface {
	Append(dbc dbctx.Context, rows []*types.MetadataHistory) error
	ListByAssetField(dbc dbctx.Context, assetID, fieldID uuid.UUID) ([]*types.MetadataHistory, error)
}

type metadataHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMetadataHistoryRepo(db *gorm.DB, baseLog *logger.Logger) MetadataHistoryRepo {
	return &metadataHistoryRepo{db: db, log: baseLog.With("repo", "MetadataHistoryRepo")}
}

func (r *metadataHistoryRepo) Append(dbc dbctx.Context, rows []*types.MetadataHistory) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).Create(&rows).Error
}

func (r *metadataHistoryRepo) ListByAssetField(dbc dbctx.Context, assetID, fieldID uuid.UUID) ([]*types.MetadataHistory, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.MetadataHistory
	if assetID == uuid.Nil || fieldID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("asset_id = ? AND field_id = ?", assetID, fieldID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
