package assets

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type MetadataFieldRepo interface {
	Create(dbc dbctx.Context, rows []*types.MetadataField) ([]*types.MetadataField, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MetadataField, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.MetadataField, error)
	GetByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.MetadataField, error)

	// IsPrimaryFor resolves the display-primary flag for a field in the
	// context of a category: a category-scoped visibility row wins over
	// the global flag when present.
	IsPrimaryFor(dbc dbctx.Context, fieldID uuid.UUID, categoryID *uuid.UUID) (bool, error)

	UpsertVisibility(dbc dbctx.Context, row *types.MetadataFieldVisibility) error
}

type metadataFieldRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMetadataFieldRepo(db *gorm.DB, baseLog *logger.Logger) MetadataFieldRepo {
	return &metadataFieldRepo{db: db, log: baseLog.With("repo", "MetadataFieldRepo")}
}

func (r *metadataFieldRepo) Create(dbc dbctx.Context, rows []*types.MetadataField) ([]*types.MetadataField, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return []*types.MetadataField{}, nil
	}
	if err := t.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *metadataFieldRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MetadataField, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	rows, err := r.GetByIDs(dbc, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *metadataFieldRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.MetadataField, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.MetadataField
	if len(ids) == 0 {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *metadataFieldRepo) GetByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.MetadataField, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.MetadataField
	if tenantID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *metadataFieldRepo) IsPrimaryFor(dbc dbctx.Context, fieldID uuid.UUID, categoryID *uuid.UUID) (bool, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if fieldID == uuid.Nil {
		return false, nil
	}
	if categoryID != nil && *categoryID != uuid.Nil {
		var vis []*types.MetadataFieldVisibility
		if err := t.WithContext(dbc.Ctx).
			Where("field_id = ? AND category_id = ?", fieldID, *categoryID).
			Limit(1).
			Find(&vis).Error; err != nil {
			return false, err
		}
		if len(vis) > 0 {
			return vis[0].IsPrimary, nil
		}
	}
	field, err := r.GetByID(dbc, fieldID)
	if err != nil || field == nil {
		return false, err
	}
	return field.IsPrimary, nil
}

func (r *metadataFieldRepo) UpsertVisibility(dbc dbctx.Context, row *types.MetadataFieldVisibility) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.FieldID == uuid.Nil || row.CategoryID == uuid.Nil {
		return nil
	}
	var existing []*types.MetadataFieldVisibility
	if err := t.WithContext(dbc.Ctx).
		Where("field_id = ? AND category_id = ?", row.FieldID, row.CategoryID).
		Limit(1).
		Find(&existing).Error; err != nil {
		return err
	}
	if len(existing) > 0 {
		return t.WithContext(dbc.Ctx).
			Model(&types.MetadataFieldVisibility{}).
			Where("id = ?", existing[0].ID).
			Update("is_primary", row.IsPrimary).Error
	}
	return t.WithContext(dbc.Ctx).Create(row).Error
}
