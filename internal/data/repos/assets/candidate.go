package assets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type CandidateRepo interface {
	CreateMetadata(dbc dbctx.Context, rows []*types.MetadataCandidate) ([]*types.MetadataCandidate, error)
	CreateTags(dbc dbctx.Context, rows []*types.TagCandidate) ([]*types.TagCandidate, error)

	// Unresolved candidates only: resolved_at and dismissed_at both null.
	ListOpenMetadataByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.MetadataCandidate, error)
	ListOpenTagsByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.TagCandidate, error)

	GetMetadataByID(dbc dbctx.Context, id uuid.UUID) (*types.MetadataCandidate, error)
	GetTagByID(dbc dbctx.Context, id uuid.UUID) (*types.TagCandidate, error)

	// MarkMetadataResolved stamps resolved_at only when the candidate is
	// still open; an already-resolved or dismissed row is left untouched.
	MarkMetadataResolved(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkTagResolved(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)

	MarkMetadataDismissed(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkTagDismissed(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)

	// ExistsBySourceValue guards against re-inserting identical candidates
	// on stage retry.
	ExistsMetadata(dbc dbctx.Context, assetID, fieldID uuid.UUID, source, value string) (bool, error)
	ExistsTag(dbc dbctx.Context, assetID uuid.UUID, tag, source string) (bool, error)
}

type candidateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCandidateRepo(db *gorm.DB, baseLog *logger.Logger) CandidateRepo {
	return &candidateRepo{db: db, log: baseLog.With("repo", "CandidateRepo")}
}

func (r *candidateRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *candidateRepo) CreateMetadata(dbc dbctx.Context, rows []*types.MetadataCandidate) ([]*types.MetadataCandidate, error) {
	if len(rows) == 0 {
		return []*types.MetadataCandidate{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *candidateRepo) CreateTags(dbc dbctx.Context, rows []*types.TagCandidate) ([]*types.TagCandidate, error) {
	if len(rows) == 0 {
		return []*types.TagCandidate{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *candidateRepo) ListOpenMetadataByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.MetadataCandidate, error) {
	var out []*types.MetadataCandidate
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ? AND resolved_at IS NULL AND dismissed_at IS NULL", assetID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *candidateRepo) ListOpenTagsByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.TagCandidate, error) {
	var out []*types.TagCandidate
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("asset_id = ? AND resolved_at IS NULL AND dismissed_at IS NULL", assetID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *candidateRepo) GetMetadataByID(dbc dbctx.Context, id uuid.UUID) (*types.MetadataCandidate, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.MetadataCandidate
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *candidateRepo) GetTagByID(dbc dbctx.Context, id uuid.UUID) (*types.TagCandidate, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.TagCandidate
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *candidateRepo) MarkMetadataResolved(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.MetadataCandidate{}).
		Where("id = ? AND resolved_at IS NULL AND dismissed_at IS NULL", id).
		Updates(map[string]interface{}{"resolved_at": at, "updated_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *candidateRepo) MarkTagResolved(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.TagCandidate{}).
		Where("id = ? AND resolved_at IS NULL AND dismissed_at IS NULL", id).
		Updates(map[string]interface{}{"resolved_at": at, "updated_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *candidateRepo) MarkMetadataDismissed(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.MetadataCandidate{}).
		Where("id = ? AND resolved_at IS NULL AND dismissed_at IS NULL", id).
		Updates(map[string]interface{}{"dismissed_at": at, "updated_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *candidateRepo) MarkTagDismissed(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.TagCandidate{}).
		Where("id = ? AND resolved_at IS NULL AND dismissed_at IS NULL", id).
		Updates(map[string]interface{}{"dismissed_at": at, "updated_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *candidateRepo) ExistsMetadata(dbc dbctx.Context, assetID, fieldID uuid.UUID, source, value string) (bool, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.MetadataCandidate{}).
		Where("asset_id = ? AND field_id = ? AND source = ? AND value = ?", assetID, fieldID, source, value).
		Count(&n).Error
	return n > 0, err
}

func (r *candidateRepo) ExistsTag(dbc dbctx.Context, assetID uuid.UUID, tag, source string) (bool, error) {
	var n int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.TagCandidate{}).
		Where("asset_id = ? AND tag = ? AND source = ?", assetID, tag, source).
		Count(&n).Error
	return n > 0, err
}
