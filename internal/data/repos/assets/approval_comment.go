package assets

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// ApprovalCommentRepo is append-only; rows are the immutable approval audit.
type ApprovalCommentRepo interface {
	Append(dbc dbctx.Context, row *types.ApprovalComment) error
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.ApprovalComment, error)
}

type approvalCommentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewApprovalCommentRepo(db *gorm.DB, baseLog *logger.Logger) ApprovalCommentRepo {
	return &approvalCommentRepo{db: db, log: baseLog.With("repo", "ApprovalCommentRepo")}
}

func (r *approvalCommentRepo) Append(dbc dbctx.Context, row *types.ApprovalComment) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.AssetID == uuid.Nil {
		return nil
	}
	return t.WithContext(dbc.Ctx).Create(row).Error
}

func (r *approvalCommentRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*types.ApprovalComment, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.ApprovalComment
	if assetID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("asset_id = ?", assetID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
