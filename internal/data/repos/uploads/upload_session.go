package uploads

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type UploadSessionRepo interface {
	Create(dbc dbctx.Context, row *types.UploadSession) (*types.UploadSession, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.UploadSession, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	// AttachAsset is a compare-and-set: it fills asset_id and flips the
	// session to completed only while asset_id is still null. Together with
	// the unique index on asset_id this is the create-once idempotency
	// boundary for upload completion.
	AttachAsset(dbc dbctx.Context, sessionID, assetID uuid.UUID) (bool, error)

	// ListExpired returns non-terminal sessions whose expires_at has passed.
	ListExpired(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.UploadSession, error)
}

type uploadSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadSessionRepo(db *gorm.DB, baseLog *logger.Logger) UploadSessionRepo {
	return &uploadSessionRepo{db: db, log: baseLog.With("repo", "UploadSessionRepo")}
}

func (r *uploadSessionRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *uploadSessionRepo) Create(dbc dbctx.Context, row *types.UploadSession) (*types.UploadSession, error) {
	if row == nil {
		return nil, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *uploadSessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.UploadSession, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.UploadSession
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *uploadSessionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.UploadSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *uploadSessionRepo) AttachAsset(dbc dbctx.Context, sessionID, assetID uuid.UUID) (bool, error) {
	if sessionID == uuid.Nil || assetID == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.UploadSession{}).
		Where("id = ? AND asset_id IS NULL", sessionID).
		Updates(map[string]interface{}{
			"asset_id":         assetID,
			"status":           types.SessionCompleted,
			"last_activity_at": now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *uploadSessionRepo) ListExpired(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.UploadSession, error) {
	var out []*types.UploadSession
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("status IN ?", []string{types.SessionPending, types.SessionUploading}).
		Where("expires_at < ?", cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
