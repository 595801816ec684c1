package activity

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// ActivityLogRepo is append-only by design.
type ActivityLogRepo interface {
	Append(dbc dbctx.Context, row *types.ActivityLog) error
	ListBySubject(dbc dbctx.Context, kind types.SubjectKind, subjectID uuid.UUID) ([]*types.ActivityLog, error)
}

type activityLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActivityLogRepo(db *gorm.DB, baseLog *logger.Logger) ActivityLogRepo {
	return &activityLogRepo{db: db, log: baseLog.With("repo", "ActivityLogRepo")}
}

func (r *activityLogRepo) Append(dbc dbctx.Context, row *types.ActivityLog) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.SubjectID == uuid.Nil {
		return nil
	}
	return t.WithContext(dbc.Ctx).Create(row).Error
}

func (r *activityLogRepo) ListBySubject(dbc dbctx.Context, kind types.SubjectKind, subjectID uuid.UUID) ([]*types.ActivityLog, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.ActivityLog
	if subjectID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("subject_kind = ? AND subject_id = ?", kind, subjectID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
