package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// JobRunEventRepo is the append-only job timeline.
type JobRunEventRepo interface {
	Append(dbc dbctx.Context, row *types.JobRunEvent) error
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobRunEvent, error)
}

type jobRunEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunEventRepo(db *gorm.DB, baseLog *logger.Logger) JobRunEventRepo {
	return &jobRunEventRepo{db: db, log: baseLog.With("repo", "JobRunEventRepo")}
}

func (r *jobRunEventRepo) Append(dbc dbctx.Context, row *types.JobRunEvent) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.JobID == uuid.Nil {
		return nil
	}
	return t.WithContext(dbc.Ctx).Create(row).Error
}

func (r *jobRunEventRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobRunEvent, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var out []*types.JobRunEvent
	if jobID == uuid.Nil {
		return out, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
