package incidents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type SupportTicketRepo interface {
	Create(dbc dbctx.Context, row *types.SupportTicket) (*types.SupportTicket, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SupportTicket, error)
	GetByIncident(dbc dbctx.Context, incidentID uuid.UUID) (*types.SupportTicket, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type supportTicketRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSupportTicketRepo(db *gorm.DB, baseLog *logger.Logger) SupportTicketRepo {
	return &supportTicketRepo{db: db, log: baseLog.With("repo", "SupportTicketRepo")}
}

func (r *supportTicketRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *supportTicketRepo) Create(dbc dbctx.Context, row *types.SupportTicket) (*types.SupportTicket, error) {
	if row == nil {
		return nil, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *supportTicketRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SupportTicket, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.SupportTicket
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *supportTicketRepo) GetByIncident(dbc dbctx.Context, incidentID uuid.UUID) (*types.SupportTicket, error) {
	if incidentID == uuid.Nil {
		return nil, nil
	}
	var out []*types.SupportTicket
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("incident_id = ?", incidentID).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *supportTicketRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.SupportTicket{}).
		Where("id = ?", id).
		Updates(updates).Error
}
