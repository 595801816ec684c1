package incidents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

type IncidentRepo interface {
	// OpenOrIncrement returns the open incident for the dedup key,
	// incrementing its failure counter, or creates a fresh row when none is
	// open (or the last open row aged out of the window).
	OpenOrIncrement(dbc dbctx.Context, in *types.Incident, window time.Duration) (*types.Incident, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Incident, error)
	GetOpen(dbc dbctx.Context, sourceType string, sourceID uuid.UUID, category string) (*types.Incident, error)
	ListOpenByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Incident, error)

	StampEscalation(dbc dbctx.Context, incidentID, ticketID uuid.UUID) (bool, error)
	Resolve(dbc dbctx.Context, incidentID uuid.UUID, at time.Time) error
}

type incidentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIncidentRepo(db *gorm.DB, baseLog *logger.Logger) IncidentRepo {
	return &incidentRepo{db: db, log: baseLog.With("repo", "IncidentRepo")}
}

func (r *incidentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *incidentRepo) OpenOrIncrement(dbc dbctx.Context, in *types.Incident, window time.Duration) (*types.Incident, error) {
	if in == nil || in.SourceID == uuid.Nil || in.SourceType == "" {
		return nil, nil
	}
	t := r.handle(dbc)
	now := time.Now()
	var out *types.Incident
	err := t.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		// The open row must be matched regardless of age: ux_incident_open
		// allows only one unresolved row per key, so an aged-out lineage
		// has to be retired before a fresh one can be inserted.
		var existing []*types.Incident
		if err := txx.Where(
			"source_type = ? AND source_id = ? AND category = ? AND resolved_at IS NULL",
			in.SourceType, in.SourceID, in.Category,
		).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			row := existing[0]
			if window <= 0 || row.LastFailureAt.After(now.Add(-window)) {
				updates := map[string]interface{}{
					"failure_count":   gorm.Expr("failure_count + 1"),
					"last_failure_at": now,
					"message":         in.Message,
					"retryable":       in.Retryable,
					"updated_at":      now,
				}
				if len(in.Details) > 0 {
					updates["details"] = in.Details
				}
				if err := txx.Model(&types.Incident{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
					return err
				}
				row.FailureCount++
				row.LastFailureAt = now
				row.Message = in.Message
				row.Retryable = in.Retryable
				if len(in.Details) > 0 {
					row.Details = in.Details
				}
				out = row
				return nil
			}
			// Outside the window: close the stale lineage so the new one
			// starts its failure count from scratch.
			if err := txx.Model(&types.Incident{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
				"resolved_at": now,
				"updated_at":  now,
			}).Error; err != nil {
				return err
			}
		}
		in.ID = uuid.New()
		in.FailureCount = 1
		in.FirstFailureAt = now
		in.LastFailureAt = now
		if len(in.Details) == 0 {
			in.Details = datatypes.JSON([]byte(`{}`))
		}
		if err := txx.Create(in).Error; err != nil {
			return err
		}
		out = in
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *incidentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Incident, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.Incident
	if err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *incidentRepo) GetOpen(dbc dbctx.Context, sourceType string, sourceID uuid.UUID, category string) (*types.Incident, error) {
	if sourceID == uuid.Nil {
		return nil, nil
	}
	var out []*types.Incident
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("source_type = ? AND source_id = ? AND category = ? AND resolved_at IS NULL", sourceType, sourceID, category).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *incidentRepo) ListOpenByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Incident, error) {
	var out []*types.Incident
	if tenantID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("tenant_id = ? AND resolved_at IS NULL", tenantID).
		Order("last_failure_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *incidentRepo) StampEscalation(dbc dbctx.Context, incidentID, ticketID uuid.UUID) (bool, error) {
	if incidentID == uuid.Nil || ticketID == uuid.Nil {
		return false, nil
	}
	// Guarded write keeps escalation at most once per lineage.
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Incident{}).
		Where("id = ? AND escalation_ticket_id IS NULL", incidentID).
		Updates(map[string]interface{}{
			"escalation_ticket_id": ticketID,
			"updated_at":           time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *incidentRepo) Resolve(dbc dbctx.Context, incidentID uuid.UUID, at time.Time) error {
	if incidentID == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Incident{}).
		Where("id = ? AND resolved_at IS NULL", incidentID).
		Updates(map[string]interface{}{"resolved_at": at, "updated_at": at}).Error
}
