package incidents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	increpo "github.com/brandvault/dam-backend/internal/data/repos/incidents"
	jobsrepo "github.com/brandvault/dam-backend/internal/data/repos/jobs"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/config"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
	"github.com/brandvault/dam-backend/internal/services"
)

// Categories eligible for automatic support-ticket escalation.
const (
	CategoryThumbnail  = "thumbnail"
	CategoryMetadata   = "metadata"
	CategoryExtraction = "extraction"
)

var escalatable = map[string]bool{
	CategoryThumbnail:  true,
	CategoryMetadata:   true,
	CategoryExtraction: true,
}

type ReportInput struct {
	TenantID   uuid.UUID
	SourceType string
	SourceID   uuid.UUID
	Category   string
	Severity   string
	Retryable  bool
	Message    string
	Details    map[string]any
}

// Ledger is the failure bookkeeping for the pipeline. Report never returns
// an error to its caller: a failing failure-recorder must not take the
// original operation down with it.
type Ledger interface {
	Report(dbc dbctx.Context, in ReportInput) *types.Incident
	Resolve(dbc dbctx.Context, incidentID uuid.UUID) error
	ListOpen(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Incident, error)

	// RetryAsset re-enqueues the failed pipeline job for the asset's newest
	// version (succeeded stage checkpoints are kept, so the run resumes at
	// the failed stage) and resolves the matching open incidents.
	RetryAsset(dbc dbctx.Context, tenantID, assetID uuid.UUID) (*types.JobRun, error)
}

type ledger struct {
	db        *gorm.DB
	log       *logger.Logger
	cfg       config.IncidentsConfig
	incidents increpo.IncidentRepo
	tickets   increpo.SupportTicketRepo
	versions  assetsrepo.AssetVersionRepo
	jobRuns   jobsrepo.JobRunRepo
	jobs      services.JobService
	activity  activity.Writer
}

func NewLedger(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.IncidentsConfig,
	incidents increpo.IncidentRepo,
	tickets increpo.SupportTicketRepo,
	versions assetsrepo.AssetVersionRepo,
	jobRuns jobsrepo.JobRunRepo,
	jobs services.JobService,
	act activity.Writer,
) Ledger {
	return &ledger{
		db:        db,
		log:       baseLog.With("service", "IncidentLedger"),
		cfg:       cfg,
		incidents: incidents,
		tickets:   tickets,
		versions:  versions,
		jobRuns:   jobRuns,
		jobs:      jobs,
		activity:  act,
	}
}

func (l *ledger) Report(dbc dbctx.Context, in ReportInput) *types.Incident {
	if in.TenantID == uuid.Nil || in.SourceID == uuid.Nil || in.SourceType == "" || in.Category == "" {
		l.log.Warn("incident report dropped: incomplete key",
			"source_type", in.SourceType, "category", in.Category)
		return nil
	}
	severity := in.Severity
	if severity == "" {
		severity = types.SeverityError
	}
	var details datatypes.JSON
	if in.Details != nil {
		if b, err := json.Marshal(in.Details); err == nil {
			details = datatypes.JSON(b)
		}
	}
	now := time.Now()
	row := &types.Incident{
		ID:             uuid.New(),
		TenantID:       in.TenantID,
		SourceType:     in.SourceType,
		SourceID:       in.SourceID,
		Category:       in.Category,
		Severity:       severity,
		Retryable:      in.Retryable,
		Message:        in.Message,
		FailureCount:   1,
		FirstFailureAt: now,
		LastFailureAt:  now,
		Details:        details,
	}
	incident, err := l.incidents.OpenOrIncrement(dbc, row, l.cfg.OpenWindow)
	if err != nil {
		l.log.Warn("incident upsert failed",
			"source_type", in.SourceType, "source_id", in.SourceID, "category", in.Category, "error", err)
		return nil
	}

	l.activity.Record(dbc, activity.Entry{
		TenantID:    in.TenantID,
		SubjectKind: types.SubjectIncident,
		SubjectID:   incident.ID,
		ActorKind:   types.ActorSystem,
		Event:       "incident_reported",
		Data:        map[string]any{"category": in.Category, "failure_count": incident.FailureCount},
	})

	l.maybeEscalate(dbc, incident)
	return incident
}

// maybeEscalate creates at most one support ticket per incident lineage once
// the failure count crosses the threshold. The StampEscalation guard makes
// ticket creation race-safe; a lost race deletes nothing because the loser
// simply never stamps.
func (l *ledger) maybeEscalate(dbc dbctx.Context, incident *types.Incident) {
	if incident == nil || !escalatable[incident.Category] {
		return
	}
	if incident.FailureCount < l.cfg.EscalationThreshold {
		return
	}

	if incident.EscalationTicketID != nil {
		// Already escalated: keep the ticket's failure count fresh.
		if err := l.tickets.UpdateFields(dbc, *incident.EscalationTicketID, map[string]interface{}{
			"last_failure_count": incident.FailureCount,
			"updated_at":         time.Now(),
		}); err != nil {
			l.log.Warn("ticket update failed", "incident_id", incident.ID, "error", err)
		}
		return
	}

	ticket := &types.SupportTicket{
		ID:               uuid.New(),
		TenantID:         incident.TenantID,
		IncidentID:       incident.ID,
		Subject:          fmt.Sprintf("Repeated %s failures for %s %s", incident.Category, incident.SourceType, incident.SourceID),
		Status:           types.TicketOpen,
		LastFailureCount: incident.FailureCount,
	}
	if _, err := l.tickets.Create(dbc, ticket); err != nil {
		l.log.Warn("ticket create failed", "incident_id", incident.ID, "error", err)
		return
	}
	stamped, err := l.incidents.StampEscalation(dbc, incident.ID, ticket.ID)
	if err != nil {
		l.log.Warn("escalation stamp failed", "incident_id", incident.ID, "error", err)
		return
	}
	if !stamped {
		// Another reporter escalated first; retire our duplicate ticket.
		_ = l.tickets.UpdateFields(dbc, ticket.ID, map[string]interface{}{
			"status":     types.TicketClosed,
			"updated_at": time.Now(),
		})
		return
	}
	incident.EscalationTicketID = &ticket.ID

	l.activity.Record(dbc, activity.Entry{
		TenantID:    incident.TenantID,
		SubjectKind: types.SubjectTicket,
		SubjectID:   ticket.ID,
		ActorKind:   types.ActorSystem,
		Event:       "incident_escalated",
		Data:        map[string]any{"incident_id": incident.ID, "failure_count": incident.FailureCount},
	})
}

func (l *ledger) Resolve(dbc dbctx.Context, incidentID uuid.UUID) error {
	if incidentID == uuid.Nil {
		return fmt.Errorf("%w: missing incident id", apperr.ErrInvalidArgument)
	}
	return l.incidents.Resolve(dbc, incidentID, time.Now())
}

func (l *ledger) ListOpen(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.Incident, error) {
	return l.incidents.ListOpenByTenant(dbc, tenantID)
}

func (l *ledger) RetryAsset(dbc dbctx.Context, tenantID, assetID uuid.UUID) (*types.JobRun, error) {
	if tenantID == uuid.Nil || assetID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing id", apperr.ErrInvalidArgument)
	}
	versions, err := l.versions.ListByAsset(dbc, assetID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: no versions for asset %s", apperr.ErrNotFound, assetID)
	}
	// Newest version is the one the pipeline was processing.
	target := versions[len(versions)-1]

	var job *types.JobRun
	existing, err := l.jobRuns.GetLatestByEntity(dbc, tenantID, services.JobTypeAssetProcess, "asset_version", target.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case existing != nil && (existing.Status == types.JobFailed || existing.Status == types.JobCanceled):
		job, err = l.jobs.Restart(dbc, existing.ID)
	case existing != nil && existing.Status == types.JobSucceeded:
		return nil, fmt.Errorf("%w: pipeline already succeeded for asset %s", apperr.ErrInvalidTransition, assetID)
	case existing != nil:
		// queued/running: nothing to do, the queue will get to it.
		job = existing
	default:
		job, _, err = l.jobs.EnqueueAssetProcessIfNeeded(dbc, tenantID, assetID, target.ID)
	}
	if err != nil {
		return nil, err
	}

	if err := l.versions.UpdateFields(dbc, target.ID, map[string]interface{}{
		"pipeline_status": types.PipelineProcessing,
		"updated_at":      time.Now(),
	}); err != nil {
		return nil, err
	}

	// Close out the open incidents this retry addresses.
	for _, category := range []string{CategoryThumbnail, CategoryMetadata, CategoryExtraction} {
		inc, err := l.incidents.GetOpen(dbc, types.IncidentSourceAsset, assetID, category)
		if err != nil || inc == nil {
			continue
		}
		if err := l.incidents.Resolve(dbc, inc.ID, time.Now()); err != nil {
			l.log.Warn("resolve incident on retry failed", "incident_id", inc.ID, "error", err)
		}
	}

	l.activity.Record(dbc, activity.Entry{
		TenantID:    tenantID,
		SubjectKind: types.SubjectAsset,
		SubjectID:   assetID,
		ActorKind:   types.ActorUser,
		Event:       "pipeline_retry",
		Data:        map[string]any{"version_id": target.ID},
	})
	return job, nil
}
