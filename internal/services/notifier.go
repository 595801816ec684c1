package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobsrepo "github.com/brandvault/dam-backend/internal/data/repos/jobs"
	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
	"github.com/brandvault/dam-backend/internal/realtime"
	"github.com/brandvault/dam-backend/internal/realtime/bus"
)

// JobNotifier is the side channel for job lifecycle events. Implementations
// must be fire-and-forget; a notification failure never reaches the caller.
type JobNotifier interface {
	JobCreated(tenantID uuid.UUID, job *types.JobRun)
	JobProgress(tenantID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobFailed(tenantID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(tenantID uuid.UUID, job *types.JobRun)
}

type jobNotifier struct {
	log    *logger.Logger
	bus    bus.Bus
	events jobsrepo.JobRunEventRepo
}

// NewJobNotifier publishes to the realtime bus and appends to the job_run_event
// timeline. Either collaborator may be nil.
func NewJobNotifier(baseLog *logger.Logger, b bus.Bus, events jobsrepo.JobRunEventRepo) JobNotifier {
	return &jobNotifier{
		log:    baseLog.With("component", "JobNotifier"),
		bus:    b,
		events: events,
	}
}

func (n *jobNotifier) JobCreated(tenantID uuid.UUID, job *types.JobRun) {
	n.emit(tenantID, job, types.JobEventCreated, realtime.EventJobCreated, safeStage(job), safeProgress(job), "")
}

func (n *jobNotifier) JobProgress(tenantID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.emit(tenantID, job, types.JobEventProgress, realtime.EventJobProgress, stage, progress, message)
}

func (n *jobNotifier) JobFailed(tenantID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.emit(tenantID, job, types.JobEventFailed, realtime.EventJobFailed, stage, safeProgress(job), errorMessage)
}

func (n *jobNotifier) JobDone(tenantID uuid.UUID, job *types.JobRun) {
	n.emit(tenantID, job, types.JobEventSucceeded, realtime.EventJobDone, safeStage(job), 100, "")
}

func (n *jobNotifier) emit(tenantID uuid.UUID, job *types.JobRun, kind types.JobEventKind, event, stage string, progress int, message string) {
	if n == nil || tenantID == uuid.Nil || job == nil {
		return
	}
	if n.events != nil {
		row := &types.JobRunEvent{
			ID:       uuid.New(),
			JobID:    job.ID,
			TenantID: tenantID,
			JobType:  job.JobType,
			Kind:     kind,
			Stage:    stage,
			Progress: progress,
			Message:  message,
		}
		if b, err := json.Marshal(map[string]any{"status": job.Status}); err == nil {
			row.Data = datatypes.JSON(b)
		}
		if err := n.events.Append(dbctx.Context{Ctx: context.Background()}, row); err != nil {
			n.log.Warn("job event append failed", "job_id", job.ID, "kind", kind, "error", err)
		}
	}
	if n.bus != nil {
		msg := realtime.Message{
			Channel: tenantID.String(),
			Event:   event,
			Data: map[string]any{
				"job_id":   job.ID,
				"job_type": job.JobType,
				"stage":    stage,
				"progress": progress,
				"message":  message,
			},
		}
		if err := n.bus.Publish(context.Background(), msg); err != nil {
			n.log.Warn("bus publish failed", "job_id", job.ID, "event", event, "error", err)
		}
	}
}

func safeStage(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.Stage
}

func safeProgress(job *types.JobRun) int {
	if job == nil {
		return 0
	}
	return job.Progress
}

// NopNotifier discards all events; used in tests.
func NopNotifier() JobNotifier { return nopNotifier{} }

type nopNotifier struct{}

func (nopNotifier) JobCreated(uuid.UUID, *types.JobRun)                       {}
func (nopNotifier) JobProgress(uuid.UUID, *types.JobRun, string, int, string) {}
func (nopNotifier) JobFailed(uuid.UUID, *types.JobRun, string, string)        {}
func (nopNotifier) JobDone(uuid.UUID, *types.JobRun)                          {}
