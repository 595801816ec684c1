package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/brandvault/dam-backend/internal/data/repos/jobs"
	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// JobTypeAssetProcess is the root pipeline job for one asset version.
const JobTypeAssetProcess = "asset_process"

type JobService interface {
	Enqueue(dbc dbctx.Context, tenantID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error)

	// EnqueueAssetProcessIfNeeded enqueues an asset_process job for the
	// version unless a runnable one already targets it. Returns
	// (job, created, err).
	EnqueueAssetProcessIfNeeded(dbc dbctx.Context, tenantID uuid.UUID, assetID uuid.UUID, versionID uuid.UUID) (*types.JobRun, bool, error)

	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)

	// Restart requeues a failed or canceled job. Stage checkpoints that
	// already succeeded are kept so the rerun skips completed work.
	Restart(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   jobsrepo.JobRunRepo
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo jobsrepo.JobRunRepo, notify JobNotifier) JobService {
	return &jobService{
		db:     db,
		log:    baseLog.With("service", "JobService"),
		repo:   repo,
		notify: notify,
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, tenantID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	b, _ := json.Marshal(payload)
	now := time.Now()
	job := &types.JobRun{
		ID:         uuid.New(),
		TenantID:   tenantID,
		JobType:    jobType,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     types.JobQueued,
		Stage:      "queued",
		Progress:   0,
		Attempts:   0,
		Message:    "Queued",
		Payload:    datatypes.JSON(b),
		Result:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.repo.Create(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.notify != nil {
		s.notify.JobCreated(tenantID, job)
	}
	return job, nil
}

func (s *jobService) EnqueueAssetProcessIfNeeded(dbc dbctx.Context, tenantID uuid.UUID, assetID uuid.UUID, versionID uuid.UUID) (*types.JobRun, bool, error) {
	if tenantID == uuid.Nil {
		return nil, false, fmt.Errorf("missing tenant_id")
	}
	if assetID == uuid.Nil || versionID == uuid.Nil {
		return nil, false, fmt.Errorf("missing asset/version id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}
	entityID := versionID
	exists, err := s.repo.ExistsRunnable(repoCtx, tenantID, JobTypeAssetProcess, "asset_version", &entityID)
	if err != nil {
		return nil, false, err
	}
	if exists {
		return nil, false, nil
	}
	payload := map[string]any{
		"asset_id":         assetID.String(),
		"asset_version_id": versionID.String(),
	}
	job, err := s.Enqueue(repoCtx, tenantID, JobTypeAssetProcess, "asset_version", &entityID, payload)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *jobService) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	job, err := s.repo.GetByID(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job not found")
	}
	return job, nil
}

func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}

	var updated *types.JobRun
	shouldNotify := false

	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		job, err := s.repo.GetByID(inner, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job not found")
		}

		status := strings.ToLower(strings.TrimSpace(job.Status))
		if status == types.JobSucceeded || status == types.JobFailed || status == types.JobCanceled {
			updated = job
			return nil
		}

		now := time.Now().UTC()
		if err := s.repo.UpdateFields(inner, jobID, map[string]interface{}{
			"status":       types.JobCanceled,
			"message":      "Canceled",
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		}); err != nil {
			return err
		}

		job.Status = types.JobCanceled
		job.Message = "Canceled"
		job.LockedAt = nil
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		updated = job
		shouldNotify = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if shouldNotify && s.notify != nil && updated != nil {
		s.notify.JobFailed(updated.TenantID, updated, "canceled", "Canceled")
	}
	return updated, nil
}

func (s *jobService) Restart(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}

	var updated *types.JobRun

	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		job, err := s.repo.GetByID(inner, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job not found")
		}

		status := strings.ToLower(strings.TrimSpace(job.Status))
		if status != types.JobCanceled && status != types.JobFailed {
			return fmt.Errorf("job not restartable")
		}

		now := time.Now().UTC()
		nextResult := resetStageStateForRestart(job.Result)
		if err := s.repo.UpdateFields(inner, jobID, map[string]interface{}{
			"status":        types.JobQueued,
			"stage":         "queued",
			"progress":      0,
			"message":       "Restarting",
			"error":         "",
			"last_error_at": nil,
			"attempts":      0,
			"result":        nextResult,
			"locked_at":     nil,
			"heartbeat_at":  now,
			"updated_at":    now,
		}); err != nil {
			return err
		}

		job.Status = types.JobQueued
		job.Stage = "queued"
		job.Progress = 0
		job.Message = "Restarting"
		job.Error = ""
		job.LastErrorAt = nil
		job.Attempts = 0
		job.Result = nextResult
		job.LockedAt = nil
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notify != nil && updated != nil {
		s.notify.JobCreated(updated.TenantID, updated)
	}
	return updated, nil
}

// resetStageStateForRestart clears failure residue from the checkpoint so a
// restarted job re-runs failed stages but skips succeeded ones. Attempt
// counters reset too; a manual restart is a fresh retry budget.
func resetStageStateForRestart(result datatypes.JSON) datatypes.JSON {
	if len(result) == 0 || string(result) == "null" {
		return result
	}
	var obj map[string]any
	if err := json.Unmarshal(result, &obj); err != nil {
		return result
	}

	obj["wait_until"] = nil
	obj["last_progress"] = 0

	if rawStages, ok := obj["stages"]; ok && rawStages != nil {
		if stageMap, ok := rawStages.(map[string]any); ok {
			for _, v := range stageMap {
				m, ok := v.(map[string]any)
				if !ok || m == nil {
					continue
				}
				st := strings.ToLower(strings.TrimSpace(fmt.Sprint(m["status"])))
				if st == "succeeded" || st == "skipped" {
					continue
				}
				m["status"] = "pending"
				m["attempts"] = 0
				delete(m, "last_error")
				delete(m, "started_at")
				delete(m, "finished_at")
				delete(m, "next_run_at")
			}
		}
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return result
	}
	return datatypes.JSON(b)
}
