package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	tenantsrepo "github.com/brandvault/dam-backend/internal/data/repos/tenants"
	uploadsrepo "github.com/brandvault/dam-backend/internal/data/repos/uploads"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/bucket"
	"github.com/brandvault/dam-backend/internal/platform/config"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
	"github.com/brandvault/dam-backend/internal/services"
)

type InitiateInput struct {
	TenantID       uuid.UUID
	BrandID        *uuid.UUID
	CategoryID     *uuid.UUID
	UploaderID     uuid.UUID
	Mode           string // create | replace
	ReplaceAssetID *uuid.UUID
	Filename       string
	MimeType       string
	ExpectedSize   int64
	Checksum       string // expected content checksum, verified at Complete
}

// AssetCreationResult is what Complete hands back. AlreadyExisted is true on
// the idempotent path: the session had already produced its asset.
type AssetCreationResult struct {
	Asset          *types.Asset
	Version        *types.AssetVersion
	Job            *types.JobRun
	AlreadyExisted bool
}

// SessionService owns the upload session lifecycle. Sessions are append-only
// state machines: pending → uploading → completed | failed | expired, and a
// terminal session never changes again.
type SessionService interface {
	Initiate(dbc dbctx.Context, in InitiateInput) (*types.UploadSession, error)
	RecordProgress(dbc dbctx.Context, sessionID uuid.UUID, bytes int64) (*types.UploadSession, error)
	RecordPart(dbc dbctx.Context, sessionID uuid.UUID, partNumber int, etag string, size int64) (*types.UploadSession, error)
	Complete(dbc dbctx.Context, sessionID uuid.UUID, checksum string) (*AssetCreationResult, error)
	Fail(dbc dbctx.Context, sessionID uuid.UUID, reason string) (*types.UploadSession, error)

	// Sweep expires overdue non-terminal sessions. Returns how many were
	// expired; safe to run concurrently with uploads.
	Sweep(ctx context.Context) (int, error)
}

type sessionService struct {
	db         *gorm.DB
	log        *logger.Logger
	cfg        config.UploadsConfig
	sessions   uploadsrepo.UploadSessionRepo
	assets     assetsrepo.AssetRepo
	versions   assetsrepo.AssetVersionRepo
	categories tenantsrepo.CategoryRepo
	jobs       services.JobService
	activity   activity.Writer
}

func NewSessionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.UploadsConfig,
	sessions uploadsrepo.UploadSessionRepo,
	assets assetsrepo.AssetRepo,
	versions assetsrepo.AssetVersionRepo,
	categories tenantsrepo.CategoryRepo,
	jobs services.JobService,
	act activity.Writer,
) SessionService {
	return &sessionService{
		db:         db,
		log:        baseLog.With("service", "UploadSessionService"),
		cfg:        cfg,
		sessions:   sessions,
		assets:     assets,
		versions:   versions,
		categories: categories,
		jobs:       jobs,
		activity:   act,
	}
}

func (s *sessionService) Initiate(dbc dbctx.Context, in InitiateInput) (*types.UploadSession, error) {
	if in.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing tenant_id", apperr.ErrInvalidArgument)
	}
	if in.UploaderID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing uploader_id", apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Filename) == "" {
		return nil, fmt.Errorf("%w: missing filename", apperr.ErrInvalidArgument)
	}
	if in.ExpectedSize <= 0 {
		return nil, fmt.Errorf("%w: expected_size must be positive", apperr.ErrInvalidArgument)
	}
	mode := in.Mode
	if mode == "" {
		mode = types.UploadModeCreate
	}
	switch mode {
	case types.UploadModeCreate:
		if in.ReplaceAssetID != nil {
			return nil, fmt.Errorf("%w: replace_asset_id set on create session", apperr.ErrInvalidArgument)
		}
	case types.UploadModeReplace:
		if in.ReplaceAssetID == nil || *in.ReplaceAssetID == uuid.Nil {
			return nil, fmt.Errorf("%w: replace session requires replace_asset_id", apperr.ErrInvalidArgument)
		}
		target, err := s.assets.GetByID(dbc, *in.ReplaceAssetID)
		if err != nil {
			return nil, err
		}
		if target == nil || target.TenantID != in.TenantID {
			return nil, fmt.Errorf("%w: replace target asset", apperr.ErrNotFound)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", apperr.ErrInvalidArgument, mode)
	}

	now := time.Now()
	row := &types.UploadSession{
		ID:             uuid.New(),
		TenantID:       in.TenantID,
		BrandID:        in.BrandID,
		CategoryID:     in.CategoryID,
		UploaderID:     in.UploaderID,
		Mode:           mode,
		Filename:       in.Filename,
		MimeType:       in.MimeType,
		ExpectedSize:   in.ExpectedSize,
		Checksum:       in.Checksum,
		Status:         types.SessionPending,
		ReplaceAssetID: in.ReplaceAssetID,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
		LastActivityAt: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := s.sessions.Create(dbc, row)
	if err != nil {
		return nil, fmt.Errorf("create upload session: %w", err)
	}
	return created, nil
}

func (s *sessionService) RecordProgress(dbc dbctx.Context, sessionID uuid.UUID, bytes int64) (*types.UploadSession, error) {
	sess, err := s.loadLive(dbc, sessionID)
	if err != nil {
		return nil, err
	}
	if bytes < 0 {
		return nil, fmt.Errorf("%w: negative byte count", apperr.ErrInvalidArgument)
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":           types.SessionUploading,
		"uploaded_size":    gorm.Expr("uploaded_size + ?", bytes),
		"last_activity_at": now,
		"updated_at":       now,
	}
	if err := s.sessions.UpdateFields(dbc, sess.ID, updates); err != nil {
		return nil, err
	}
	sess.Status = types.SessionUploading
	sess.UploadedSize += bytes
	sess.LastActivityAt = &now
	sess.UpdatedAt = now
	return sess, nil
}

func (s *sessionService) RecordPart(dbc dbctx.Context, sessionID uuid.UUID, partNumber int, etag string, size int64) (*types.UploadSession, error) {
	if partNumber <= 0 {
		return nil, fmt.Errorf("%w: part number must be positive", apperr.ErrInvalidArgument)
	}
	sess, err := s.loadLive(dbc, sessionID)
	if err != nil {
		return nil, err
	}

	var mp types.MultipartState
	if len(sess.MultipartState) > 0 {
		_ = json.Unmarshal(sess.MultipartState, &mp)
	}
	now := time.Now()
	if mp.InitiatedAt == nil {
		mp.InitiatedAt = &now
	}
	if mp.CompletedParts == nil {
		mp.CompletedParts = map[string]types.MultipartPart{}
	}
	key := strconv.Itoa(partNumber)
	prev, seen := mp.CompletedParts[key]
	mp.CompletedParts[key] = types.MultipartPart{ETag: etag, SizeBytes: size}
	mp.Status = "in_progress"

	// Re-sent parts replace their previous record instead of double-counting.
	delta := size
	if seen {
		delta = size - prev.SizeBytes
	}

	b, err := json.Marshal(mp)
	if err != nil {
		return nil, fmt.Errorf("encode multipart state: %w", err)
	}
	updates := map[string]interface{}{
		"status":           types.SessionUploading,
		"multipart_state":  datatypes.JSON(b),
		"uploaded_size":    gorm.Expr("uploaded_size + ?", delta),
		"last_activity_at": now,
		"updated_at":       now,
	}
	if err := s.sessions.UpdateFields(dbc, sess.ID, updates); err != nil {
		return nil, err
	}
	sess.Status = types.SessionUploading
	sess.MultipartState = datatypes.JSON(b)
	sess.UploadedSize += delta
	sess.LastActivityAt = &now
	sess.UpdatedAt = now
	return sess, nil
}

func (s *sessionService) Complete(dbc dbctx.Context, sessionID uuid.UUID, checksum string) (*AssetCreationResult, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing session id", apperr.ErrInvalidArgument)
	}
	sess, err := s.sessions.GetByID(dbc, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: upload session %s", apperr.ErrNotFound, sessionID)
	}

	// Idempotent replay: the session already produced its asset.
	if sess.Status == types.SessionCompleted && sess.AssetID != nil {
		return s.existingResult(dbc, sess)
	}
	if sess.Terminal() {
		return nil, apperr.ErrSessionTerminal
	}
	if time.Now().After(sess.ExpiresAt) {
		s.markExpired(dbc, sess)
		return nil, apperr.ErrSessionExpired
	}
	if sess.Checksum != "" && checksum != "" && sess.Checksum != checksum {
		now := time.Now()
		_ = s.sessions.UpdateFields(dbc, sess.ID, map[string]interface{}{
			"status":           types.SessionFailed,
			"failure_reason":   types.FailureChecksumMismatch,
			"failure_count":    gorm.Expr("failure_count + 1"),
			"last_activity_at": now,
			"updated_at":       now,
		})
		s.activity.Record(dbc, activity.Entry{
			TenantID:    sess.TenantID,
			SubjectKind: types.SubjectUploadSession,
			SubjectID:   sess.ID,
			ActorKind:   types.ActorUser,
			ActorID:     &sess.UploaderID,
			Event:       "upload_checksum_mismatch",
		})
		return nil, apperr.ErrChecksumMismatch
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}

	var result *AssetCreationResult
	txErr := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		switch sess.Mode {
		case types.UploadModeReplace:
			r, err := s.completeReplace(inner, sess, checksum)
			if err != nil {
				return err
			}
			result = r
		default:
			r, err := s.completeCreate(inner, sess, checksum)
			if err != nil {
				return err
			}
			result = r
		}
		return nil
	})
	if txErr == errCASLost {
		// Another Complete won the CAS; our rows rolled back with the
		// transaction. Serve the winner's asset.
		reloaded, err := s.sessions.GetByID(dbc, sessionID)
		if err != nil {
			return nil, err
		}
		if reloaded == nil || reloaded.AssetID == nil {
			return nil, apperr.ErrSessionTerminal
		}
		return s.existingResult(dbc, reloaded)
	}
	if txErr != nil {
		return nil, txErr
	}
	if result.AlreadyExisted {
		return result, nil
	}

	s.activity.Record(dbc, activity.Entry{
		TenantID:    sess.TenantID,
		SubjectKind: types.SubjectUploadSession,
		SubjectID:   sess.ID,
		ActorKind:   types.ActorUser,
		ActorID:     &sess.UploaderID,
		Event:       "upload_completed",
		Data:        map[string]any{"asset_id": result.Asset.ID, "version_id": result.Version.ID},
	})

	job, _, err := s.jobs.EnqueueAssetProcessIfNeeded(dbc, sess.TenantID, result.Asset.ID, result.Version.ID)
	if err != nil {
		// The asset exists; a missing job is recoverable by manual retry.
		s.log.Warn("enqueue asset_process failed", "session_id", sess.ID, "asset_id", result.Asset.ID, "error", err)
	}
	result.Job = job
	return result, nil
}

// completeCreate builds the new asset + v1 and claims the session via CAS.
// Runs inside a transaction: a lost CAS race rolls the freshly created rows
// back and the winner's asset is returned instead.
func (s *sessionService) completeCreate(dbc dbctx.Context, sess *types.UploadSession, checksum string) (*AssetCreationResult, error) {
	requiresApproval := false
	if sess.CategoryID != nil {
		cat, err := s.categories.GetByID(dbc, *sess.CategoryID)
		if err != nil {
			return nil, err
		}
		if cat != nil {
			requiresApproval = cat.RequiresApproval
		}
	}
	approvalStatus := types.ApprovalNotRequired
	if requiresApproval {
		approvalStatus = types.ApprovalPending
	}

	now := time.Now()
	asset := &types.Asset{
		ID:               uuid.New(),
		TenantID:         sess.TenantID,
		BrandID:          sess.BrandID,
		CategoryID:       sess.CategoryID,
		UploaderID:       sess.UploaderID,
		Status:           types.AssetStatusHidden,
		AnalysisStatus:   types.AnalysisUploading,
		ThumbnailStatus:  types.ThumbnailPending,
		ApprovalStatus:   approvalStatus,
		OriginalFilename: sess.Filename,
		SizeBytes:        sess.UploadedSize,
		MimeType:         sess.MimeType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.assets.Create(dbc, []*types.Asset{asset}); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	version := &types.AssetVersion{
		ID:             uuid.New(),
		AssetID:        asset.ID,
		SizeBytes:      sess.UploadedSize,
		MimeType:       sess.MimeType,
		Checksum:       firstNonEmpty(checksum, sess.Checksum),
		PipelineStatus: types.PipelinePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	version.FilePath = bucket.OriginalKey(sess.TenantID, asset.ID, version.ID, sess.Filename)
	created, err := s.versions.CreateNext(dbc, version, true)
	if err != nil {
		return nil, fmt.Errorf("create asset version: %w", err)
	}

	won, err := s.sessions.AttachAsset(dbc, sess.ID, asset.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errCASLost
	}
	return &AssetCreationResult{Asset: asset, Version: created}, nil
}

// completeReplace appends the next version to the target asset. The new
// version is not promoted here: the pipeline's promote stage swaps
// is_current only after processing succeeds, so the old version keeps
// serving until then.
func (s *sessionService) completeReplace(dbc dbctx.Context, sess *types.UploadSession, checksum string) (*AssetCreationResult, error) {
	if sess.ReplaceAssetID == nil {
		return nil, fmt.Errorf("%w: replace session missing replace_asset_id", apperr.ErrInvalidArgument)
	}
	asset, err := s.assets.GetByID(dbc, *sess.ReplaceAssetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: replace target asset", apperr.ErrNotFound)
	}

	now := time.Now()
	version := &types.AssetVersion{
		ID:             uuid.New(),
		AssetID:        asset.ID,
		SizeBytes:      sess.UploadedSize,
		MimeType:       sess.MimeType,
		Checksum:       firstNonEmpty(checksum, sess.Checksum),
		PipelineStatus: types.PipelinePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	version.FilePath = bucket.OriginalKey(sess.TenantID, asset.ID, version.ID, sess.Filename)
	created, err := s.versions.CreateNext(dbc, version, false)
	if err != nil {
		return nil, fmt.Errorf("create replacement version: %w", err)
	}

	if err := s.assets.UpdateFields(dbc, asset.ID, map[string]interface{}{
		"analysis_status":  types.AnalysisUploading,
		"thumbnail_status": types.ThumbnailPending,
		"updated_at":       now,
	}); err != nil {
		return nil, err
	}

	won, err := s.sessions.AttachAsset(dbc, sess.ID, asset.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errCASLost
	}
	return &AssetCreationResult{Asset: asset, Version: created}, nil
}

var errCASLost = fmt.Errorf("upload session already attached")

// existingResult serves the idempotent replay path from the rows the first
// completion created.
func (s *sessionService) existingResult(dbc dbctx.Context, sess *types.UploadSession) (*AssetCreationResult, error) {
	asset, err := s.assets.GetByID(dbc, *sess.AssetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: asset for completed session %s", apperr.ErrNotFound, sess.ID)
	}
	version, err := s.versions.GetCurrent(dbc, asset.ID)
	if err != nil {
		return nil, err
	}
	return &AssetCreationResult{Asset: asset, Version: version, AlreadyExisted: true}, nil
}

func (s *sessionService) Fail(dbc dbctx.Context, sessionID uuid.UUID, reason string) (*types.UploadSession, error) {
	sess, err := s.loadLive(dbc, sessionID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = types.FailureAborted
	}
	now := time.Now()
	if err := s.sessions.UpdateFields(dbc, sess.ID, map[string]interface{}{
		"status":           types.SessionFailed,
		"failure_reason":   reason,
		"failure_count":    gorm.Expr("failure_count + 1"),
		"last_activity_at": now,
		"updated_at":       now,
	}); err != nil {
		return nil, err
	}
	sess.Status = types.SessionFailed
	sess.FailureReason = reason
	sess.FailureCount++
	sess.LastActivityAt = &now
	s.activity.Record(dbc, activity.Entry{
		TenantID:    sess.TenantID,
		SubjectKind: types.SubjectUploadSession,
		SubjectID:   sess.ID,
		ActorKind:   types.ActorUser,
		ActorID:     &sess.UploaderID,
		Event:       "upload_failed",
		Data:        map[string]any{"reason": reason},
	})
	return sess, nil
}

func (s *sessionService) Sweep(ctx context.Context) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.sessions.ListExpired(dbc, time.Now(), 500)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	parallel := s.cfg.SweepParallel
	if parallel < 1 {
		parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	expired := 0
	for _, row := range rows {
		sess := row
		g.Go(func() error {
			s.markExpired(dbctx.Context{Ctx: gctx}, sess)
			return nil
		})
		expired++
	}
	if err := g.Wait(); err != nil {
		return expired, err
	}
	s.log.Info("expired stale upload sessions", "count", expired)
	return expired, nil
}

// markExpired flips a non-terminal session to expired. The status guard
// keeps a concurrent Complete from being overwritten.
func (s *sessionService) markExpired(dbc dbctx.Context, sess *types.UploadSession) {
	now := time.Now()
	t := dbc.Tx
	if t == nil {
		t = s.db
	}
	res := t.WithContext(dbc.Ctx).
		Model(&types.UploadSession{}).
		Where("id = ? AND status IN ?", sess.ID, []string{types.SessionPending, types.SessionUploading}).
		Updates(map[string]interface{}{
			"status":         types.SessionExpired,
			"failure_reason": types.FailureExpired,
			"updated_at":     now,
		})
	if res.Error != nil {
		s.log.Warn("expire session failed", "session_id", sess.ID, "error", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		s.activity.Record(dbc, activity.Entry{
			TenantID:    sess.TenantID,
			SubjectKind: types.SubjectUploadSession,
			SubjectID:   sess.ID,
			ActorKind:   types.ActorSystem,
			Event:       "upload_expired",
		})
	}
}

func (s *sessionService) loadLive(dbc dbctx.Context, sessionID uuid.UUID) (*types.UploadSession, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing session id", apperr.ErrInvalidArgument)
	}
	sess, err := s.sessions.GetByID(dbc, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: upload session %s", apperr.ErrNotFound, sessionID)
	}
	if sess.Terminal() {
		return nil, apperr.ErrSessionTerminal
	}
	return sess, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
