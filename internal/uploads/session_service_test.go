package uploads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	jobsrepo "github.com/brandvault/dam-backend/internal/data/repos/jobs"
	tenantsrepo "github.com/brandvault/dam-backend/internal/data/repos/tenants"
	"github.com/brandvault/dam-backend/internal/data/repos/testutil"
	uploadsrepo "github.com/brandvault/dam-backend/internal/data/repos/uploads"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/config"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/services"
)

func newTestSessionService(t *testing.T, tx *gorm.DB, ttl time.Duration) SessionService {
	t.Helper()
	log := testutil.Logger(t)
	jobService := services.NewJobService(tx, log, jobsrepo.NewJobRunRepo(tx, log), services.NopNotifier())
	return NewSessionService(
		tx,
		log,
		config.UploadsConfig{SessionTTL: ttl, SweepInterval: time.Minute, SweepParallel: 2},
		uploadsrepo.NewUploadSessionRepo(tx, log),
		assetsrepo.NewAssetRepo(tx, log),
		assetsrepo.NewAssetVersionRepo(tx, log),
		tenantsrepo.NewCategoryRepo(tx, log),
		jobService,
		activity.Nop(),
	)
}

func TestInitiateValidation(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	svc := newTestSessionService(t, tx, time.Hour)

	_, err := svc.Initiate(dbc, InitiateInput{
		UploaderID:   uuid.New(),
		Filename:     "a.jpg",
		ExpectedSize: 10,
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing tenant, got %v", err)
	}

	tenant := testutil.SeedTenant(t, ctx, tx, "t-init")
	_, err = svc.Initiate(dbc, InitiateInput{
		TenantID:     tenant.ID,
		UploaderID:   uuid.New(),
		Mode:         types.UploadModeReplace,
		Filename:     "a.jpg",
		ExpectedSize: 10,
	})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for replace without target, got %v", err)
	}

	missing := uuid.New()
	_, err = svc.Initiate(dbc, InitiateInput{
		TenantID:       tenant.ID,
		UploaderID:     uuid.New(),
		Mode:           types.UploadModeReplace,
		ReplaceAssetID: &missing,
		Filename:       "a.jpg",
		ExpectedSize:   10,
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown replace target, got %v", err)
	}
}

func TestCompleteCreatesAssetOnce(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	svc := newTestSessionService(t, tx, time.Hour)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-create")
	category := testutil.SeedCategory(t, ctx, tx, tenant.ID, true)

	sess, err := svc.Initiate(dbc, InitiateInput{
		TenantID:     tenant.ID,
		CategoryID:   &category.ID,
		UploaderID:   uuid.New(),
		Filename:     "photo.jpg",
		MimeType:     "image/jpeg",
		ExpectedSize: 2048,
		Checksum:     "sha256:abc",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if sess.Status != types.SessionPending {
		t.Fatalf("expected pending session, got %s", sess.Status)
	}

	if _, err := svc.RecordProgress(dbc, sess.ID, 2048); err != nil {
		t.Fatalf("record progress: %v", err)
	}

	result, err := svc.Complete(dbc, sess.ID, "sha256:abc")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.AlreadyExisted {
		t.Fatalf("first completion must not report already existed")
	}
	if result.Asset.Status != types.AssetStatusHidden {
		t.Fatalf("new asset must start hidden, got %s", result.Asset.Status)
	}
	if result.Asset.ApprovalStatus != types.ApprovalPending {
		t.Fatalf("gated category must start approval pending, got %s", result.Asset.ApprovalStatus)
	}
	if result.Version.VersionNumber != 1 || !result.Version.IsCurrent {
		t.Fatalf("expected current v1, got v%d current=%v", result.Version.VersionNumber, result.Version.IsCurrent)
	}
	if result.Job == nil || result.Job.JobType != services.JobTypeAssetProcess {
		t.Fatalf("expected pipeline job to be enqueued")
	}

	// Replayed completion returns the same asset instead of a duplicate.
	again, err := svc.Complete(dbc, sess.ID, "sha256:abc")
	if err != nil {
		t.Fatalf("replay complete: %v", err)
	}
	if !again.AlreadyExisted {
		t.Fatalf("replay must report already existed")
	}
	if again.Asset.ID != result.Asset.ID {
		t.Fatalf("replay produced a different asset: %s vs %s", again.Asset.ID, result.Asset.ID)
	}

	var count int64
	if err := tx.Model(&types.Asset{}).Where("tenant_id = ?", tenant.ID).Count(&count).Error; err != nil {
		t.Fatalf("count assets: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one asset, got %d", count)
	}
}

func TestCompleteChecksumMismatch(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	svc := newTestSessionService(t, tx, time.Hour)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-checksum")
	sess, err := svc.Initiate(dbc, InitiateInput{
		TenantID:     tenant.ID,
		UploaderID:   uuid.New(),
		Filename:     "photo.jpg",
		ExpectedSize: 100,
		Checksum:     "sha256:expected",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	_, err = svc.Complete(dbc, sess.ID, "sha256:different")
	if !errors.Is(err, apperr.ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}

	var reloaded types.UploadSession
	if err := tx.First(&reloaded, "id = ?", sess.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Status != types.SessionFailed || reloaded.FailureReason != types.FailureChecksumMismatch {
		t.Fatalf("expected failed/checksum_mismatch, got %s/%s", reloaded.Status, reloaded.FailureReason)
	}
	if reloaded.FailureCount != 1 {
		t.Fatalf("expected failure_count 1, got %d", reloaded.FailureCount)
	}

	// Terminal sessions stay terminal.
	if _, err := svc.Complete(dbc, sess.ID, "sha256:expected"); !errors.Is(err, apperr.ErrSessionTerminal) {
		t.Fatalf("expected terminal session error, got %v", err)
	}
}

func TestCompleteExpiredSession(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	svc := newTestSessionService(t, tx, -time.Hour)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-expired")
	sess, err := svc.Initiate(dbc, InitiateInput{
		TenantID:     tenant.ID,
		UploaderID:   uuid.New(),
		Filename:     "photo.jpg",
		ExpectedSize: 100,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := svc.Complete(dbc, sess.ID, ""); !errors.Is(err, apperr.ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	var reloaded types.UploadSession
	if err := tx.First(&reloaded, "id = ?", sess.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Status != types.SessionExpired {
		t.Fatalf("expected expired status, got %s", reloaded.Status)
	}
}

func TestCompleteReplaceKeepsOldVersionCurrent(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	svc := newTestSessionService(t, tx, time.Hour)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-replace")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	v1 := testutil.SeedAssetVersion(t, ctx, tx, asset.ID, 1, true)

	sess, err := svc.Initiate(dbc, InitiateInput{
		TenantID:       tenant.ID,
		UploaderID:     uuid.New(),
		Mode:           types.UploadModeReplace,
		ReplaceAssetID: &asset.ID,
		Filename:       "photo-v2.jpg",
		MimeType:       "image/jpeg",
		ExpectedSize:   4096,
	})
	if err != nil {
		t.Fatalf("initiate replace: %v", err)
	}

	result, err := svc.Complete(dbc, sess.ID, "")
	if err != nil {
		t.Fatalf("complete replace: %v", err)
	}
	if result.Asset.ID != asset.ID {
		t.Fatalf("replace must reuse the target asset")
	}
	if result.Version.VersionNumber != 2 {
		t.Fatalf("expected v2, got v%d", result.Version.VersionNumber)
	}
	// Promotion happens only after the pipeline succeeds; until then the old
	// version keeps serving.
	if result.Version.IsCurrent {
		t.Fatalf("replacement version must not be current before the pipeline promotes it")
	}
	var current types.AssetVersion
	if err := tx.First(&current, "asset_id = ? AND is_current = true", asset.ID).Error; err != nil {
		t.Fatalf("load current version: %v", err)
	}
	if current.ID != v1.ID {
		t.Fatalf("old version must stay current, got %s", current.ID)
	}

	var reloaded types.Asset
	if err := tx.First(&reloaded, "id = ?", asset.ID).Error; err != nil {
		t.Fatalf("reload asset: %v", err)
	}
	if reloaded.AnalysisStatus != types.AnalysisUploading {
		t.Fatalf("replace must reset analysis status, got %s", reloaded.AnalysisStatus)
	}
}

func TestFailAndSweep(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	tenant := testutil.SeedTenant(t, ctx, tx, "t-sweep")

	svc := newTestSessionService(t, tx, time.Hour)
	failed, err := svc.Initiate(dbc, InitiateInput{
		TenantID:     tenant.ID,
		UploaderID:   uuid.New(),
		Filename:     "a.jpg",
		ExpectedSize: 10,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	got, err := svc.Fail(dbc, failed.ID, "")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if got.Status != types.SessionFailed || got.FailureReason != types.FailureAborted {
		t.Fatalf("expected failed/aborted, got %s/%s", got.Status, got.FailureReason)
	}

	// Overdue non-terminal sessions get swept; terminal ones are untouched.
	expiredSvc := newTestSessionService(t, tx, -time.Hour)
	overdue, err := expiredSvc.Initiate(dbc, InitiateInput{
		TenantID:     tenant.ID,
		UploaderID:   uuid.New(),
		Filename:     "b.jpg",
		ExpectedSize: 10,
	})
	if err != nil {
		t.Fatalf("initiate overdue: %v", err)
	}

	n, err := expiredSvc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	var reloaded types.UploadSession
	if err := tx.First(&reloaded, "id = ?", overdue.ID).Error; err != nil {
		t.Fatalf("reload overdue: %v", err)
	}
	if reloaded.Status != types.SessionExpired || reloaded.FailureReason != types.FailureExpired {
		t.Fatalf("expected expired/expired, got %s/%s", reloaded.Status, reloaded.FailureReason)
	}
}
