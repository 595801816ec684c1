package approvals

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	"github.com/brandvault/dam-backend/internal/data/repos/testutil"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

func newTestGate(t *testing.T, tx *gorm.DB) Gate {
	t.Helper()
	log := testutil.Logger(t)
	return NewGate(tx, log, assetsrepo.NewAssetRepo(tx, log), assetsrepo.NewApprovalCommentRepo(tx, log), activity.Nop())
}

func TestApprovalHappyPath(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	gate := newTestGate(t, tx)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-gate")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	actor := uuid.New()

	a, err := gate.Submit(dbc, asset.ID, actor, "please review")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.ApprovalStatus != types.ApprovalPending {
		t.Fatalf("expected pending after submit, got %s", a.ApprovalStatus)
	}

	a, err = gate.Approve(dbc, asset.ID, actor, "looks good")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if a.ApprovalStatus != types.ApprovalApproved || a.ApprovedAt == nil {
		t.Fatalf("expected approved with timestamp, got %s", a.ApprovalStatus)
	}
	// Asset was still uploading, so approval alone must not surface it.
	if a.Status != types.AssetStatusHidden {
		t.Fatalf("unprocessed asset must stay hidden, got %s", a.Status)
	}

	comments, err := gate.ListComments(dbc, asset.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 audit comments, got %d", len(comments))
	}
	if comments[0].Action != types.ApprovalActionSubmitted || comments[1].Action != types.ApprovalActionApproved {
		t.Fatalf("unexpected audit trail: %s, %s", comments[0].Action, comments[1].Action)
	}
}

func TestApproveProcessedAssetBecomesVisible(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	gate := newTestGate(t, tx)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-gate-vis")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	if err := tx.Model(&types.Asset{}).Where("id = ?", asset.ID).Updates(map[string]interface{}{
		"approval_status": types.ApprovalPending,
		"analysis_status": types.AnalysisComplete,
	}).Error; err != nil {
		t.Fatalf("prep asset: %v", err)
	}

	a, err := gate.Approve(dbc, asset.ID, uuid.New(), "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if a.Status != types.AssetStatusVisible {
		t.Fatalf("approved processed asset must become visible, got %s", a.Status)
	}
}

func TestRejectAndResubmit(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	gate := newTestGate(t, tx)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-gate-reject")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	actor := uuid.New()

	if _, err := gate.Submit(dbc, asset.ID, actor, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	a, err := gate.Reject(dbc, asset.ID, actor, "wrong crop")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if a.ApprovalStatus != types.ApprovalRejected || a.RejectedAt == nil || a.RejectionReason != "wrong crop" {
		t.Fatalf("rejection not recorded: %s %v %q", a.ApprovalStatus, a.RejectedAt, a.RejectionReason)
	}
	if a.Status != types.AssetStatusHidden {
		t.Fatalf("rejected asset must be hidden, got %s", a.Status)
	}
	if a.VisibleInDefaultListing() {
		t.Fatalf("rejected asset must not be listed")
	}

	a, err = gate.Resubmit(dbc, asset.ID, actor, "re-cropped")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if a.ApprovalStatus != types.ApprovalPending || a.RejectedAt != nil || a.RejectionReason != "" {
		t.Fatalf("resubmit must clear rejection: %s %v %q", a.ApprovalStatus, a.RejectedAt, a.RejectionReason)
	}
}

func TestInvalidTransitions(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	gate := newTestGate(t, tx)

	tenant := testutil.SeedTenant(t, ctx, tx, "t-gate-invalid")
	asset := testutil.SeedAsset(t, ctx, tx, tenant.ID)
	actor := uuid.New()

	// not_required: only Submit is legal.
	if _, err := gate.Approve(dbc, asset.ID, actor, ""); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("approve from not_required: expected invalid transition, got %v", err)
	}
	if _, err := gate.Reject(dbc, asset.ID, actor, "no"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("reject from not_required: expected invalid transition, got %v", err)
	}
	if _, err := gate.Resubmit(dbc, asset.ID, actor, ""); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("resubmit from not_required: expected invalid transition, got %v", err)
	}

	if _, err := gate.Submit(dbc, asset.ID, actor, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// pending: double submit is illegal.
	if _, err := gate.Submit(dbc, asset.ID, actor, ""); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("double submit: expected invalid transition, got %v", err)
	}

	// Failed transitions leave no audit rows behind.
	comments, err := gate.ListComments(dbc, asset.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected only the successful submit comment, got %d", len(comments))
	}

	if _, err := gate.Submit(dbc, uuid.New(), actor, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown asset: expected not found, got %v", err)
	}
	if _, err := gate.Submit(dbc, asset.ID, uuid.Nil, ""); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("missing actor: expected invalid argument, got %v", err)
	}
}
