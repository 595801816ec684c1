package approvals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandvault/dam-backend/internal/activity"
	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	types "github.com/brandvault/dam-backend/internal/domain"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// Gate is the approval state machine for assets:
//
//	not_required            (terminal unless resubmitted into the flow)
//	pending  -> approved | rejected
//	rejected -> pending     (Resubmit)
//
// Every transition appends an ApprovalComment audit row and an activity
// entry. Anything else is ErrInvalidTransition.
type Gate interface {
	Submit(dbc dbctx.Context, assetID, actorID uuid.UUID, comment string) (*types.Asset, error)
	Approve(dbc dbctx.Context, assetID, approverID uuid.UUID, comment string) (*types.Asset, error)
	Reject(dbc dbctx.Context, assetID, approverID uuid.UUID, reason string) (*types.Asset, error)
	Resubmit(dbc dbctx.Context, assetID, actorID uuid.UUID, comment string) (*types.Asset, error)

	ListComments(dbc dbctx.Context, assetID uuid.UUID) ([]*types.ApprovalComment, error)
}

type gate struct {
	db       *gorm.DB
	log      *logger.Logger
	assets   assetsrepo.AssetRepo
	comments assetsrepo.ApprovalCommentRepo
	activity activity.Writer
}

func NewGate(db *gorm.DB, baseLog *logger.Logger, assets assetsrepo.AssetRepo, comments assetsrepo.ApprovalCommentRepo, act activity.Writer) Gate {
	return &gate{
		db:       db,
		log:      baseLog.With("service", "ApprovalGate"),
		assets:   assets,
		comments: comments,
		activity: act,
	}
}

func (g *gate) Submit(dbc dbctx.Context, assetID, actorID uuid.UUID, comment string) (*types.Asset, error) {
	return g.transition(dbc, assetID, actorID, types.ApprovalActionSubmitted, comment, func(a *types.Asset, now time.Time) (map[string]interface{}, error) {
		if a.ApprovalStatus != types.ApprovalNotRequired {
			return nil, fmt.Errorf("%w: submit from %q", apperr.ErrInvalidTransition, a.ApprovalStatus)
		}
		a.ApprovalStatus = types.ApprovalPending
		return map[string]interface{}{
			"approval_status": types.ApprovalPending,
		}, nil
	})
}

func (g *gate) Approve(dbc dbctx.Context, assetID, approverID uuid.UUID, comment string) (*types.Asset, error) {
	return g.transition(dbc, assetID, approverID, types.ApprovalActionApproved, comment, func(a *types.Asset, now time.Time) (map[string]interface{}, error) {
		if a.ApprovalStatus != types.ApprovalPending {
			return nil, fmt.Errorf("%w: approve from %q", apperr.ErrInvalidTransition, a.ApprovalStatus)
		}
		a.ApprovalStatus = types.ApprovalApproved
		a.ApprovedAt = &now
		a.RejectedAt = nil
		a.RejectionReason = ""
		updates := map[string]interface{}{
			"approval_status":  types.ApprovalApproved,
			"approved_at":      now,
			"rejected_at":      nil,
			"rejection_reason": "",
		}
		// Approval restores default-listing visibility for processed assets.
		if a.AnalysisStatus == types.AnalysisComplete {
			a.Status = types.AssetStatusVisible
			updates["status"] = types.AssetStatusVisible
		}
		return updates, nil
	})
}

func (g *gate) Reject(dbc dbctx.Context, assetID, approverID uuid.UUID, reason string) (*types.Asset, error) {
	return g.transition(dbc, assetID, approverID, types.ApprovalActionRejected, reason, func(a *types.Asset, now time.Time) (map[string]interface{}, error) {
		if a.ApprovalStatus != types.ApprovalPending {
			return nil, fmt.Errorf("%w: reject from %q", apperr.ErrInvalidTransition, a.ApprovalStatus)
		}
		a.ApprovalStatus = types.ApprovalRejected
		a.RejectedAt = &now
		a.RejectionReason = reason
		a.Status = types.AssetStatusHidden
		return map[string]interface{}{
			"approval_status":  types.ApprovalRejected,
			"rejected_at":      now,
			"rejection_reason": reason,
			"status":           types.AssetStatusHidden,
		}, nil
	})
}

func (g *gate) Resubmit(dbc dbctx.Context, assetID, actorID uuid.UUID, comment string) (*types.Asset, error) {
	return g.transition(dbc, assetID, actorID, types.ApprovalActionResubmitted, comment, func(a *types.Asset, now time.Time) (map[string]interface{}, error) {
		if a.ApprovalStatus != types.ApprovalRejected {
			return nil, fmt.Errorf("%w: resubmit from %q", apperr.ErrInvalidTransition, a.ApprovalStatus)
		}
		a.ApprovalStatus = types.ApprovalPending
		a.RejectedAt = nil
		a.RejectionReason = ""
		return map[string]interface{}{
			"approval_status":  types.ApprovalPending,
			"rejected_at":      nil,
			"rejection_reason": "",
		}, nil
	})
}

func (g *gate) ListComments(dbc dbctx.Context, assetID uuid.UUID) ([]*types.ApprovalComment, error) {
	return g.comments.ListByAsset(dbc, assetID)
}

// transition runs one state-machine step in a transaction: validate against
// the freshly loaded row, persist the field updates, append the audit
// comment. The activity entry is emitted after commit.
func (g *gate) transition(
	dbc dbctx.Context,
	assetID, actorID uuid.UUID,
	action string,
	comment string,
	step func(a *types.Asset, now time.Time) (map[string]interface{}, error),
) (*types.Asset, error) {
	if assetID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing asset id", apperr.ErrInvalidArgument)
	}
	if actorID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing actor id", apperr.ErrInvalidArgument)
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = g.db
	}

	var asset *types.Asset
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		a, err := g.assets.GetByID(inner, assetID)
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("%w: asset %s", apperr.ErrNotFound, assetID)
		}

		now := time.Now()
		updates, err := step(a, now)
		if err != nil {
			return err
		}
		updates["updated_at"] = now
		if err := g.assets.UpdateFields(inner, assetID, updates); err != nil {
			return err
		}
		if err := g.comments.Append(inner, &types.ApprovalComment{
			ID:      uuid.New(),
			AssetID: assetID,
			ActorID: actorID,
			Action:  action,
			Comment: comment,
		}); err != nil {
			return err
		}
		a.UpdatedAt = now
		asset = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.activity.Record(dbc, activity.Entry{
		TenantID:    asset.TenantID,
		SubjectKind: types.SubjectAsset,
		SubjectID:   asset.ID,
		ActorKind:   types.ActorUser,
		ActorID:     &actorID,
		Event:       "approval_" + action,
		Data:        map[string]any{"comment": comment},
	})
	return asset, nil
}
