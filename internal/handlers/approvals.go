package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brandvault/dam-backend/internal/approvals"
	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

type ApprovalsHandler struct {
	gate approvals.Gate
}

func NewApprovalsHandler(gate approvals.Gate) *ApprovalsHandler {
	return &ApprovalsHandler{gate: gate}
}

type approvalActionRequest struct {
	ActorID uuid.UUID `json:"actor_id" binding:"required"`
	Comment string    `json:"comment"`
	Reason  string    `json:"reason"`
}

// POST /api/assets/:id/approval/submit
func (h *ApprovalsHandler) Submit(c *gin.Context) {
	h.transition(c, "submit_failed", h.gate.Submit, false)
}

// POST /api/assets/:id/approval/approve
func (h *ApprovalsHandler) Approve(c *gin.Context) {
	h.transition(c, "approve_failed", h.gate.Approve, false)
}

// POST /api/assets/:id/approval/reject
func (h *ApprovalsHandler) Reject(c *gin.Context) {
	h.transition(c, "reject_failed", h.gate.Reject, true)
}

// POST /api/assets/:id/approval/resubmit
func (h *ApprovalsHandler) Resubmit(c *gin.Context) {
	h.transition(c, "resubmit_failed", h.gate.Resubmit, false)
}

// GET /api/assets/:id/approval/comments
func (h *ApprovalsHandler) Comments(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	comments, err := h.gate.ListComments(dbctx.Context{Ctx: c.Request.Context()}, assetID)
	if err != nil {
		RespondServiceError(c, "comments_failed", err)
		return
	}
	RespondOK(c, gin.H{"comments": comments})
}

type gateFn func(dbc dbctx.Context, assetID, actorID uuid.UUID, comment string) (*types.Asset, error)

func (h *ApprovalsHandler) transition(c *gin.Context, code string, fn gateFn, useReason bool) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	var req approvalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	note := req.Comment
	if useReason {
		note = req.Reason
	}
	asset, err := fn(dbctx.Context{Ctx: c.Request.Context()}, assetID, req.ActorID, note)
	if err != nil {
		RespondServiceError(c, code, err)
		return
	}
	RespondOK(c, gin.H{"asset": asset})
}
