package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brandvault/dam-backend/internal/incidents"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

type IncidentsHandler struct {
	ledger incidents.Ledger
}

func NewIncidentsHandler(ledger incidents.Ledger) *IncidentsHandler {
	return &IncidentsHandler{ledger: ledger}
}

// GET /api/incidents?tenant_id=
func (h *IncidentsHandler) ListOpen(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_tenant_id", err)
		return
	}
	rows, err := h.ledger.ListOpen(dbctx.Context{Ctx: c.Request.Context()}, tenantID)
	if err != nil {
		RespondServiceError(c, "incidents_failed", err)
		return
	}
	RespondOK(c, gin.H{"incidents": rows})
}

// POST /api/incidents/:id/resolve
func (h *IncidentsHandler) Resolve(c *gin.Context) {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_incident_id", err)
		return
	}
	if err := h.ledger.Resolve(dbctx.Context{Ctx: c.Request.Context()}, incidentID); err != nil {
		RespondServiceError(c, "resolve_failed", err)
		return
	}
	RespondOK(c, gin.H{"resolved": true})
}

// POST /api/assets/:id/retry
func (h *IncidentsHandler) RetryAsset(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	var req struct {
		TenantID uuid.UUID `json:"tenant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.ledger.RetryAsset(dbctx.Context{Ctx: c.Request.Context()}, req.TenantID, assetID)
	if err != nil {
		RespondServiceError(c, "retry_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
