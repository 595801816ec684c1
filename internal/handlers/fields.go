package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	types "github.com/brandvault/dam-backend/internal/domain"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
)

type FieldsHandler struct {
	fields assetsrepo.MetadataFieldRepo
}

func NewFieldsHandler(fields assetsrepo.MetadataFieldRepo) *FieldsHandler {
	return &FieldsHandler{fields: fields}
}

// GET /api/fields?tenant_id=
func (h *FieldsHandler) List(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_tenant_id", err)
		return
	}
	fields, err := h.fields.GetByTenant(dbctx.Context{Ctx: c.Request.Context()}, tenantID)
	if err != nil {
		RespondServiceError(c, "fields_failed", err)
		return
	}
	RespondOK(c, gin.H{"fields": fields})
}

// PUT /api/fields/:id/visibility
//
// Sets the category-scoped display override for a field.
func (h *FieldsHandler) SetVisibility(c *gin.Context) {
	fieldID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_field_id", err)
		return
	}
	var req struct {
		CategoryID uuid.UUID `json:"category_id" binding:"required"`
		IsPrimary  bool      `json:"is_primary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	row := &types.MetadataFieldVisibility{
		ID:         uuid.New(),
		FieldID:    fieldID,
		CategoryID: req.CategoryID,
		IsPrimary:  req.IsPrimary,
	}
	if err := h.fields.UpsertVisibility(dbctx.Context{Ctx: c.Request.Context()}, row); err != nil {
		RespondServiceError(c, "visibility_failed", err)
		return
	}
	RespondOK(c, gin.H{"field_id": fieldID, "category_id": req.CategoryID, "is_primary": req.IsPrimary})
}
