package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	assetsrepo "github.com/brandvault/dam-backend/internal/data/repos/assets"
	apperr "github.com/brandvault/dam-backend/internal/pkg/errors"
	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/resolver"
	"github.com/brandvault/dam-backend/internal/services"
)

type AssetsHandler struct {
	assets          assetsrepo.AssetRepo
	versions        assetsrepo.AssetVersionRepo
	metadata        assetsrepo.AssetMetadataRepo
	fields          assetsrepo.MetadataFieldRepo
	tags            assetsrepo.AssetTagRepo
	candidates      assetsrepo.CandidateRepo
	resolver        resolver.Resolver
	versionsService services.VersionService
}

func NewAssetsHandler(
	assets assetsrepo.AssetRepo,
	versions assetsrepo.AssetVersionRepo,
	metadata assetsrepo.AssetMetadataRepo,
	fields assetsrepo.MetadataFieldRepo,
	tags assetsrepo.AssetTagRepo,
	candidates assetsrepo.CandidateRepo,
	res resolver.Resolver,
	versionsService services.VersionService,
) *AssetsHandler {
	return &AssetsHandler{
		assets:          assets,
		versions:        versions,
		metadata:        metadata,
		fields:          fields,
		tags:            tags,
		candidates:      candidates,
		resolver:        res,
		versionsService: versionsService,
	}
}

// GET /api/assets?tenant_id=&brand_id=
//
// Default listing: hidden, failed, pending and rejected assets are excluded.
func (h *AssetsHandler) List(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_tenant_id", err)
		return
	}
	var brandID *uuid.UUID
	if raw := c.Query("brand_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_brand_id", err)
			return
		}
		brandID = &id
	}
	assets, err := h.assets.ListDefault(dbctx.Context{Ctx: c.Request.Context()}, tenantID, brandID)
	if err != nil {
		RespondServiceError(c, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"assets": assets})
}

// GET /api/assets/:id
func (h *AssetsHandler) Get(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	asset, err := h.assets.GetByID(dbc, assetID)
	if err != nil {
		RespondServiceError(c, "asset_not_found", err)
		return
	}
	if asset == nil {
		RespondServiceError(c, "asset_not_found", apperr.ErrNotFound)
		return
	}
	current, err := h.versions.GetCurrent(dbc, assetID)
	if err != nil {
		RespondServiceError(c, "version_not_found", err)
		return
	}
	RespondOK(c, gin.H{"asset": asset, "current_version": current})
}

// GET /api/assets/:id/versions
func (h *AssetsHandler) Versions(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	versions, err := h.versions.ListByAsset(dbctx.Context{Ctx: c.Request.Context()}, assetID)
	if err != nil {
		RespondServiceError(c, "versions_failed", err)
		return
	}
	RespondOK(c, gin.H{"versions": versions})
}

// POST /api/assets/:id/versions/:version_id/restore
func (h *AssetsHandler) RestoreVersion(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	versionID, err := uuid.Parse(c.Param("version_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_version_id", err)
		return
	}
	var req struct {
		TenantID uuid.UUID `json:"tenant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	version, job, err := h.versionsService.Restore(dbctx.Context{Ctx: c.Request.Context()}, req.TenantID, assetID, versionID)
	if err != nil {
		RespondServiceError(c, "restore_failed", err)
		return
	}
	RespondCreated(c, gin.H{"version": version, "job": job})
}

// GET /api/assets/:id/metadata
//
// Each value carries a primary flag for display; a category-scoped
// visibility row overrides the field's global flag.
func (h *AssetsHandler) Metadata(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	asset, err := h.assets.GetByID(dbc, assetID)
	if err != nil {
		RespondServiceError(c, "asset_not_found", err)
		return
	}
	if asset == nil {
		RespondServiceError(c, "asset_not_found", apperr.ErrNotFound)
		return
	}
	rows, err := h.metadata.ListByAsset(dbc, assetID)
	if err != nil {
		RespondServiceError(c, "metadata_failed", err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		primary, err := h.fields.IsPrimaryFor(dbc, row.FieldID, asset.CategoryID)
		if err != nil {
			RespondServiceError(c, "metadata_failed", err)
			return
		}
		out = append(out, gin.H{"value": row, "primary": primary})
	}
	RespondOK(c, gin.H{"metadata": out})
}

// GET /api/assets/:id/tags
func (h *AssetsHandler) Tags(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	rows, err := h.tags.ListByAsset(dbctx.Context{Ctx: c.Request.Context()}, assetID)
	if err != nil {
		RespondServiceError(c, "tags_failed", err)
		return
	}
	RespondOK(c, gin.H{"tags": rows})
}

// GET /api/assets/:id/candidates
func (h *AssetsHandler) Candidates(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	meta, err := h.candidates.ListOpenMetadataByAsset(dbc, assetID)
	if err != nil {
		RespondServiceError(c, "candidates_failed", err)
		return
	}
	tags, err := h.candidates.ListOpenTagsByAsset(dbc, assetID)
	if err != nil {
		RespondServiceError(c, "candidates_failed", err)
		return
	}
	RespondOK(c, gin.H{"metadata_candidates": meta, "tag_candidates": tags})
}

// POST /api/candidates/metadata/:id/dismiss
func (h *AssetsHandler) DismissMetadataCandidate(c *gin.Context) {
	candidateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_candidate_id", err)
		return
	}
	if err := h.resolver.DismissMetadata(dbctx.Context{Ctx: c.Request.Context()}, candidateID); err != nil {
		RespondServiceError(c, "dismiss_failed", err)
		return
	}
	RespondOK(c, gin.H{"dismissed": true})
}

// POST /api/candidates/tags/:id/dismiss
func (h *AssetsHandler) DismissTagCandidate(c *gin.Context) {
	candidateID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_candidate_id", err)
		return
	}
	if err := h.resolver.DismissTag(dbctx.Context{Ctx: c.Request.Context()}, candidateID); err != nil {
		RespondServiceError(c, "dismiss_failed", err)
		return
	}
	RespondOK(c, gin.H{"dismissed": true})
}

// POST /api/assets/:id/metadata/:field_id/approve
func (h *AssetsHandler) ApproveMetadata(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	fieldID, err := uuid.Parse(c.Param("field_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_field_id", err)
		return
	}
	var req struct {
		ApproverID uuid.UUID `json:"approver_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.resolver.ApproveMetadata(dbctx.Context{Ctx: c.Request.Context()}, assetID, fieldID, req.ApproverID); err != nil {
		RespondServiceError(c, "approve_failed", err)
		return
	}
	RespondOK(c, gin.H{"approved": true})
}
