package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brandvault/dam-backend/internal/platform/dbctx"
	"github.com/brandvault/dam-backend/internal/uploads"
)

type UploadsHandler struct {
	sessions uploads.SessionService
}

func NewUploadsHandler(sessions uploads.SessionService) *UploadsHandler {
	return &UploadsHandler{sessions: sessions}
}

type initiateUploadRequest struct {
	TenantID       uuid.UUID  `json:"tenant_id" binding:"required"`
	BrandID        *uuid.UUID `json:"brand_id"`
	CategoryID     *uuid.UUID `json:"category_id"`
	UploaderID     uuid.UUID  `json:"uploader_id" binding:"required"`
	Mode           string     `json:"mode"`
	ReplaceAssetID *uuid.UUID `json:"replace_asset_id"`
	Filename       string     `json:"filename" binding:"required"`
	MimeType       string     `json:"mime_type" binding:"required"`
	ExpectedSize   int64      `json:"expected_size"`
	Checksum       string     `json:"checksum"`
}

// POST /api/uploads
func (h *UploadsHandler) Initiate(c *gin.Context) {
	var req initiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	session, err := h.sessions.Initiate(dbctx.Context{Ctx: c.Request.Context()}, uploads.InitiateInput{
		TenantID:       req.TenantID,
		BrandID:        req.BrandID,
		CategoryID:     req.CategoryID,
		UploaderID:     req.UploaderID,
		Mode:           req.Mode,
		ReplaceAssetID: req.ReplaceAssetID,
		Filename:       req.Filename,
		MimeType:       req.MimeType,
		ExpectedSize:   req.ExpectedSize,
		Checksum:       req.Checksum,
	})
	if err != nil {
		RespondServiceError(c, "initiate_failed", err)
		return
	}
	RespondCreated(c, gin.H{"session": session})
}

// POST /api/uploads/:id/progress
func (h *UploadsHandler) Progress(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req struct {
		Bytes int64 `json:"bytes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	session, err := h.sessions.RecordProgress(dbctx.Context{Ctx: c.Request.Context()}, sessionID, req.Bytes)
	if err != nil {
		RespondServiceError(c, "progress_failed", err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// POST /api/uploads/:id/parts
func (h *UploadsHandler) Part(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req struct {
		PartNumber int    `json:"part_number" binding:"required"`
		ETag       string `json:"etag" binding:"required"`
		SizeBytes  int64  `json:"size_bytes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	session, err := h.sessions.RecordPart(dbctx.Context{Ctx: c.Request.Context()}, sessionID, req.PartNumber, req.ETag, req.SizeBytes)
	if err != nil {
		RespondServiceError(c, "part_failed", err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// POST /api/uploads/:id/complete
func (h *UploadsHandler) Complete(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req struct {
		Checksum string `json:"checksum"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.sessions.Complete(dbctx.Context{Ctx: c.Request.Context()}, sessionID, req.Checksum)
	if err != nil {
		RespondServiceError(c, "complete_failed", err)
		return
	}
	payload := gin.H{
		"asset":           result.Asset,
		"version":         result.Version,
		"already_existed": result.AlreadyExisted,
	}
	if result.Job != nil {
		payload["job"] = result.Job
	}
	if result.AlreadyExisted {
		RespondOK(c, payload)
		return
	}
	RespondCreated(c, payload)
}

// POST /api/uploads/:id/fail
func (h *UploadsHandler) Fail(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	session, err := h.sessions.Fail(dbctx.Context{Ctx: c.Request.Context()}, sessionID, req.Reason)
	if err != nil {
		RespondServiceError(c, "fail_failed", err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}
