package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Asset visibility after normalization. Not a lifecycle enum: deletion,
// publication and archival live on independent timestamps below.
const (
	AssetStatusVisible = "visible"
	AssetStatusHidden  = "hidden"
	AssetStatusFailed  = "failed"
)

// Pipeline progress as surfaced to callers. Advances monotonically; only an
// explicit manual retry may move it backwards.
const (
	AnalysisUploading            = "uploading"
	AnalysisGeneratingThumbnails = "generating_thumbnails"
	AnalysisExtractingMetadata   = "extracting_metadata"
	AnalysisGeneratingEmbedding  = "generating_embedding"
	AnalysisScoring              = "scoring"
	AnalysisComplete             = "complete"
)

const (
	ThumbnailPending    = "pending"
	ThumbnailProcessing = "processing"
	ThumbnailCompleted  = "completed"
	ThumbnailFailed     = "failed"
)

const (
	ApprovalNotRequired = "not_required"
	ApprovalPending     = "pending"
	ApprovalApproved    = "approved"
	ApprovalRejected    = "rejected"
)

type Asset struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	BrandID          *uuid.UUID `gorm:"type:uuid;index" json:"brand_id,omitempty"`
	CategoryID       *uuid.UUID `gorm:"type:uuid;index" json:"category_id,omitempty"`
	UploaderID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"uploader_id"`
	Status           string     `gorm:"column:status;not null;default:hidden;index" json:"status"`
	AnalysisStatus   string     `gorm:"column:analysis_status;not null;default:uploading;index" json:"analysis_status"`
	ThumbnailStatus  string     `gorm:"column:thumbnail_status" json:"thumbnail_status,omitempty"`
	ApprovalStatus   string     `gorm:"column:approval_status;not null;default:not_required;index" json:"approval_status"`
	OriginalFilename string     `gorm:"column:original_filename;not null" json:"original_filename"`
	SizeBytes        int64      `gorm:"column:size_bytes;not null" json:"size_bytes"`
	MimeType         string     `gorm:"column:mime_type;not null" json:"mime_type"`
	Width            *int       `gorm:"column:width" json:"width,omitempty"`
	Height           *int       `gorm:"column:height" json:"height,omitempty"`
	ApprovedAt       *time.Time `gorm:"column:approved_at" json:"approved_at,omitempty"`
	RejectedAt       *time.Time `gorm:"column:rejected_at" json:"rejected_at,omitempty"`
	RejectionReason  string     `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`

	// Independent lifecycle timestamps: an asset can be deleted, published
	// and archived in any combination.
	PublishedAt *time.Time     `gorm:"column:published_at;index" json:"published_at,omitempty"`
	ArchivedAt  *time.Time     `gorm:"column:archived_at;index" json:"archived_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Asset) TableName() string { return "asset" }

// VisibleInDefaultListing applies the approval-gate rule: pending or rejected
// assets never show in default listings regardless of status.
func (a *Asset) VisibleInDefaultListing() bool {
	if a == nil {
		return false
	}
	if a.ApprovalStatus == ApprovalPending || a.ApprovalStatus == ApprovalRejected {
		return false
	}
	return a.Status == AssetStatusVisible
}
