package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SessionPending   = "pending"
	SessionUploading = "uploading"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionExpired   = "expired"
)

const (
	UploadModeCreate  = "create"
	UploadModeReplace = "replace"
)

const (
	FailureChecksumMismatch = "checksum_mismatch"
	FailureExpired          = "expired"
	FailureAborted          = "aborted"
)

// UploadSession tracks a single upload attempt from initiation to a terminal
// state. For create sessions AssetID carries a unique index: at most one
// asset is ever created per session, which is the idempotency boundary for
// Complete. Replace sessions are excluded, many of them may legitimately
// point at the same asset over time.
type UploadSession struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	BrandID      *uuid.UUID `gorm:"type:uuid;index" json:"brand_id,omitempty"`
	CategoryID   *uuid.UUID `gorm:"type:uuid;index" json:"category_id,omitempty"`
	UploaderID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"uploader_id"`
	Mode         string     `gorm:"column:mode;not null;default:create" json:"mode"`
	Filename     string     `gorm:"column:filename;not null" json:"filename"`
	MimeType     string     `gorm:"column:mime_type" json:"mime_type,omitempty"`
	ExpectedSize int64      `gorm:"column:expected_size;not null" json:"expected_size"`
	UploadedSize int64      `gorm:"column:uploaded_size;not null;default:0" json:"uploaded_size"`
	Checksum     string     `gorm:"column:checksum" json:"checksum,omitempty"`
	Status       string     `gorm:"column:status;not null;default:pending;index" json:"status"`

	// Multipart bookkeeping: initiated_at, completed parts map, status.
	MultipartState datatypes.JSON `gorm:"type:jsonb;column:multipart_state" json:"multipart_state,omitempty"`

	// Set exactly once on successful completion.
	AssetID *uuid.UUID `gorm:"type:uuid;column:asset_id;index;uniqueIndex:ux_upload_session_asset,where:mode = 'create'" json:"asset_id,omitempty"`
	// Replace mode: the asset receiving a new version.
	ReplaceAssetID *uuid.UUID `gorm:"type:uuid;column:replace_asset_id;index" json:"replace_asset_id,omitempty"`

	ExpiresAt      time.Time  `gorm:"column:expires_at;not null;index" json:"expires_at"`
	LastActivityAt *time.Time `gorm:"column:last_activity_at;index" json:"last_activity_at,omitempty"`
	FailureReason  string     `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	FailureCount   int        `gorm:"column:failure_count;not null;default:0" json:"failure_count"`

	CreatedAt time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UploadSession) TableName() string { return "upload_session" }

// Terminal reports whether the session reached a state it never leaves.
func (s *UploadSession) Terminal() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionExpired:
		return true
	}
	return false
}

// MultipartState shape stored in the JSONB column.
type MultipartState struct {
	InitiatedAt    *time.Time               `json:"initiated_at,omitempty"`
	CompletedParts map[string]MultipartPart `json:"completed_parts,omitempty"`
	Status         string                   `json:"status,omitempty"`
}

type MultipartPart struct {
	ETag      string `json:"etag"`
	SizeBytes int64  `json:"size_bytes"`
}
