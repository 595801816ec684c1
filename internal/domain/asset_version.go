package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PipelinePending    = "pending"
	PipelineProcessing = "processing"
	PipelineComplete   = "complete"
	PipelineFailed     = "failed"
)

// AssetVersion is one immutable revision of an asset's binary content.
// version_number is strictly increasing per asset and exactly one version
// per asset carries is_current=true.
type AssetVersion struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID               uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:ux_asset_version_number,priority:1" json:"asset_id"`
	VersionNumber         int        `gorm:"column:version_number;not null;uniqueIndex:ux_asset_version_number,priority:2" json:"version_number"`
	FilePath              string     `gorm:"column:file_path;not null" json:"file_path"`
	SizeBytes             int64      `gorm:"column:size_bytes;not null" json:"size_bytes"`
	MimeType              string     `gorm:"column:mime_type;not null" json:"mime_type"`
	Width                 *int       `gorm:"column:width" json:"width,omitempty"`
	Height                *int       `gorm:"column:height" json:"height,omitempty"`
	Checksum              string     `gorm:"column:checksum;not null" json:"checksum"`
	PipelineStatus        string     `gorm:"column:pipeline_status;not null;default:pending;index" json:"pipeline_status"`
	IsCurrent             bool       `gorm:"column:is_current;not null;default:false;index" json:"is_current"`
	RestoredFromVersionID *uuid.UUID `gorm:"type:uuid;column:restored_from_version_id" json:"restored_from_version_id,omitempty"`

	ThumbnailPath string `gorm:"column:thumbnail_path" json:"thumbnail_path,omitempty"`
	PreviewPath   string `gorm:"column:preview_path" json:"preview_path,omitempty"`

	CreatedAt time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AssetVersion) TableName() string { return "asset_version" }
