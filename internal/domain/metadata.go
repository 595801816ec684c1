package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Candidate producers, in default resolution priority order
// (user > ai > system > exif).
const (
	SourceUser   = "user"
	SourceAI     = "ai"
	SourceSystem = "system"
	SourceEXIF   = "exif"
)

// Field population modes. "priority" considers all producers in priority
// order; "automatic" restricts resolution to non-user producers.
const (
	PopulationPriority  = "priority"
	PopulationAutomatic = "automatic"
)

type MetadataField struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Key              string         `gorm:"column:key;not null;index" json:"key"`
	Label            string         `gorm:"column:label" json:"label,omitempty"`
	PopulationMode   string         `gorm:"column:population_mode;not null;default:priority" json:"population_mode"`
	RequiresApproval bool           `gorm:"column:requires_approval;not null;default:false" json:"requires_approval"`
	IsPrimary        bool           `gorm:"column:is_primary;not null;default:false" json:"is_primary"`
	CreatedAt        time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (MetadataField) TableName() string { return "metadata_field" }

// MetadataFieldVisibility is the category-scoped override for field display.
// When a row exists for (field, category) its is_primary wins over the
// global MetadataField flag.
type MetadataFieldVisibility struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FieldID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_field_visibility,priority:1" json:"field_id"`
	CategoryID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_field_visibility,priority:2" json:"category_id"`
	IsPrimary  bool      `gorm:"column:is_primary;not null;default:false" json:"is_primary"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (MetadataFieldVisibility) TableName() string { return "metadata_field_visibility" }

// MetadataCandidate is an unresolved producer proposal for a metadata field.
// A candidate is in exactly one of three states: unresolved (resolved_at and
// dismissed_at both null), resolved, or dismissed.
type MetadataCandidate struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"asset_id"`
	FieldID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"field_id"`
	Value       string     `gorm:"column:value;type:text;not null" json:"value"`
	Source      string     `gorm:"column:source;not null;index" json:"source"`
	Confidence  *float64   `gorm:"column:confidence" json:"confidence,omitempty"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at;index" json:"resolved_at,omitempty"`
	DismissedAt *time.Time `gorm:"column:dismissed_at;index" json:"dismissed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (MetadataCandidate) TableName() string { return "metadata_candidate" }

// TagCandidate proposes a tag string. Tags are a set: every candidate may
// independently resolve, there is no single-winner constraint per asset.
type TagCandidate struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"asset_id"`
	Tag         string     `gorm:"column:tag;not null;index" json:"tag"`
	Source      string     `gorm:"column:source;not null;index" json:"source"`
	Confidence  *float64   `gorm:"column:confidence" json:"confidence,omitempty"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at;index" json:"resolved_at,omitempty"`
	DismissedAt *time.Time `gorm:"column:dismissed_at;index" json:"dismissed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (TagCandidate) TableName() string { return "tag_candidate" }

// AssetMetadata is the canonical post-resolution value for one field.
type AssetMetadata struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_asset_metadata_field,priority:1" json:"asset_id"`
	FieldID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_asset_metadata_field,priority:2" json:"field_id"`
	Value      string     `gorm:"column:value;type:text;not null" json:"value"`
	Source     string     `gorm:"column:source;not null" json:"source"`
	Confidence *float64   `gorm:"column:confidence" json:"confidence,omitempty"`
	ApprovedAt *time.Time `gorm:"column:approved_at" json:"approved_at,omitempty"`
	ApprovedBy *uuid.UUID `gorm:"type:uuid;column:approved_by" json:"approved_by,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (AssetMetadata) TableName() string { return "asset_metadata" }

type AssetTag struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_asset_tag,priority:1" json:"asset_id"`
	Tag        string    `gorm:"column:tag;not null;uniqueIndex:ux_asset_tag,priority:2" json:"tag"`
	Source     string    `gorm:"column:source;not null" json:"source"`
	Confidence *float64  `gorm:"column:confidence" json:"confidence,omitempty"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (AssetTag) TableName() string { return "asset_tag" }

// MetadataHistory records old/new value diffs per canonical change.
// Append-only, never mutated.
type MetadataHistory struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"asset_id"`
	FieldID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"field_id"`
	OldValue  string         `gorm:"column:old_value;type:text" json:"old_value,omitempty"`
	NewValue  string         `gorm:"column:new_value;type:text" json:"new_value"`
	Source    string         `gorm:"column:source" json:"source,omitempty"`
	Data      datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (MetadataHistory) TableName() string { return "metadata_history" }
