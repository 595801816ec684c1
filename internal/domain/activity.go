package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SubjectKind is the closed set of things activity rows can point at.
// A typed enum instead of free-form type strings keeps subject resolution
// a compile-time concern.
type SubjectKind string

const (
	SubjectAsset         SubjectKind = "asset"
	SubjectAssetVersion  SubjectKind = "asset_version"
	SubjectUploadSession SubjectKind = "upload_session"
	SubjectIncident      SubjectKind = "incident"
	SubjectTicket        SubjectKind = "ticket"
)

type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorSystem ActorKind = "system"
)

// ActivityLog is the append-only activity stream written on every core state
// transition. Writes are best-effort: a failed insert is logged and dropped,
// never propagated into the operation that produced it.
type ActivityLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	SubjectKind SubjectKind    `gorm:"column:subject_kind;not null;index" json:"subject_kind"`
	SubjectID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"subject_id"`
	ActorKind   ActorKind      `gorm:"column:actor_kind;not null" json:"actor_kind"`
	ActorID     *uuid.UUID     `gorm:"type:uuid;column:actor_id" json:"actor_id,omitempty"`
	Event       string         `gorm:"column:event;not null;index" json:"event"`
	Data        datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (ActivityLog) TableName() string { return "activity_log" }
