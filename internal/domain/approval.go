package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ApprovalActionSubmitted   = "submitted"
	ApprovalActionApproved    = "approved"
	ApprovalActionRejected    = "rejected"
	ApprovalActionResubmitted = "resubmitted"
)

// ApprovalComment is the immutable audit row appended on every approval
// transition. Rows are never updated or deleted.
type ApprovalComment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID   uuid.UUID `gorm:"type:uuid;not null;index" json:"asset_id"`
	Action    string    `gorm:"column:action;not null;index" json:"action"`
	ActorID   uuid.UUID `gorm:"type:uuid;not null" json:"actor_id"`
	Comment   string    `gorm:"column:comment;type:text" json:"comment,omitempty"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (ApprovalComment) TableName() string { return "approval_comment" }
