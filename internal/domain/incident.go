package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	IncidentSourceAsset      = "asset"
	IncidentSourceDerivative = "derivative"
	IncidentSourceJob        = "job"
	IncidentSourceScheduler  = "scheduler"
	IncidentSourceStorage    = "storage"
	IncidentSourceAI         = "ai"
	IncidentSourceSystem     = "system"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Incident is the append-only failure ledger row. One open row exists per
// (source_type, source_id, category); repeat failures inside the open window
// increment failure_count instead of creating a new row.
type Incident struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	SourceType     string     `gorm:"column:source_type;not null;uniqueIndex:ux_incident_open,priority:1,where:resolved_at IS NULL" json:"source_type"`
	SourceID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_incident_open,priority:2" json:"source_id"`
	Category       string     `gorm:"column:category;not null;uniqueIndex:ux_incident_open,priority:3" json:"category"`
	Severity       string     `gorm:"column:severity;not null;default:error" json:"severity"`
	Retryable      bool       `gorm:"column:retryable;not null;default:false" json:"retryable"`
	Message        string     `gorm:"column:message;type:text" json:"message,omitempty"`
	FailureCount   int        `gorm:"column:failure_count;not null;default:1" json:"failure_count"`
	FirstFailureAt time.Time  `gorm:"column:first_failure_at;not null" json:"first_failure_at"`
	LastFailureAt  time.Time  `gorm:"column:last_failure_at;not null;index" json:"last_failure_at"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at;index" json:"resolved_at,omitempty"`

	// Stamped at most once per incident lineage.
	EscalationTicketID *uuid.UUID `gorm:"type:uuid;column:escalation_ticket_id" json:"escalation_ticket_id,omitempty"`

	Details   datatypes.JSON `gorm:"type:jsonb;column:details" json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Incident) TableName() string { return "incident" }

const (
	TicketOpen   = "open"
	TicketClosed = "closed"
)

type SupportTicket struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	IncidentID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"incident_id"`
	Subject          string         `gorm:"column:subject;not null" json:"subject"`
	Status           string         `gorm:"column:status;not null;default:open;index" json:"status"`
	LastFailureCount int            `gorm:"column:last_failure_count;not null;default:0" json:"last_failure_count"`
	Data             datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SupportTicket) TableName() string { return "support_ticket" }
