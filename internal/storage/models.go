package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditEntry is one persisted audit trail record
type AuditEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Endpoint  string    `gorm:"not null;index" json:"endpoint"`
	Method    string    `gorm:"not null" json:"method"`
	ClientID  string    `gorm:"index" json:"client_id"`
	UserID    string    `gorm:"index" json:"user_id"`
	Action    string    `gorm:"not null" json:"action"`
	Allowed   bool      `json:"allowed"`
	Mode      string    `json:"mode"`
	Detail    string    `gorm:"type:text" json:"detail"`
	Checksum  string    `gorm:"not null" json:"checksum"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns an ID when one was not provided
func (e *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// ViolationRecord is one persisted contract violation
type ViolationRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Endpoint      string    `gorm:"not null;index" json:"endpoint"`
	Method        string    `json:"method"`
	ViolationType string    `gorm:"not null;index" json:"violation_type"`
	Severity      string    `gorm:"not null;index" json:"severity"`
	Message       string    `gorm:"type:text" json:"message"`
	PenaltyPoints float64   `json:"penalty_points"`
	ClientID      string    `json:"client_id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (v *ViolationRecord) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// ScoreSnapshot is one persisted delivery score observation
type ScoreSnapshot struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Endpoint       string    `gorm:"not null;index" json:"endpoint"`
	Score          float64   `gorm:"not null" json:"score"`
	Classification string    `gorm:"not null" json:"classification"`
	HealthState    string    `json:"health_state"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (s *ScoreSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
