package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestEvent is an immutable log entry used to reconstruct recent request
// counts for sliding-window checks. Never mutated, pruned by retention only.
type RequestEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Identifier     string    `gorm:"index:idx_event_identifier;not null" json:"identifier"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index:idx_event_identifier" json:"organization_id"`
	Timestamp      time.Time `gorm:"index;not null" json:"timestamp"`
}

func (RequestEvent) TableName() string {
	return "request_events"
}
