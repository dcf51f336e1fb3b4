package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/quotagate/internal/period"
)

type SubjectType string

const (
	SubjectOrganization SubjectType = "organization"
	SubjectUser         SubjectType = "user"
	SubjectAPIKey       SubjectType = "api_key"
)

// QuotaLimit is a cap on cumulative resource consumption over a renewing period.
type QuotaLimit struct {
	ID                       uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	OrganizationID           uuid.UUID     `gorm:"type:uuid;index;not null" json:"organization_id"`
	QuotaName                string        `gorm:"not null" json:"quota_name"`
	QuotaType                string        `gorm:"not null" json:"quota_type"`
	SubjectType              SubjectType   `gorm:"not null" json:"subject_type"`
	SubjectID                string        `gorm:"index;not null" json:"subject_id"`
	LimitValue               float64       `gorm:"not null" json:"limit_value"`
	Unit                     string        `gorm:"default:'requests'" json:"unit"`
	Period                   period.Period `gorm:"not null" json:"period"`
	RenewalDate              time.Time     `json:"renewal_date"`
	IsHardLimit              bool          `gorm:"default:false" json:"is_hard_limit"`
	AlertThresholdPercentage int           `gorm:"default:80" json:"alert_threshold_percentage"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

func (q *QuotaLimit) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.AlertThresholdPercentage == 0 {
		q.AlertThresholdPercentage = 80
	}
	return nil
}

func (QuotaLimit) TableName() string {
	return "quota_limits"
}
