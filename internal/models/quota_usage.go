package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UsageStatus string

const (
	StatusWithinLimit UsageStatus = "within_limit"
	StatusNearLimit   UsageStatus = "near_limit"
	StatusExceeded    UsageStatus = "exceeded"
	StatusBlocked     UsageStatus = "blocked"
)

// QuotaUsage is the consumption record for one (quota, subject) pair within
// a single period. One row per (quota_id, subject_id, period_start); a new
// period gets a new row, stale rows are kept as history.
type QuotaUsage struct {
	ID              uuid.UUID   `gorm:"type:uuid;primary_key" json:"id"`
	QuotaID         uuid.UUID   `gorm:"type:uuid;uniqueIndex:idx_quota_subject_period;not null" json:"quota_id"`
	SubjectID       string      `gorm:"uniqueIndex:idx_quota_subject_period;not null" json:"subject_id"`
	PeriodStart     time.Time   `gorm:"uniqueIndex:idx_quota_subject_period;not null" json:"period_start"`
	PeriodEnd       time.Time   `gorm:"not null" json:"period_end"`
	UsageValue      float64     `gorm:"default:0" json:"usage_value"`
	LimitValue      float64     `gorm:"not null" json:"limit_value"`
	UsagePercentage int         `gorm:"default:0" json:"usage_percentage"`
	Status          UsageStatus `gorm:"default:'within_limit';index" json:"status"`
	ExceededBy      float64     `gorm:"default:0" json:"exceeded_by"`
	LastUpdatedAt   time.Time   `json:"last_updated_at"`
}

func (u *QuotaUsage) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (QuotaUsage) TableName() string {
	return "quota_usage"
}
