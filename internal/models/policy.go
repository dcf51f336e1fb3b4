package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PolicyType string

const (
	PolicyPerUser     PolicyType = "per_user"
	PolicyPerIP       PolicyType = "per_ip"
	PolicyPerEndpoint PolicyType = "per_endpoint"
	PolicyGlobal      PolicyType = "global"
)

type Strategy string

const (
	StrategyTokenBucket      Strategy = "token_bucket"
	StrategyFixedWindow      Strategy = "fixed_window"
	StrategySlidingWindowLog Strategy = "sliding_window_log"
)

type LimitAction string

const (
	ActionBlock    LimitAction = "block"
	ActionThrottle LimitAction = "throttle"
	ActionLogOnly  LimitAction = "log_only"
)

// RateLimitPolicy is an admission rule scoped to an organization.
// AllowedCount and BlockedCount are lifetime totals for observability;
// the per-window counters live in the limiter state, never here.
type RateLimitPolicy struct {
	ID                uuid.UUID   `gorm:"type:uuid;primary_key" json:"id"`
	OrganizationID    uuid.UUID   `gorm:"type:uuid;index;not null" json:"organization_id"`
	PolicyName        string      `gorm:"not null" json:"policy_name"`
	PolicyType        PolicyType  `gorm:"not null" json:"policy_type"`
	TargetIdentifier  string      `json:"target_identifier,omitempty"`
	RequestsPerWindow int         `gorm:"not null" json:"requests_per_window"`
	WindowSizeSeconds int         `gorm:"not null" json:"window_size_seconds"`
	BurstSize         int         `gorm:"default:0" json:"burst_size"`
	Strategy          Strategy    `gorm:"default:'fixed_window'" json:"strategy"`
	ActionOnLimit     LimitAction `gorm:"default:'block'" json:"action_on_limit"`
	IsActive          bool        `gorm:"default:true" json:"is_active"`
	AllowedCount      int64       `gorm:"default:0" json:"allowed_count"`
	BlockedCount      int64       `gorm:"default:0" json:"blocked_count"`
	Priority          int         `gorm:"default:100;index" json:"priority"`
	Whitelist         []string    `gorm:"serializer:json" json:"whitelist,omitempty"`
	Blacklist         []string    `gorm:"serializer:json" json:"blacklist,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (p *RateLimitPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (RateLimitPolicy) TableName() string {
	return "rate_limit_policies"
}

func (p *RateLimitPolicy) Window() time.Duration {
	return time.Duration(p.WindowSizeSeconds) * time.Second
}

func (p *RateLimitPolicy) IsWhitelisted(identifier string) bool {
	return contains(p.Whitelist, identifier)
}

func (p *RateLimitPolicy) IsBlacklisted(identifier string) bool {
	return contains(p.Blacklist, identifier)
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
