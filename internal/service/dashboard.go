package service

import (
	"context"
	"time"

	"github.com/opsdeck/quotagate/internal/models"
)

type PolicyAggregates interface {
	CountPolicies(ctx context.Context, activeOnly bool) (int64, error)
	SumDecisions(ctx context.Context) (allowed int64, blocked int64, err error)
}

type QuotaAggregates interface {
	CountQuotas(ctx context.Context) (int64, error)
	CountUsageByStatus(ctx context.Context, status models.UsageStatus, now time.Time) (int64, error)
}

type EventAggregates interface {
	CountAllSince(ctx context.Context, since time.Time) (int64, error)
}

type DashboardService struct {
	policies PolicyAggregates
	quotas   QuotaAggregates
	events   EventAggregates
	now      func() time.Time
}

func NewDashboardService(policies PolicyAggregates, quotas QuotaAggregates, events EventAggregates) *DashboardService {
	return &DashboardService{
		policies: policies,
		quotas:   quotas,
		events:   events,
		now:      time.Now,
	}
}

// DashboardData holds the aggregate counts for the operations view.
type DashboardData struct {
	TotalPolicies    int64   `json:"total_policies"`
	ActivePolicies   int64   `json:"active_policies"`
	TotalAllowed     int64   `json:"total_allowed"`
	TotalBlocked     int64   `json:"total_blocked"`
	BlockRate        float64 `json:"block_rate"`
	TotalQuotas      int64   `json:"total_quotas"`
	ExceededQuotas   int64   `json:"exceeded_quotas"`
	NearLimitQuotas  int64   `json:"near_limit_quotas"`
	BlockedQuotas    int64   `json:"blocked_quotas"`
	RequestsLastHour int64   `json:"requests_last_hour"`
}

func (s *DashboardService) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	data := &DashboardData{}

	total, err := s.policies.CountPolicies(ctx, false)
	if err != nil {
		return nil, err
	}
	data.TotalPolicies = total

	active, err := s.policies.CountPolicies(ctx, true)
	if err != nil {
		return nil, err
	}
	data.ActivePolicies = active

	allowed, blocked, err := s.policies.SumDecisions(ctx)
	if err != nil {
		return nil, err
	}
	data.TotalAllowed = allowed
	data.TotalBlocked = blocked

	if checks := allowed + blocked; checks > 0 {
		data.BlockRate = float64(blocked) / float64(checks) * 100
	}

	quotas, err := s.quotas.CountQuotas(ctx)
	if err != nil {
		return nil, err
	}
	data.TotalQuotas = quotas

	now := s.now()

	exceeded, err := s.quotas.CountUsageByStatus(ctx, models.StatusExceeded, now)
	if err != nil {
		return nil, err
	}
	data.ExceededQuotas = exceeded

	nearLimit, err := s.quotas.CountUsageByStatus(ctx, models.StatusNearLimit, now)
	if err != nil {
		return nil, err
	}
	data.NearLimitQuotas = nearLimit

	blockedQuotas, err := s.quotas.CountUsageByStatus(ctx, models.StatusBlocked, now)
	if err != nil {
		return nil, err
	}
	data.BlockedQuotas = blockedQuotas

	events, err := s.events.CountAllSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	data.RequestsLastHour = events

	return data, nil
}
