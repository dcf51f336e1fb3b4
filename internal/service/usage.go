package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/period"
	"github.com/opsdeck/quotagate/internal/repository"
)

// QuotaStore is the slice of the record store the accountant needs.
type QuotaStore interface {
	CreateQuota(ctx context.Context, quota *models.QuotaLimit) error
	FindQuotaByID(ctx context.Context, id uuid.UUID) (*models.QuotaLimit, error)
	ListQuotas(ctx context.Context, filter repository.QuotaFilter) ([]models.QuotaLimit, error)
	UpdateQuota(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	AdvanceRenewal(ctx context.Context, id uuid.UUID, next time.Time) error
	FindLatestUsage(ctx context.Context, quotaID uuid.UUID, subjectID string) (*models.QuotaUsage, error)
	CreateUsage(ctx context.Context, usage *models.QuotaUsage) error
	SaveUsage(ctx context.Context, usage *models.QuotaUsage) error
	ListUsage(ctx context.Context, filter repository.UsageFilter) ([]models.QuotaUsage, error)
}

// UsageReport is the outcome of applying a consumption increment.
type UsageReport struct {
	QuotaID         uuid.UUID          `json:"quota_id"`
	SubjectID       string             `json:"subject_id"`
	UsageValue      float64            `json:"usage_value"`
	LimitValue      float64            `json:"limit_value"`
	UsagePercentage int                `json:"usage_percentage"`
	Status          models.UsageStatus `json:"status"`
	ExceededBy      float64            `json:"exceeded_by"`
	Allowed         bool               `json:"allowed"`
	PeriodStart     time.Time          `json:"period_start"`
	PeriodEnd       time.Time          `json:"period_end"`
}

// UsageService applies consumption increments to quotas and tracks the
// per-period status ladder. Increments for one (quota, subject) pair are
// serialized behind a per-key lock; distinct pairs run fully in parallel.
type UsageService struct {
	quotas QuotaStore
	locks  keyedMutex
	now    func() time.Time
}

func NewUsageService(quotas QuotaStore) *UsageService {
	return &UsageService{
		quotas: quotas,
		now:    time.Now,
	}
}

func (s *UsageService) CreateQuota(ctx context.Context, quota *models.QuotaLimit) error {
	if quota.QuotaName == "" {
		return fmt.Errorf("quota_name is required: %w", ErrValidation)
	}
	if quota.SubjectID == "" {
		return fmt.Errorf("subject_id is required: %w", ErrValidation)
	}
	if quota.LimitValue <= 0 {
		return fmt.Errorf("limit_value must be positive: %w", ErrValidation)
	}
	if !period.Valid(quota.Period) {
		return fmt.Errorf("period %q: %w", quota.Period, ErrValidation)
	}
	if quota.AlertThresholdPercentage < 0 || quota.AlertThresholdPercentage > 100 {
		return fmt.Errorf("alert_threshold_percentage must be 0-100: %w", ErrValidation)
	}

	next, err := period.RenewAt(quota.Period, s.now())
	if err != nil {
		return fmt.Errorf("period %q: %w", quota.Period, ErrValidation)
	}
	quota.RenewalDate = next

	return s.quotas.CreateQuota(ctx, quota)
}

func (s *UsageService) GetQuota(ctx context.Context, id uuid.UUID) (*models.QuotaLimit, error) {
	quota, err := s.quotas.FindQuotaByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		return nil, fmt.Errorf("quota %s: %w", id, ErrNotFound)
	}
	return quota, nil
}

func (s *UsageService) ListQuotas(ctx context.Context, filter repository.QuotaFilter) ([]models.QuotaLimit, error) {
	return s.quotas.ListQuotas(ctx, filter)
}

func (s *UsageService) UpdateQuota(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if v, ok := updates["limit_value"]; ok {
		if limit, ok := v.(float64); !ok || limit <= 0 {
			return fmt.Errorf("limit_value must be positive: %w", ErrValidation)
		}
	}

	quota, err := s.quotas.FindQuotaByID(ctx, id)
	if err != nil {
		return err
	}
	if quota == nil {
		return fmt.Errorf("quota %s: %w", id, ErrNotFound)
	}

	return s.quotas.UpdateQuota(ctx, id, updates)
}

func (s *UsageService) ListUsage(ctx context.Context, filter repository.UsageFilter) ([]models.QuotaUsage, error) {
	return s.quotas.ListUsage(ctx, filter)
}

// ApplyIncrement adds consumption to the current-period usage record for
// (quotaID, subjectID), creating it lazily and rolling the period over when
// the previous record has expired. The stale record is kept as history.
func (s *UsageService) ApplyIncrement(ctx context.Context, quotaID uuid.UUID, subjectID string, increment float64) (*UsageReport, error) {
	if increment <= 0 {
		return nil, fmt.Errorf("usage_increment must be positive: %w", ErrValidation)
	}
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required: %w", ErrValidation)
	}

	quota, err := s.quotas.FindQuotaByID(ctx, quotaID)
	if err != nil {
		// Without the quota record we cannot tell hard from soft; the
		// safe default for accounting is to fail closed.
		return nil, &UnavailableError{HardLimit: true, Err: err}
	}
	if quota == nil {
		return nil, fmt.Errorf("quota %s: %w", quotaID, ErrNotFound)
	}

	unlock := s.locks.lock(quotaID.String() + ":" + subjectID)
	defer unlock()

	usage, err := s.quotas.FindLatestUsage(ctx, quotaID, subjectID)
	if err != nil {
		return nil, &UnavailableError{HardLimit: quota.IsHardLimit, Err: err}
	}

	now := s.now()
	fresh := false

	if usage == nil || !now.Before(usage.PeriodEnd) {
		bounds, perr := period.Bucket(quota.Period, now)
		if perr != nil {
			return nil, fmt.Errorf("quota %s has period %q: %w", quotaID, quota.Period, perr)
		}

		usage = &models.QuotaUsage{
			QuotaID:     quotaID,
			SubjectID:   subjectID,
			PeriodStart: bounds.Start,
			PeriodEnd:   bounds.End,
			LimitValue:  quota.LimitValue,
		}
		fresh = true

		if next, rerr := period.RenewAt(quota.Period, now); rerr == nil {
			if aerr := s.quotas.AdvanceRenewal(ctx, quotaID, next); aerr != nil {
				log.Printf("Failed to advance renewal for quota %s: %v", quotaID, aerr)
			}
		}
	}

	usage.UsageValue += increment
	usage.UsagePercentage = int(math.Round(usage.UsageValue / usage.LimitValue * 100))
	usage.Status = statusFor(usage.UsageValue, usage.LimitValue, usage.UsagePercentage, quota)
	usage.ExceededBy = math.Max(0, usage.UsageValue-usage.LimitValue)
	usage.LastUpdatedAt = now

	if fresh {
		err = s.quotas.CreateUsage(ctx, usage)
	} else {
		err = s.quotas.SaveUsage(ctx, usage)
	}
	if err != nil {
		return nil, &UnavailableError{HardLimit: quota.IsHardLimit, Err: err}
	}

	return &UsageReport{
		QuotaID:         quotaID,
		SubjectID:       subjectID,
		UsageValue:      usage.UsageValue,
		LimitValue:      usage.LimitValue,
		UsagePercentage: usage.UsagePercentage,
		Status:          usage.Status,
		ExceededBy:      usage.ExceededBy,
		Allowed:         usage.Status != models.StatusBlocked,
		PeriodStart:     usage.PeriodStart,
		PeriodEnd:       usage.PeriodEnd,
	}, nil
}

// statusFor is the forward-only ladder: within_limit, near_limit at the
// alert threshold, then exceeded or blocked at the cap depending on
// hardness. A new period starts the ladder over.
func statusFor(usage, limit float64, pct int, quota *models.QuotaLimit) models.UsageStatus {
	if usage >= limit {
		if quota.IsHardLimit {
			return models.StatusBlocked
		}
		return models.StatusExceeded
	}
	if pct >= quota.AlertThresholdPercentage {
		return models.StatusNearLimit
	}
	return models.StatusWithinLimit
}
