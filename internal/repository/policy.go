package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/storage"
)

type PolicyRepository struct {
	db *storage.Postgres
}

func NewPolicyRepository(db *storage.Postgres) *PolicyRepository {
	return &PolicyRepository{db: db}
}

func (r *PolicyRepository) Create(ctx context.Context, policy *models.RateLimitPolicy) error {
	return r.db.DB.WithContext(ctx).Create(policy).Error
}

func (r *PolicyRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.RateLimitPolicy, error) {
	var policy models.RateLimitPolicy
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&policy).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &policy, err
}

// FindActiveByOrganization returns the organization's active policies in
// evaluation order: priority ascending, creation order breaking ties.
func (r *PolicyRepository) FindActiveByOrganization(ctx context.Context, orgID uuid.UUID) ([]models.RateLimitPolicy, error) {
	var policies []models.RateLimitPolicy
	err := r.db.DB.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", orgID, true).
		Order("priority ASC, created_at ASC").
		Find(&policies).Error

	return policies, err
}

type PolicyFilter struct {
	OrganizationID *uuid.UUID
	IsActive       *bool
	PolicyType     models.PolicyType
	Limit          int
	Offset         int
}

func (r *PolicyRepository) List(ctx context.Context, filter PolicyFilter) ([]models.RateLimitPolicy, error) {
	q := r.db.DB.WithContext(ctx).Model(&models.RateLimitPolicy{})

	if filter.OrganizationID != nil {
		q = q.Where("organization_id = ?", *filter.OrganizationID)
	}
	if filter.IsActive != nil {
		q = q.Where("is_active = ?", *filter.IsActive)
	}
	if filter.PolicyType != "" {
		q = q.Where("policy_type = ?", filter.PolicyType)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var policies []models.RateLimitPolicy
	err := q.Order("priority ASC, created_at ASC").Find(&policies).Error
	return policies, err
}

// Save rewrites the whole policy row. Partial updates go through the
// service, which loads, mutates and saves; that keeps the serialized
// whitelist/blacklist columns coherent.
func (r *PolicyRepository) Save(ctx context.Context, policy *models.RateLimitPolicy) error {
	return r.db.DB.WithContext(ctx).Save(policy).Error
}

func (r *PolicyRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.RateLimitPolicy{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

// RecordDecision bumps a lifetime counter in place. The increment runs in
// SQL so concurrent checks on the same policy never lose an update.
func (r *PolicyRepository) RecordDecision(ctx context.Context, id uuid.UUID, allowed bool) error {
	column := "allowed_count"
	if !allowed {
		column = "blocked_count"
	}

	return r.db.DB.WithContext(ctx).
		Model(&models.RateLimitPolicy{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
}

func (r *PolicyRepository) CountPolicies(ctx context.Context, activeOnly bool) (int64, error) {
	q := r.db.DB.WithContext(ctx).Model(&models.RateLimitPolicy{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var count int64
	err := q.Count(&count).Error
	return count, err
}

// SumDecisions totals the lifetime counters across all policies.
func (r *PolicyRepository) SumDecisions(ctx context.Context) (allowed int64, blocked int64, err error) {
	row := struct {
		Allowed int64
		Blocked int64
	}{}

	err = r.db.DB.WithContext(ctx).
		Model(&models.RateLimitPolicy{}).
		Select("COALESCE(SUM(allowed_count), 0) as allowed, COALESCE(SUM(blocked_count), 0) as blocked").
		Scan(&row).Error

	return row.Allowed, row.Blocked, err
}
