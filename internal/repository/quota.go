package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/storage"
)

type QuotaRepository struct {
	db *storage.Postgres
}

func NewQuotaRepository(db *storage.Postgres) *QuotaRepository {
	return &QuotaRepository{db: db}
}

func (r *QuotaRepository) CreateQuota(ctx context.Context, quota *models.QuotaLimit) error {
	return r.db.DB.WithContext(ctx).Create(quota).Error
}

func (r *QuotaRepository) FindQuotaByID(ctx context.Context, id uuid.UUID) (*models.QuotaLimit, error) {
	var quota models.QuotaLimit
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&quota).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &quota, err
}

type QuotaFilter struct {
	OrganizationID *uuid.UUID
	SubjectType    models.SubjectType
	SubjectID      string
	QuotaType      string
	Limit          int
	Offset         int
}

func (r *QuotaRepository) ListQuotas(ctx context.Context, filter QuotaFilter) ([]models.QuotaLimit, error) {
	q := r.db.DB.WithContext(ctx).Model(&models.QuotaLimit{})

	if filter.OrganizationID != nil {
		q = q.Where("organization_id = ?", *filter.OrganizationID)
	}
	if filter.SubjectType != "" {
		q = q.Where("subject_type = ?", filter.SubjectType)
	}
	if filter.SubjectID != "" {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.QuotaType != "" {
		q = q.Where("quota_type = ?", filter.QuotaType)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var quotas []models.QuotaLimit
	err := q.Order("created_at DESC").Find(&quotas).Error
	return quotas, err
}

func (r *QuotaRepository) UpdateQuota(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.QuotaLimit{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *QuotaRepository) AdvanceRenewal(ctx context.Context, id uuid.UUID, next time.Time) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.QuotaLimit{}).
		Where("id = ?", id).
		Update("renewal_date", next).Error
}

// FindLatestUsage returns the most recent usage record for the pair, stale
// or not. The accountant decides whether a period rollover is due.
func (r *QuotaRepository) FindLatestUsage(ctx context.Context, quotaID uuid.UUID, subjectID string) (*models.QuotaUsage, error) {
	var usage models.QuotaUsage
	err := r.db.DB.WithContext(ctx).
		Where("quota_id = ? AND subject_id = ?", quotaID, subjectID).
		Order("period_start DESC").
		First(&usage).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &usage, err
}

func (r *QuotaRepository) CreateUsage(ctx context.Context, usage *models.QuotaUsage) error {
	return r.db.DB.WithContext(ctx).Create(usage).Error
}

func (r *QuotaRepository) SaveUsage(ctx context.Context, usage *models.QuotaUsage) error {
	return r.db.DB.WithContext(ctx).Save(usage).Error
}

type UsageFilter struct {
	QuotaID   *uuid.UUID
	SubjectID string
	Status    models.UsageStatus
	Limit     int
	Offset    int
}

func (r *QuotaRepository) ListUsage(ctx context.Context, filter UsageFilter) ([]models.QuotaUsage, error) {
	q := r.db.DB.WithContext(ctx).Model(&models.QuotaUsage{})

	if filter.QuotaID != nil {
		q = q.Where("quota_id = ?", *filter.QuotaID)
	}
	if filter.SubjectID != "" {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var usage []models.QuotaUsage
	err := q.Order("period_start DESC").Find(&usage).Error
	return usage, err
}

func (r *QuotaRepository) CountQuotas(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.QuotaLimit{}).
		Count(&count).Error

	return count, err
}

// CountUsageByStatus counts current-period usage records in a given state.
func (r *QuotaRepository) CountUsageByStatus(ctx context.Context, status models.UsageStatus, now time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.QuotaUsage{}).
		Where("status = ? AND period_end > ?", status, now).
		Count(&count).Error

	return count, err
}
