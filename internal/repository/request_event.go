package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/storage"
)

type RequestEventRepository struct {
	db *storage.Postgres
}

func NewRequestEventRepository(db *storage.Postgres) *RequestEventRepository {
	return &RequestEventRepository{db: db}
}

func (r *RequestEventRepository) Create(ctx context.Context, event *models.RequestEvent) error {
	return r.db.DB.WithContext(ctx).Create(event).Error
}

// Inserts multiple events (for the batched recorder)
func (r *RequestEventRepository) CreateBatch(ctx context.Context, events []models.RequestEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// CountSince counts events for an identifier within an organization from
// the given instant. The retention sweep keeps this bounded.
func (r *RequestEventRepository) CountSince(ctx context.Context, orgID uuid.UUID, identifier string, since time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestEvent{}).
		Where("organization_id = ? AND identifier = ? AND timestamp >= ?", orgID, identifier, since).
		Count(&count).Error

	return count, err
}

func (r *RequestEventRepository) CountAllSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestEvent{}).
		Where("timestamp >= ?", since).
		Count(&count).Error

	return count, err
}

// Deletes events older than the retention horizon
func (r *RequestEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestEvent{})

	return result.RowsAffected, result.Error
}
