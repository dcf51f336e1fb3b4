package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/period"
	"github.com/opsdeck/quotagate/internal/repository"
)

type fakeQuotaStore struct {
	mu       sync.Mutex
	quotas   map[uuid.UUID]*models.QuotaLimit
	usages   []*models.QuotaUsage
	quotaErr error
	usageErr error
}

func newFakeQuotaStore(quotas ...*models.QuotaLimit) *fakeQuotaStore {
	s := &fakeQuotaStore{quotas: make(map[uuid.UUID]*models.QuotaLimit)}
	for _, q := range quotas {
		s.quotas[q.ID] = q
	}
	return s
}

func (s *fakeQuotaStore) CreateQuota(ctx context.Context, quota *models.QuotaLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quota.ID == uuid.Nil {
		quota.ID = uuid.New()
	}
	s.quotas[quota.ID] = quota
	return nil
}

func (s *fakeQuotaStore) FindQuotaByID(ctx context.Context, id uuid.UUID) (*models.QuotaLimit, error) {
	if s.quotaErr != nil {
		return nil, s.quotaErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[id], nil
}

func (s *fakeQuotaStore) ListQuotas(ctx context.Context, filter repository.QuotaFilter) ([]models.QuotaLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.QuotaLimit
	for _, q := range s.quotas {
		out = append(out, *q)
	}
	return out, nil
}

func (s *fakeQuotaStore) UpdateQuota(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (s *fakeQuotaStore) AdvanceRenewal(ctx context.Context, id uuid.UUID, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.quotas[id]; ok {
		q.RenewalDate = next
	}
	return nil
}

func (s *fakeQuotaStore) FindLatestUsage(ctx context.Context, quotaID uuid.UUID, subjectID string) (*models.QuotaUsage, error) {
	if s.usageErr != nil {
		return nil, s.usageErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.QuotaUsage
	for _, u := range s.usages {
		if u.QuotaID != quotaID || u.SubjectID != subjectID {
			continue
		}
		if latest == nil || u.PeriodStart.After(latest.PeriodStart) {
			latest = u
		}
	}
	if latest == nil {
		return nil, nil
	}

	copied := *latest
	return &copied, nil
}

func (s *fakeQuotaStore) CreateUsage(ctx context.Context, usage *models.QuotaUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	copied := *usage
	s.usages = append(s.usages, &copied)
	return nil
}

func (s *fakeQuotaStore) SaveUsage(ctx context.Context, usage *models.QuotaUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, u := range s.usages {
		if u.ID == usage.ID {
			copied := *usage
			s.usages[i] = &copied
			return nil
		}
	}
	return errors.New("usage record not found")
}

func (s *fakeQuotaStore) ListUsage(ctx context.Context, filter repository.UsageFilter) ([]models.QuotaUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.QuotaUsage
	for _, u := range s.usages {
		out = append(out, *u)
	}
	return out, nil
}

func monthlyQuota(limit float64, hard bool) *models.QuotaLimit {
	return &models.QuotaLimit{
		ID:                       uuid.New(),
		OrganizationID:           uuid.New(),
		QuotaName:                "api-calls",
		QuotaType:                "requests",
		SubjectType:              models.SubjectOrganization,
		SubjectID:                "org-1",
		LimitValue:               limit,
		Period:                   period.Monthly,
		IsHardLimit:              hard,
		AlertThresholdPercentage: 80,
	}
}

func newUsage(store *fakeQuotaStore, at time.Time) *UsageService {
	svc := NewUsageService(store)
	svc.now = func() time.Time { return at }
	return svc
}

func TestApplyIncrement_HardLimitLadder(t *testing.T) {
	quota := monthlyQuota(100, true)
	store := newFakeQuotaStore(quota)
	svc := newUsage(store, time.Date(2025, time.June, 18, 12, 0, 0, 0, time.UTC))

	ctx := context.Background()

	report, err := svc.ApplyIncrement(ctx, quota.ID, "org-1", 50)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWithinLimit, report.Status)
	assert.Equal(t, 50, report.UsagePercentage)
	assert.True(t, report.Allowed)

	report, err = svc.ApplyIncrement(ctx, quota.ID, "org-1", 35)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNearLimit, report.Status)
	assert.Equal(t, 85, report.UsagePercentage)
	assert.True(t, report.Allowed)

	report, err = svc.ApplyIncrement(ctx, quota.ID, "org-1", 15)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, report.Status)
	assert.False(t, report.Allowed)
	assert.Equal(t, float64(0), report.ExceededBy)

	// Usage keeps growing past the cap; the record tracks the overrun.
	report, err = svc.ApplyIncrement(ctx, quota.ID, "org-1", 10)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, report.Status)
	assert.Equal(t, float64(110), report.UsageValue)
	assert.Equal(t, float64(10), report.ExceededBy)
	assert.False(t, report.Allowed)
}

func TestApplyIncrement_SoftLimitExceeds(t *testing.T) {
	quota := monthlyQuota(100, false)
	store := newFakeQuotaStore(quota)
	svc := newUsage(store, time.Date(2025, time.June, 18, 12, 0, 0, 0, time.UTC))

	report, err := svc.ApplyIncrement(context.Background(), quota.ID, "org-1", 120)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExceeded, report.Status)
	assert.Equal(t, float64(20), report.ExceededBy)
	assert.True(t, report.Allowed)
}

func TestApplyIncrement_PeriodRollover(t *testing.T) {
	quota := monthlyQuota(100, true)
	store := newFakeQuotaStore(quota)

	june := time.Date(2025, time.June, 18, 12, 0, 0, 0, time.UTC)
	svc := newUsage(store, june)

	ctx := context.Background()

	report, err := svc.ApplyIncrement(ctx, quota.ID, "org-1", 100)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, report.Status)
	assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), report.PeriodStart)
	assert.Equal(t, time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), report.PeriodEnd)

	// Into July: the blocked June record stays as history, a fresh record
	// starts the ladder over, and the renewal date moves forward.
	july := time.Date(2025, time.July, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return july }

	report, err = svc.ApplyIncrement(ctx, quota.ID, "org-1", 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWithinLimit, report.Status)
	assert.Equal(t, float64(5), report.UsageValue)
	assert.Equal(t, time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), report.PeriodStart)
	assert.True(t, report.Allowed)

	assert.Len(t, store.usages, 2)
	assert.Equal(t, july.AddDate(0, 1, 0), store.quotas[quota.ID].RenewalDate)
}

func TestApplyIncrement_Validation(t *testing.T) {
	quota := monthlyQuota(100, true)
	store := newFakeQuotaStore(quota)
	svc := newUsage(store, time.Now())

	ctx := context.Background()

	_, err := svc.ApplyIncrement(ctx, quota.ID, "org-1", 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ApplyIncrement(ctx, quota.ID, "org-1", -5)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ApplyIncrement(ctx, quota.ID, "", 1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ApplyIncrement(ctx, uuid.New(), "org-1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyIncrement_StoreFailureFailsClosed(t *testing.T) {
	quota := monthlyQuota(100, false)
	store := newFakeQuotaStore(quota)
	store.quotaErr = errors.New("connection refused")
	svc := newUsage(store, time.Now())

	_, err := svc.ApplyIncrement(context.Background(), quota.ID, "org-1", 1)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.True(t, unavailable.HardLimit)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestApplyIncrement_ConcurrentSameSubject(t *testing.T) {
	quota := monthlyQuota(1000, true)
	store := newFakeQuotaStore(quota)
	svc := newUsage(store, time.Date(2025, time.June, 18, 12, 0, 0, 0, time.UTC))

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyIncrement(ctx, quota.ID, "org-1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Increments for one subject are serialized: no update may be lost.
	usage, err := store.FindLatestUsage(ctx, quota.ID, "org-1")
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, float64(20), usage.UsageValue)
	assert.Len(t, store.usages, 1)
}

func TestCreateQuota_Validation(t *testing.T) {
	store := newFakeQuotaStore()
	at := time.Date(2025, time.June, 18, 12, 0, 0, 0, time.UTC)
	svc := newUsage(store, at)

	ctx := context.Background()

	bad := []*models.QuotaLimit{
		{QuotaName: "", SubjectID: "s", LimitValue: 10, Period: period.Monthly},
		{QuotaName: "q", SubjectID: "", LimitValue: 10, Period: period.Monthly},
		{QuotaName: "q", SubjectID: "s", LimitValue: 0, Period: period.Monthly},
		{QuotaName: "q", SubjectID: "s", LimitValue: 10, Period: "fortnightly"},
		{QuotaName: "q", SubjectID: "s", LimitValue: 10, Period: period.Monthly, AlertThresholdPercentage: 150},
	}
	for i, q := range bad {
		err := svc.CreateQuota(ctx, q)
		assert.ErrorIs(t, err, ErrValidation, "case %d", i)
	}

	good := monthlyQuota(100, true)
	good.ID = uuid.Nil
	require.NoError(t, svc.CreateQuota(ctx, good))

	// Renewal is relative to creation, not the calendar month boundary.
	assert.Equal(t, at.AddDate(0, 1, 0), good.RenewalDate)
}
