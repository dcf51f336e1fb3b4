package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/repository"
)

type fakePolicyAdminStore struct {
	policies map[uuid.UUID]*models.RateLimitPolicy
}

func newFakePolicyAdminStore() *fakePolicyAdminStore {
	return &fakePolicyAdminStore{policies: make(map[uuid.UUID]*models.RateLimitPolicy)}
}

func (s *fakePolicyAdminStore) Create(ctx context.Context, policy *models.RateLimitPolicy) error {
	if policy.ID == uuid.Nil {
		policy.ID = uuid.New()
	}
	copied := *policy
	s.policies[policy.ID] = &copied
	return nil
}

func (s *fakePolicyAdminStore) FindByID(ctx context.Context, id uuid.UUID) (*models.RateLimitPolicy, error) {
	p, ok := s.policies[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *fakePolicyAdminStore) List(ctx context.Context, filter repository.PolicyFilter) ([]models.RateLimitPolicy, error) {
	var out []models.RateLimitPolicy
	for _, p := range s.policies {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakePolicyAdminStore) Save(ctx context.Context, policy *models.RateLimitPolicy) error {
	copied := *policy
	s.policies[policy.ID] = &copied
	return nil
}

func (s *fakePolicyAdminStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if p, ok := s.policies[id]; ok {
		p.IsActive = active
	}
	return nil
}

func validPolicy() *models.RateLimitPolicy {
	return &models.RateLimitPolicy{
		OrganizationID:    uuid.New(),
		PolicyName:        "default",
		PolicyType:        models.PolicyPerUser,
		RequestsPerWindow: 100,
		WindowSizeSeconds: 60,
	}
}

func TestPolicyCreate_DefaultsAndValidation(t *testing.T) {
	store := newFakePolicyAdminStore()
	svc := NewPolicyService(store)
	ctx := context.Background()

	policy := validPolicy()
	require.NoError(t, svc.Create(ctx, policy))

	assert.Equal(t, models.StrategyFixedWindow, policy.Strategy)
	assert.Equal(t, models.ActionBlock, policy.ActionOnLimit)
	assert.Equal(t, 100, policy.Priority)
	assert.True(t, policy.IsActive)

	cases := map[string]func(*models.RateLimitPolicy){
		"empty name":      func(p *models.RateLimitPolicy) { p.PolicyName = "" },
		"zero limit":      func(p *models.RateLimitPolicy) { p.RequestsPerWindow = 0 },
		"negative limit":  func(p *models.RateLimitPolicy) { p.RequestsPerWindow = -1 },
		"zero window":     func(p *models.RateLimitPolicy) { p.WindowSizeSeconds = 0 },
		"negative burst":  func(p *models.RateLimitPolicy) { p.BurstSize = -1 },
		"bad strategy":    func(p *models.RateLimitPolicy) { p.Strategy = "leaky_bucket" },
		"bad action":      func(p *models.RateLimitPolicy) { p.ActionOnLimit = "tarpit" },
		"bad policy type": func(p *models.RateLimitPolicy) { p.PolicyType = "per_planet" },
	}
	for name, mutate := range cases {
		p := validPolicy()
		mutate(p)
		assert.ErrorIs(t, svc.Create(ctx, p), ErrValidation, name)
	}
}

func TestPolicyUpdate(t *testing.T) {
	store := newFakePolicyAdminStore()
	svc := NewPolicyService(store)
	ctx := context.Background()

	policy := validPolicy()
	require.NoError(t, svc.Create(ctx, policy))

	limit := 500
	strategy := models.StrategyTokenBucket
	updated, err := svc.Update(ctx, policy.ID, PolicyUpdate{
		RequestsPerWindow: &limit,
		Strategy:          &strategy,
		Whitelist:         []string{"trusted"},
	})
	require.NoError(t, err)
	assert.Equal(t, 500, updated.RequestsPerWindow)
	assert.Equal(t, models.StrategyTokenBucket, updated.Strategy)
	assert.Equal(t, []string{"trusted"}, updated.Whitelist)
	// Untouched fields survive the partial update.
	assert.Equal(t, "default", updated.PolicyName)

	_, err = svc.Update(ctx, policy.ID, PolicyUpdate{})
	assert.ErrorIs(t, err, ErrValidation)

	bad := 0
	_, err = svc.Update(ctx, policy.ID, PolicyUpdate{RequestsPerWindow: &bad})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Update(ctx, uuid.New(), PolicyUpdate{RequestsPerWindow: &limit})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPolicyDisable(t *testing.T) {
	store := newFakePolicyAdminStore()
	svc := NewPolicyService(store)
	ctx := context.Background()

	policy := validPolicy()
	require.NoError(t, svc.Create(ctx, policy))
	require.NoError(t, svc.Disable(ctx, policy.ID))

	got, err := svc.Get(ctx, policy.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, svc.Disable(ctx, uuid.New()), ErrNotFound)
}
