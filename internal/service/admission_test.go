package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/ratelimit"
)

type fakePolicyStore struct {
	mu       sync.Mutex
	policies map[uuid.UUID]*models.RateLimitPolicy
	allowed  map[uuid.UUID]int
	blocked  map[uuid.UUID]int
	findErr  error
}

func newFakePolicyStore(policies ...*models.RateLimitPolicy) *fakePolicyStore {
	s := &fakePolicyStore{
		policies: make(map[uuid.UUID]*models.RateLimitPolicy),
		allowed:  make(map[uuid.UUID]int),
		blocked:  make(map[uuid.UUID]int),
	}
	for _, p := range policies {
		s.policies[p.ID] = p
	}
	return s
}

func (s *fakePolicyStore) FindByID(ctx context.Context, id uuid.UUID) (*models.RateLimitPolicy, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.policies[id], nil
}

func (s *fakePolicyStore) FindActiveByOrganization(ctx context.Context, orgID uuid.UUID) ([]models.RateLimitPolicy, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}

	var out []models.RateLimitPolicy
	for _, p := range s.policies {
		if p.OrganizationID == orgID && p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakePolicyStore) RecordDecision(ctx context.Context, id uuid.UUID, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if allowed {
		s.allowed[id]++
	} else {
		s.blocked[id]++
	}
	return nil
}

type fakeEventLog struct {
	mu       sync.Mutex
	events   []models.RequestEvent
	countErr error
}

func (l *fakeEventLog) Record(event models.RequestEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *fakeEventLog) CountSince(ctx context.Context, orgID uuid.UUID, identifier string, since time.Time) (int64, error) {
	if l.countErr != nil {
		return 0, l.countErr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var count int64
	for _, e := range l.events {
		if e.OrganizationID == orgID && e.Identifier == identifier && e.Timestamp.After(since) {
			count++
		}
	}
	return count, nil
}

func fixedWindowPolicy(limit int) *models.RateLimitPolicy {
	return &models.RateLimitPolicy{
		ID:                uuid.New(),
		OrganizationID:    uuid.New(),
		PolicyName:        "test-policy",
		PolicyType:        models.PolicyPerUser,
		RequestsPerWindow: limit,
		WindowSizeSeconds: 60,
		Strategy:          models.StrategyFixedWindow,
		ActionOnLimit:     models.ActionBlock,
		IsActive:          true,
		Priority:          100,
	}
}

func newAdmission(store *fakePolicyStore, events *fakeEventLog, failOpen bool) *AdmissionService {
	return NewAdmissionService(store, events, ratelimit.NewProvider(nil), nil, failOpen)
}

func TestCheckPolicy_AllowsUntilLimit(t *testing.T) {
	policy := fixedWindowPolicy(3)
	store := newFakePolicyStore(policy)
	svc := newAdmission(store, &fakeEventLog{}, true)

	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		decision, err := svc.CheckPolicy(ctx, policy.ID, "user-1", 1)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.NotNil(t, decision.Remaining)
		assert.Equal(t, want, *decision.Remaining)
	}

	decision, err := svc.CheckPolicy(ctx, policy.ID, "user-1", 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "rate limit exceeded", decision.Reason)
	require.NotNil(t, decision.RetryAfter)
	assert.Equal(t, 60, *decision.RetryAfter)

	// Every check lands in exactly one lifetime counter.
	assert.Equal(t, 3, store.allowed[policy.ID])
	assert.Equal(t, 1, store.blocked[policy.ID])
}

func TestCheckPolicy_NotFound(t *testing.T) {
	svc := newAdmission(newFakePolicyStore(), &fakeEventLog{}, true)

	_, err := svc.CheckPolicy(context.Background(), uuid.New(), "user-1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckPolicy_InactiveAllows(t *testing.T) {
	policy := fixedWindowPolicy(1)
	policy.IsActive = false
	store := newFakePolicyStore(policy)
	svc := newAdmission(store, &fakeEventLog{}, true)

	for i := 0; i < 3; i++ {
		decision, err := svc.CheckPolicy(context.Background(), policy.ID, "user-1", 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, "policy inactive", decision.Reason)
	}
}

func TestCheckPolicy_WhitelistBypassesCounter(t *testing.T) {
	policy := fixedWindowPolicy(1)
	policy.Whitelist = []string{"trusted"}
	store := newFakePolicyStore(policy)
	svc := newAdmission(store, &fakeEventLog{}, true)

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision, err := svc.CheckPolicy(ctx, policy.ID, "trusted", 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, "whitelisted", decision.Reason)
	}

	// Non-whitelisted traffic still consumes the counter.
	decision, err := svc.CheckPolicy(ctx, policy.ID, "other", 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = svc.CheckPolicy(ctx, policy.ID, "other", 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheckPolicy_BlacklistDenies(t *testing.T) {
	policy := fixedWindowPolicy(100)
	policy.Whitelist = []string{"both"}
	policy.Blacklist = []string{"banned", "both"}
	store := newFakePolicyStore(policy)
	svc := newAdmission(store, &fakeEventLog{}, true)

	ctx := context.Background()

	decision, err := svc.CheckPolicy(ctx, policy.ID, "banned", 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "blacklisted", decision.Reason)

	// Blacklist wins over whitelist for an identifier on both.
	decision, err = svc.CheckPolicy(ctx, policy.ID, "both", 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "blacklisted", decision.Reason)

	assert.Equal(t, 2, store.blocked[policy.ID])
}

func TestCheckPolicy_LogOnlyAdmitsBreach(t *testing.T) {
	policy := fixedWindowPolicy(1)
	policy.ActionOnLimit = models.ActionLogOnly
	store := newFakePolicyStore(policy)
	svc := newAdmission(store, &fakeEventLog{}, true)

	ctx := context.Background()

	decision, err := svc.CheckPolicy(ctx, policy.ID, "user-1", 1)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = svc.CheckPolicy(ctx, policy.ID, "user-1", 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.ActionLogOnly, decision.Action)
	assert.Equal(t, "rate limit exceeded", decision.Reason)

	// The breach still counts as blocked in the lifetime totals.
	assert.Equal(t, 1, store.blocked[policy.ID])
}

func TestCheckPolicy_StoreFailure(t *testing.T) {
	store := newFakePolicyStore()
	store.findErr = errors.New("connection refused")

	open := newAdmission(store, &fakeEventLog{}, true)
	decision, err := open.CheckPolicy(context.Background(), uuid.New(), "user-1", 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "failing open")

	closed := newAdmission(store, &fakeEventLog{}, false)
	_, err = closed.CheckPolicy(context.Background(), uuid.New(), "user-1", 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestCheckIdentifier_RequiresIdentifier(t *testing.T) {
	svc := newAdmission(newFakePolicyStore(), &fakeEventLog{}, true)

	_, err := svc.CheckIdentifier(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCheckIdentifier_DeniesAtLimit(t *testing.T) {
	orgID := uuid.New()
	policy := fixedWindowPolicy(2)
	policy.OrganizationID = orgID

	store := newFakePolicyStore(policy)
	events := &fakeEventLog{}
	svc := newAdmission(store, events, true)
	svc.now = func() time.Time { return time.Date(2025, time.June, 18, 12, 0, 0, 0, time.UTC) }

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := svc.CheckIdentifier(ctx, orgID, "user-1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	// Two events inside the trailing window: the third check is denied and
	// leaves no event behind.
	decision, err := svc.CheckIdentifier(ctx, orgID, "user-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Len(t, events.events, 2)

	// A different identifier has its own event trail.
	decision, err = svc.CheckIdentifier(ctx, orgID, "user-2")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckIdentifier_PriorityOrderAndWhitelist(t *testing.T) {
	orgID := uuid.New()

	strict := fixedWindowPolicy(1)
	strict.OrganizationID = orgID
	strict.PolicyName = "strict"
	strict.Priority = 10
	strict.Whitelist = []string{"partner"}

	loose := fixedWindowPolicy(100)
	loose.OrganizationID = orgID
	loose.PolicyName = "loose"
	loose.Priority = 20
	loose.Blacklist = []string{"partner-banned"}

	store := newFakePolicyStore(strict, loose)
	events := &fakeEventLog{}
	svc := newAdmission(store, events, true)

	ctx := context.Background()

	// Whitelisted on the strict policy: skips it without consuming, but the
	// loose policy still evaluates and its event is still logged.
	decision, err := svc.CheckIdentifier(ctx, orgID, "partner")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, store.allowed[strict.ID])
	assert.Equal(t, 1, store.allowed[loose.ID])
	assert.Len(t, events.events, 1)

	// Blacklisted anywhere in the chain is a deny.
	decision, err = svc.CheckIdentifier(ctx, orgID, "partner-banned")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "blacklisted", decision.Reason)
	require.NotNil(t, decision.PolicyID)
	assert.Equal(t, loose.ID, *decision.PolicyID)
}

func TestCheckIdentifier_NoPoliciesAllows(t *testing.T) {
	events := &fakeEventLog{}
	svc := newAdmission(newFakePolicyStore(), events, true)

	decision, err := svc.CheckIdentifier(context.Background(), uuid.New(), "user-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Len(t, events.events, 1)
}
