package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/repository"
)

// PolicyAdminStore is the administrative slice of the policy store.
type PolicyAdminStore interface {
	Create(ctx context.Context, policy *models.RateLimitPolicy) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RateLimitPolicy, error)
	List(ctx context.Context, filter repository.PolicyFilter) ([]models.RateLimitPolicy, error)
	Save(ctx context.Context, policy *models.RateLimitPolicy) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// PolicyService administers rate limit policies. Policies are soft-disabled,
// never physically deleted: the lifetime counters stay auditable.
type PolicyService struct {
	store PolicyAdminStore
}

func NewPolicyService(store PolicyAdminStore) *PolicyService {
	return &PolicyService{store: store}
}

func validStrategy(s models.Strategy) bool {
	switch s {
	case models.StrategyTokenBucket, models.StrategyFixedWindow, models.StrategySlidingWindowLog:
		return true
	}
	return false
}

func validAction(a models.LimitAction) bool {
	switch a {
	case models.ActionBlock, models.ActionThrottle, models.ActionLogOnly:
		return true
	}
	return false
}

func validPolicyType(t models.PolicyType) bool {
	switch t {
	case models.PolicyPerUser, models.PolicyPerIP, models.PolicyPerEndpoint, models.PolicyGlobal:
		return true
	}
	return false
}

func (s *PolicyService) Create(ctx context.Context, policy *models.RateLimitPolicy) error {
	if policy.PolicyName == "" {
		return fmt.Errorf("policy_name is required: %w", ErrValidation)
	}
	if policy.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests_per_window must be positive: %w", ErrValidation)
	}
	if policy.WindowSizeSeconds <= 0 {
		return fmt.Errorf("window_size_seconds must be positive: %w", ErrValidation)
	}
	if policy.BurstSize < 0 {
		return fmt.Errorf("burst_size must not be negative: %w", ErrValidation)
	}

	if policy.Strategy == "" {
		policy.Strategy = models.StrategyFixedWindow
	}
	if !validStrategy(policy.Strategy) {
		return fmt.Errorf("strategy %q: %w", policy.Strategy, ErrValidation)
	}

	if policy.ActionOnLimit == "" {
		policy.ActionOnLimit = models.ActionBlock
	}
	if !validAction(policy.ActionOnLimit) {
		return fmt.Errorf("action_on_limit %q: %w", policy.ActionOnLimit, ErrValidation)
	}

	if !validPolicyType(policy.PolicyType) {
		return fmt.Errorf("policy_type %q: %w", policy.PolicyType, ErrValidation)
	}

	if policy.Priority == 0 {
		policy.Priority = 100
	}
	policy.IsActive = true
	policy.AllowedCount = 0
	policy.BlockedCount = 0

	return s.store.Create(ctx, policy)
}

// PolicyUpdate holds the mutable policy fields; nil means leave unchanged.
type PolicyUpdate struct {
	PolicyName        *string             `json:"policy_name"`
	TargetIdentifier  *string             `json:"target_identifier"`
	RequestsPerWindow *int                `json:"requests_per_window"`
	WindowSizeSeconds *int                `json:"window_size_seconds"`
	BurstSize         *int                `json:"burst_size"`
	Strategy          *models.Strategy    `json:"strategy"`
	ActionOnLimit     *models.LimitAction `json:"action_on_limit"`
	IsActive          *bool               `json:"is_active"`
	Priority          *int                `json:"priority"`
	Whitelist         []string            `json:"whitelist"`
	Blacklist         []string            `json:"blacklist"`
}

func (u *PolicyUpdate) empty() bool {
	return u.PolicyName == nil && u.TargetIdentifier == nil &&
		u.RequestsPerWindow == nil && u.WindowSizeSeconds == nil &&
		u.BurstSize == nil && u.Strategy == nil && u.ActionOnLimit == nil &&
		u.IsActive == nil && u.Priority == nil &&
		u.Whitelist == nil && u.Blacklist == nil
}

func (s *PolicyService) Update(ctx context.Context, id uuid.UUID, update PolicyUpdate) (*models.RateLimitPolicy, error) {
	if update.empty() {
		return nil, fmt.Errorf("no fields to update: %w", ErrValidation)
	}

	policy, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}

	if update.PolicyName != nil {
		policy.PolicyName = *update.PolicyName
	}
	if update.TargetIdentifier != nil {
		policy.TargetIdentifier = *update.TargetIdentifier
	}
	if update.RequestsPerWindow != nil {
		if *update.RequestsPerWindow <= 0 {
			return nil, fmt.Errorf("requests_per_window must be positive: %w", ErrValidation)
		}
		policy.RequestsPerWindow = *update.RequestsPerWindow
	}
	if update.WindowSizeSeconds != nil {
		if *update.WindowSizeSeconds <= 0 {
			return nil, fmt.Errorf("window_size_seconds must be positive: %w", ErrValidation)
		}
		policy.WindowSizeSeconds = *update.WindowSizeSeconds
	}
	if update.BurstSize != nil {
		if *update.BurstSize < 0 {
			return nil, fmt.Errorf("burst_size must not be negative: %w", ErrValidation)
		}
		policy.BurstSize = *update.BurstSize
	}
	if update.Strategy != nil {
		if !validStrategy(*update.Strategy) {
			return nil, fmt.Errorf("strategy %q: %w", *update.Strategy, ErrValidation)
		}
		policy.Strategy = *update.Strategy
	}
	if update.ActionOnLimit != nil {
		if !validAction(*update.ActionOnLimit) {
			return nil, fmt.Errorf("action_on_limit %q: %w", *update.ActionOnLimit, ErrValidation)
		}
		policy.ActionOnLimit = *update.ActionOnLimit
	}
	if update.IsActive != nil {
		policy.IsActive = *update.IsActive
	}
	if update.Priority != nil {
		policy.Priority = *update.Priority
	}
	if update.Whitelist != nil {
		policy.Whitelist = update.Whitelist
	}
	if update.Blacklist != nil {
		policy.Blacklist = update.Blacklist
	}

	if err := s.store.Save(ctx, policy); err != nil {
		return nil, err
	}

	return policy, nil
}

func (s *PolicyService) Get(ctx context.Context, id uuid.UUID) (*models.RateLimitPolicy, error) {
	policy, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return policy, nil
}

func (s *PolicyService) List(ctx context.Context, filter repository.PolicyFilter) ([]models.RateLimitPolicy, error) {
	return s.store.List(ctx, filter)
}

// Disable soft-disables the policy; admission checks start allowing with
// reason "policy inactive".
func (s *PolicyService) Disable(ctx context.Context, id uuid.UUID) error {
	policy, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if policy == nil {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}

	return s.store.SetActive(ctx, id, false)
}
