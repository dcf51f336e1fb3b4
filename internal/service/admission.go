package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/circuitbreaker"
	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/ratelimit"
)

// PolicyStore is the slice of the record store the evaluator needs.
type PolicyStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.RateLimitPolicy, error)
	FindActiveByOrganization(ctx context.Context, orgID uuid.UUID) ([]models.RateLimitPolicy, error)
	RecordDecision(ctx context.Context, id uuid.UUID, allowed bool) error
}

// EventLog records request events and reconstructs recent counts for the
// sliding-window log strategy.
type EventLog interface {
	Record(event models.RequestEvent)
	CountSince(ctx context.Context, orgID uuid.UUID, identifier string, since time.Time) (int64, error)
}

// LimiterProvider hands out the per-policy limiter for counter strategies.
type LimiterProvider interface {
	For(policy *models.RateLimitPolicy) ratelimit.Limiter
}

// Decision is the structured outcome of an admission check. A deny is not
// an error: it carries a machine-readable reason and a retry hint.
type Decision struct {
	Allowed    bool               `json:"allowed"`
	Reason     string             `json:"reason,omitempty"`
	Remaining  *int               `json:"remaining,omitempty"`
	ResetAt    *time.Time         `json:"reset_at,omitempty"`
	RetryAfter *int               `json:"retry_after,omitempty"`
	Action     models.LimitAction `json:"action,omitempty"`
	PolicyID   *uuid.UUID         `json:"policy_id,omitempty"`
}

// AdmissionService decides whether a unit of traffic is admitted.
//
// Policy checks fail open on store errors: a limiter outage must not become
// a denial-of-service amplifier. The decision still names the failure so
// callers never mistake it for a clean allow.
type AdmissionService struct {
	policies PolicyStore
	events   EventLog
	limiters LimiterProvider
	guard    *circuitbreaker.CircuitBreaker
	failOpen bool
	now      func() time.Time
}

func NewAdmissionService(policies PolicyStore, events EventLog, limiters LimiterProvider, guard *circuitbreaker.CircuitBreaker, failOpen bool) *AdmissionService {
	if guard == nil {
		guard = circuitbreaker.New(circuitbreaker.Config{})
	}

	return &AdmissionService{
		policies: policies,
		events:   events,
		limiters: limiters,
		guard:    guard,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// CheckPolicy runs the counter-based check for a single policy. The counter
// is policy-scoped; only the sliding-window log strategy keys by identifier.
func (s *AdmissionService) CheckPolicy(ctx context.Context, policyID uuid.UUID, identifier string, increment int) (*Decision, error) {
	if increment <= 0 {
		increment = 1
	}

	var policy *models.RateLimitPolicy
	err := s.guard.CallRead(ctx, 3, 50*time.Millisecond, func() error {
		p, ferr := s.policies.FindByID(ctx, policyID)
		if ferr != nil {
			return ferr
		}
		policy = p
		return nil
	})
	if err != nil {
		return s.storeFailure(err)
	}
	if policy == nil {
		return nil, fmt.Errorf("policy %s: %w", policyID, ErrNotFound)
	}

	if !policy.IsActive {
		s.record(ctx, policy.ID, true)
		return &Decision{Allowed: true, Reason: "policy inactive", PolicyID: &policy.ID}, nil
	}

	if policy.IsBlacklisted(identifier) {
		return s.deny(ctx, policy, "blacklisted", nil), nil
	}

	if policy.IsWhitelisted(identifier) {
		s.record(ctx, policy.ID, true)
		return &Decision{Allowed: true, Reason: "whitelisted", PolicyID: &policy.ID}, nil
	}

	lim := s.limiters.For(policy)
	key := limiterKey(policy, identifier)

	allowed, err := lim.AllowN(ctx, key, increment)
	if err != nil {
		return s.storeFailure(err)
	}

	if !allowed {
		retryAfter := policy.WindowSizeSeconds
		return s.deny(ctx, policy, "rate limit exceeded", &retryAfter), nil
	}

	remaining, _ := lim.Remaining(ctx, key)
	resetAt, _ := lim.Reset(ctx, key)

	s.record(ctx, policy.ID, true)
	s.logEvents(policy, identifier, increment)

	return &Decision{
		Allowed:   true,
		Remaining: &remaining,
		ResetAt:   &resetAt,
		PolicyID:  &policy.ID,
	}, nil
}

// CheckIdentifier evaluates an identifier against every active policy of
// the organization, in priority order (lowest value first, creation order
// breaking ties). Blacklist denies outright; whitelist skips the policy
// without counting against it; otherwise the recent event count decides.
func (s *AdmissionService) CheckIdentifier(ctx context.Context, orgID uuid.UUID, identifier string) (*Decision, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required: %w", ErrValidation)
	}

	var policies []models.RateLimitPolicy
	err := s.guard.CallRead(ctx, 3, 50*time.Millisecond, func() error {
		ps, ferr := s.policies.FindActiveByOrganization(ctx, orgID)
		if ferr != nil {
			return ferr
		}
		policies = ps
		return nil
	})
	if err != nil {
		return s.storeFailure(err)
	}

	now := s.now()

	for i := range policies {
		policy := &policies[i]

		if policy.IsBlacklisted(identifier) {
			return s.deny(ctx, policy, "blacklisted", nil), nil
		}

		if policy.IsWhitelisted(identifier) {
			continue
		}

		since := now.Add(-policy.Window())
		count, cerr := s.events.CountSince(ctx, orgID, identifier, since)
		if cerr != nil {
			return s.storeFailure(cerr)
		}

		if count >= int64(policy.RequestsPerWindow) {
			retryAfter := policy.WindowSizeSeconds
			decision := s.deny(ctx, policy, "rate limit exceeded", &retryAfter)
			if decision.Allowed {
				// log-only breach: keep walking the chain
				continue
			}
			return decision, nil
		}

		s.record(ctx, policy.ID, true)
	}

	s.events.Record(models.RequestEvent{
		Identifier:     identifier,
		OrganizationID: orgID,
		Timestamp:      now,
	})

	return &Decision{Allowed: true}, nil
}

// deny applies the policy's configured action to a limit breach. Block and
// throttle reject the request; log-only records the breach and admits it.
func (s *AdmissionService) deny(ctx context.Context, policy *models.RateLimitPolicy, reason string, retryAfter *int) *Decision {
	s.record(ctx, policy.ID, false)

	decision := &Decision{
		Reason:     reason,
		Action:     policy.ActionOnLimit,
		RetryAfter: retryAfter,
		PolicyID:   &policy.ID,
	}

	if policy.ActionOnLimit == models.ActionLogOnly {
		decision.Allowed = true
		log.Printf("Policy %s (%s): %s, admitted log-only", policy.PolicyName, policy.ID, reason)
		return decision
	}

	decision.Allowed = false
	return decision
}

func (s *AdmissionService) record(ctx context.Context, policyID uuid.UUID, allowed bool) {
	if err := s.policies.RecordDecision(ctx, policyID, allowed); err != nil {
		log.Printf("Failed to record decision for policy %s: %v", policyID, err)
	}
}

func (s *AdmissionService) logEvents(policy *models.RateLimitPolicy, identifier string, n int) {
	if policy.Strategy != models.StrategySlidingWindowLog || identifier == "" {
		return
	}

	now := s.now()
	for i := 0; i < n; i++ {
		s.events.Record(models.RequestEvent{
			Identifier:     identifier,
			OrganizationID: policy.OrganizationID,
			Timestamp:      now,
		})
	}
}

func (s *AdmissionService) storeFailure(err error) (*Decision, error) {
	if s.failOpen {
		log.Printf("Admission store failure, failing open: %v", err)
		return &Decision{Allowed: true, Reason: "store unavailable; failing open"}, nil
	}

	return nil, fmt.Errorf("admission check: %w: %w", ErrStoreUnavailable, err)
}

func limiterKey(policy *models.RateLimitPolicy, identifier string) string {
	if policy.Strategy == models.StrategySlidingWindowLog && identifier != "" {
		return policy.ID.String() + ":" + identifier
	}
	return policy.ID.String()
}
