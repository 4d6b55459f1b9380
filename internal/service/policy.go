// Package service contains the business logic layer.
//
// This file implements the policy store: per-session pricing policies with a
// read-through cache in front of the persistent store.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DukeRupert/proofsheet/internal/cache"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/metrics"
	"github.com/DukeRupert/proofsheet/internal/store"
	"golang.org/x/sync/singleflight"
)

// PolicyService defines operations on session pricing policies.
type PolicyService interface {
	// Get returns the policy for a session. Returns a not_found error wrapping
	// domain.ErrPolicyNotFound if none is configured.
	Get(ctx context.Context, sessionID string) (*domain.PricingPolicy, error)

	// Put validates and stores a policy, replacing any existing one. Invalid
	// policies are rejected and never stored. The change applies to
	// decisions made after Put returns; existing grants are untouched.
	Put(ctx context.Context, policy domain.PricingPolicy) (*domain.PricingPolicy, error)
}

type policyService struct {
	store  store.Store
	cache  cache.PolicyCache
	sfg    singleflight.Group
	logger *slog.Logger
}

// NewPolicyService creates a new PolicyService. Pass cache.NopCache{} to run
// without a cache.
func NewPolicyService(st store.Store, c cache.PolicyCache, logger *slog.Logger) PolicyService {
	return &policyService{
		store:  st,
		cache:  c,
		logger: logger,
	}
}

func (s *policyService) Get(ctx context.Context, sessionID string) (*domain.PricingPolicy, error) {
	const op = "policy.get"

	if sessionID == "" {
		return nil, domain.Invalid(op, "session ID is required")
	}

	// Concurrent misses for one session share a single store read.
	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		policy, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			metrics.PolicyCacheResult("hit")
			return policy, nil
		}
		if errors.Is(err, cache.ErrCacheMiss) {
			metrics.PolicyCacheResult("miss")
		} else {
			metrics.PolicyCacheResult("error")
			s.logger.Warn("policy cache read failed", "session_id", sessionID, "error", err)
		}

		policy, err = s.store.GetPolicy(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.PolicyNotFound(op, sessionID)
		}
		if err != nil {
			return nil, domain.Internal(err, op, "failed to load pricing policy")
		}

		if err := s.cache.Set(ctx, policy); err != nil {
			s.logger.Warn("policy cache write failed", "session_id", sessionID, "error", err)
		}
		return policy, nil
	})
	if err != nil {
		return nil, err
	}

	// Callers sharing a flight must not share the pointer.
	policy := *v.(*domain.PricingPolicy)
	return &policy, nil
}

func (s *policyService) Put(ctx context.Context, policy domain.PricingPolicy) (*domain.PricingPolicy, error) {
	const op = "policy.put"

	policy.Normalize()
	if err := policy.Validate(); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "invalid pricing policy")
	}

	saved, err := s.store.PutPolicy(ctx, &policy)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save pricing policy")
	}

	// Reads already in flight may hold the old policy. New reads start a fresh
	// flight, and the cache only accepts entries at least as new as saved.
	s.sfg.Forget(saved.SessionID)
	if err := s.cache.Set(ctx, saved); err != nil {
		s.logger.Warn("policy cache write failed", "session_id", saved.SessionID, "error", err)
		if err := s.cache.Delete(ctx, saved.SessionID); err != nil {
			s.logger.Error("policy cache invalidation failed",
				"session_id", saved.SessionID,
				"error", err,
			)
		}
	}

	s.logger.Info("pricing policy saved",
		"session_id", saved.SessionID,
		"mode", saved.Mode,
		"free_count", saved.FreeCount,
		"price_per_asset", saved.PricePerAsset,
		"currency", saved.Currency,
	)

	return saved, nil
}
