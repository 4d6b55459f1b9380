// Package cache provides a read-through cache for session pricing policies.
package cache

import (
	"context"
	"errors"

	"github.com/DukeRupert/proofsheet/internal/domain"
)

// PolicyCache stores pricing policies by session ID.
type PolicyCache interface {
	Get(ctx context.Context, sessionID string) (*domain.PricingPolicy, error)
	Set(ctx context.Context, policy *domain.PricingPolicy) error
	Delete(ctx context.Context, sessionID string) error
}

// ErrCacheMiss is returned by Get when no entry exists.
var ErrCacheMiss = errors.New("cache miss")

// NopCache never stores anything. It is used when Redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.PricingPolicy, error) {
	return nil, ErrCacheMiss
}

func (NopCache) Set(context.Context, *domain.PricingPolicy) error { return nil }

func (NopCache) Delete(context.Context, string) error { return nil }
