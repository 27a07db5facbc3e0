package service

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/core"
	"github.com/layer-3/sessionauth/ports"
	"github.com/rs/zerolog"
)

// RateLimit caps requests per (salt, alias) inside Window. Max <= 0 disables the window.
type RateLimit struct {
	Window time.Duration
	Max    int
}

// DefaultRateLimits are the 30s, 10 minute and 24h windows
func DefaultRateLimits() []RateLimit {
	return []RateLimit{
		{Window: 30 * time.Second, Max: 3},
		{Window: 10 * time.Minute, Max: 10},
		{Window: 24 * time.Hour, Max: 20},
	}
}

// RateLimiter applies rate limit policy on top of a RateLimitStore
type RateLimiter struct {
	store  ports.RateLimitStore
	limits []RateLimit
	logger zerolog.Logger
}

// NewRateLimiter creates a limiter for limits
func NewRateLimiter(store ports.RateLimitStore, limits []RateLimit, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{store: store, limits: limits, logger: logger}
}

// Check records the request in every window and fails with KindRateLimited when any cap is exceeded.
// Store failures are logged and let through; the ledger stays authoritative.
func (r *RateLimiter) Check(ctx context.Context, salt common.Hash, alias string) error {
	for _, limit := range r.limits {
		if limit.Max <= 0 || limit.Window <= 0 {
			continue
		}
		count, err := r.store.RecordAndCount(ctx, salt, alias, limit.Window)
		if err != nil {
			r.logger.Warn().Err(err).Str("alias", alias).Dur("window", limit.Window).Msg("rate limit store unavailable")
			continue
		}
		if count > limit.Max {
			return core.ErrRateLimited
		}
	}
	return nil
}
