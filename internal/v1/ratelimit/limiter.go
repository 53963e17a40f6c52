// Package ratelimit enforces the per-source, per-verb request quotas
// from §4.I: each inbound message verb gets its own token bucket keyed by
// (remote address, verb), backed by Redis when available and falling
// back to an in-process memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/config"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/logging"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds one token-bucket limiter per known verb plus a
// fallback for anything unlisted, all sharing one store.
type RateLimiter struct {
	store    limiter.Store
	limiters map[string]*limiter.Limiter
	fallback *limiter.Limiter
}

// NewRateLimiter builds a RateLimiter from cfg.RateLimits. Each rule's
// WindowMs/Max is expressed directly as a limiter.Rate, rather than via
// limiter.NewRateFromFormatted's "N-unit" strings, since several windows
// here (e.g. 60000ms) don't map cleanly onto that format's fixed units.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "anim5s:ratelimit:"})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "rate limiter using memory store")
	}

	limiters := make(map[string]*limiter.Limiter, len(cfg.RateLimits))
	for verb, rule := range cfg.RateLimits {
		limiters[verb] = limiter.New(store, rateFromRule(rule))
	}

	fallback, ok := limiters["default"]
	if !ok {
		fallback = limiter.New(store, limiter.Rate{Period: 10 * time.Second, Limit: 50})
	}

	return &RateLimiter{store: store, limiters: limiters, fallback: fallback}, nil
}

func rateFromRule(rule config.RateRule) limiter.Rate {
	return limiter.Rate{
		Period: time.Duration(rule.WindowMs) * time.Millisecond,
		Limit:  rule.Max,
	}
}

// Allow checks whether remoteAddr may perform verb right now. On the
// underlying store failing, it fails open (allowed=true) so a transient
// Redis outage never blocks every connection. retryAfterMs is only
// meaningful when allowed is false.
func (rl *RateLimiter) Allow(ctx context.Context, remoteAddr, verb string) (allowed bool, retryAfterMs int64, err error) {
	lim, ok := rl.limiters[verb]
	if !ok {
		lim = rl.fallback
	}

	key := remoteAddr + ":" + verb
	lctx, err := lim.Get(ctx, key)
	if err != nil {
		logging.Warn(ctx, "rate limit store failed, failing open", zap.String("verb", verb), zap.Error(err))
		return true, 0, err
	}

	if lctx.Reached {
		metrics.RateLimitExceededTotal.WithLabelValues(verb).Inc()
		retryAfterMs = (lctx.Reset - time.Now().Unix()) * 1000
		if retryAfterMs < 0 {
			retryAfterMs = 0
		}
		return false, retryAfterMs, nil
	}

	return true, 0, nil
}
