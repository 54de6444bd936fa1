package ratelimit

import (
	"time"

	"github.com/relaysms/contact-gateway/pkg/logger"
	"github.com/relaysms/contact-gateway/pkg/redis"
)

const keyPrefix = "ratelimit:sms:"

// Result is the outcome of a rate-limit check. ResetAt is only set
// when the request was denied.
type Result struct {
	Allowed bool
	ResetAt time.Time
}

// Limiter caps sends per phone number over a fixed window. The counter
// lives in a shared injected store so every gateway instance observes
// the same counts.
type Limiter struct {
	store  redis.RedisAdapter
	limit  int64
	window time.Duration
}

func NewLimiter(store redis.RedisAdapter, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  int64(limit),
		window: window,
	}
}

// CheckAndIncrement consumes one slot for phone and reports whether the
// send may proceed. Increment-and-check runs as one pipelined store
// operation, so concurrent callers never lose increments; the one-slot
// race at the boundary is tolerated.
func (l *Limiter) CheckAndIncrement(phone string) (Result, error) {
	key := keyPrefix + phone

	count, err := l.store.IncrementWithExpiry(key, l.window)
	if err != nil {
		return Result{}, err
	}

	if count <= l.limit {
		return Result{Allowed: true}, nil
	}

	ttl, err := l.store.TTL(key)
	if err != nil || ttl <= 0 {
		if err != nil {
			logger.Warn("rate limiter: ttl lookup failed", "phone", phone, "error", err)
		}
		// The window length is the upper bound when the TTL is unreadable.
		ttl = l.window
	}

	return Result{Allowed: false, ResetAt: time.Now().Add(ttl)}, nil
}
