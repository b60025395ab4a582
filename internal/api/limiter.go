package api

import (
	"sync"

	"techtrims/internal/config"

	"golang.org/x/time/rate"
)

// keyLimiter hands out one token bucket per client key.
type keyLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	cfg      config.APIRateLimitConfig
}

func newKeyLimiter(cfg config.APIRateLimitConfig) *keyLimiter {
	return &keyLimiter{cfg: cfg}
}

// Allow reports whether key may proceed. A non-positive RPS disables limiting.
func (l *keyLimiter) Allow(key string) bool {
	if l.cfg.RPS <= 0 {
		return true
	}
	return l.get(key).Allow()
}

func (l *keyLimiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}
