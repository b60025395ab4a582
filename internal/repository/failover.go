package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"techtrims/internal/domain"

	"github.com/rs/zerolog"
)

// Coordinator is a lock and rate-limit backend.
type Coordinator interface {
	domain.Locker
	domain.RateLimiter
}

const recoveryInterval = time.Minute

// FailoverCoordinator prefers Redis and falls back to process-local state while Redis is down.
// Lock contention is not an outage and never triggers the fallback.
type FailoverCoordinator struct {
	primary   Coordinator
	fallback  Coordinator
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverCoordinator(primary, fallback Coordinator, logger *zerolog.Logger) *FailoverCoordinator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCoordinator{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the primary should be tried, allowing a probe once per recoveryInterval.
func (r *FailoverCoordinator) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverCoordinator) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary coordinator failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverCoordinator) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary coordinator recovered")
	}
}

func (r *FailoverCoordinator) Lock(ctx context.Context, key string) (func(), error) {
	if r.usePrimary() {
		unlock, err := r.primary.Lock(ctx, key)
		if err == nil {
			r.markUp()
			return unlock, nil
		}
		if isLockTimeout(err) {
			return nil, err
		}
		r.markDown(err)
	}
	return r.fallback.Lock(ctx, key)
}

func (r *FailoverCoordinator) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
