package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"techtrims/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCoordinator(t *testing.T) {
	repo := NewMemoryCoordinator()
	ctx := context.Background()

	t.Run("LockIsExclusive", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			inside  int
			maxSeen int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := repo.Lock(ctx, "barber:1")
				require.NoError(t, err)
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
	})

	t.Run("LockTimeout", func(t *testing.T) {
		unlock, err := repo.Lock(ctx, "barber:2")
		require.NoError(t, err)
		defer unlock()

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = repo.Lock(waitCtx, "barber:2")
		assert.ErrorIs(t, err, domain.ErrLockTimeout)
	})

	t.Run("DoubleUnlockIsSafe", func(t *testing.T) {
		unlock, err := repo.Lock(ctx, "barber:3")
		require.NoError(t, err)
		unlock()
		unlock()

		unlock, err = repo.Lock(ctx, "barber:3")
		require.NoError(t, err)
		unlock()
	})

	t.Run("RateLimit", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		repo.now = func() time.Time { return now }

		allowed, _ := repo.CheckRateLimit(ctx, "checkin:1", 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, "checkin:1", 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, "checkin:1", 2, time.Second)
		assert.False(t, allowed)

		now = now.Add(time.Second + 10*time.Millisecond)
		allowed, _ = repo.CheckRateLimit(ctx, "checkin:1", 2, time.Second)
		assert.True(t, allowed)
	})
}
