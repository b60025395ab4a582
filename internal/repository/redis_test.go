package repository

import (
	"context"
	"testing"
	"time"

	"techtrims/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisCoordinator_Lock(t *testing.T) {
	s, client := newTestRedis(t)
	repo := NewRedisCoordinator(client, 5*time.Second)
	ctx := context.Background()

	t.Run("AcquireAndRelease", func(t *testing.T) {
		unlock, err := repo.Lock(ctx, "barber:1")
		require.NoError(t, err)
		assert.True(t, s.Exists(lockPrefix+"barber:1"))

		unlock()
		assert.False(t, s.Exists(lockPrefix+"barber:1"))
	})

	t.Run("ContentionTimesOut", func(t *testing.T) {
		unlock, err := repo.Lock(ctx, "barber:2")
		require.NoError(t, err)
		defer unlock()

		waitCtx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
		defer cancel()
		_, err = repo.Lock(waitCtx, "barber:2")
		assert.ErrorIs(t, err, domain.ErrLockTimeout)
	})

	t.Run("StaleUnlockKeepsNewHolder", func(t *testing.T) {
		unlock, err := repo.Lock(ctx, "barber:3")
		require.NoError(t, err)

		// lease expires and someone else takes the lock
		s.FastForward(6 * time.Second)
		unlock2, err := repo.Lock(ctx, "barber:3")
		require.NoError(t, err)

		unlock()
		assert.True(t, s.Exists(lockPrefix+"barber:3"))
		unlock2()
		assert.False(t, s.Exists(lockPrefix+"barber:3"))
	})

	t.Run("WaiterGetsLockAfterRelease", func(t *testing.T) {
		unlock, err := repo.Lock(ctx, "barber:4")
		require.NoError(t, err)

		acquired := make(chan error, 1)
		go func() {
			waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			u, err := repo.Lock(waitCtx, "barber:4")
			if err == nil {
				u()
			}
			acquired <- err
		}()

		time.Sleep(50 * time.Millisecond)
		unlock()
		assert.NoError(t, <-acquired)
	})
}

func TestRedisCoordinator_RateLimit(t *testing.T) {
	s, client := newTestRedis(t)
	repo := NewRedisCoordinator(client, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := repo.CheckRateLimit(ctx, "checkin:1:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := repo.CheckRateLimit(ctx, "checkin:1:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	s.FastForward(time.Minute + time.Second)
	allowed, err = repo.CheckRateLimit(ctx, "checkin:1:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisCoordinator_Unavailable(t *testing.T) {
	s, client := newTestRedis(t)
	repo := NewRedisCoordinator(client, time.Second)
	require.NoError(t, repo.Ping(context.Background()))
	s.Close()

	_, err := repo.Lock(context.Background(), "barber:1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockTimeout)

	_, err = repo.CheckRateLimit(context.Background(), "k", 1, time.Second)
	assert.Error(t, err)

	assert.Error(t, repo.Ping(context.Background()))
}
