package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"techtrims/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) Lock(ctx context.Context, key string) (func(), error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func (m *mockCoordinator) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverCoordinator(t *testing.T) {
	primary := new(mockCoordinator)
	fallback := new(mockCoordinator)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverCoordinator(primary, fallback, &logger)
	ctx := context.Background()
	noop := func() {}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Lock", ctx, "barber:1").Return(noop, nil).Once()

		unlock, err := repo.Lock(ctx, "barber:1")
		assert.NoError(t, err)
		assert.NotNil(t, unlock)
		primary.AssertExpectations(t)
	})

	t.Run("ContentionDoesNotFailOver", func(t *testing.T) {
		timeout := fmt.Errorf("%w: barber:1", domain.ErrLockTimeout)
		primary.On("Lock", ctx, "barber:1").Return(nil, timeout).Once()

		_, err := repo.Lock(ctx, "barber:1")
		assert.ErrorIs(t, err, domain.ErrLockTimeout)
		assert.False(t, repo.isDown.Load())
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "checkin:1", 3, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "checkin:1", 3, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "checkin:1", 3, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Lock", ctx, "barber:2").Return(noop, nil).Once()

		_, err := repo.Lock(ctx, "barber:2")
		assert.NoError(t, err)
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "Lock", ctx, "barber:2")
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.mu.Lock()
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		repo.mu.Unlock()

		primary.On("Lock", ctx, "barber:3").Return(noop, nil).Once()

		_, err := repo.Lock(ctx, "barber:3")
		assert.NoError(t, err)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})
}

func TestFailoverCoordinator_RealBackends(t *testing.T) {
	s, client := newTestRedis(t)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverCoordinator(NewRedisCoordinator(client, time.Second), NewMemoryCoordinator(), &logger)
	ctx := context.Background()

	unlock, err := repo.Lock(ctx, "barber:9")
	assert.NoError(t, err)
	unlock()

	s.Close()
	unlock, err = repo.Lock(ctx, "barber:9")
	assert.NoError(t, err)
	assert.True(t, repo.isDown.Load())
	unlock()
}
