package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) Sweep(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context) error {
	if c.calls.Add(1) == 1 {
		return c.err
	}
	return nil
}

type panicSweeper struct {
	calls int
}

func (p *panicSweeper) Sweep(context.Context) error {
	p.calls++
	panic("boom")
}

func TestSweepLoop_RunsImmediatelyAndOnTicks(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("store down")}

	loop := NewSweepLoop(sweeper, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not stop")
	}
}

func TestSweepLoop_RecoversPanic(t *testing.T) {
	sweeper := &panicSweeper{}
	loop := NewSweepLoop(sweeper, time.Hour, nil)

	assert.NotPanics(t, func() {
		loop.tick(context.Background())
		loop.tick(context.Background())
	})
	assert.Equal(t, 2, sweeper.calls)
}

type tickKey struct{}

func TestSweepLoop_TickPassesContext(t *testing.T) {
	sweeper := new(mockSweeper)
	ctx := context.WithValue(context.Background(), tickKey{}, "tick")
	sweeper.On("Sweep", ctx).Return(nil).Once()

	loop := NewSweepLoop(sweeper, 0, nil)
	assert.Equal(t, 30*time.Second, loop.interval)

	loop.tick(ctx)
	sweeper.AssertExpectations(t)
}
