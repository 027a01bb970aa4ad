package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunsOnEachTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock, nil)
	var fast, slow atomic.Int32
	s.Register("fast", time.Second, func(context.Context) { fast.Add(1) })
	s.Register("slow", time.Minute, func(context.Context) { slow.Add(1) })
	s.Register("broken", 0, func(context.Context) {})
	assert.Equal(t, 2, s.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return fast.Load() == int32(i+1) }, time.Second, time.Millisecond)
	}
	assert.Zero(t, slow.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestPanickingTaskKeepsRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock, nil)
	var runs atomic.Int32
	s.Register("flaky", time.Second, func(context.Context) {
		runs.Add(1)
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
}

func TestRegisterAfterStartIsIgnored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock, nil)
	s.Register("a", time.Second, func(context.Context) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	s.Register("late", time.Second, func(context.Context) {})
	assert.Equal(t, 1, s.Len())
	assert.Error(t, s.Run(ctx))
}
