package reaction

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameScheduler_RunsWhilePredicateHolds(t *testing.T) {
	mock := clock.NewMock()
	var active atomic.Bool
	active.Store(true)
	var rendered atomic.Int64

	s := NewFrameScheduler(mock, 30, active.Load, func(ctx context.Context) error {
		rendered.Add(1)
		return nil
	})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return rendered.Load() == 1 }, time.Second, time.Millisecond, "first frame renders immediately")
	assert.True(t, s.Running())

	for i := int64(2); i <= 5; i++ {
		mock.Add(time.Second / 30)
		require.Eventually(t, func() bool { return rendered.Load() == i }, time.Second, time.Millisecond)
	}
	require.Eventually(t, func() bool { return s.Frames() == 5 }, time.Second, time.Millisecond)

	active.Store(false)
	mock.Add(time.Second / 30)
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, time.Millisecond)
	assert.Equal(t, int64(5), rendered.Load(), "no frame once the predicate fails")
}

func TestFrameScheduler_StartRequiresPredicate(t *testing.T) {
	var rendered atomic.Int64
	s := NewFrameScheduler(clock.NewMock(), 30, func() bool { return false }, func(ctx context.Context) error {
		rendered.Add(1)
		return nil
	})
	s.Start(context.Background())
	s.Kick(context.Background())

	assert.False(t, s.Running())
	assert.Zero(t, rendered.Load())
	s.Stop()
}

func TestFrameScheduler_SingleLoop(t *testing.T) {
	mock := clock.NewMock()
	var inFlight, maxInFlight atomic.Int64
	s := NewFrameScheduler(mock, 30, func() bool { return true }, func(ctx context.Context) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		return nil
	})
	ctx := context.Background()

	for range 5 {
		s.Kick(ctx)
		s.Start(ctx)
		s.Kick(ctx)
		mock.Add(time.Second / 30)
	}
	require.Eventually(t, func() bool { return s.Frames() >= 5 }, time.Second, time.Millisecond)
	s.Stop()

	assert.False(t, s.Running())
	assert.Equal(t, int64(1), maxInFlight.Load(), "two frame loops ran at once")
}

func TestFrameScheduler_StopCancelsContext(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	s := NewFrameScheduler(clock.NewMock(), 30, func() bool { return true }, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	s.Start(context.Background())
	<-started
	s.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("Stop returned before the frame loop exited")
	}
	assert.False(t, s.Running())
}

func TestFrameScheduler_FrameErrorsKeepRunning(t *testing.T) {
	mock := clock.NewMock()
	s := NewFrameScheduler(mock, 10, func() bool { return true }, func(ctx context.Context) error {
		return assert.AnError
	})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Frames() == 1 }, time.Second, time.Millisecond)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool { return s.Frames() == 2 }, time.Second, time.Millisecond)
	assert.True(t, s.Running())
}

func TestFrameScheduler_KickWhileLoopIsExiting(t *testing.T) {
	mock := clock.NewMock()
	var active atomic.Bool
	active.Store(true)
	var s *FrameScheduler

	// The loop reads false, then the owner flips the state and kicks before
	// the loop has returned.
	var checks atomic.Int64
	predicate := func() bool {
		v := active.Load()
		if !v && checks.Add(1) == 1 {
			active.Store(true)
			s.Kick(context.Background())
		}
		return v
	}
	s = NewFrameScheduler(mock, 30, predicate, func(ctx context.Context) error { return nil })
	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return s.Frames() == 1 }, time.Second, time.Millisecond)

	active.Store(false)
	mock.Add(time.Second / 30)
	require.Eventually(t, func() bool { return s.Frames() == 2 }, time.Second, time.Millisecond, "the kicked loop keeps rendering")
	assert.True(t, s.Running())
	assert.Equal(t, int64(1), checks.Load())
}
