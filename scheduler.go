package reaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/facebookincubator/go-belt/tool/logger"
)

// FrameScheduler drives a per-frame callback at a fixed rate for as long as
// its continue predicate holds. At most one loop runs at a time.
type FrameScheduler struct {
	clock          clock.Clock
	interval       time.Duration
	shouldContinue func() bool
	frame          func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	frames atomic.Uint64

	// exitMu orders the loop's last predicate check against Kick.
	exitMu sync.Mutex
	exited bool
}

// NewFrameScheduler creates a stopped scheduler running frame fps times per
// second while shouldContinue returns true.
func NewFrameScheduler(clk clock.Clock, fps int, shouldContinue func() bool, frame func(ctx context.Context) error) *FrameScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if fps <= 0 {
		fps = 30
	}
	return &FrameScheduler{
		clock:          clk,
		interval:       time.Second / time.Duration(fps),
		shouldContinue: shouldContinue,
		frame:          frame,
	}
}

// Start stops any running loop, waits for it to exit, and starts a new one
// if the predicate holds.
func (s *FrameScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.startLocked(ctx)
}

// Kick starts the loop unless it is already running.
func (s *FrameScheduler) Kick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningLocked() {
		return
	}
	s.stopLocked()
	s.startLocked(ctx)
}

func (s *FrameScheduler) startLocked(ctx context.Context) {
	if !s.shouldContinue() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.exitMu.Lock()
	s.exited = false
	s.exitMu.Unlock()
	s.cancel = cancel
	s.done = done
	go s.loop(ctx, done)
}

// Stop cancels the loop and waits for it to exit.
func (s *FrameScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *FrameScheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Running reports whether a loop is active.
func (s *FrameScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *FrameScheduler) runningLocked() bool {
	if s.done == nil {
		return false
	}
	s.exitMu.Lock()
	exited := s.exited
	s.exitMu.Unlock()
	if exited {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Frames returns the number of frames rendered so far.
func (s *FrameScheduler) Frames() uint64 {
	return s.frames.Load()
}

// finish marks the loop as exiting unless the predicate turned true again.
// A Kick that saw the loop running before this point is picked up by the
// re-check; one that comes after starts a new loop.
func (s *FrameScheduler) finish() bool {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	if s.shouldContinue() {
		return false
	}
	s.exited = true
	return true
}

func (s *FrameScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		if !s.shouldContinue() && s.finish() {
			logger.Debugf(ctx, "frame loop finished after %d frames", s.frames.Load())
			return
		}
		if err := s.frame(ctx); err != nil {
			logger.Debugf(ctx, "rendering frame: %v", err)
		}
		s.frames.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
