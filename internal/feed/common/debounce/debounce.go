// Package debounce provides the coalescing scheduler shared by the follow-set
// persistence, the full DOM sweep and the settings reload path.
package debounce

import (
	"sync"
	"time"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/clock"
)

// Scheduler runs fn once on the trailing edge of a burst of Trigger calls.
// Every Trigger restarts the delay; superseded work is dropped, never queued.
type Scheduler struct {
	clock clock.Clock
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	pending bool
	stopped bool
}

// New returns a scheduler that calls fn delay after the last Trigger.
func New(clk clock.Clock, delay time.Duration, fn func()) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{clock: clk, delay: delay, fn: fn}
}

// Trigger (re)arms the trailing timer.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending = true
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

// Flush runs pending work immediately. It reports whether anything ran.
func (s *Scheduler) Flush() bool {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return false
	}
	s.disarmLocked()
	s.mu.Unlock()
	s.fn()
	return true
}

// Pending reports whether a trailing run is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Cancel drops any pending run. Later triggers are honoured.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Stop drops any pending run and ignores later triggers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
	s.stopped = true
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	// a timer that lost the race with Trigger/Flush/Stop is stale
	if gen != s.gen || !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()
	s.fn()
}

func (s *Scheduler) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.pending = false
}
