package loop

import (
	"sync"
	"time"
)

// DefaultRefreshRate is the tick rate used when none is configured.
const DefaultRefreshRate = 60

// Scheduler produces the render cycle's ticks. Start is called once per
// mount; the returned stop function ends tick production.
type Scheduler interface {
	Start() (ticks <-chan time.Time, stop func())
}

// RefreshScheduler ticks at a fixed display refresh rate.
type RefreshScheduler struct {
	interval time.Duration
}

// NewRefreshScheduler creates a scheduler ticking hz times per second.
// Non-positive rates fall back to DefaultRefreshRate.
func NewRefreshScheduler(hz float64) *RefreshScheduler {
	if hz <= 0 {
		hz = DefaultRefreshRate
	}
	return &RefreshScheduler{interval: time.Duration(float64(time.Second) / hz)}
}

// Interval returns the time between ticks.
func (s *RefreshScheduler) Interval() time.Duration {
	return s.interval
}

func (s *RefreshScheduler) Start() (<-chan time.Time, func()) {
	t := time.NewTicker(s.interval)
	return t.C, t.Stop
}

// tickTimeout bounds how long ManualScheduler.Tick waits for the loop.
const tickTimeout = 5 * time.Second

// ManualScheduler lets tests drive ticks one at a time. Ticks are
// unbuffered: Tick returns once the loop has taken the tick, and the loop
// takes the next tick only after finishing the previous one.
type ManualScheduler struct {
	ch      chan time.Time
	started chan struct{}

	mu        sync.Mutex
	startOnce sync.Once
	starts    int
	stops     int
}

// NewManualScheduler creates a ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{
		ch:      make(chan time.Time),
		started: make(chan struct{}),
	}
}

func (s *ManualScheduler) Start() (<-chan time.Time, func()) {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
	s.startOnce.Do(func() { close(s.started) })

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.stops++
			s.mu.Unlock()
		})
	}
}

// Tick delivers one tick. It reports false if the loop did not take it in
// time.
func (s *ManualScheduler) Tick() bool {
	select {
	case s.ch <- time.Now():
		return true
	case <-time.After(tickTimeout):
		return false
	}
}

// Started is closed when Start is first called.
func (s *ManualScheduler) Started() <-chan struct{} {
	return s.started
}

// Starts returns how many times Start was called.
func (s *ManualScheduler) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Stops returns how many times a stop function was called.
func (s *ManualScheduler) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
