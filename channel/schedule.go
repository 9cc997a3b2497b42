package channel

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultSchedule is the reconnect delay sequence; the last step repeats.
var DefaultSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// Schedule is a fixed, capped step sequence usable anywhere a
// backoff.BackOff is accepted.
type Schedule struct {
	mu      sync.Mutex
	steps   []time.Duration
	attempt int
}

var _ backoff.BackOff = (*Schedule)(nil)

func NewSchedule(steps ...time.Duration) *Schedule {
	if len(steps) == 0 {
		steps = DefaultSchedule
	}
	return &Schedule{steps: append([]time.Duration(nil), steps...)}
}

func (s *Schedule) NextBackOff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.steps[min(s.attempt, len(s.steps)-1)]
	s.attempt++
	return d
}

func (s *Schedule) Reset() {
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
}

// Attempt is the number of delays handed out since the last Reset.
func (s *Schedule) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}
