package pipeline

import (
	"fmt"
	"sync"
)

// defaultMaxRetries bounds manual retries of a failed job.
const defaultMaxRetries = 3

// Session tracks bounded manual retries for one logical job. A retry
// restarts the entire pipeline from a fresh upload; the attempt counter is
// the only state carried over. Callers must Reset when starting a
// logically new job, as opposed to retrying an existing one.
type Session struct {
	mu      sync.Mutex
	attempt int
	max     int
}

// NewSession creates a retry session. max <= 0 selects the default (3).
func NewSession(max int) *Session {
	if max <= 0 {
		max = defaultMaxRetries
	}

	return &Session{max: max}
}

// Begin consumes one retry attempt. It fails with ErrRetriesExhausted once
// the attempt counter would exceed the bound.
func (s *Session) Begin() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt >= s.max {
		return s.attempt, fmt.Errorf("pipeline: %d of %d attempts used: %w", s.attempt, s.max, ErrRetriesExhausted)
	}

	s.attempt++

	return s.attempt, nil
}

// Attempt returns the number of attempts consumed so far.
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.attempt
}

// Remaining returns how many retry attempts are left.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.max - s.attempt
}

// Restore sets the attempt counter from a persisted job so the retry bound
// survives process restarts. Negative values are treated as zero.
func (s *Session) Restore(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt < 0 {
		attempt = 0
	}

	s.attempt = attempt
}

// Reset zeroes the attempt counter for a brand-new job.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempt = 0
}
