// Package backoff computes reconnect delays that grow with consecutive failures.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Scheduler yields min(Base*2^n, Cap) plus a uniform jitter in [0, Jitter).
type Scheduler struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration

	// Rand returns a value in [0, n). Defaults to math/rand/v2 when nil.
	Rand func(n int64) int64
}

// New returns a scheduler with the given parameters and the default random source.
func New(base, ceiling, jitter time.Duration) *Scheduler {
	return &Scheduler{Base: base, Cap: ceiling, Jitter: jitter}
}

// Delay returns the wait before the reconnect that follows failures consecutive failures.
func (s *Scheduler) Delay(failures int) time.Duration {
	return s.Exponential(failures) + s.jitter()
}

// Exponential is the deterministic part of Delay.
func (s *Scheduler) Exponential(failures int) time.Duration {
	if s.Base <= 0 {
		return 0
	}
	if failures < 0 {
		failures = 0
	}

	d := s.Base
	for i := 0; i < failures; i++ {
		// stop doubling once the cap is reached so huge counts cannot overflow
		if s.Cap > 0 && d >= s.Cap {
			break
		}
		if d > maxDuration/2 {
			d = maxDuration
			break
		}
		d *= 2
	}
	if s.Cap > 0 && d > s.Cap {
		d = s.Cap
	}
	return d
}

func (s *Scheduler) jitter() time.Duration {
	if s.Jitter <= 0 {
		return 0
	}
	r := s.Rand
	if r == nil {
		r = rand.Int64N
	}
	return time.Duration(r(int64(s.Jitter)))
}

const maxDuration = time.Duration(1<<63 - 1)
