// Copyright 2024 The fe-php Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fastcgi

import "time"

// breakerState is the three-state machine from §4.7.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// BreakerConfig mirrors pool.circuit_breaker.* (§6).
type BreakerConfig struct {
	Enable              bool
	FailureThreshold    int
	SuccessThreshold    int
	Timeout             time.Duration
	HalfOpenMaxRequests int
}

// breaker implements §4.7. It holds no lock of its own: the Pool guards
// every call with its own mutex ("a lock shared with the pool to keep the
// two consistent"), so every method here assumes the caller already holds
// it.
type breaker struct {
	cfg BreakerConfig

	state                breakerState
	openUntil            time.Time
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenProbes       int
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{cfg: cfg, state: breakerClosed}
}

// allowAcquire implements acquire step 1 (§4.6). It may itself perform the
// Open -> HalfOpen transition when the timeout has elapsed, per §4.7.
func (b *breaker) allowAcquire(now time.Time) bool {
	if !b.cfg.Enable {
		return true
	}
	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Before(b.openUntil) {
			return false
		}
		b.state = breakerHalfOpen
		b.halfOpenProbes = 1
		return true
	case breakerHalfOpen:
		if b.halfOpenProbes >= b.cfg.HalfOpenMaxRequests {
			return false
		}
		b.halfOpenProbes++
		return true
	default:
		return false
	}
}

// onRelease implements §4.7's per-state release handling.
func (b *breaker) onRelease(success bool, now time.Time) {
	if !b.cfg.Enable {
		return
	}
	switch b.state {
	case breakerClosed:
		if success {
			b.consecutiveFailures = 0
			return
		}
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	case breakerHalfOpen:
		if b.halfOpenProbes > 0 {
			b.halfOpenProbes--
		}
		if !success {
			b.trip(now)
			return
		}
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.reset()
		}
	case breakerOpen:
		// A release can race an Open transition (e.g. a probe completes
		// just as another failure trips the breaker again); nothing to do.
	}
}

func (b *breaker) trip(now time.Time) {
	b.state = breakerOpen
	b.openUntil = now.Add(b.cfg.Timeout)
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenProbes = 0
}

func (b *breaker) reset() {
	b.state = breakerClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenProbes = 0
}
