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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enable:              true,
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	}
}

// TestBreakerOpensAfterFailureThreshold is §8 property 10.
func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, b.allowAcquire(now))
		b.onRelease(false, now)
	}

	assert.Equal(t, breakerOpen, b.state)
	assert.False(t, b.allowAcquire(now), "acquire must fail fast without opening a socket")
}

func TestBreakerTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()
	for i := 0; i < 3; i++ {
		b.allowAcquire(now)
		b.onRelease(false, now)
	}
	later := now.Add(testBreakerConfig().Timeout + time.Millisecond)

	assert.True(t, b.allowAcquire(later))
	assert.Equal(t, breakerHalfOpen, b.state)
}

// TestBreakerHalfOpenAdmitsOnlyHalfOpenMax is §8 property 11.
func TestBreakerHalfOpenAdmitsOnlyHalfOpenMax(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()
	for i := 0; i < 3; i++ {
		b.allowAcquire(now)
		b.onRelease(false, now)
	}
	later := now.Add(testBreakerConfig().Timeout + time.Millisecond)

	assert.True(t, b.allowAcquire(later))  // triggers Open -> HalfOpen, probes=1
	assert.True(t, b.allowAcquire(later))  // probes=2, reaches HalfOpenMaxRequests
	assert.False(t, b.allowAcquire(later)) // third concurrent probe rejected
}

func TestBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	b.state = breakerHalfOpen
	now := time.Now()

	b.onRelease(true, now)
	assert.Equal(t, breakerHalfOpen, b.state)
	b.onRelease(true, now)
	assert.Equal(t, breakerClosed, b.state)
}

func TestBreakerHalfOpenFailureReopensImmediately(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	b.state = breakerHalfOpen
	now := time.Now()

	b.onRelease(false, now)
	assert.Equal(t, breakerOpen, b.state)
}

func TestBreakerDisabledAlwaysAllows(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.Enable = false
	b := newBreaker(cfg)
	now := time.Now()
	for i := 0; i < 10; i++ {
		assert.True(t, b.allowAcquire(now))
		b.onRelease(false, now)
	}
}
