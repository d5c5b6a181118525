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
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool errors (§4.6).
var (
	ErrConnectFailed  = errors.New("fastcgi: connect failed")
	ErrAcquireTimeout = errors.New("fastcgi: acquire timeout")
	ErrCircuitOpen    = errors.New("fastcgi: circuit open")
	ErrPoolClosed     = errors.New("fastcgi: pool closed")
)

// Config mirrors pool.* (§6).
type Config struct {
	MaxSize             int
	MaxIdle             time.Duration
	MaxLifetime         time.Duration
	ConnectTimeout      time.Duration
	AcquireTimeout      time.Duration
	RetireAfterRequests int // 0 disables the request-count retire threshold
	Breaker             BreakerConfig

	// HealthCheckOnConnect sends a GET_VALUES probe (§4.4's
	// GET_VALUES/GET_VALUES_RESULT types, unused by the core request
	// path otherwise) right after dialing, so a newly opened socket that
	// accepted the TCP/Unix handshake but isn't actually speaking FastCGI
	// is rejected before any caller sends a real request on it.
	HealthCheckOnConnect bool
}

// healthCheckValues are the standard FastCGI variable names a responder
// is required to answer GET_VALUES for.
var healthCheckValues = []string{"FCGI_MAX_CONNS", "FCGI_MAX_REQS"}

// Pool is a FastCGI connection pool with an embedded circuit breaker
// (§4.6, §4.7). All state is guarded by a single mutex; a condition
// variable is signaled on release so a waiting acquirer wakes without
// polling. The lock is never held across I/O (dialing, writing, reading):
// only across the pointer-shuffling of the idle queue and in_use counter.
type Pool struct {
	network, address string
	cfg              Config

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*Conn // FIFO: push back, pop front, for fairness (§5)
	inUse   int
	closed  bool
	breaker *breaker
	log     *zap.Logger
}

// NewPool builds a Pool that dials network/address on demand. A nil
// logger is replaced with a no-op one.
func NewPool(network, address string, cfg Config, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		network: network,
		address: address,
		cfg:     cfg,
		breaker: newBreaker(cfg.Breaker),
		log:     log,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire implements §4.6's acquire algorithm.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}

		now := time.Now()
		if !p.breaker.allowAcquire(now) {
			p.mu.Unlock()
			p.log.Warn("acquire rejected: circuit open")
			return nil, ErrCircuitOpen
		}

		if conn := p.popFreshIdleLocked(now); conn != nil {
			p.inUse++
			p.mu.Unlock()
			return conn, nil
		}

		if p.inUse < p.cfg.MaxSize {
			p.inUse++
			p.mu.Unlock()
			conn, err := dial(p.network, p.address, p.cfg.ConnectTimeout)
			if err == nil && p.cfg.HealthCheckOnConnect {
				if _, verr := conn.GetValues(healthCheckValues); verr != nil {
					conn.Close()
					err = verr
				}
			}
			if err != nil {
				p.mu.Lock()
				p.inUse--
				failNow := time.Now()
				wasOpen := p.breaker.state == breakerOpen
				p.breaker.onRelease(false, failNow)
				if !wasOpen && p.breaker.state == breakerOpen {
					p.log.Warn("circuit breaker opened", zap.Int("consecutive_failures", p.cfg.Breaker.FailureThreshold))
				}
				p.cond.Broadcast()
				p.mu.Unlock()
				p.log.Warn("dial failed", zap.Error(err))
				return nil, ErrConnectFailed
			}
			return conn, nil
		}

		deadline := now.Add(p.cfg.AcquireTimeout)
		if !p.waitUntilLocked(deadline) {
			p.mu.Unlock()
			return nil, ErrAcquireTimeout
		}
		// loop again: re-check breaker/idle/in_use under the same lock
	}
}

// popFreshIdleLocked pops from the idle queue, retiring anything past
// MaxIdle or MaxLifetime, until it finds a usable connection or the queue
// is empty. Caller holds p.mu.
func (p *Pool) popFreshIdleLocked(now time.Time) *Conn {
	for len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		if p.cfg.MaxIdle > 0 && c.idleFor() > p.cfg.MaxIdle {
			c.Close()
			p.log.Debug("retiring idle connection: exceeded max_idle_secs")
			continue
		}
		if p.cfg.MaxLifetime > 0 && c.age() > p.cfg.MaxLifetime {
			c.Close()
			p.log.Debug("retiring idle connection: exceeded max_lifetime_secs")
			continue
		}
		return c
	}
	return nil
}

// waitUntilLocked blocks on p.cond until either signaled or deadline
// passes, returning false on timeout. Caller holds p.mu; Wait releases it
// and reacquires it before returning.
func (p *Pool) waitUntilLocked(deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	p.cond.Wait()
	return time.Now().Before(deadline)
}

// Release implements §4.6's release algorithm: outcome nil means Ok,
// non-nil means Err (retire unconditionally).
func (p *Pool) Release(conn *Conn, outcome error) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.cond.Broadcast()

	p.inUse--
	wasOpen := p.breaker.state == breakerOpen
	p.breaker.onRelease(outcome == nil, now)
	if !wasOpen && p.breaker.state == breakerOpen {
		p.log.Warn("circuit breaker opened", zap.Int("consecutive_failures", p.cfg.Breaker.FailureThreshold))
	} else if wasOpen && p.breaker.state == breakerClosed {
		p.log.Info("circuit breaker closed")
	}

	if outcome != nil {
		conn.Close()
		p.log.Debug("retiring connection: release error", zap.Error(outcome))
		return
	}
	if p.cfg.MaxLifetime > 0 && conn.age() > p.cfg.MaxLifetime {
		conn.Close()
		return
	}
	if p.cfg.RetireAfterRequests > 0 && conn.requests >= p.cfg.RetireAfterRequests {
		conn.Close()
		return
	}
	p.idle = append(p.idle, conn)
}

// Retire closes conn and accounts for it without pushing it back to idle,
// used by the backend when it must abandon a connection outside the
// normal Ok/Err release path (§5 Cancellation: "retire that connection;
// do not return it to the pool").
func (p *Pool) Retire(conn *Conn) {
	conn.Close()
	p.mu.Lock()
	p.inUse--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Close closes every idle connection and marks the pool closed; acquires
// in flight finish normally, but no new ones are admitted.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil
	p.cond.Broadcast()
	return nil
}

// Stats reports the current in_use/idle counts, used by tests asserting
// §8 property 3 (in_use + idle <= max_size).
func (p *Pool) Stats() (inUse, idleCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse, len(p.idle)
}
