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
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptingServer runs a listener that just holds every accepted
// connection open (no protocol needed for pool-level tests), counting
// how many connections it has accepted.
type acceptingServer struct {
	ln       net.Listener
	accepted int32
}

func startAcceptingServer(t *testing.T) *acceptingServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &acceptingServer{ln: ln}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&s.accepted, 1)
			go discardReads(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

// discardReads keeps a connection alive by reading until it's closed,
// without needing to know the FastCGI protocol.
func discardReads(c net.Conn) {
	buf := make([]byte, 1024)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

func testPoolConfig() Config {
	return Config{
		MaxSize:        1,
		MaxIdle:        time.Minute,
		MaxLifetime:    time.Minute,
		ConnectTimeout: time.Second,
		AcquireTimeout: 50 * time.Millisecond,
	}
}

func TestPoolAcquireReleaseReusesIdleConnection(t *testing.T) {
	srv := startAcceptingServer(t)
	network, address := "tcp", srv.ln.Addr().String()
	p := NewPool(network, address, testPoolConfig(), nil)

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(c1, nil)

	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "idle connection should be reused rather than redialed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&srv.accepted))
}

func TestPoolAcquireTimeoutWhenSaturated(t *testing.T) {
	srv := startAcceptingServer(t)
	p := NewPool("tcp", srv.ln.Addr().String(), testPoolConfig(), nil)

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(c1, nil)

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestPoolAcquireUnblocksOnRelease(t *testing.T) {
	srv := startAcceptingServer(t)
	cfg := testPoolConfig()
	cfg.AcquireTimeout = time.Second
	p := NewPool("tcp", srv.ln.Addr().String(), cfg, nil)

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var c2 *Conn
	var acquireErr error
	go func() {
		defer wg.Done()
		c2, acquireErr = p.Acquire(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Release(c1, nil)
	wg.Wait()

	require.NoError(t, acquireErr)
	assert.NotNil(t, c2)
}

func TestPoolConnectFailedWhenUpstreamUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listens here now

	cfg := testPoolConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	p := NewPool("tcp", addr, cfg, nil)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrConnectFailed)
}

// TestPoolInUsePlusIdleNeverExceedsMaxSize is §8 property 3.
func TestPoolInUsePlusIdleNeverExceedsMaxSize(t *testing.T) {
	srv := startAcceptingServer(t)
	cfg := testPoolConfig()
	cfg.MaxSize = 4
	cfg.AcquireTimeout = 100 * time.Millisecond
	p := NewPool("tcp", srv.ln.Addr().String(), cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			p.Release(c, nil)
		}()
	}
	wg.Wait()

	inUse, idle := p.Stats()
	assert.LessOrEqual(t, inUse+idle, cfg.MaxSize)
}

func TestPoolReleaseErrRetiresConnection(t *testing.T) {
	srv := startAcceptingServer(t)
	p := NewPool("tcp", srv.ln.Addr().String(), testPoolConfig(), nil)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c, assert.AnError)

	inUse, idle := p.Stats()
	assert.Equal(t, 0, inUse)
	assert.Equal(t, 0, idle)
}
