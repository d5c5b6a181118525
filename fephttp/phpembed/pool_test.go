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

package phpembed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzsys/fe-php/fephttp/internal/cgienv"
)

// fakeEngine is a test double exercising the pool's lifecycle and job
// dispatch without a real PHP runtime.
type fakeEngine struct {
	startups   atomic.Int32
	shutdowns  atomic.Int32
	executions atomic.Int32
	execute    func(scriptFilename string, vars []cgienv.Var, stdin []byte) ([]byte, error)
}

func (f *fakeEngine) ModuleStartup(string) error { f.startups.Add(1); return nil }
func (f *fakeEngine) ModuleShutdown()            { f.shutdowns.Add(1) }
func (f *fakeEngine) ThreadInit() error          { return nil }
func (f *fakeEngine) ThreadShutdown()            {}
func (f *fakeEngine) Execute(scriptFilename string, vars []cgienv.Var, stdin []byte) ([]byte, error) {
	f.executions.Add(1)
	if f.execute != nil {
		return f.execute(scriptFilename, vars, stdin)
	}
	return []byte("\r\nok"), nil
}

func TestWorkerPoolStartIsIdempotentAndRunsModuleStartupOnce(t *testing.T) {
	eng := &fakeEngine{}
	p := NewWorkerPool(eng, Config{WorkerPoolSize: 3, QueueSize: 4}, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	assert.Equal(t, int32(1), eng.startups.Load())
}

func TestWorkerPoolSubmitRunsJobAndReturnsResponse(t *testing.T) {
	eng := &fakeEngine{}
	p := NewWorkerPool(eng, Config{WorkerPoolSize: 2, QueueSize: 4}, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	out, err := p.Submit(context.Background(), "/var/www/index.php", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("\r\nok"), out)
}

func TestWorkerPoolSubmitBeforeStartIsRuntimeNotReady(t *testing.T) {
	eng := &fakeEngine{}
	p := NewWorkerPool(eng, Config{WorkerPoolSize: 1, QueueSize: 1}, nil)

	_, err := p.Submit(context.Background(), "/x.php", nil, nil)
	assert.ErrorIs(t, err, ErrRuntimeNotReady)
}

func TestWorkerPoolQueueFullWithBackpressure(t *testing.T) {
	release := make(chan struct{})
	eng := &fakeEngine{execute: func(string, []cgienv.Var, []byte) ([]byte, error) {
		<-release
		return []byte("\r\nok"), nil
	}}
	p := NewWorkerPool(eng, Config{WorkerPoolSize: 1, QueueSize: 1, BackpressureEnabled: true}, nil)
	require.NoError(t, p.Start(context.Background()))
	defer func() {
		close(release)
		p.Stop()
	}()

	// First submit occupies the one worker; it will block on release.
	go p.Submit(context.Background(), "/a.php", nil, nil)
	time.Sleep(20 * time.Millisecond)

	// Second fills the queue (size 1).
	go p.Submit(context.Background(), "/b.php", nil, nil)
	time.Sleep(20 * time.Millisecond)

	// Third should now observe a full queue.
	_, err := p.Submit(context.Background(), "/c.php", nil, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
}

// TestWorkerPoolRecyclesWorkerAfterMaxRequests is §8 property 12's counterpart:
// a worker going Dying after worker_max_requests still leaves the pool
// able to process the next job (a replacement is spawned).
func TestWorkerPoolRecyclesWorkerAfterMaxRequests(t *testing.T) {
	eng := &fakeEngine{}
	p := NewWorkerPool(eng, Config{WorkerPoolSize: 1, QueueSize: 4, WorkerMaxRequests: 1}, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := p.Submit(context.Background(), "/a.php", nil, nil)
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), "/b.php", nil, nil)
	require.NoError(t, err, "pool must keep serving after a worker recycles")

	assert.GreaterOrEqual(t, eng.executions.Load(), int32(2))
}

// TestWorkerPoolSurvivesExecutePanic is §8 property 12: dropping/failing
// one job never prevents the pool from processing the next (the worker
// that panicked goes Dying and its replacement runs the next job).
func TestWorkerPoolSurvivesExecutePanic(t *testing.T) {
	first := true
	eng := &fakeEngine{execute: func(string, []cgienv.Var, []byte) ([]byte, error) {
		if first {
			first = false
			panic("simulated PHP fatal")
		}
		return []byte("\r\nrecovered"), nil
	}}
	p := NewWorkerPool(eng, Config{WorkerPoolSize: 1, QueueSize: 4}, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	_, err := p.Submit(context.Background(), "/a.php", nil, nil)
	require.Error(t, err)
	var execErr *ExecuteFailedError
	require.ErrorAs(t, err, &execErr)

	out, err := p.Submit(context.Background(), "/b.php", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("\r\nrecovered"), out)
}

func TestWorkerPoolStopRunsModuleShutdownOnce(t *testing.T) {
	eng := &fakeEngine{}
	p := NewWorkerPool(eng, Config{WorkerPoolSize: 2, QueueSize: 2}, nil)
	require.NoError(t, p.Start(context.Background()))

	p.Stop()
	p.Stop()
	assert.Equal(t, int32(1), eng.shutdowns.Load())
}
