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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nzsys/fe-php/fephttp/internal/cgienv"
)

// Failures surfaced to the async facade (§4.8).
var (
	ErrRuntimeNotReady = errors.New("phpembed: runtime not ready")
	ErrQueueFull       = errors.New("phpembed: job queue full")
)

// ExecuteFailedError wraps a runtime failure from inside a worker.
type ExecuteFailedError struct {
	Message string
}

func (e *ExecuteFailedError) Error() string { return "phpembed: execute failed: " + e.Message }

// workerState is the per-worker state machine (§4.8 "Per-thread
// lifecycle", "Panic / fatal safety").
type workerState int32

const (
	workerInitializing workerState = iota
	workerIdle
	workerRunning
	workerDying
)

// Config mirrors the php.* keys (§6).
type Config struct {
	WorkerPoolSize      int
	WorkerMaxRequests   int // 0 disables recycling
	QueueSize           int
	BackpressureEnabled bool
	LibraryPath         string
	DocumentRoot        string
}

// WorkerPool owns N worker goroutines executing PhpJobs against a single
// process-wide Engine (§4.8). The goroutines are not locked to OS
// threads, and a worker's ThreadInit runs on a different goroutine from
// the one that then executes its jobs.
type WorkerPool struct {
	engine Engine
	cfg    Config
	log    *zap.Logger

	jobs chan *PhpJob
	done chan struct{}

	startupOnce  sync.Once
	shutdownOnce sync.Once
	startupErr   error

	ready atomic.Bool
	wg    sync.WaitGroup

	nextWorkerID atomic.Int64
}

// NewWorkerPool builds a pool bound to engine. Start must be called
// before any job is submitted. A nil logger is replaced with a no-op one.
func NewWorkerPool(engine Engine, cfg Config, log *zap.Logger) *WorkerPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		engine: engine,
		cfg:    cfg,
		log:    log,
		jobs:   make(chan *PhpJob, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start performs the process-wide ModuleStartup exactly once, then spawns
// WorkerPoolSize workers and blocks until every one of them has completed
// ThreadInit (§4.8: "the pool only reports ready after every worker has
// signaled"). Re-entry is forbidden by startupOnce, matching the
// init_once semantics of the process-wide PHP state.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.startupOnce.Do(func() {
		if err := p.engine.ModuleStartup(p.cfg.LibraryPath); err != nil {
			p.startupErr = err
			p.log.Error("php module startup failed", zap.Error(err))
			return
		}
		p.log.Info("php module startup complete", zap.String("library_path", p.cfg.LibraryPath))

		eg, egCtx := errgroup.WithContext(ctx)
		readyBarriers := make([]*worker, p.cfg.WorkerPoolSize)
		for i := range readyBarriers {
			w := &worker{id: int(p.nextWorkerID.Add(1)), pool: p}
			w.state.Store(int32(workerInitializing))
			readyBarriers[i] = w
			eg.Go(func() error {
				if err := p.engine.ThreadInit(); err != nil {
					return fmt.Errorf("worker %d: %w", w.id, err)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			p.startupErr = err
			p.log.Error("worker thread init failed", zap.Error(err))
			return
		}
		_ = egCtx

		for _, w := range readyBarriers {
			w.state.Store(int32(workerIdle))
			p.wg.Add(1)
			go w.loop()
		}
		p.ready.Store(true)
		p.log.Info("worker pool ready", zap.Int("worker_pool_size", p.cfg.WorkerPoolSize))
	})
	return p.startupErr
}

// Stop closes the pool's done channel, waits for every worker to exit
// (each idle worker fails still-queued jobs with ErrRuntimeNotReady), then
// runs ModuleShutdown exactly once. The job channel itself is not closed.
func (p *WorkerPool) Stop() {
	p.shutdownOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.engine.ModuleShutdown()
		p.log.Info("php module shutdown complete")
	})
}

// Submit enqueues a job and blocks for its response, implementing the
// "offloader pushes the job and awaits the one-shot response channel"
// hand-off (§4.8). With BackpressureEnabled, a saturated queue fails
// immediately with ErrQueueFull instead of blocking the caller.
func (p *WorkerPool) Submit(ctx context.Context, scriptFilename string, vars []cgienv.Var, stdin []byte) ([]byte, error) {
	if !p.ready.Load() {
		return nil, ErrRuntimeNotReady
	}
	job := newJob(scriptFilename, vars, stdin)

	if p.cfg.BackpressureEnabled {
		select {
		case p.jobs <- job:
		default:
			return nil, ErrQueueFull
		}
	} else {
		select {
		case p.jobs <- job:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrRuntimeNotReady
		}
	}

	select {
	case res := <-job.reply:
		return res.raw, res.err
	case <-ctx.Done():
		// The job is already queued or running; its result is discarded
		// when job.reply is never read again (§5: "cancellation cannot
		// interrupt a running PHP script ... its response is discarded").
		return nil, ctx.Err()
	}
}

// spawnReplacement starts one new worker in place of one that just went
// Dying, keeping the pool at its configured size (§4.8 step 7: "the pool
// spawns a replacement"). If ThreadInit fails the pool runs one worker
// short rather than panicking; that failure is the operator's signal that
// the runtime has degraded.
func (p *WorkerPool) spawnReplacement() {
	select {
	case <-p.done:
		return // pool is stopping; no replacement needed
	default:
	}
	w := &worker{id: int(p.nextWorkerID.Add(1)), pool: p}
	w.state.Store(int32(workerInitializing))
	if err := p.engine.ThreadInit(); err != nil {
		p.log.Error("replacement worker thread init failed", zap.Int("worker_id", w.id), zap.Error(err))
		return
	}
	w.state.Store(int32(workerIdle))
	p.wg.Add(1)
	go w.loop()
	p.log.Debug("worker recycled", zap.Int("worker_id", w.id))
}

// worker is one dedicated goroutine executing jobs against the shared
// Engine (§4.8 "N dedicated blocking OS threads").
type worker struct {
	id              int
	pool            *WorkerPool
	state           atomic.Int32
	requestsHandled int
}

func (w *worker) loop() {
	defer w.pool.wg.Done()
	defer w.pool.engine.ThreadShutdown()

	for {
		select {
		case job, ok := <-w.pool.jobs:
			if !ok {
				return
			}
			w.run(job)
			if w.state.Load() == int32(workerDying) {
				w.pool.spawnReplacement()
				return
			}
		case <-w.pool.done:
			w.drainPending()
			return
		}
	}
}

// drainPending fails every job still sitting in the channel once the pool
// is stopping, so Submit callers waiting on job.reply don't hang forever.
func (w *worker) drainPending() {
	for {
		select {
		case job, ok := <-w.pool.jobs:
			if !ok {
				return
			}
			job.reply <- jobResult{err: ErrRuntimeNotReady}
		default:
			return
		}
	}
}

// run executes one job with panic safety (§4.8 "Panic / fatal safety"):
// a recovered panic finalizes the request as an ExecuteFailedError and
// marks the worker Dying rather than taking down the process.
func (w *worker) run(job *PhpJob) {
	w.state.Store(int32(workerRunning))
	defer func() {
		if r := recover(); r != nil {
			w.pool.log.Error("worker panic recovered", zap.Int("worker_id", w.id), zap.Any("panic", r))
			job.reply <- jobResult{err: &ExecuteFailedError{Message: fmt.Sprintf("panic: %v", r)}}
			w.state.Store(int32(workerDying))
		}
	}()

	raw, err := w.pool.engine.Execute(job.ScriptFilename, job.Vars, job.Stdin)
	if err != nil {
		w.pool.log.Warn("script execution failed", zap.Int("worker_id", w.id), zap.String("script", job.ScriptFilename), zap.Error(err))
		job.reply <- jobResult{err: &ExecuteFailedError{Message: err.Error()}}
		w.state.Store(int32(workerDying))
		return
	}

	job.reply <- jobResult{raw: raw}
	w.requestsHandled++

	if w.pool.cfg.WorkerMaxRequests > 0 && w.requestsHandled >= w.pool.cfg.WorkerMaxRequests {
		w.state.Store(int32(workerDying))
		return
	}
	w.state.Store(int32(workerIdle))
}
