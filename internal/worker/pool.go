// Package worker runs pipeline executions on a bounded pool fed by a task
// queue. One run occupies one worker for its full duration; the queue
// rejects submissions when full rather than blocking the caller.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// ErrQueueFull is returned when the task queue cannot accept another run.
var ErrQueueFull = errors.New("task queue is full")

// ErrStopped is returned when submitting to a pool that has shut down.
var ErrStopped = errors.New("worker pool stopped")

// RunFunc executes one pipeline run. Cancellation of the job's context
// must propagate into in-flight external calls.
type RunFunc func(ctx context.Context, run *types.PipelineRun)

// Pool is a fixed-size worker pool over a bounded queue.
type Pool struct {
	run     RunFunc
	jobs    chan *types.PipelineRun
	workers int

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	stopped bool

	wg sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(workers, queueSize int, run RunFunc) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		run:     run,
		jobs:    make(chan *types.PipelineRun, queueSize),
		workers: workers,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start launches the workers. They exit when ctx is cancelled or the queue
// is closed by Shutdown.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for run := range p.jobs {
				if ctx.Err() != nil {
					return
				}
				p.runOne(ctx, run)
			}
		}()
	}
}

// Submit enqueues a run. It never blocks: a full queue returns
// ErrQueueFull so the caller can shed load.
func (p *Pool) Submit(run *types.PipelineRun) error {
	// The send must happen under the same lock that guards stopped:
	// Shutdown closes the queue only after setting the flag, so a send
	// that observed stopped == false cannot race the close.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- run:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel signals the in-flight job for the given run id. It reports
// whether a running job was found; queued jobs are not removed, they are
// cancelled at pickup by their own check in RunFunc.
func (p *Pool) Cancel(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

// Shutdown stops accepting work and waits for in-flight runs to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) runOne(ctx context.Context, run *types.PipelineRun) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.cancels[run.ID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.cancels, run.ID)
		p.mu.Unlock()
	}()

	p.run(jobCtx, run)
}
