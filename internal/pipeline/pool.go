package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Dispatch after Close
var ErrPoolClosed = errors.New("worker pool is closed")

// Runner executes one job to completion
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// Pool runs dispatched jobs on a fixed number of workers. One job runs on
// one worker at a time; different jobs run concurrently.
type Pool struct {
	runner  Runner
	workers int
	queue   chan uuid.UUID
	logger  *log.Logger

	// done is closed by Close, stopped when the workers have exited.
	// Blocked dispatches watch both so Close never waits on a full queue.
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool with the given worker count and queue capacity
func NewPool(runner Runner, workers, queueSize int, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		runner:  runner,
		workers: workers,
		queue:   make(chan uuid.UUID, queueSize),
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Dispatch queues a job, blocking while the queue is full. It returns
// ErrPoolClosed once the pool is closed or its workers have stopped.
func (p *Pool) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-p.done:
		return ErrPoolClosed
	case <-p.stopped:
		return ErrPoolClosed
	default:
	}

	select {
	case p.queue <- jobID:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-p.stopped:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the workers until ctx is done or Close drains the queue. A
// failing job is logged and never stops the other workers.
func (p *Pool) Start(ctx context.Context) error {
	defer p.stopOnce.Do(func() { close(p.stopped) })

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i + 1
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case jobID, ok := <-p.queue:
					if !ok {
						return nil
					}
					p.run(gctx, worker, jobID)
				}
			}
		})
	}
	return g.Wait()
}

func (p *Pool) run(ctx context.Context, worker int, jobID uuid.UUID) {
	err := p.runner.Run(ctx, jobID)
	switch {
	case err == nil:
		p.logger.Printf("[pool] worker %d finished job %s", worker, jobID)
	case errors.Is(err, ErrJobBusy):
		p.logger.Printf("[pool] worker %d skipped job %s: already running", worker, jobID)
	default:
		p.logger.Printf("[pool] worker %d job %s: %v", worker, jobID, err)
	}
}

// Close stops accepting jobs; workers exit once the queue is drained
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}
