// Package worker runs fire-and-forget tasks on a bounded queue drained by a fixed pool
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/amirphl/leadrelay/metrics"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Task is one unit of background work
type Task struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Config controls the pool size
type Config struct {
	QueueSize int
	Workers   int
}

// Pool drains a bounded queue with a fixed number of workers
type Pool struct {
	cfg    Config
	queue  chan Task
	logger *log.Logger

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. Start must be called before tasks run.
func NewPool(cfg Config, logger *log.Logger) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		logger: logger,
	}
}

// Start launches the workers. Tasks run on a context derived from parent.
func (p *Pool) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

// Enqueue adds a task without blocking
func (p *Pool) Enqueue(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q has no Run func", t.Name)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- t:
		metrics.QueueDepth.Inc()
		return nil
	default:
		metrics.QueueRejected.Inc()
		return ErrQueueFull
	}
}

// Len returns the number of queued tasks
func (p *Pool) Len() int {
	return len(p.queue)
}

// Stop rejects new tasks and waits for queued ones to finish. When ctx expires
// first, running tasks are cancelled and the remaining queue is dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return fmt.Errorf("worker pool drain interrupted: %w", ctx.Err())
	}
}

func (p *Pool) work(ctx context.Context, idx int) {
	defer p.wg.Done()
	for t := range p.queue {
		metrics.QueueDepth.Dec()
		if ctx.Err() != nil {
			p.logger.Printf("worker %d: dropping task %s: %v", idx, t.Name, ctx.Err())
			continue
		}
		p.exec(ctx, t)
	}
}

func (p *Pool) exec(ctx context.Context, t Task) {
	runCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("worker: task %s panicked: %v\n%s", t.Name, r, debug.Stack())
		}
	}()

	if err := t.Run(runCtx); err != nil {
		p.logger.Printf("worker: task %s failed: %v", t.Name, err)
	}
}
