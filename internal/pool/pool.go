// Package pool runs CPU-bound work on a fixed set of worker goroutines.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/replayscraper/internal/metrics"
)

// DefaultWorkers is the worker count used when Config.Workers is zero.
const DefaultWorkers = 4

var (
	// ErrClosed is returned when submitting to a pool that has been closed.
	ErrClosed = errors.New("pool closed")
	// ErrTaskPanicked wraps a panic raised by a task run through Run.
	ErrTaskPanicked = errors.New("task panicked")
)

// Config controls pool sizing.
type Config struct {
	Workers    int
	QueueDepth int
}

// Pool fans tasks out to a fixed number of workers. It is safe for concurrent
// use; Submit is the only shared operation.
type Pool struct {
	tasks     chan func()
	done      chan struct{}
	mu        sync.RWMutex
	closeOnce sync.Once
	wg        sync.WaitGroup
	size      int
	logger    *zap.Logger
}

// New starts cfg.Workers workers.
func New(cfg Config, logger *zap.Logger) (*Pool, error) {
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0, got %d", cfg.Workers)
	}
	if cfg.QueueDepth < 0 {
		return nil, fmt.Errorf("queue depth must be >= 0, got %d", cfg.QueueDepth)
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		tasks:  make(chan func(), cfg.QueueDepth),
		done:   make(chan struct{}),
		size:   cfg.Workers,
		logger: logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work(logger.Named("worker").With(zap.Int("index", i)))
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) work(logger *zap.Logger) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runTask(logger, task)
	}
}

func (p *Pool) runTask(logger *zap.Logger, task func()) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("task panic recovered", zap.Any("panic", rec))
		}
	}()
	task()
}

// Submit hands task to a worker. It waits for a free worker until ctx ends or
// the pool is closed.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("submit canceled: %w", ctx.Err())
	}
}

// Close stops accepting tasks and waits for queued tasks to finish.
// Closing twice is safe.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		close(p.tasks)
		p.mu.Unlock()
	})
	p.wg.Wait()
	p.logger.Debug("pool drained")
}

type outcome[T any] struct {
	value T
	err   error
}

// Run executes fn on the pool and waits for its result. If ctx ends first the
// task may still run, but its result is discarded.
func Run[T any](ctx context.Context, p *Pool, fn func() T) (T, error) {
	var zero T
	results := make(chan outcome[T], 1)
	err := p.Submit(ctx, func() {
		defer func() {
			if rec := recover(); rec != nil {
				results <- outcome[T]{err: fmt.Errorf("%w: %v", ErrTaskPanicked, rec)}
			}
		}()
		results <- outcome[T]{value: fn()}
	})
	if err != nil {
		return zero, err
	}

	select {
	case res := <-results:
		return res.value, res.err
	case <-ctx.Done():
		return zero, fmt.Errorf("await task: %w", ctx.Err())
	}
}
