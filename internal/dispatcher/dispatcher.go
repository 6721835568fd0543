// Package dispatcher manages worker fan-out over an in-memory queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/metrics"
	"github.com/JakeFAU/ai-policy-docs/internal/queue/memory"
)

// Handler processes one queued item. Errors are logged and never stop the pool.
type Handler[T any] func(ctx context.Context, item T) error

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher[T any] struct {
	queue   *memory.Queue[T]
	workers int
	handle  Handler[T]
	logger  *zap.Logger
}

// New creates a Dispatcher with the given number of workers (at least one).
func New[T any](queue *memory.Queue[T], workers int, handle Handler[T], logger *zap.Logger) *Dispatcher[T] {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{
		queue:   queue,
		workers: workers,
		handle:  handle,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the queue is closed and drained or
// the context finishes.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (d *Dispatcher[T]) work(ctx context.Context, id int) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				d.logger.Warn("dequeue failed", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
		metrics.IncActiveWorkers()
		if err := d.handle(ctx, item); err != nil {
			d.logger.Debug("item failed", zap.Int("worker", id), zap.Error(err))
		}
		metrics.DecActiveWorkers()
	}
}
