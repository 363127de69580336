// Package dispatch provides the bounded asynchronous fan-out used for audit
// sink delivery and alert notification. Delivery is fire-and-forget: a slow
// or failing consumer can drop items but never stalls or fails the caller.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
}

// Handler consumes one dispatched item. Panics are contained by the
// dispatcher; errors are the handler's own business.
type Handler[T any] func(ctx context.Context, item T)

// Dispatcher asynchronously forwards items to a handler on a single
// worker goroutine. A nil *Dispatcher is a valid no-op.
type Dispatcher[T any] struct {
	cfg       Config
	handler   Handler[T]
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts a dispatcher delivering to handler. A nil handler yields a
// nil dispatcher.
func New[T any](cfg Config, handler Handler[T]) *Dispatcher[T] {
	if handler == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &Dispatcher[T]{
		cfg:     cfg,
		handler: handler,
		ch:      make(chan T, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.deliver(item)
		case <-d.done:
			// Drain what is already buffered, then exit.
			for {
				select {
				case item := <-d.ch:
					d.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) deliver(item T) {
	defer func() {
		_ = recover()
	}()
	d.handler(context.Background(), item)
}

// Emit queues an item for delivery. With DropIfFull the call never blocks;
// otherwise it blocks until buffered, ctx is done, or the dispatcher closes.
func (d *Dispatcher[T]) Emit(ctx context.Context, item T) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- item:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops intake, drains the buffer, and waits for the worker.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many items were discarded because the buffer was full.
func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
