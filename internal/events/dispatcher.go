package events

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

const (
	DefaultQueueSize = 256
	DefaultWorkers   = 4
)

// Dispatcher is an in-process, buffered event queue drained by a worker pool.
type Dispatcher struct {
	queue   chan Event
	workers int
	logger  log.Logger

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher returns a Dispatcher. Non-positive sizes use the defaults.
func NewDispatcher(queueSize, workers int, logger log.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{queue: make(chan Event, queueSize), workers: workers, logger: logger}
}

// Publish enqueues ev, blocking while the queue is full until ctx is done.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue with the configured worker count until ctx is done.
// Events still queued at shutdown are handled before Run returns.
func (d *Dispatcher) Run(ctx context.Context, h Handler) error {
	d.logger.Info(ctx, "event dispatcher started", "workers", d.workers)

	var g errgroup.Group
	for range d.workers {
		g.Go(func() error {
			for ev := range d.queue {
				d.handle(context.WithoutCancel(ctx), h, ev)
			}
			return nil
		})
	}

	<-ctx.Done()
	d.mu.Lock()
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	err := g.Wait()
	d.logger.Info(context.WithoutCancel(ctx), "event dispatcher stopped")
	return err
}

func (d *Dispatcher) handle(ctx context.Context, h Handler, ev Event) {
	if err := h(ctx, ev); err != nil {
		d.logger.Error(ctx, err, "event handler failed", "type", ev.Type, "ticket_id", ev.TicketID)
	}
}
