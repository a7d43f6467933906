package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/shuttle-roster/internal/observability"
)

var (
	ErrQueueFull = errors.New("event queue full")
	ErrClosed    = errors.New("event publisher closed")
)

// AsyncPublisher queues events and hands them to the wrapped publisher on a
// single goroutine, so broker latency never reaches the request that caused
// the event. Per-key order is preserved because one worker drains the queue.
type AsyncPublisher struct {
	next    Publisher
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewAsyncPublisher starts the delivery goroutine. Publish fails with
// ErrQueueFull once size events are waiting.
func NewAsyncPublisher(next Publisher, size int, logger *slog.Logger) *AsyncPublisher {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AsyncPublisher{
		next:    next,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.Publish(ctx, e)
		cancel()
		if err != nil {
			observability.EventPublishErrs.WithLabelValues(string(e.Type)).Inc()
			a.logger.Warn("event delivery failed", "type", e.Type, "key", e.Key, "event_id", e.ID, "error", err)
		}
	}
}

// Publish enqueues e without blocking.
func (a *AsyncPublisher) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close delivers what is already queued, then closes the wrapped publisher.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
	return a.next.Close()
}
