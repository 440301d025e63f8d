// Package eventbus fans ledger events out to slow consumers. Async moves
// delivery off the ledger lock onto a bounded queue; Publisher forwards
// events to Redis pub/sub channels and a capped stream.
package eventbus

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seenimoa/papertrader/internal/ledger"
)

// ErrDrainTimeout is returned by Close when queued events could not be
// delivered in time.
var ErrDrainTimeout = errors.New("eventbus: drain timed out")

// DefaultQueueSize is used when NewAsync is given a non-positive size.
const DefaultQueueSize = 1024

// Async delivers events to the wrapped observer from a single worker
// goroutine, in order. When the queue is full new events are dropped and
// counted.
type Async struct {
	next   ledger.Observer
	queue  chan ledger.Event
	done   chan struct{}
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ ledger.Observer = (*Async)(nil)

// NewAsync starts a worker delivering to next.
func NewAsync(next ledger.Observer, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		queue:  make(chan ledger.Event, size),
		done:   make(chan struct{}),
		logger: logger.With("component", "eventbus"),
	}
	go a.run()
	return a
}

// OnEvent enqueues ev without blocking.
func (a *Async) OnEvent(ev ledger.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}

	select {
	case a.queue <- ev:
	default:
		if n := a.dropped.Add(1); n == 1 || n%1000 == 0 {
			a.logger.Warn("event queue full, dropping", "dropped", n, "type", ev.Type)
		}
	}
}

// Dropped returns the number of events dropped so far.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Pending returns the number of queued events.
func (a *Async) Pending() int { return len(a.queue) }

// Close stops accepting events and waits up to timeout for the queue to
// drain. It is safe to call more than once.
func (a *Async) Close(timeout time.Duration) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-a.done:
		return nil
	case <-t.C:
		return ErrDrainTimeout
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		a.deliver(ev)
	}
}

func (a *Async) deliver(ev ledger.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("event consumer panicked", "type", ev.Type, "panic", r)
		}
	}()
	a.next.OnEvent(ev)
}
