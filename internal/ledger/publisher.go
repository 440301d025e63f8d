package ledger

import (
	"context"
	"time"
)

// Start launches the background publisher, which pushes an account event
// and one position event per open position every PublishInterval until ctx
// is done or Close is called. Calling Start more than once, or after Close,
// has no effect.
func (l *Ledger) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.done != nil || l.isClosed() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.publish(ctx, l.done)
}

func (l *Ledger) publish(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	tick, stop := l.newTicker(l.cfg.PublishInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			l.publishSnapshot()
		}
	}
}

func (l *Ledger) publishSnapshot() {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()

	if l.closed.Load() {
		return
	}
	l.emitAccount()
	for _, p := range l.positions {
		if p.Volume > 0 {
			l.emitPosition(p)
		}
	}
}

// Close marks the ledger closed and stops the publisher: later submits are
// rejected, cancels fail with ErrClosed and ticks are ignored. It waits up
// to CloseTimeout in total for the publisher and any in-flight operation,
// then returns ErrCloseTimeout without waiting further. Close is idempotent.
func (l *Ledger) Close() error {
	already := l.closed.Swap(true)

	l.runMu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.runMu.Unlock()
	if cancel != nil {
		cancel()
	}

	deadline := time.NewTimer(l.cfg.CloseTimeout)
	defer deadline.Stop()

	if done != nil {
		select {
		case <-done:
		case <-deadline.C:
			l.logger.Warn("publisher did not stop in time", "timeout", l.cfg.CloseTimeout)
			return ErrCloseTimeout
		}
	}

	select {
	case <-l.quiesce():
	case <-deadline.C:
		l.logger.Warn("in-flight operation did not finish in time", "timeout", l.cfg.CloseTimeout)
		return ErrCloseTimeout
	}

	if !already {
		l.logger.Info("paper account closed")
	}
	return nil
}

// quiesce returns a channel closed once both locks have been acquired and
// released, i.e. once every operation that started before Close is done.
func (l *Ledger) quiesce() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		l.ordersMu.Lock()
		l.stateMu.Lock()
		l.stateMu.Unlock()
		l.ordersMu.Unlock()
		close(ch)
	}()
	return ch
}

func (l *Ledger) isClosed() bool {
	return l.closed.Load()
}
