package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/pkg/models"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type collector struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (c *collector) OnEvent(ev ledger.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func orderEvent(id string) ledger.Event {
	return ledger.Event{Type: ledger.EventOrder, Order: &models.Order{ID: id}}
}

// ── Async ──

func TestAsyncDeliversInOrder(t *testing.T) {
	c := &collector{}
	a := NewAsync(c, 16, quiet())

	for _, id := range []string{"1", "2", "3"} {
		a.OnEvent(orderEvent(id))
	}
	require.NoError(t, a.Close(time.Second))

	require.Len(t, c.events, 3)
	for i, id := range []string{"1", "2", "3"} {
		assert.Equal(t, id, c.events[i].Order.ID)
	}
	assert.Zero(t, a.Dropped())
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := ledger.ObserverFunc(func(ledger.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	a := NewAsync(blocking, 2, quiet())

	a.OnEvent(orderEvent("in-flight"))
	<-started // worker holds the first event
	a.OnEvent(orderEvent("q1"))
	a.OnEvent(orderEvent("q2"))
	a.OnEvent(orderEvent("dropped"))

	assert.Equal(t, int64(1), a.Dropped())
	assert.Equal(t, 2, a.Pending())

	close(release)
	require.NoError(t, a.Close(time.Second))

	a.OnEvent(orderEvent("after close"))
	assert.Equal(t, int64(2), a.Dropped())
	assert.NoError(t, a.Close(time.Second), "second close is a no-op")
}

func TestAsyncCloseTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	a := NewAsync(ledger.ObserverFunc(func(ledger.Event) { <-release }), 4, quiet())

	a.OnEvent(orderEvent("stuck"))
	err := a.Close(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrDrainTimeout)
}

func TestAsyncSurvivesPanickingConsumer(t *testing.T) {
	c := &collector{}
	a := NewAsync(ledger.ObserverFunc(func(ev ledger.Event) {
		if ev.Order.ID == "boom" {
			panic("consumer bug")
		}
		c.OnEvent(ev)
	}), 8, quiet())

	a.OnEvent(orderEvent("boom"))
	a.OnEvent(orderEvent("ok"))
	require.NoError(t, a.Close(time.Second))
	assert.Equal(t, 1, c.len())
}

// ── Publisher ──

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    map[string][][]byte
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, stream: map[string][][]byte{}}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stream[stream] = append(f.stream[stream], payload)
	return nil
}

func TestPublisherChannelsAndStream(t *testing.T) {
	bus := newFakeBus()
	p := NewPublisher(bus, "pt", "pt:events", quiet())

	p.OnEvent(orderEvent("PAPER.1"))
	p.OnEvent(ledger.Event{Type: ledger.EventTrade, Trade: &models.Trade{ID: "PAPER.T1", Volume: 100}})
	p.OnEvent(ledger.Event{Type: ledger.EventAccount, Account: &models.Account{ID: "PAPER", Balance: 1}})

	assert.Len(t, bus.published["pt:order"], 1)
	assert.Len(t, bus.published["pt:trade"], 1)
	assert.Len(t, bus.published["pt:account"], 1)
	assert.Len(t, bus.stream["pt:events"], 3)

	var ev ledger.Event
	require.NoError(t, json.Unmarshal(bus.published["pt:trade"][0], &ev))
	assert.Equal(t, ledger.EventTrade, ev.Type)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, "PAPER.T1", ev.Trade.ID)
}

func TestPublisherDefaultsAndErrors(t *testing.T) {
	bus := newFakeBus()
	p := NewPublisher(bus, "", "", quiet())
	assert.Equal(t, "papertrader:position", p.Channel(ledger.EventPosition))

	p.OnEvent(orderEvent("PAPER.1"))
	assert.Empty(t, bus.stream, "no stream configured")

	bus.err = errors.New("connection refused")
	assert.NotPanics(t, func() { p.OnEvent(orderEvent("PAPER.2")) })
}

func TestPublisherBehindAsyncWithLedger(t *testing.T) {
	bus := newFakeBus()
	a := NewAsync(NewPublisher(bus, "pt", "", quiet()), 64, quiet())

	cfg := ledger.DefaultConfig()
	l, err := ledger.New(cfg, ledger.WithLogger(quiet()))
	require.NoError(t, err)
	l.Subscribe(a)

	_, rej := l.SubmitOrder(models.OrderRequest{Symbol: "600000", Direction: models.Long, Type: models.Limit, Volume: 100, Price: 10})
	require.Nil(t, rej)
	require.NoError(t, a.Close(time.Second))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Len(t, bus.published["pt:order"], 1)
	assert.NotEmpty(t, bus.published["pt:account"])
}
