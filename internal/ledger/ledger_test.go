package ledger

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/papertrader/pkg/models"
)

// ── Helpers ──────────────────────────────────────────────────────────

var testTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// testContext returns a context canceled when the test finishes,
// mirroring testing.T.Context on toolchains older than Go 1.24.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestLedger(t *testing.T, mutate func(*Config), opts ...Option) *Ledger {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InitialCapital = 100_000
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return testTime }),
	}, opts...)
	l, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func buy(symbol string, volume int, price float64) models.OrderRequest {
	return models.OrderRequest{Symbol: symbol, Exchange: models.SSE, Direction: models.Long, Type: models.Limit, Volume: volume, Price: price}
}

func sell(symbol string, volume int, price float64) models.OrderRequest {
	return models.OrderRequest{Symbol: symbol, Exchange: models.SSE, Direction: models.Short, Type: models.Limit, Volume: volume, Price: price}
}

func tick(symbol string, last, bid, ask float64) models.Tick {
	return models.Tick{
		Symbol: symbol, Exchange: models.SSE, Time: testTime,
		LastPrice: last, BidPrice1: bid, AskPrice1: ask,
		BidVolume1: 10_000, AskVolume1: 10_000,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// assertConserved checks that cash, frozen funds and position cost only
// moved by costs and realized pnl, and that frozen matches the open buy
// reservations.
func assertConserved(t *testing.T, l *Ledger) {
	t.Helper()
	s := l.Stats()

	var cost float64
	for _, p := range l.Positions() {
		cost += p.CostValue()
	}
	want := s.InitialCapital - s.TotalCommission - s.TotalStampDuty + s.RealizedPnL
	assert.InDelta(t, want, s.CurrentBalance+s.Frozen+cost, 1e-6)

	var reserved float64
	for _, o := range l.ActiveOrders() {
		if o.Direction == models.Long {
			reserved += o.Price * float64(o.Remaining()) * (1 + l.cfg.CommissionRate)
		}
	}
	assert.InDelta(t, reserved, s.Frozen, 1e-6)
}

// ── Config ───────────────────────────────────────────────────────────

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.InitialCapital = 0
	cfg.CommissionRate = -0.1
	cfg.Slippage = 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "initial capital")
	assert.Contains(t, err.Error(), "commission rate")
	assert.Contains(t, err.Error(), "slippage")

	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigZeroTimingUsesDefaults(t *testing.T) {
	l := newTestLedger(t, func(c *Config) {
		c.AccountID = ""
		c.LotSize = 0
		c.PublishInterval = 0
	})
	assert.Equal(t, "PAPER", l.Config().AccountID)
	assert.Equal(t, 100, l.Config().LotSize)
	assert.Equal(t, time.Second, l.Config().PublishInterval)
}

func TestConfigLiteralKeepsZeroRates(t *testing.T) {
	l, err := New(Config{InitialCapital: 50_000}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	cfg := l.Config()
	assert.Zero(t, cfg.CommissionRate)
	assert.Zero(t, cfg.StampDutyRate)
	assert.Zero(t, cfg.Slippage)
	assert.Equal(t, 3*time.Second, cfg.CloseTimeout)
}

// ── Submission ───────────────────────────────────────────────────────

func TestBuyFillMatchesReferenceScenario(t *testing.T) {
	l := newTestLedger(t, nil)

	id, rej := l.SubmitOrder(buy("600000", 1000, 10.50))
	require.Nil(t, rej)
	assert.Equal(t, "PAPER.1", id)

	s := l.Stats()
	assert.InDelta(t, 10_503.15, s.Frozen, 1e-9)
	assert.InDelta(t, 89_496.85, s.CurrentBalance, 1e-9)

	l.OnTick(tick("600000", 10.49, 10.47, 10.48))

	trades := l.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "PAPER.T1", trades[0].ID)
	assert.Equal(t, id, trades[0].OrderID)
	assert.InDelta(t, 10.5105, trades[0].Price, 1e-12)
	assert.Equal(t, 1000, trades[0].Volume)

	s = l.Stats()
	assert.InDelta(t, 3.15315, s.TotalCommission, 1e-9)
	assert.InDelta(t, 0, s.Frozen, 1e-9)
	assert.InDelta(t, 89_486.34685, s.CurrentBalance, 1e-6)
	assert.Equal(t, 1, s.TotalTrades)

	pos, ok := l.Position("600000.SSE")
	require.True(t, ok)
	assert.Equal(t, 1000, pos.Volume)
	assert.InDelta(t, 10.5105, pos.AvgPrice, 1e-12)

	o, ok := l.Order(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusAllTraded, o.Status)
	assert.Equal(t, 1000, o.Traded)
	assert.Empty(t, l.ActiveOrders())
	assertConserved(t, l)
}

func TestLotSizeRejections(t *testing.T) {
	l := newTestLedger(t, nil)

	for _, vol := range []int{0, -100, 50, 99, 150, 1001} {
		id, rej := l.SubmitOrder(buy("600000", vol, 10))
		assert.Empty(t, id, "volume %d", vol)
		require.NotNil(t, rej, "volume %d", vol)
		assert.Equal(t, ReasonInvalidLot, rej.Reason)
	}

	s := l.Stats()
	assert.Equal(t, 100_000.0, s.CurrentBalance)
	assert.Equal(t, 0.0, s.Frozen)
	assert.Empty(t, l.ActiveOrders())

	history := l.Orders()
	require.Len(t, history, 6)
	for _, o := range history {
		assert.Equal(t, models.StatusRejected, o.Status)
		assert.NotEmpty(t, o.StatusMessage)
	}
}

func TestSubmitRejections(t *testing.T) {
	l := newTestLedger(t, nil)

	tests := []struct {
		name string
		req  models.OrderRequest
		want Reason
	}{
		{"zero price", buy("600000", 100, 0), ReasonInvalidPrice},
		{"negative price", sell("600000", 100, -1), ReasonInvalidPrice},
		{"too expensive", buy("600000", 10_000, 10), ReasonInsufficientFunds},
		{"nothing held", sell("600000", 100, 10), ReasonInsufficientPosition},
		{"missing symbol", buy("", 100, 10), ReasonInvalidRequest},
		{"bad direction", models.OrderRequest{Symbol: "600000", Direction: "FLAT", Type: models.Limit, Volume: 100, Price: 10}, ReasonInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, rej := l.SubmitOrder(tt.req)
			assert.Empty(t, id)
			require.NotNil(t, rej)
			assert.Equal(t, tt.want, rej.Reason)
		})
	}

	s := l.Stats()
	assert.Equal(t, 100_000.0, s.CurrentBalance)
	assert.Equal(t, 0.0, s.Frozen)
}

func TestAvailableFundsAccountForFrozen(t *testing.T) {
	l := newTestLedger(t, nil)

	_, rej := l.SubmitOrder(buy("600000", 4000, 10))
	require.Nil(t, rej)
	// balance 59,988 with 40,012 frozen leaves 19,976 available
	_, rej = l.SubmitOrder(buy("600001", 2000, 10))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonInsufficientFunds, rej.Reason)

	_, rej = l.SubmitOrder(buy("600001", 1900, 10))
	assert.Nil(t, rej)
}

func TestExchangeInferredWhenMissing(t *testing.T) {
	l := newTestLedger(t, nil)

	req := buy("sz000001", 100, 10)
	req.Exchange = ""
	id, rej := l.SubmitOrder(req)
	require.Nil(t, rej)

	o, _ := l.Order(id)
	assert.Equal(t, "000001", o.Symbol)
	assert.Equal(t, models.SZSE, o.Exchange)
}

// ── Cancellation ─────────────────────────────────────────────────────

func TestCancelReleasesRemainingAfterPartialFill(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.DepthLimitedFills = true })

	id, rej := l.SubmitOrder(buy("600000", 1000, 10))
	require.Nil(t, rej)

	tk := tick("600000", 9.95, 9.9, 9.9)
	tk.AskVolume1 = 350 // floored to 300
	l.OnTick(tk)

	o, _ := l.Order(id)
	assert.Equal(t, models.StatusPartTraded, o.Status)
	assert.Equal(t, 300, o.Traded)
	assertConserved(t, l)

	require.NoError(t, l.CancelOrder(id))
	o, _ = l.Order(id)
	assert.Equal(t, models.StatusCancelled, o.Status)

	s := l.Stats()
	assert.InDelta(t, 0, s.Frozen, 1e-9)
	// 300 filled at 10.01 plus 0.0003 commission
	assert.InDelta(t, 100_000-3003-0.9009, s.CurrentBalance, 1e-6)
	assertConserved(t, l)
}

func TestCancelEdgeCases(t *testing.T) {
	l := newTestLedger(t, nil)

	err := l.CancelOrder("PAPER.99")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	id, _ := l.SubmitOrder(buy("600000", 100, 10))
	require.NoError(t, l.CancelOrder(id))
	before := l.Stats()

	// finished orders are left alone
	require.NoError(t, l.CancelOrder(id))
	assert.Equal(t, before, l.Stats())
	assert.Equal(t, 100_000.0, before.CurrentBalance)
}

func TestDepthLimitedZeroDepthDoesNotFill(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.DepthLimitedFills = true })

	id, _ := l.SubmitOrder(buy("600000", 100, 10))
	tk := tick("600000", 9.9, 9.8, 9.9)
	tk.AskVolume1 = 99
	l.OnTick(tk)

	o, _ := l.Order(id)
	assert.Equal(t, models.StatusNotTraded, o.Status)
	assert.Empty(t, l.Trades())
}

// ── Matching ─────────────────────────────────────────────────────────

func TestLimitOrderCrossing(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.Slippage = 0 })

	id, _ := l.SubmitOrder(buy("600000", 100, 10))
	l.OnTick(tick("600000", 10.1, 10.1, 10.2))
	o, _ := l.Order(id)
	assert.Equal(t, models.StatusNotTraded, o.Status, "ask and last above the limit")

	// last at the limit crosses even without a quote
	l.OnTick(tick("600000", 10, 0, 0))
	o, _ = l.Order(id)
	assert.Equal(t, models.StatusAllTraded, o.Status)
	assert.Equal(t, 10.0, l.Trades()[0].Price)

	sid, _ := l.SubmitOrder(sell("600000", 100, 11))
	l.OnTick(tick("600000", 10.9, 10.95, 11))
	o, _ = l.Order(sid)
	assert.Equal(t, models.StatusNotTraded, o.Status)

	l.OnTick(tick("600000", 10.9, 11.05, 11.1))
	o, _ = l.Order(sid)
	assert.Equal(t, models.StatusAllTraded, o.Status)
	assert.Equal(t, 11.0, l.Trades()[1].Price, "limit orders fill at the limit")
}

func TestMarketOrderPrices(t *testing.T) {
	l := newTestLedger(t, nil)

	mkt := buy("600000", 100, 10)
	mkt.Type = models.Market
	_, rej := l.SubmitOrder(mkt)
	require.Nil(t, rej)
	l.OnTick(tick("600000", 10, 9.98, 10.02))
	assert.InDelta(t, 10.02*1.001, l.Trades()[0].Price, 1e-12)

	mkt.Symbol = "600001"
	_, rej = l.SubmitOrder(mkt)
	require.Nil(t, rej)
	l.OnTick(tick("600001", 10.05, 0, 0))
	assert.InDelta(t, 10.05*1.001, l.Trades()[1].Price, 1e-12, "no ask falls back to last")

	out := sell("600000", 100, 10)
	out.Type = models.Market
	_, rej = l.SubmitOrder(out)
	require.Nil(t, rej)
	l.OnTick(tick("600000", 10.1, 10.08, 10.12))
	assert.InDelta(t, 10.08*0.999, l.Trades()[2].Price, 1e-12)
	assertConserved(t, l)
}

func TestOneTickFillsSeveralOrdersInSubmissionOrder(t *testing.T) {
	l := newTestLedger(t, nil)

	first, _ := l.SubmitOrder(buy("600000", 100, 10))
	other, _ := l.SubmitOrder(buy("600001", 100, 10))
	second, _ := l.SubmitOrder(buy("600000", 200, 10))

	l.OnTick(tick("600000", 9.9, 9.8, 9.9))

	trades := l.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, first, trades[0].OrderID)
	assert.Equal(t, second, trades[1].OrderID)

	active := l.ActiveOrders()
	require.Len(t, active, 1)
	assert.Equal(t, other, active[0].ID)
	assertConserved(t, l)
}

func TestWeightedAverageCost(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.Slippage = 0 })

	l.SubmitOrder(buy("600000", 100, 10))
	l.OnTick(tick("600000", 10, 9.99, 10))
	l.SubmitOrder(buy("600000", 200, 10.5))
	l.OnTick(tick("600000", 10.5, 10.49, 10.5))

	pos, _ := l.Position("600000.SSE")
	assert.Equal(t, 300, pos.Volume)
	assert.InDelta(t, 10.333333, pos.AvgPrice, 1e-5)
	assertConserved(t, l)
}

func TestSellChargesStampDutyAndRealizesPnL(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.Slippage = 0 })

	l.SubmitOrder(buy("600000", 1000, 10))
	l.OnTick(tick("600000", 10, 9.99, 10))

	_, rej := l.SubmitOrder(sell("600000", 1000, 11))
	require.Nil(t, rej)
	l.OnTick(tick("600000", 11, 11, 11.01))

	s := l.Stats()
	assert.InDelta(t, 3+3.3, s.TotalCommission, 1e-9)
	assert.InDelta(t, 11, s.TotalStampDuty, 1e-9)
	assert.InDelta(t, 1000, s.RealizedPnL, 1e-9)
	assert.InDelta(t, 100_982.7, s.CurrentBalance, 1e-6)
	assert.InDelta(t, 0.9827, s.ReturnPct, 1e-6)

	pos, ok := l.Position("600000.SSE")
	require.True(t, ok, "flat positions keep their record")
	assert.Equal(t, 0, pos.Volume)
	assert.Equal(t, 0.0, pos.AvgPrice)
	assert.InDelta(t, 1000, pos.RealizedPnL, 1e-9)
	assert.Empty(t, l.Positions())
	assertConserved(t, l)
}

func TestPendingSellsCannotOversell(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.Slippage = 0 })

	l.SubmitOrder(buy("600000", 100, 10))
	l.OnTick(tick("600000", 10, 9.99, 10))

	a, rej := l.SubmitOrder(sell("600000", 100, 10))
	require.Nil(t, rej)
	b, rej := l.SubmitOrder(sell("600000", 100, 10))
	require.Nil(t, rej, "pending sells do not reserve shares")

	l.OnTick(tick("600000", 10, 10, 10.01))

	oa, _ := l.Order(a)
	ob, _ := l.Order(b)
	assert.Equal(t, models.StatusAllTraded, oa.Status)
	assert.Equal(t, models.StatusNotTraded, ob.Status)
	assert.Len(t, l.Trades(), 2)
	assertConserved(t, l)
}

func TestMarkToMarket(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.Slippage = 0 })

	l.SubmitOrder(buy("600000", 1000, 10))
	l.OnTick(tick("600000", 10, 9.99, 10))
	l.OnTick(tick("600000", 10.8, 10.79, 10.81))

	pos, _ := l.Position("600000.SSE")
	assert.InDelta(t, 800, pos.PnL, 1e-9)
	assert.Equal(t, 10.8, pos.LastPrice)

	s := l.Stats()
	assert.InDelta(t, 800, s.TotalPnL, 1e-9)
	assert.InDelta(t, 10_800, s.MarketValue, 1e-9)

	acct := l.Account()
	assert.Equal(t, "PAPER", acct.ID)
	assert.InDelta(t, s.CurrentBalance+10_800, acct.Balance, 1e-9)
	assert.InDelta(t, s.CurrentBalance, acct.Available, 1e-9)

	last, ok := l.LastTick("600000.SSE")
	require.True(t, ok)
	assert.Equal(t, 10.8, last.LastPrice)
}

// ── Events ───────────────────────────────────────────────────────────

func TestEventSequence(t *testing.T) {
	l := newTestLedger(t, nil)
	rec := &recorder{}
	l.Subscribe(rec)

	l.SubmitOrder(buy("600000", 100, 10))
	assert.Equal(t, []EventType{EventOrder, EventAccount}, rec.types())

	rec.reset()
	l.OnTick(tick("600000", 9.9, 9.8, 9.9))
	assert.Equal(t, []EventType{EventTrade, EventOrder, EventAccount, EventPosition}, rec.types())

	rec.reset()
	l.OnTick(tick("600000", 9.95, 9.9, 10))
	assert.Equal(t, []EventType{EventPosition}, rec.types())

	rec.mu.Lock()
	ev := rec.events[0]
	rec.mu.Unlock()
	require.NotNil(t, ev.Position)
	ev.Position.Volume = 0
	pos, _ := l.Position("600000.SSE")
	assert.Equal(t, 100, pos.Volume, "event payloads are copies")
}

func TestTickOnFlatPositionEmitsNothing(t *testing.T) {
	l := newTestLedger(t, nil)
	l.SubmitOrder(buy("600000", 100, 10))
	l.OnTick(tick("600000", 9.9, 9.8, 9.9))
	l.SubmitOrder(sell("600000", 100, 9.9))
	l.OnTick(tick("600000", 9.9, 9.9, 10))
	require.Len(t, l.Trades(), 2)

	rec := &recorder{}
	l.Subscribe(rec)
	l.OnTick(tick("600000", 10.2, 10.1, 10.3))
	assert.Empty(t, rec.types())
}

func TestUnsubscribe(t *testing.T) {
	l := newTestLedger(t, nil)
	rec := &recorder{}
	unsubscribe := l.Subscribe(rec)

	l.SubmitOrder(buy("600000", 100, 10))
	unsubscribe()
	unsubscribe()
	l.SubmitOrder(buy("600000", 100, 10))

	assert.Len(t, rec.types(), 2)
}

func TestPanickingObserverDoesNotStopMatching(t *testing.T) {
	l := newTestLedger(t, nil)
	l.Subscribe(ObserverFunc(func(ev Event) {
		if ev.Type == EventTrade {
			panic("boom")
		}
	}))
	rec := &recorder{}
	l.Subscribe(rec)

	l.SubmitOrder(buy("600000", 100, 10))
	l.SubmitOrder(buy("600000", 100, 10))
	l.OnTick(tick("600000", 9.9, 9.8, 9.9))

	assert.Len(t, l.Trades(), 2)
	trades := 0
	for _, typ := range rec.types() {
		if typ == EventTrade {
			trades++
		}
	}
	assert.Equal(t, 2, trades, "later observers still see every trade")
	assertConserved(t, l)
}

// ── Lifecycle ────────────────────────────────────────────────────────

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) fn(time.Duration) (<-chan time.Time, func()) {
	return m.c, func() { close(m.stopped) }
}

func TestPublisherPushesSnapshots(t *testing.T) {
	mt := newManualTicker()
	l := newTestLedger(t, func(c *Config) { c.Slippage = 0 }, WithTicker(mt.fn))

	l.SubmitOrder(buy("600000", 100, 10))
	l.OnTick(tick("600000", 10, 9.99, 10))

	got := make(chan Event, 8)
	l.Subscribe(ObserverFunc(func(ev Event) { got <- ev }))

	l.Start(testContext(t))
	l.Start(testContext(t))
	mt.c <- testTime

	first := <-got
	assert.Equal(t, EventAccount, first.Type)
	second := <-got
	assert.Equal(t, EventPosition, second.Type)
	assert.Equal(t, 100, second.Position.Volume)

	require.NoError(t, l.Close())
	select {
	case <-mt.stopped:
	case <-time.After(time.Second):
		t.Fatal("ticker was not stopped")
	}
}

func TestCloseTimesOutOnBlockedPublisher(t *testing.T) {
	mt := newManualTicker()
	l := newTestLedger(t, func(c *Config) { c.CloseTimeout = 50 * time.Millisecond }, WithTicker(mt.fn))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	l.Subscribe(ObserverFunc(func(Event) {
		once.Do(func() { close(entered) })
		<-release
	}))
	t.Cleanup(func() { close(release) })

	l.Start(testContext(t))
	mt.c <- testTime
	<-entered

	result := make(chan error, 1)
	go func() { result <- l.Close() }()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrCloseTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return within its timeout")
	}

	_, rej := l.SubmitOrder(buy("600000", 100, 10))
	if assert.NotNil(t, rej) {
		assert.Equal(t, ReasonClosed, rej.Reason)
	}
}

func TestCloseTimesOutOnBlockedOperation(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.CloseTimeout = 50 * time.Millisecond })

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	l.Subscribe(ObserverFunc(func(Event) {
		once.Do(func() { close(entered) })
		<-release
	}))
	t.Cleanup(func() { close(release) })

	go l.SubmitOrder(buy("600000", 100, 10))
	<-entered

	result := make(chan error, 1)
	go func() { result <- l.Close() }()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrCloseTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return within its timeout")
	}
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	l := newTestLedger(t, nil)
	id, _ := l.SubmitOrder(buy("600000", 100, 10))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, rej := l.SubmitOrder(buy("600000", 100, 10))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonClosed, rej.Reason)

	assert.ErrorIs(t, l.CancelOrder(id), ErrClosed)
	assert.ErrorIs(t, l.Reset(), ErrClosed)

	l.OnTick(tick("600000", 9.9, 9.8, 9.9))
	assert.Empty(t, l.Trades())
	_, ok := l.LastTick("600000.SSE")
	assert.False(t, ok)

	l.Start(testContext(t))
	assert.Nil(t, l.done, "start after close is a no-op")
}

func TestReset(t *testing.T) {
	l := newTestLedger(t, nil)
	l.SubmitOrder(buy("600000", 100, 10))
	l.OnTick(tick("600000", 9.9, 9.8, 9.9))
	l.SubmitOrder(buy("600000", 100, 9))

	require.NoError(t, l.Reset())

	s := l.Stats()
	assert.Equal(t, 100_000.0, s.CurrentBalance)
	assert.Equal(t, 0.0, s.Frozen)
	assert.Equal(t, 0, s.TotalTrades)
	assert.Empty(t, l.Orders())
	assert.Empty(t, l.Positions())

	id, _ := l.SubmitOrder(buy("600000", 100, 10))
	assert.Equal(t, "PAPER.1", id, "counters restart")
}

// ── Conservation ─────────────────────────────────────────────────────

func randomStep(l *Ledger, rng *rand.Rand, symbols []string) {
	sym := symbols[rng.Intn(len(symbols))]
	price := 9 + 2*rng.Float64()

	switch rng.Intn(5) {
	case 0, 1:
		req := buy(sym, 100*(1+rng.Intn(5)), price)
		if rng.Intn(4) == 0 {
			req.Type = models.Market
		}
		l.SubmitOrder(req)
	case 2:
		if held := l.Holdings()[sym+".SSE"]; held > 0 {
			l.SubmitOrder(sell(sym, 100*(1+rng.Intn(held/100)), price))
		}
	case 3:
		if active := l.ActiveOrders(); len(active) > 0 {
			_ = l.CancelOrder(active[rng.Intn(len(active))].ID)
		}
	default:
		spread := 0.01 + 0.05*rng.Float64()
		tk := tick(sym, price, price-spread, price+spread)
		tk.AskVolume1 = float64(rng.Intn(800))
		tk.BidVolume1 = float64(rng.Intn(800))
		l.OnTick(tk)
	}
}

func TestConservationUnderRandomOperations(t *testing.T) {
	l := newTestLedger(t, func(c *Config) { c.DepthLimitedFills = true })
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"600000", "600519", "601318"}

	for i := 0; i < 2000; i++ {
		randomStep(l, rng, symbols)
		if i%50 == 0 {
			assertConserved(t, l)
		}
	}
	assertConserved(t, l)
	assert.Positive(t, l.Stats().TotalTrades)
}

func TestConservationUnderConcurrency(t *testing.T) {
	l := newTestLedger(t, nil)
	symbols := []string{"600000", "600519"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				randomStep(l, rng, symbols)
				_ = l.Stats()
				_ = l.Account()
			}
		}(int64(w))
	}
	wg.Wait()

	assertConserved(t, l)
	s := l.Stats()
	assert.GreaterOrEqual(t, s.Frozen, -1e-6)
	for _, p := range l.Positions() {
		assert.GreaterOrEqual(t, p.Volume, 0)
		assert.Zero(t, p.Volume%100)
	}
}

func TestRejectionString(t *testing.T) {
	rej := reject(ReasonInvalidLot, "volume %d", 50)
	assert.Equal(t, "invalid_lot: volume 50", rej.String())
}
