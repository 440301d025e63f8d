package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/internal/strategy"
	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(mutate func(*Limits)) *Manager {
	l := DefaultLimits()
	if mutate != nil {
		mutate(&l)
	}
	return NewManager(l, 100, quiet)
}

func signals(symbols ...string) []Signal {
	out := make([]Signal, len(symbols))
	for i, s := range symbols {
		out[i] = Signal{VTSymbol: s, Score: float64(len(symbols) - i), Price: 10}
	}
	return out
}

// ── Limits ───────────────────────────────────────────────────────────

func TestLimitsFromStrategy(t *testing.T) {
	l := LimitsFromStrategy(strategy.RiskControl{MaxPositions: 5, PositionSize: 0.1})
	assert.Equal(t, 5, l.MaxPositions)
	assert.Equal(t, 0.1, l.PositionSize)
	assert.Equal(t, 0.15, l.MaxDrawdown)
	assert.Equal(t, 0.05, l.DailyLossLimit)
	assert.Equal(t, 0.3, l.SectorConcentration)

	l = LimitsFromStrategy(strategy.RiskControl{SectorConcentration: 0.2})
	assert.Equal(t, 0.2, l.SectorConcentration)
}

// ── Filters ──────────────────────────────────────────────────────────

func TestApplyFiltersTruncatesToFreeSlots(t *testing.T) {
	m := newManager(func(l *Limits) { l.MaxPositions = 3 })
	held := map[string]int{"600000.SSE": 100}

	out := m.ApplyFilters(signals("a", "b", "c", "d"), held, 100_000)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].VTSymbol)
	assert.Equal(t, "b", out[1].VTSymbol)
}

func TestApplyFiltersFullSlotsKeepsHeldOnly(t *testing.T) {
	m := newManager(func(l *Limits) { l.MaxPositions = 2 })
	held := map[string]int{"a": 100, "b": 200, "z": 0}

	out := m.ApplyFilters(signals("c", "b", "d", "a"), held, 100_000)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].VTSymbol)
	assert.Equal(t, "a", out[1].VTSymbol)
}

func TestApplyFiltersDrawdownBlocksEverything(t *testing.T) {
	m := newManager(nil)

	out := m.ApplyFilters(signals("a"), nil, 120_000)
	assert.Len(t, out, 1)

	// 120k -> 95k is a 20.8% drawdown
	out = m.ApplyFilters(signals("a", "b"), nil, 95_000)
	assert.Empty(t, out)

	r := m.Report()
	assert.Equal(t, 120_000.0, r.PeakValue)
	assert.InDelta(t, 25.0/120.0, r.CurrentDrawdown, 1e-12)
	assert.False(t, r.TradingAllowed)

	ok, reason := m.CheckOrder(OrderCheck{VTSymbol: "a", Direction: models.Long, Volume: 100, Price: 10}, nil, 95_000)
	assert.False(t, ok)
	assert.Equal(t, ReasonDrawdown, reason)
}

func TestApplyFiltersEmpty(t *testing.T) {
	m := newManager(nil)
	assert.Empty(t, m.ApplyFilters(nil, nil, 100_000))
	assert.Zero(t, m.Report().PeakValue, "empty input does not touch tracking")
}

// ── Sizing ───────────────────────────────────────────────────────────

func TestSizePosition(t *testing.T) {
	m := newManager(nil)

	assert.InDelta(t, 30_000, m.SizePosition(10, 1_000_000, 0), 1e-9)
	assert.InDelta(t, 30_000, m.SizePosition(10, 1_000_000, 0.01), 1e-9, "calm names are not scaled up")
	assert.InDelta(t, 15_000, m.SizePosition(10, 1_000_000, 0.04), 1e-9)
	assert.InDelta(t, 5_000, m.SizePosition(50, 10_000, 0), 1e-9, "floored at one lot")
}

func TestCalculateVolume(t *testing.T) {
	m := newManager(nil)

	assert.Equal(t, 2900, m.CalculateVolume(10.3, 30_000))
	assert.Equal(t, 0, m.CalculateVolume(10, 999))
	assert.Equal(t, 0, m.CalculateVolume(0, 30_000))
	assert.Equal(t, 100, m.CalculateVolume(10, 1000))
}

// ── Order checks ─────────────────────────────────────────────────────

func TestCheckOrder(t *testing.T) {
	m := newManager(func(l *Limits) { l.MaxPositions = 2 })
	held := map[string]int{"a": 100, "b": 100}
	pv := 100_000.0

	ok, reason := m.CheckOrder(OrderCheck{VTSymbol: "c", Direction: models.Long, Volume: 100, Price: 10}, held, pv)
	assert.False(t, ok)
	assert.Equal(t, ReasonMaxPositions, reason)

	ok, _ = m.CheckOrder(OrderCheck{VTSymbol: "a", Direction: models.Long, Volume: 100, Price: 10}, held, pv)
	assert.True(t, ok, "adding to a held symbol")

	// 4,500 is the cap at 3% × 1.5
	ok, reason = m.CheckOrder(OrderCheck{VTSymbol: "a", Direction: models.Long, Volume: 500, Price: 10}, held, pv)
	assert.False(t, ok)
	assert.Equal(t, ReasonOrderSize, reason)

	ok, _ = m.CheckOrder(OrderCheck{VTSymbol: "a", Direction: models.Short, Volume: 10_000, Price: 10}, held, pv)
	assert.True(t, ok, "sells are not size-capped")
}

func TestDailyLossLimit(t *testing.T) {
	m := newManager(nil)
	m.ResetDaily(100_000)
	m.UpdatePnL(94_000)

	r := m.Report()
	assert.Equal(t, -6_000.0, r.DailyPnL)
	assert.Equal(t, 100_000.0, r.DailyStartValue)

	ok, reason := m.CheckOrder(OrderCheck{VTSymbol: "a", Direction: models.Short, Volume: 100, Price: 10}, nil, 94_000)
	assert.False(t, ok)
	assert.Equal(t, ReasonDailyLoss, reason)

	m.ResetDaily(94_000)
	ok, _ = m.CheckOrder(OrderCheck{VTSymbol: "a", Direction: models.Short, Volume: 100, Price: 10}, nil, 94_000)
	assert.True(t, ok)
}

func TestUpdatePnLBeforeResetLeavesDailyPnLAlone(t *testing.T) {
	m := newManager(nil)
	m.UpdatePnL(90_000)
	assert.Zero(t, m.Report().DailyPnL)
	assert.Equal(t, 90_000.0, m.Report().PeakValue)
}

func TestSectorExposureIsReported(t *testing.T) {
	m := newManager(nil)
	m.AddSectorExposure("bank", 10_000)
	m.AddSectorExposure("bank", 5_000)

	r := m.Report()
	assert.Equal(t, 15_000.0, r.SectorExposure["bank"])
	r.SectorExposure["bank"] = 0
	assert.Equal(t, 15_000.0, m.Report().SectorExposure["bank"], "report is a copy")
}

// ── Gate ─────────────────────────────────────────────────────────────

func TestGateBlocksBeforeLedger(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.InitialCapital = 100_000
	l, err := ledger.New(cfg, ledger.WithLogger(quiet))
	require.NoError(t, err)
	defer l.Close()

	g := NewGate(l, l, newManager(nil))

	// 3% of 100k × 1.5 caps a single order at 4,500
	_, rej := g.SubmitOrder(models.OrderRequest{Symbol: "600000", Direction: models.Long, Type: models.Limit, Volume: 500, Price: 10})
	require.NotNil(t, rej)
	assert.Equal(t, ledger.ReasonRiskLimit, rej.Reason)
	assert.Equal(t, ReasonOrderSize, rej.Message)
	assert.Empty(t, l.Orders(), "blocked orders never reach the ledger")

	id, rej := g.SubmitOrder(models.OrderRequest{Symbol: "600000", Direction: models.Long, Type: models.Limit, Volume: 400, Price: 10})
	require.Nil(t, rej)
	assert.NotEmpty(t, id)

	require.NoError(t, g.CancelOrder(id))
	o, _ := l.Order(id)
	assert.Equal(t, models.StatusCancelled, o.Status)
}

// ── Tracker ──────────────────────────────────────────────────────────

func TestTrackerFollowsAccountEvents(t *testing.T) {
	m := newManager(nil)
	tr := NewTracker(m)

	day1 := time.Date(2026, 3, 2, 10, 0, 0, 0, utils.CST)
	account := func(at time.Time, balance float64) ledger.Event {
		return ledger.Event{Type: ledger.EventAccount, Time: at, Account: &models.Account{Balance: balance}}
	}

	tr.OnEvent(account(day1, 100_000))
	tr.OnEvent(account(day1.Add(time.Hour), 97_000))
	tr.OnEvent(ledger.Event{Type: ledger.EventTrade, Time: day1, Trade: &models.Trade{}})

	r := m.Report()
	assert.Equal(t, 100_000.0, r.DailyStartValue)
	assert.Equal(t, -3_000.0, r.DailyPnL)
	assert.Equal(t, 100_000.0, r.PeakValue)
	assert.InDelta(t, 0.03, r.CurrentDrawdown, 1e-12)

	tr.OnEvent(account(day1.AddDate(0, 0, 1), 96_000))
	r = m.Report()
	assert.Equal(t, 96_000.0, r.DailyStartValue)
	assert.Zero(t, r.DailyPnL)
	assert.InDelta(t, 0.04, r.CurrentDrawdown, 1e-12)
}

func TestTrackerWithLedger(t *testing.T) {
	l, err := ledger.New(ledger.DefaultConfig(), ledger.WithLogger(quiet))
	require.NoError(t, err)
	defer l.Close()

	m := newManager(nil)
	l.Subscribe(NewTracker(m))

	_, rej := l.SubmitOrder(models.OrderRequest{Symbol: "600000", Direction: models.Long, Type: models.Limit, Volume: 100, Price: 10})
	require.Nil(t, rej)

	r := m.Report()
	assert.InDelta(t, 1_000_000.0, r.PeakValue, 1e-6)
	assert.InDelta(t, 1_000_000.0, r.DailyStartValue, 1e-6)
}
