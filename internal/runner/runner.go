// Package runner replays historical bars through the ledger and drives the
// rule engine and risk manager the way a live strategy would: exits are
// decided before entries at every timestamp, entries are ranked by signal
// strength and sized by the risk manager.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/papertrader/internal/indicator"
	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/internal/risk"
	"github.com/seenimoa/papertrader/internal/rules"
	"github.com/seenimoa/papertrader/internal/strategy"
	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// historyLimit caps the bars kept per symbol for indicator computation.
const historyLimit = 250

// progressEvery is the bar interval between progress log lines.
const progressEvery = 100

// SentimentSource scores a symbol between 0 (bearish) and 1 (bullish).
// *sentiment.Analyzer implements it.
type SentimentSource interface {
	Score(ctx context.Context, vtSymbol string) float64
}

// Options tune a replay.
type Options struct {
	Speed        float64 // 0 replays without pacing
	WarmupBars   int     // bars of history required before entries are considered
	RiskFreeRate float64 // annual, for Sharpe and Sortino
	Sentiment    SentimentSource
	Logger       *slog.Logger
}

// lot tracks an open position from the runner's point of view.
type lot struct {
	entryTime time.Time
	volume    int
	cost      float64 // volume × average fill price
	high      float64
}

// Runner owns a ledger and replays bars through it. A Runner is single-use.
type Runner struct {
	id     string
	strat  strategy.Config
	opts   Options
	logger *slog.Logger

	ledger *ledger.Ledger
	gate   *risk.Gate
	engine *rules.Engine
	risk   *risk.Manager

	clockMu sync.RWMutex
	clock   time.Time

	mu          sync.Mutex // guards the trade-driven state below
	lots        map[string]*lot
	pendingExit map[string]string // vt_symbol -> exit reason of the working sell
	trips       []models.RoundTrip

	history  map[string][]models.Bar
	indNames []string
	day      string
	bars     int
	equity   []models.EquityPoint
	from, to time.Time
}

// New builds a runner with a fresh ledger configured by lcfg. The ledger
// clock follows the replayed bars.
func New(strat strategy.Config, lcfg ledger.Config, opts Options) (*Runner, error) {
	if err := strat.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		id:          uuid.NewString(),
		strat:       strat,
		opts:        opts,
		lots:        make(map[string]*lot),
		pendingExit: make(map[string]string),
		history:     make(map[string][]models.Bar),
	}
	r.logger = logger.With("component", "runner", "run_id", r.id)

	l, err := ledger.New(lcfg, ledger.WithLogger(logger), ledger.WithClock(r.now))
	if err != nil {
		return nil, err
	}
	r.ledger = l
	r.engine = rules.New(strat, logger)
	r.risk = risk.NewManager(risk.LimitsFromStrategy(strat.RiskControl), l.Config().LotSize, logger)
	r.gate = risk.NewGate(l, l, r.risk)
	r.indNames = r.engine.Indicators()

	l.Subscribe(ledger.ObserverFunc(r.onEvent))
	return r, nil
}

// ID returns the run id.
func (r *Runner) ID() string { return r.id }

// Ledger returns the ledger the runner trades on, for attaching observers
// before Run.
func (r *Runner) Ledger() *ledger.Ledger { return r.ledger }

// Risk returns the runner's risk manager.
func (r *Runner) Risk() *risk.Manager { return r.risk }

func (r *Runner) now() time.Time {
	r.clockMu.RLock()
	defer r.clockMu.RUnlock()
	if r.clock.IsZero() {
		return time.Now()
	}
	return r.clock
}

func (r *Runner) setClock(t time.Time) {
	r.clockMu.Lock()
	r.clock = t
	r.clockMu.Unlock()
}

// ════════════════════════════════════════════════════════════════════
// Replay
// ════════════════════════════════════════════════════════════════════

// Run replays bars (sorted by time) and returns the result. Orders still
// working at the end are cancelled; open positions are left open and
// valued at their last price.
func (r *Runner) Run(ctx context.Context, bars []models.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	r.from = bars[0].Time
	r.to = bars[len(bars)-1].Time

	r.logger.Info("replay started",
		"strategy", r.strat.Name,
		"bars", len(bars),
		"from", utils.FormatDateCST(r.from),
		"to", utils.FormatDateCST(r.to),
	)

	err := NewBarFeed(bars, r.opts.Speed).Run(ctx, r)
	r.cancelWorking()

	res := r.result()
	if err != nil {
		return res, fmt.Errorf("replay interrupted after %d bars: %w", r.bars, err)
	}

	r.logger.Info("replay finished",
		"bars", r.bars,
		"trades", res.Stats.TotalTrades,
		"balance", utils.FormatCNY(res.Stats.CurrentBalance),
		"return_pct", res.Stats.ReturnPct,
	)
	return res, nil
}

// OnTick forwards replayed ticks to the ledger.
func (r *Runner) OnTick(t models.Tick) {
	r.setClock(t.Time)
	r.ledger.OnTick(t)
}

// OnBars runs one decision cycle after the ticks at `at` have been matched.
func (r *Runner) OnBars(ctx context.Context, at time.Time, bars []models.Bar) error {
	r.setClock(at)
	r.cancelWorking()

	pv := r.ledger.Account().Balance
	if day := utils.FormatDateCST(at); day != r.day {
		r.day = day
		r.risk.ResetDaily(pv)
	}
	r.risk.UpdatePnL(pv)

	for _, b := range bars {
		vt := b.VTSymbol()
		h := append(r.history[vt], b)
		if len(h) > historyLimit {
			h = h[len(h)-historyLimit:]
		}
		r.history[vt] = h
	}

	held := r.ledger.Holdings()
	r.exits(ctx, at, bars, held)
	r.entries(ctx, bars, held, pv)

	r.equity = append(r.equity, models.EquityPoint{Time: at, Value: r.ledger.Stats().Equity})

	r.bars += len(bars)
	if r.bars/progressEvery != (r.bars-len(bars))/progressEvery {
		stats := r.ledger.Stats()
		r.logger.Info("replay progress",
			"bars", r.bars,
			"balance", utils.FormatCNY(stats.CurrentBalance),
			"trades", stats.TotalTrades,
		)
	}
	return nil
}

// exits submits a full-position limit sell at the close for every held
// symbol whose exit rules fire.
func (r *Runner) exits(ctx context.Context, at time.Time, bars []models.Bar, held map[string]int) {
	for _, b := range bars {
		vt := b.VTSymbol()
		volume := held[vt]
		if volume <= 0 {
			continue
		}
		pos, ok := r.ledger.Position(vt)
		if !ok {
			continue
		}

		r.mu.Lock()
		state := rules.ExitState{EntryPrice: pos.AvgPrice, CurrentPrice: b.Close}
		if l := r.lots[vt]; l != nil {
			l.high = max(l.high, b.Close)
			state.HighSinceEntry = l.high
			state.HoldingDays = utils.TradingDaysBetween(l.entryTime, at)
		}
		r.mu.Unlock()
		state.Values = r.values(ctx, vt)

		exit, reason := r.engine.EvaluateExit(state)
		if !exit {
			continue
		}

		// exits bypass the risk gate: they only ever reduce exposure
		id, rej := r.ledger.SubmitOrder(models.OrderRequest{
			Symbol:    b.Symbol,
			Exchange:  b.Exchange,
			Direction: models.Short,
			Type:      models.Limit,
			Volume:    volume,
			Price:     b.Close,
			Reference: reason,
		})
		if rej != nil {
			r.logger.Warn("exit order rejected", "vt_symbol", vt, "reason", rej.String())
			continue
		}
		r.mu.Lock()
		r.pendingExit[vt] = reason
		r.mu.Unlock()
		r.logger.Info("exit signal", "vt_symbol", vt, "order_id", id, "reason", reason, "price", b.Close)
	}
}

type candidate struct {
	bar      models.Bar
	strength float64
	vol      float64
}

// entries ranks the symbols without a position whose entry rules pass,
// runs them through the risk filters and submits sized limit buys at the
// close through the risk gate.
func (r *Runner) entries(ctx context.Context, bars []models.Bar, held map[string]int, pv float64) {
	var cands []candidate
	for _, b := range bars {
		vt := b.VTSymbol()
		if held[vt] > 0 || len(r.history[vt]) < r.opts.WarmupBars {
			continue
		}
		values := r.values(ctx, vt)
		ok, strength := r.engine.EvaluateEntry(values)
		if !ok {
			continue
		}
		if r.strat.EntryRules.AIEnhanced && r.opts.Sentiment != nil {
			w := r.strat.EntryRules.AIWeight
			strength = (1-w)*strength + w*r.opts.Sentiment.Score(ctx, vt)
		}
		cands = append(cands, candidate{bar: b, strength: strength, vol: values["volatility"]})
	}
	if len(cands) == 0 {
		return
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].strength > cands[j].strength })
	signals := make([]risk.Signal, len(cands))
	byVT := make(map[string]candidate, len(cands))
	for i, c := range cands {
		vt := c.bar.VTSymbol()
		signals[i] = risk.Signal{VTSymbol: vt, Score: c.strength, Price: c.bar.Close, Volatility: c.vol}
		byVT[vt] = c
	}

	for _, s := range r.risk.ApplyFilters(signals, held, pv) {
		c := byVT[s.VTSymbol]
		volume := r.risk.CalculateVolume(s.Price, r.risk.SizePosition(s.Price, pv, s.Volatility))
		if volume <= 0 {
			continue
		}
		id, rej := r.gate.SubmitOrder(models.OrderRequest{
			Symbol:    c.bar.Symbol,
			Exchange:  c.bar.Exchange,
			Direction: models.Long,
			Type:      models.Limit,
			Volume:    volume,
			Price:     s.Price,
			Reference: fmt.Sprintf("entry %.2f", s.Score),
		})
		if rej != nil {
			r.logger.Info("entry order rejected", "vt_symbol", s.VTSymbol, "reason", rej.String())
			continue
		}
		r.logger.Info("entry signal",
			"vt_symbol", s.VTSymbol,
			"order_id", id,
			"strength", s.Score,
			"volume", volume,
			"price", s.Price,
		)
	}
}

// values computes the indicator map for vt, adding "sentiment" in [-1, 1]
// when a sentiment source is configured.
func (r *Runner) values(ctx context.Context, vt string) indicator.Values {
	v := indicator.Compute(r.history[vt], r.indNames...)
	if r.opts.Sentiment != nil {
		v["sentiment"] = 2*r.opts.Sentiment.Score(ctx, vt) - 1
	}
	return v
}

// cancelWorking cancels orders left from the previous cycle. Replay orders
// live for one bar.
func (r *Runner) cancelWorking() {
	for _, o := range r.ledger.ActiveOrders() {
		if err := r.ledger.CancelOrder(o.ID); err != nil {
			r.logger.Debug("cancel failed", "order_id", o.ID, "error", err)
			continue
		}
		if o.Direction == models.Short {
			r.mu.Lock()
			delete(r.pendingExit, o.VTSymbol())
			r.mu.Unlock()
		}
	}
}

// onEvent turns fills into lots and round trips. It runs under the ledger
// lock and must not call back into the ledger.
func (r *Runner) onEvent(ev ledger.Event) {
	if ev.Type != ledger.EventTrade || ev.Trade == nil {
		return
	}
	t := *ev.Trade
	vt := t.VTSymbol()

	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.lots[vt]
	if t.Direction == models.Long {
		if l == nil {
			l = &lot{entryTime: t.Time}
			r.lots[vt] = l
		}
		l.volume += t.Volume
		l.cost += t.Notional()
		l.high = max(l.high, t.Price)
		return
	}

	if l == nil || l.volume == 0 {
		return
	}
	avg := l.cost / float64(l.volume)
	pnl := (t.Price - avg) * float64(t.Volume)
	r.trips = append(r.trips, models.RoundTrip{
		VTSymbol:   vt,
		EntryTime:  l.entryTime,
		ExitTime:   t.Time,
		EntryPrice: avg,
		ExitPrice:  t.Price,
		Volume:     t.Volume,
		PnL:        pnl,
		PnLPct:     (t.Price/avg - 1) * 100,
		HoldDays:   utils.TradingDaysBetween(l.entryTime, t.Time),
		Reason:     r.pendingExit[vt],
	})

	l.cost -= avg * float64(t.Volume)
	l.volume -= t.Volume
	if l.volume <= 0 {
		delete(r.lots, vt)
		delete(r.pendingExit, vt)
	}
}
