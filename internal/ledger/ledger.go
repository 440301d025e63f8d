// Package ledger implements the paper trading account ledger and its order
// matcher. A Ledger owns cash, frozen funds, positions, orders and trades,
// and settles orders against incoming ticks using A-share cost rules.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// TickerFunc returns a channel that fires every d and a function that stops
// it. Tests inject a manual ticker.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used for order, trade and event
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithTicker overrides the ticker that drives the snapshot publisher.
func WithTicker(f TickerFunc) Option {
	return func(l *Ledger) {
		if f != nil {
			l.newTicker = f
		}
	}
}

type subscription struct {
	id  int
	obs Observer
}

// ════════════════════════════════════════════════════════════════════
// Ledger
// ════════════════════════════════════════════════════════════════════

// Ledger is a simulated A-share cash account with an order matcher.
//
// Lock order: ordersMu before stateMu, never the reverse. Snapshot readers
// take stateMu alone.
type Ledger struct {
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newTicker TickerFunc

	ordersMu sync.Mutex
	orders   map[string]*models.Order
	history  []*models.Order // submission order, rejected included
	active   []*models.Order // submission order
	trades   []models.Trade
	orderSeq int

	// closed is set by Close before it waits on anything. Mutators check it
	// under their locks.
	closed atomic.Bool

	stateMu    sync.RWMutex
	balance    float64
	frozen     float64
	commission float64
	stampDuty  float64
	realized   float64
	tradeSeq   int
	positions  map[string]*models.Position
	ticks      map[string]models.Tick
	subs       []subscription
	nextSubID  int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns a ledger holding cfg.InitialCapital in cash.
// Only identity, lot size and timing fields are defaulted; callers wanting
// the standard cost model should build cfg from DefaultConfig.
func New(cfg Config, opts ...Option) (*Ledger, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
		newTicker: systemTicker,
		orders:    make(map[string]*models.Order),
		positions: make(map[string]*models.Position),
		ticks:     make(map[string]models.Tick),
		balance:   cfg.InitialCapital,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger", "account", cfg.AccountID)

	l.logger.Info("paper account initialized",
		"capital", utils.FormatCNY(cfg.InitialCapital),
		"commission_rate", cfg.CommissionRate,
		"stamp_duty_rate", cfg.StampDutyRate,
		"slippage", cfg.Slippage,
		"execution_delay", cfg.ExecutionDelay,
	)
	return l, nil
}

// Config returns the validated configuration.
func (l *Ledger) Config() Config { return l.cfg }

// Subscribe registers obs for every subsequent event and returns a function
// that removes it. Observers are called in registration order.
func (l *Ledger) Subscribe(obs Observer) (unsubscribe func()) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.nextSubID++
	id := l.nextSubID
	l.subs = append(l.subs, subscription{id: id, obs: obs})

	var once sync.Once
	return func() {
		once.Do(func() {
			l.stateMu.Lock()
			defer l.stateMu.Unlock()
			for i, s := range l.subs {
				if s.id == id {
					l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// SubmitOrder validates req and, on success, registers it as an active
// order. A buy reserves price × volume × (1 + commission) from the balance
// into frozen funds. On rejection no funds move and the order is kept in
// the order history with status REJECTED.
func (l *Ledger) SubmitOrder(req models.OrderRequest) (string, *Rejection) {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.closed.Load() {
		return "", reject(ReasonClosed, "ledger is closed")
	}

	req.Symbol = utils.NormalizeSymbol(req.Symbol)
	if req.Exchange == "" {
		req.Exchange = utils.ExchangeFor(req.Symbol)
	}

	now := l.now()
	l.orderSeq++
	order := &models.Order{
		ID:        fmt.Sprintf("%s.%d", l.cfg.AccountID, l.orderSeq),
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Direction: req.Direction,
		Type:      req.Type,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    models.StatusSubmitting,
		Reference: req.Reference,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if rej := l.validate(req); rej != nil {
		order.Status = models.StatusRejected
		order.StatusMessage = rej.Message
		l.orders[order.ID] = order
		l.history = append(l.history, order)
		l.emitOrder(order)
		l.logger.Info("order rejected",
			"order_id", order.ID,
			"vt_symbol", order.VTSymbol(),
			"reason", rej.Reason,
			"message", rej.Message,
		)
		return "", rej
	}

	if req.Direction == models.Long {
		reserve := l.reservation(req.Price, req.Volume)
		l.balance -= reserve
		l.frozen += reserve
	}

	order.Status = models.StatusNotTraded
	l.orders[order.ID] = order
	l.history = append(l.history, order)
	l.active = append(l.active, order)
	l.emitOrder(order)
	if req.Direction == models.Long {
		l.emitAccount()
	}

	l.logger.Info("order submitted",
		"order_id", order.ID,
		"vt_symbol", order.VTSymbol(),
		"direction", order.Direction,
		"type", order.Type,
		"volume", order.Volume,
		"price", order.Price,
	)
	return order.ID, nil
}

// validate runs the admission checks in order; the first failure wins.
// Both locks must be held.
func (l *Ledger) validate(req models.OrderRequest) *Rejection {
	if req.Symbol == "" {
		return reject(ReasonInvalidRequest, "symbol is required")
	}
	if req.Direction != models.Long && req.Direction != models.Short {
		return reject(ReasonInvalidRequest, "unknown direction %q", req.Direction)
	}
	if req.Type != models.Limit && req.Type != models.Market {
		return reject(ReasonInvalidRequest, "unknown order type %q", req.Type)
	}

	lot := l.cfg.LotSize
	if req.Volume < lot {
		return reject(ReasonInvalidLot, "volume must be at least %d shares, got %d", lot, req.Volume)
	}
	if req.Volume%lot != 0 {
		return reject(ReasonInvalidLot, "volume must be a multiple of %d, got %d", lot, req.Volume)
	}

	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return reject(ReasonInvalidPrice, "price must be positive, got %v", req.Price)
	}

	switch req.Direction {
	case models.Long:
		required := l.reservation(req.Price, req.Volume)
		available := l.balance - l.frozen
		if required > available {
			return reject(ReasonInsufficientFunds, "need %.2f, have %.2f", required, available)
		}
	case models.Short:
		held := 0
		if pos, ok := l.positions[req.VTSymbol()]; ok {
			held = pos.Volume
		}
		if held < req.Volume {
			return reject(ReasonInsufficientPosition, "need %d, have %d", req.Volume, held)
		}
	}
	return nil
}

// reservation is the amount frozen for a buy of volume at price.
func (l *Ledger) reservation(price float64, volume int) float64 {
	return price * float64(volume) * (1 + l.cfg.CommissionRate)
}

// CancelOrder cancels an active order and releases the funds still
// reserved for its unfilled volume. Cancelling an order that has already
// finished is a no-op.
func (l *Ledger) CancelOrder(id string) error {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.closed.Load() {
		return ErrClosed
	}

	order, ok := l.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if !order.IsActive() {
		l.logger.Debug("cancel ignored for finished order", "order_id", id, "status", order.Status)
		return nil
	}

	if order.Direction == models.Long {
		release := l.reservation(order.Price, order.Remaining())
		l.frozen -= release
		l.balance += release
	}

	order.Status = models.StatusCancelled
	order.UpdatedAt = l.now()
	l.dropInactive()

	l.emitOrder(order)
	l.emitAccount()
	l.logger.Info("order cancelled", "order_id", id, "vt_symbol", order.VTSymbol(), "remaining", order.Remaining())
	return nil
}

// dropInactive removes finished orders from the active list, keeping
// submission order. ordersMu must be held.
func (l *Ledger) dropInactive() {
	kept := l.active[:0]
	for _, o := range l.active {
		if o.IsActive() {
			kept = append(kept, o)
		}
	}
	for i := len(kept); i < len(l.active); i++ {
		l.active[i] = nil
	}
	l.active = kept
}

// Order returns a copy of the order with the given id.
func (l *Ledger) Order(id string) (models.Order, bool) {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// Orders returns every order in submission order.
func (l *Ledger) Orders() []models.Order {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()

	out := make([]models.Order, len(l.history))
	for i, o := range l.history {
		out[i] = *o
	}
	return out
}

// ActiveOrders returns the orders that can still trade, in submission order.
func (l *Ledger) ActiveOrders() []models.Order {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()

	out := make([]models.Order, len(l.active))
	for i, o := range l.active {
		out[i] = *o
	}
	return out
}

// Trades returns every fill in execution order.
func (l *Ledger) Trades() []models.Trade {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()

	out := make([]models.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// ════════════════════════════════════════════════════════════════════
// Account & Positions
// ════════════════════════════════════════════════════════════════════

// Statistics is a live summary of the account.
type Statistics struct {
	InitialCapital  float64 `json:"initial_capital"`
	CurrentBalance  float64 `json:"current_balance"`
	Frozen          float64 `json:"frozen"`
	TotalPnL        float64 `json:"total_pnl"` // unrealized, marked at the last tick
	TotalCommission float64 `json:"total_commission"`
	TotalStampDuty  float64 `json:"total_stamp_duty"`
	RealizedPnL     float64 `json:"realized_pnl"`
	TotalTrades     int     `json:"total_trades"`
	MarketValue     float64 `json:"market_value"`
	Equity          float64 `json:"equity"`
	ReturnPct       float64 `json:"return_pct"`
}

// Stats computes the account statistics. Return is measured on equity:
// cash, frozen funds and marked position value.
func (l *Ledger) Stats() Statistics {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()

	var pnl, mv float64
	for _, p := range l.positions {
		pnl += p.PnL
		mv += p.MarketValue()
	}
	equity := l.balance + l.frozen + mv

	return Statistics{
		InitialCapital:  l.cfg.InitialCapital,
		CurrentBalance:  l.balance,
		Frozen:          l.frozen,
		TotalPnL:        pnl,
		TotalCommission: l.commission,
		TotalStampDuty:  l.stampDuty,
		RealizedPnL:     l.realized,
		TotalTrades:     l.tradeSeq,
		MarketValue:     mv,
		Equity:          equity,
		ReturnPct:       (equity - l.cfg.InitialCapital) / l.cfg.InitialCapital * 100,
	}
}

// Account returns the account snapshot: Balance is cash plus frozen funds
// plus position value.
func (l *Ledger) Account() models.Account {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.accountLocked()
}

func (l *Ledger) accountLocked() models.Account {
	var mv float64
	for _, p := range l.positions {
		mv += p.MarketValue()
	}
	return models.Account{
		ID:        l.cfg.AccountID,
		Balance:   l.balance + l.frozen + mv,
		Frozen:    l.frozen,
		Available: l.balance - l.frozen,
	}
}

// Position returns a copy of the position on vtSymbol.
func (l *Ledger) Position(vtSymbol string) (models.Position, bool) {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()

	p, ok := l.positions[vtSymbol]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Positions returns the non-zero positions sorted by vt_symbol.
func (l *Ledger) Positions() []models.Position {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.openPositionsLocked()
}

func (l *Ledger) openPositionsLocked() []models.Position {
	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Volume > 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].VTSymbol(), out[j].VTSymbol()) < 0
	})
	return out
}

// Holdings returns the held volume per vt_symbol.
func (l *Ledger) Holdings() map[string]int {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()

	out := make(map[string]int, len(l.positions))
	for vt, p := range l.positions {
		if p.Volume > 0 {
			out[vt] = p.Volume
		}
	}
	return out
}

// LastTick returns the most recent tick seen for vtSymbol.
func (l *Ledger) LastTick(vtSymbol string) (models.Tick, bool) {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()

	t, ok := l.ticks[vtSymbol]
	return t, ok
}

// Reset restores the initial capital and clears orders, trades, positions,
// ticks and counters.
func (l *Ledger) Reset() error {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.closed.Load() {
		return ErrClosed
	}

	l.orders = make(map[string]*models.Order)
	l.history = nil
	l.active = nil
	l.trades = nil
	l.orderSeq = 0

	l.balance = l.cfg.InitialCapital
	l.frozen = 0
	l.commission = 0
	l.stampDuty = 0
	l.realized = 0
	l.tradeSeq = 0
	l.positions = make(map[string]*models.Position)
	l.ticks = make(map[string]models.Tick)

	l.emitAccount()
	l.logger.Info("paper account reset", "capital", utils.FormatCNY(l.cfg.InitialCapital))
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Events
// ════════════════════════════════════════════════════════════════════

// emit delivers ev to every observer. stateMu must be held.
func (l *Ledger) emit(ev Event) {
	ev.Time = l.now()
	for _, s := range l.subs {
		l.deliver(s.obs, ev)
	}
}

func (l *Ledger) deliver(obs Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("observer panicked", "event", ev.Type, "panic", r)
		}
	}()
	obs.OnEvent(ev)
}

func (l *Ledger) emitOrder(o *models.Order) {
	cp := *o
	l.emit(Event{Type: EventOrder, Order: &cp})
}

func (l *Ledger) emitTrade(t models.Trade) {
	l.emit(Event{Type: EventTrade, Trade: &t})
}

func (l *Ledger) emitPosition(p *models.Position) {
	cp := *p
	l.emit(Event{Type: EventPosition, Position: &cp})
}

func (l *Ledger) emitAccount() {
	acct := l.accountLocked()
	l.emit(Event{Type: EventAccount, Account: &acct})
}
