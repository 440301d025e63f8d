// Package risk gates trading decisions with portfolio-level limits:
// position count, position size, drawdown and daily loss.
package risk

import (
	"log/slog"
	"math"
	"sync"

	"github.com/seenimoa/papertrader/internal/strategy"
	"github.com/seenimoa/papertrader/pkg/models"
)

// targetVolatility is the volatility at which a position gets its full
// nominal size; more volatile names are scaled down proportionally.
const targetVolatility = 0.02

// orderSizeTolerance allows a single order to exceed the nominal position
// size by half before it is rejected.
const orderSizeTolerance = 1.5

// Rejection reasons returned by CheckOrder.
const (
	ReasonDailyLoss    = "Daily loss limit exceeded"
	ReasonDrawdown     = "Maximum drawdown exceeded"
	ReasonMaxPositions = "Maximum positions reached"
	ReasonOrderSize    = "Position size too large"
)

// ════════════════════════════════════════════════════════════════════
// Limits
// ════════════════════════════════════════════════════════════════════

// Limits are the portfolio risk limits. Fractions are of portfolio value.
type Limits struct {
	MaxPositions        int     `json:"max_positions"`
	PositionSize        float64 `json:"position_size"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	DailyLossLimit      float64 `json:"daily_loss_limit"`
	SectorConcentration float64 `json:"sector_concentration"`
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPositions:        30,
		PositionSize:        0.03,
		MaxDrawdown:         0.15,
		DailyLossLimit:      0.05,
		SectorConcentration: 0.3,
	}
}

// LimitsFromStrategy builds limits from a strategy's risk section, keeping
// defaults for unset values.
func LimitsFromStrategy(rc strategy.RiskControl) Limits {
	l := DefaultLimits()
	if rc.MaxPositions > 0 {
		l.MaxPositions = rc.MaxPositions
	}
	if rc.PositionSize > 0 {
		l.PositionSize = rc.PositionSize
	}
	if rc.MaxDrawdown > 0 {
		l.MaxDrawdown = rc.MaxDrawdown
	}
	if rc.DailyLossLimit > 0 {
		l.DailyLossLimit = rc.DailyLossLimit
	}
	if rc.SectorConcentration > 0 {
		l.SectorConcentration = rc.SectorConcentration
	}
	return l
}

// ════════════════════════════════════════════════════════════════════
// Manager
// ════════════════════════════════════════════════════════════════════

// Signal is a ranked entry candidate.
type Signal struct {
	VTSymbol   string  `json:"vt_symbol"`
	Score      float64 `json:"score"`
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility,omitempty"`
}

// OrderCheck describes an order for CheckOrder.
type OrderCheck struct {
	VTSymbol  string
	Direction models.Direction
	Volume    int
	Price     float64
}

// Report is a point-in-time view of the risk state.
type Report struct {
	PeakValue       float64            `json:"peak_value"`
	CurrentDrawdown float64            `json:"current_drawdown"`
	DailyPnL        float64            `json:"daily_pnl"`
	DailyStartValue float64            `json:"daily_start_value"`
	TradingAllowed  bool               `json:"trading_allowed"`
	Limits          Limits             `json:"limits"`
	SectorExposure  map[string]float64 `json:"sector_exposure,omitempty"`
}

// Manager tracks peak value, drawdown and daily pnl and applies Limits.
// It is safe for concurrent use.
type Manager struct {
	limits  Limits
	lotSize int
	logger  *slog.Logger

	mu         sync.RWMutex
	peak       float64
	drawdown   float64
	dailyStart float64
	dailyPnL   float64
	sectors    map[string]float64
}

// NewManager returns a manager enforcing limits on lotSize-share lots.
func NewManager(limits Limits, lotSize int, logger *slog.Logger) *Manager {
	if lotSize <= 0 {
		lotSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		limits:  limits,
		lotSize: lotSize,
		logger:  logger.With("component", "risk"),
		sectors: make(map[string]float64),
	}
	m.logger.Info("risk manager initialized",
		"max_positions", limits.MaxPositions,
		"position_size", limits.PositionSize,
		"max_drawdown", limits.MaxDrawdown,
		"daily_loss_limit", limits.DailyLossLimit,
	)
	return m
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits { return m.limits }

// ApplyFilters updates drawdown tracking with pv and trims signals to what
// the limits admit. Past the drawdown ceiling nothing passes; with every
// slot taken only already-held symbols pass; otherwise the first
// free-slot signals pass in order.
func (m *Manager) ApplyFilters(signals []Signal, held map[string]int, pv float64) []Signal {
	if len(signals) == 0 {
		return signals
	}

	m.mu.Lock()
	m.track(pv)
	drawdown := m.drawdown
	m.mu.Unlock()

	if drawdown > m.limits.MaxDrawdown {
		m.logger.Warn("trading blocked by drawdown", "drawdown", drawdown, "limit", m.limits.MaxDrawdown)
		return nil
	}

	count := openCount(held)
	free := m.limits.MaxPositions - count
	if free <= 0 {
		m.logger.Info("max positions reached, no new entries", "positions", count)
		out := make([]Signal, 0, len(signals))
		for _, s := range signals {
			if held[s.VTSymbol] != 0 {
				out = append(out, s)
			}
		}
		return out
	}

	if len(signals) > free {
		m.logger.Debug("risk filter truncated signals", "signals", len(signals), "allowed", free)
		signals = signals[:free]
	}
	return signals
}

// SizePosition returns the target position value for a new entry: the
// nominal fraction of pv, scaled down for volatility above the target and
// never below one lot at price.
func (m *Manager) SizePosition(price, pv, volatility float64) float64 {
	size := pv * m.limits.PositionSize
	if volatility > 0 {
		size *= math.Min(1, targetVolatility/volatility)
	}
	if minSize := price * float64(m.lotSize); size < minSize {
		size = minSize
	}
	return size
}

// CalculateVolume converts a target value into whole lots at price.
func (m *Manager) CalculateVolume(price, value float64) int {
	if price <= 0 || value <= 0 {
		return 0
	}
	lots := math.Floor(value / price / float64(m.lotSize))
	return int(lots) * m.lotSize
}

// CheckOrder validates an order against the limits. The first failing
// check supplies the reason.
func (m *Manager) CheckOrder(o OrderCheck, held map[string]int, pv float64) (bool, string) {
	m.mu.RLock()
	dailyPnL, drawdown := m.dailyPnL, m.drawdown
	m.mu.RUnlock()

	if dailyPnL < -m.limits.DailyLossLimit*pv {
		return false, ReasonDailyLoss
	}
	if drawdown > m.limits.MaxDrawdown {
		return false, ReasonDrawdown
	}

	if o.Direction == models.Long {
		if _, holds := held[o.VTSymbol]; !holds && openCount(held) >= m.limits.MaxPositions {
			return false, ReasonMaxPositions
		}
		if float64(o.Volume)*o.Price > pv*m.limits.PositionSize*orderSizeTolerance {
			return false, ReasonOrderSize
		}
	}
	return true, ""
}

// ResetDaily starts a new trading day at pv.
func (m *Manager) ResetDaily(pv float64) {
	m.mu.Lock()
	m.dailyStart = pv
	m.dailyPnL = 0
	m.mu.Unlock()

	m.logger.Info("daily risk counters reset", "start_value", pv)
}

// UpdatePnL records pv as the latest portfolio value.
func (m *Manager) UpdatePnL(pv float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dailyStart > 0 {
		m.dailyPnL = pv - m.dailyStart
	}
	m.track(pv)
}

// AddSectorExposure accumulates value against sector. Exposure is
// reported but not enforced.
func (m *Manager) AddSectorExposure(sector string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sectors[sector] += value
}

// Report returns the current risk state.
func (m *Manager) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sectors := make(map[string]float64, len(m.sectors))
	for k, v := range m.sectors {
		sectors[k] = v
	}
	return Report{
		PeakValue:       m.peak,
		CurrentDrawdown: m.drawdown,
		DailyPnL:        m.dailyPnL,
		DailyStartValue: m.dailyStart,
		TradingAllowed:  m.drawdown <= m.limits.MaxDrawdown,
		Limits:          m.limits,
		SectorExposure:  sectors,
	}
}

// track updates the peak and drawdown. mu must be held.
func (m *Manager) track(pv float64) {
	if pv > m.peak {
		m.peak = pv
	}
	if m.peak > 0 {
		m.drawdown = (m.peak - pv) / m.peak
	} else {
		m.drawdown = 0
	}
}

func openCount(held map[string]int) int {
	n := 0
	for _, v := range held {
		if v != 0 {
			n++
		}
	}
	return n
}
