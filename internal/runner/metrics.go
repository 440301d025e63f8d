package runner

import (
	"math"
	"sort"

	"github.com/seenimoa/papertrader/pkg/models"
)

// tradingDaysPerYear annualizes per-bar ratios on daily bars.
const tradingDaysPerYear = 252

// Metrics summarizes a replay.
type Metrics struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	RoundTrips     int     `json:"round_trips"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"` // percent
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
	Expectancy     float64 `json:"expectancy"`
	MedianPnL      float64 `json:"median_pnl"`
	AvgHoldDays    float64 `json:"avg_hold_days"`
	MaxWinStreak   int     `json:"max_win_streak"`
	MaxLossStreak  int     `json:"max_loss_streak"`
}

// ════════════════════════════════════════════════════════════════════
// Performance Metrics
// ════════════════════════════════════════════════════════════════════

// ComputeMetrics derives Metrics from an equity curve and the completed
// round trips. riskFreeRate is annual (e.g. 0.02).
func ComputeMetrics(curve []models.EquityPoint, trips []models.RoundTrip, riskFreeRate float64) Metrics {
	var m Metrics
	if len(curve) > 0 && curve[0].Value > 0 {
		m.TotalReturnPct = (curve[len(curve)-1].Value/curve[0].Value - 1) * 100
	}
	m.MaxDrawdown, m.MaxDrawdownPct = drawdown(curve)

	returns := periodReturns(curve)
	m.SharpeRatio = sharpe(returns, riskFreeRate)
	m.SortinoRatio = sortino(returns, riskFreeRate)

	tradeStats(&m, trips)
	return m
}

// ────────────────────────────────────────────────────────────────────
// Trade statistics
// ────────────────────────────────────────────────────────────────────

func tradeStats(m *Metrics, trips []models.RoundTrip) {
	m.RoundTrips = len(trips)
	if len(trips) == 0 {
		return
	}

	var totalWin, totalLoss, holdDays float64
	pnls := make([]float64, len(trips))
	winRun, lossRun := 0, 0
	for i, t := range trips {
		pnls[i] = t.PnL
		holdDays += float64(t.HoldDays)

		switch {
		case t.PnL > 0:
			m.Wins++
			totalWin += t.PnL
			winRun, lossRun = winRun+1, 0
		case t.PnL < 0:
			m.Losses++
			totalLoss += -t.PnL
			winRun, lossRun = 0, lossRun+1
		default:
			winRun, lossRun = 0, 0
		}
		m.MaxWinStreak = max(m.MaxWinStreak, winRun)
		m.MaxLossStreak = max(m.MaxLossStreak, lossRun)
	}

	n := float64(len(trips))
	m.WinRate = float64(m.Wins) / n * 100
	m.Expectancy = (totalWin - totalLoss) / n
	m.AvgHoldDays = holdDays / n
	if m.Wins > 0 {
		m.AvgWin = totalWin / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = totalLoss / float64(m.Losses)
	}
	// left at zero without losses so results stay JSON-encodable
	if totalLoss > 0 {
		m.ProfitFactor = totalWin / totalLoss
	}

	sort.Float64s(pnls)
	if k := len(pnls); k%2 == 0 {
		m.MedianPnL = (pnls[k/2-1] + pnls[k/2]) / 2
	} else {
		m.MedianPnL = pnls[k/2]
	}
}

// ────────────────────────────────────────────────────────────────────
// Drawdown and risk-adjusted return
// ────────────────────────────────────────────────────────────────────

func drawdown(curve []models.EquityPoint) (abs, pct float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Value
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		dd := peak - p.Value
		abs = math.Max(abs, dd)
		if peak > 0 {
			pct = math.Max(pct, dd/peak*100)
		}
	}
	return abs, pct
}

func sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := excessReturns(returns, riskFreeRate)
	sd := stddev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
}

// sortino uses downside deviation over all periods.
func sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := excessReturns(returns, riskFreeRate)

	var sq float64
	for _, r := range excess {
		if r < 0 {
			sq += r * r
		}
	}
	dd := math.Sqrt(sq / float64(len(excess)))
	if dd == 0 {
		return 0
	}
	return mean(excess) / dd * math.Sqrt(tradingDaysPerYear)
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

func periodReturns(curve []models.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Value > 0 {
			out[i-1] = curve[i].Value/curve[i-1].Value - 1
		}
	}
	return out
}

func excessReturns(returns []float64, riskFreeRate float64) []float64 {
	rf := riskFreeRate / tradingDaysPerYear
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - rf
	}
	return out
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stddev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	m := mean(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)-1))
}
