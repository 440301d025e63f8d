// Package indicator computes technical indicators from bar history and
// flattens the latest values into the name→value map the rule engine
// evaluates.
package indicator

import (
	"strconv"
	"strings"

	"github.com/seenimoa/papertrader/pkg/models"
)

// Values maps lowercase indicator names to their latest value.
type Values map[string]float64

// StandardSMAPeriods are always computed as sma_<n>.
var StandardSMAPeriods = []int{5, 10, 20, 60}

// volatilityWindow is the number of daily returns behind "volatility".
const volatilityWindow = 20

// Compute returns the latest indicator values for bars (oldest first).
// Indicators without enough history are omitted. Extra names of the form
// sma_<n>, ema_<n>, wma_<n>, rsi_<n>, atr_<n> and momentum_<n> are computed
// on demand; unknown names are ignored.
//
// Always present when computable: open, high, low, close, volume,
// change_pct, sma_5/10/20/60, ema_12, ema_26, rsi (=rsi_14), rsi_6, macd,
// macd_signal, macd_hist, boll_upper, boll_mid, boll_lower, atr (=atr_14),
// volatility, momentum (=momentum_10), volume_ratio, vwap.
func Compute(bars []models.Bar, extra ...string) Values {
	v := make(Values)
	n := len(bars)
	if n == 0 {
		return v
	}

	last := bars[n-1]
	v["open"] = last.Open
	v["high"] = last.High
	v["low"] = last.Low
	v["close"] = last.Close
	v["volume"] = last.Volume

	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	if n >= 2 && closes[n-2] != 0 {
		v["change_pct"] = closes[n-1]/closes[n-2] - 1
	}

	for _, p := range StandardSMAPeriods {
		v.set("sma_"+strconv.Itoa(p), SMA(closes, p))
	}
	v.set("ema_12", EMA(closes, 12))
	v.set("ema_26", EMA(closes, 26))

	v.set("rsi_14", RSI(closes, 14))
	v.set("rsi_6", RSI(closes, 6))
	if x, ok := v["rsi_14"]; ok {
		v["rsi"] = x
	}

	if m := MACD(closes, 12, 26, 9); len(m) > 0 {
		p := m[len(m)-1]
		v["macd"] = p.MACD
		v["macd_signal"] = p.Signal
		v["macd_hist"] = p.Histogram
	}

	if b := Bollinger(closes, 20, 2); len(b) > 0 {
		p := b[len(b)-1]
		v["boll_upper"] = p.Upper
		v["boll_mid"] = p.Middle
		v["boll_lower"] = p.Lower
	}

	v.set("atr_14", ATR(bars, 14))
	if x, ok := v["atr_14"]; ok {
		v["atr"] = x
	}

	if rets := Returns(closes); len(rets) >= volatilityWindow {
		v["volatility"] = StdDev(rets[len(rets)-volatilityWindow:])
	}

	if x, ok := momentum(closes, 10); ok {
		v["momentum"] = x
		v["momentum_10"] = x
	}

	if n > 5 {
		if avg := Mean(volumes[n-6 : n-1]); avg > 0 {
			v["volume_ratio"] = last.Volume / avg
		}
	}

	v.set("vwap", VWAP(bars))

	for _, name := range extra {
		v.computeNamed(strings.ToLower(strings.TrimSpace(name)), bars, closes)
	}
	return v
}

func (v Values) set(name string, series []float64) {
	if x, ok := latest(series); ok {
		v[name] = x
	}
}

// computeNamed fills a parameterised indicator such as "sma_30".
func (v Values) computeNamed(name string, bars []models.Bar, closes []float64) {
	if _, done := v[name]; done {
		return
	}
	idx := strings.LastIndex(name, "_")
	if idx <= 0 {
		return
	}
	period, err := strconv.Atoi(name[idx+1:])
	if err != nil || period <= 0 {
		return
	}

	switch name[:idx] {
	case "sma", "ma":
		v.set(name, SMA(closes, period))
	case "ema":
		v.set(name, EMA(closes, period))
	case "wma":
		v.set(name, WMA(closes, period))
	case "rsi":
		v.set(name, RSI(closes, period))
	case "atr":
		v.set(name, ATR(bars, period))
	case "momentum":
		if x, ok := momentum(closes, period); ok {
			v[name] = x
		}
	}
}

func momentum(closes []float64, period int) (float64, bool) {
	n := len(closes)
	if n <= period || closes[n-1-period] == 0 {
		return 0, false
	}
	return closes[n-1]/closes[n-1-period] - 1, true
}
