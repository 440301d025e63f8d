package indicator

import (
	"math"

	"github.com/seenimoa/papertrader/pkg/models"
)

// RSI calculates the Relative Strength Index with Wilder's smoothing.
// Returns values 0–100; nil when there are fewer than period+1 closes.
func RSI(closes []float64, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(closes)
	if n < period+1 {
		return nil
	}

	rsi := make([]float64, n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACDPoint holds a single MACD computation point.
type MACDPoint struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD calculates the Moving Average Convergence Divergence. The signal
// line is an EMA of the MACD line starting where the slow EMA is defined.
func MACD(closes []float64, fast, slow, signal int) []MACDPoint {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signal <= 0 {
		signal = 9
	}
	n := len(closes)
	if n < slow+signal-1 {
		return nil
	}

	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	start := slow - 1
	line := make([]float64, n-start)
	for i := start; i < n; i++ {
		line[i-start] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)

	out := make([]MACDPoint, n)
	for i := start + signal - 1; i < n; i++ {
		m := line[i-start]
		s := sig[i-start]
		out[i] = MACDPoint{MACD: m, Signal: s, Histogram: m - s}
	}
	return out
}

// Bands holds Bollinger Band values.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger calculates Bollinger Bands over period closes with a
// population standard deviation.
func Bollinger(closes []float64, period int, mult float64) []Bands {
	if period <= 0 {
		period = 20
	}
	if mult <= 0 {
		mult = 2.0
	}
	n := len(closes)
	if n < period {
		return nil
	}

	out := make([]Bands, n)
	for i := period - 1; i < n; i++ {
		window := closes[i-period+1 : i+1]
		mean := Mean(window)
		sd := StdDev(window)
		out[i] = Bands{Upper: mean + mult*sd, Middle: mean, Lower: mean - mult*sd}
	}
	return out
}

// ATR calculates the Average True Range with Wilder's smoothing.
func ATR(bars []models.Bar, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(bars)
	if n < period {
		return nil
	}

	tr := make([]float64, n)
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	atr := make([]float64, n)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}

// Returns converts closes into simple period-over-period returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			out = append(out, closes[i]/closes[i-1]-1)
		}
	}
	return out
}

// Mean returns the arithmetic mean of data.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// StdDev returns the population standard deviation of data.
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := Mean(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)))
}
