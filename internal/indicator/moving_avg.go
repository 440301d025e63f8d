package indicator

import (
	"github.com/seenimoa/papertrader/pkg/models"
)

// SMA calculates Simple Moving Average for the given period. Values before
// the first full window are zero.
func SMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	result := make([]float64, n)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		sum += data[i] - data[i-period]
		result[i] = sum / float64(period)
	}

	return result
}

// EMA calculates Exponential Moving Average seeded with the SMA of the
// first period values.
func EMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	ema := make([]float64, n)
	k := 2.0 / float64(period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

// WMA calculates Weighted Moving Average; recent values weigh more.
func WMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	result := make([]float64, n)
	denominator := float64(period * (period + 1) / 2)

	for i := period - 1; i < n; i++ {
		weightedSum := 0.0
		for j := 0; j < period; j++ {
			weightedSum += data[i-period+1+j] * float64(j+1)
		}
		result[i] = weightedSum / denominator
	}
	return result
}

// VWAP calculates a running volume weighted average price over bars.
func VWAP(bars []models.Bar) []float64 {
	n := len(bars)
	if n == 0 {
		return nil
	}

	result := make([]float64, n)
	cumVolume := 0.0
	cumTPV := 0.0

	for i, b := range bars {
		tp := (b.High + b.Low + b.Close) / 3
		cumTPV += tp * b.Volume
		cumVolume += b.Volume
		if cumVolume > 0 {
			result[i] = cumTPV / cumVolume
		}
	}
	return result
}

func latest(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	return vals[len(vals)-1], true
}
