package runner

import (
	"context"
	"time"

	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/pkg/models"
)

// Simulated level-1 book around a bar close.
const (
	bidFactor   = 0.999
	askFactor   = 1.001
	quoteVolume = 10000
)

// baseDelay is the pacing ceiling between timestamps at speed 1.
const baseDelay = 100 * time.Millisecond

// BarHandler is an optional extension of ledger.TickHandler. BarFeed calls
// OnBars once per timestamp, after every bar of that timestamp has been
// delivered as a tick.
type BarHandler interface {
	OnBars(ctx context.Context, at time.Time, bars []models.Bar) error
}

// BarFeed replays time-sorted bars as ticks.
type BarFeed struct {
	bars  []models.Bar
	speed float64
	sleep func(ctx context.Context, d time.Duration) error
}

var _ ledger.TickSource = (*BarFeed)(nil)

// NewBarFeed returns a feed over bars, which must be sorted by time. With
// speed > 0 the feed waits min(Δt/speed, 100ms/speed) between timestamps;
// speed 0 replays without delay.
func NewBarFeed(bars []models.Bar, speed float64) *BarFeed {
	return &BarFeed{bars: bars, speed: speed, sleep: sleepContext}
}

// Run delivers every bar to h and returns when the bars are exhausted, ctx
// is cancelled or an OnBars call fails.
func (f *BarFeed) Run(ctx context.Context, h ledger.TickHandler) error {
	bh, _ := h.(BarHandler)

	var prev time.Time
	for i := 0; i < len(f.bars); {
		at := f.bars[i].Time
		j := i
		for j < len(f.bars) && f.bars[j].Time.Equal(at) {
			j++
		}
		group := f.bars[i:j]
		i = j

		if err := ctx.Err(); err != nil {
			return err
		}
		if d := f.delay(prev, at); d > 0 {
			if err := f.sleep(ctx, d); err != nil {
				return err
			}
		}
		prev = at

		for _, b := range group {
			h.OnTick(BarToTick(b))
		}
		if bh != nil {
			if err := bh.OnBars(ctx, at, group); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *BarFeed) delay(prev, at time.Time) time.Duration {
	if f.speed <= 0 || prev.IsZero() {
		return 0
	}
	d := time.Duration(float64(at.Sub(prev)) / f.speed)
	return min(d, time.Duration(float64(baseDelay)/f.speed))
}

// BarToTick converts a bar into the tick the matcher sees: last is the
// close, the book is a tenth of a percent either side, and the previous
// close is approximated by the open.
func BarToTick(b models.Bar) models.Tick {
	return models.Tick{
		Symbol:     b.Symbol,
		Exchange:   b.Exchange,
		Time:       b.Time,
		LastPrice:  b.Close,
		OpenPrice:  b.Open,
		HighPrice:  b.High,
		LowPrice:   b.Low,
		PreClose:   b.Open,
		Volume:     b.Volume,
		BidPrice1:  b.Close * bidFactor,
		AskPrice1:  b.Close * askFactor,
		BidVolume1: quoteVolume,
		AskVolume1: quoteVolume,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
