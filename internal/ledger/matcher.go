package ledger

import (
	"fmt"

	"github.com/seenimoa/papertrader/pkg/models"
)

// OnTick records tick, marks positions on its symbol to market and offers
// it to every active order on that symbol in submission order. Ticks that
// arrive after Close are ignored.
func (l *Ledger) OnTick(tick models.Tick) {
	l.ordersMu.Lock()
	defer l.ordersMu.Unlock()
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if l.closed.Load() {
		return
	}

	vt := tick.VTSymbol()
	l.ticks[vt] = tick
	if pos, ok := l.positions[vt]; ok {
		markToMarket(pos, tick.LastPrice)
		if pos.Volume > 0 {
			l.emitPosition(pos)
		}
	}

	matched := false
	for _, o := range l.active {
		if o.VTSymbol() != vt || !o.IsActive() {
			continue
		}
		if l.match(o, tick) {
			matched = true
		}
	}
	if matched {
		l.dropInactive()
	}
}

// match tries to fill o against tick and reports whether a trade happened.
// A failure while settling one order is logged and does not stop the
// remaining orders.
func (l *Ledger) match(o *models.Order, tick models.Tick) (filled bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("order matching failed",
				"order_id", o.ID,
				"vt_symbol", o.VTSymbol(),
				"panic", r,
			)
		}
	}()

	price, ok := fillPrice(o, tick)
	if !ok {
		return false
	}
	volume := l.fillVolume(o, tick)
	if volume <= 0 {
		return false
	}

	if o.Direction == models.Long {
		price *= 1 + l.cfg.Slippage
	} else {
		price *= 1 - l.cfg.Slippage
	}

	l.settle(o, price, volume)
	return true
}

// fillPrice returns the pre-slippage execution price of o on tick, or false
// when o does not cross.
func fillPrice(o *models.Order, t models.Tick) (float64, bool) {
	switch o.Type {
	case models.Market:
		quote := t.AskPrice1
		if o.Direction == models.Short {
			quote = t.BidPrice1
		}
		if quote <= 0 {
			quote = t.LastPrice
		}
		return quote, quote > 0

	case models.Limit:
		if o.Direction == models.Long {
			if (t.AskPrice1 > 0 && t.AskPrice1 <= o.Price) || (t.LastPrice > 0 && t.LastPrice <= o.Price) {
				return o.Price, true
			}
			return 0, false
		}
		if (t.BidPrice1 > 0 && t.BidPrice1 >= o.Price) || (t.LastPrice > 0 && t.LastPrice >= o.Price) {
			return o.Price, true
		}
	}
	return 0, false
}

// fillVolume is the remaining volume, capped by level-1 depth when
// DepthLimitedFills is set. Sells are capped by the volume still held,
// since pending sells do not reserve shares.
func (l *Ledger) fillVolume(o *models.Order, t models.Tick) int {
	volume := o.Remaining()

	if l.cfg.DepthLimitedFills {
		depth := t.AskVolume1
		if o.Direction == models.Short {
			depth = t.BidVolume1
		}
		lot := l.cfg.LotSize
		volume = min(volume, int(depth)/lot*lot)
	}

	if o.Direction == models.Short {
		held := 0
		if pos, ok := l.positions[o.VTSymbol()]; ok {
			held = pos.Volume
		}
		volume = min(volume, held)
	}
	return volume
}

// settle books one fill of volume at price against o. Both locks must be
// held.
func (l *Ledger) settle(o *models.Order, price float64, volume int) {
	now := l.now()
	vt := o.VTSymbol()

	l.tradeSeq++
	trade := models.Trade{
		ID:        fmt.Sprintf("%s.T%d", l.cfg.AccountID, l.tradeSeq),
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Exchange:  o.Exchange,
		Direction: o.Direction,
		Price:     price,
		Volume:    volume,
		Time:      now,
	}

	pos, ok := l.positions[vt]
	if !ok {
		pos = &models.Position{Symbol: o.Symbol, Exchange: o.Exchange}
		l.positions[vt] = pos
	}

	notional := trade.Notional()
	commission := notional * l.cfg.CommissionRate
	var stampDuty float64

	if o.Direction == models.Long {
		applyBuy(pos, volume, price)

		reserved := l.reservation(o.Price, volume)
		l.frozen -= reserved
		l.balance += reserved
		l.balance -= notional + commission
	} else {
		stampDuty = notional * l.cfg.StampDutyRate
		l.realized += applySell(pos, volume, price)
		l.balance += notional - commission - stampDuty
	}
	l.commission += commission
	l.stampDuty += stampDuty

	if tick, ok := l.ticks[vt]; ok {
		markToMarket(pos, tick.LastPrice)
	}

	o.Traded += volume
	if o.Traded >= o.Volume {
		o.Status = models.StatusAllTraded
	} else {
		o.Status = models.StatusPartTraded
	}
	o.UpdatedAt = now
	l.trades = append(l.trades, trade)

	l.emitTrade(trade)
	l.emitOrder(o)
	l.emitAccount()
	l.emitPosition(pos)

	l.logger.Info("trade executed",
		"trade_id", trade.ID,
		"order_id", o.ID,
		"vt_symbol", vt,
		"direction", o.Direction,
		"volume", volume,
		"price", price,
		"cost", commission+stampDuty,
	)
}

// applyBuy adds volume at price to p using a volume-weighted average cost.
func applyBuy(p *models.Position, volume int, price float64) {
	cost := p.AvgPrice*float64(p.Volume) + price*float64(volume)
	p.Volume += volume
	if p.Volume > 0 {
		p.AvgPrice = cost / float64(p.Volume)
	}
}

// applySell removes volume from p, clamped at zero, and returns the
// realized pnl against the average cost. A flat position keeps its record
// with a zero average.
func applySell(p *models.Position, volume int, price float64) float64 {
	sold := min(volume, p.Volume)
	realized := (price - p.AvgPrice) * float64(sold)
	p.RealizedPnL += realized
	p.Volume -= sold
	if p.Volume <= 0 {
		p.Volume = 0
		p.AvgPrice = 0
		p.PnL = 0
	}
	return realized
}

// markToMarket sets the unrealized pnl of p at last. Non-positive prices
// are ignored.
func markToMarket(p *models.Position, last float64) {
	if last <= 0 {
		return
	}
	p.LastPrice = last
	if p.Volume > 0 && p.AvgPrice > 0 {
		p.PnL = (last - p.AvgPrice) * float64(p.Volume)
	} else {
		p.PnL = 0
	}
}
