package risk

import (
	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/pkg/models"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// PortfolioState exposes the account figures the gate checks against.
// *ledger.Ledger implements it.
type PortfolioState interface {
	Holdings() map[string]int
	Account() models.Account
}

// Gate wraps an OrderSink with pre-trade risk checks. Every order passes
// CheckOrder before it reaches the underlying sink; a failed check is
// returned as a ReasonRiskLimit rejection.
type Gate struct {
	sink    ledger.OrderSink
	state   PortfolioState
	manager *Manager
}

var _ ledger.OrderSink = (*Gate)(nil)

// NewGate returns a risk-gated sink.
func NewGate(sink ledger.OrderSink, state PortfolioState, manager *Manager) *Gate {
	return &Gate{sink: sink, state: state, manager: manager}
}

// SubmitOrder checks req against the risk limits, valuing the portfolio at
// the account's total balance, and forwards it when allowed.
func (g *Gate) SubmitOrder(req models.OrderRequest) (string, *ledger.Rejection) {
	exchange := req.Exchange
	if exchange == "" {
		exchange = utils.ExchangeFor(req.Symbol)
	}

	check := OrderCheck{
		VTSymbol:  utils.VTSymbol(utils.NormalizeSymbol(req.Symbol), exchange),
		Direction: req.Direction,
		Volume:    req.Volume,
		Price:     req.Price,
	}
	pv := g.state.Account().Balance
	if ok, reason := g.manager.CheckOrder(check, g.state.Holdings(), pv); !ok {
		g.manager.logger.Info("order blocked by risk check",
			"vt_symbol", check.VTSymbol,
			"direction", check.Direction,
			"volume", check.Volume,
			"reason", reason,
		)
		return "", ledger.Reject(ledger.ReasonRiskLimit, "%s", reason)
	}
	return g.sink.SubmitOrder(req)
}

// CancelOrder is passed through unchecked.
func (g *Gate) CancelOrder(id string) error {
	return g.sink.CancelOrder(id)
}
