package risk

import (
	"sync"

	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/pkg/utils"
)

// Tracker keeps a Manager's drawdown and daily pnl current from a live
// ledger's account events. The first account event of each CST trading
// date starts a new day at that balance.
type Tracker struct {
	manager *Manager

	mu  sync.Mutex
	day string
}

var _ ledger.Observer = (*Tracker)(nil)

// NewTracker returns an observer feeding m.
func NewTracker(m *Manager) *Tracker {
	return &Tracker{manager: m}
}

// OnEvent updates the manager on account events and ignores the rest.
func (t *Tracker) OnEvent(ev ledger.Event) {
	if ev.Type != ledger.EventAccount || ev.Account == nil {
		return
	}
	pv := ev.Account.Balance

	t.mu.Lock()
	day := utils.FormatDateCST(ev.Time)
	newDay := day != t.day
	t.day = day
	t.mu.Unlock()

	if newDay {
		t.manager.ResetDaily(pv)
	}
	t.manager.UpdatePnL(pv)
}
