package ledger

import (
	"context"
	"time"

	"github.com/seenimoa/papertrader/pkg/models"
)

// EventType names the payload carried by an Event.
type EventType string

const (
	EventOrder    EventType = "order"
	EventTrade    EventType = "trade"
	EventPosition EventType = "position"
	EventAccount  EventType = "account"
)

// Event is a ledger state change. Exactly one payload pointer is set and it
// points at a copy owned by the receiver.
type Event struct {
	Type     EventType        `json:"type"`
	Time     time.Time        `json:"time"`
	Order    *models.Order    `json:"order,omitempty"`
	Trade    *models.Trade    `json:"trade,omitempty"`
	Position *models.Position `json:"position,omitempty"`
	Account  *models.Account  `json:"account,omitempty"`
}

// Observer receives ledger events. OnEvent runs synchronously while the
// ledger lock is held: it must return quickly and must not call back into
// the Ledger.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// OrderSink accepts and cancels orders.
type OrderSink interface {
	SubmitOrder(req models.OrderRequest) (string, *Rejection)
	CancelOrder(id string) error
}

// TickHandler consumes market data.
type TickHandler interface {
	OnTick(tick models.Tick)
}

// TickSource drives a TickHandler until ctx is done or the source is
// exhausted.
type TickSource interface {
	Run(ctx context.Context, h TickHandler) error
}
