package models

import "time"

// Direction represents the side of an order or trade.
type Direction string

const (
	Long  Direction = "LONG"  // buy
	Short Direction = "SHORT" // sell (close long; no naked shorts on A-shares)
)

// OrderType represents the type of order.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	StatusSubmitting OrderStatus = "SUBMITTING"
	StatusNotTraded  OrderStatus = "NOTTRADED"
	StatusPartTraded OrderStatus = "PARTTRADED"
	StatusAllTraded  OrderStatus = "ALLTRADED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRejected   OrderStatus = "REJECTED"
)

// IsActive reports whether an order in this status can still trade or be cancelled.
func (s OrderStatus) IsActive() bool {
	return s == StatusSubmitting || s == StatusNotTraded || s == StatusPartTraded
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return !s.IsActive()
}

// Exchange identifies an A-share venue.
type Exchange string

const (
	SSE  Exchange = "SSE"  // Shanghai
	SZSE Exchange = "SZSE" // Shenzhen
)

// OrderRequest represents a request to place a new order.
type OrderRequest struct {
	Symbol    string    `json:"symbol"`
	Exchange  Exchange  `json:"exchange"`
	Direction Direction `json:"direction"`
	Type      OrderType `json:"type"`
	Volume    int       `json:"volume"`
	Price     float64   `json:"price"`
	Reference string    `json:"reference,omitempty"` // caller tag for tracking
}

// VTSymbol returns the exchange-qualified symbol of the request.
func (r OrderRequest) VTSymbol() string {
	return r.Symbol + "." + string(r.Exchange)
}

// Order represents a placed/historical order.
type Order struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Exchange      Exchange    `json:"exchange"`
	Direction     Direction   `json:"direction"`
	Type          OrderType   `json:"type"`
	Price         float64     `json:"price"`
	Volume        int         `json:"volume"`
	Traded        int         `json:"traded"`
	Status        OrderStatus `json:"status"`
	StatusMessage string      `json:"status_message,omitempty"`
	Reference     string      `json:"reference,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// VTSymbol returns the exchange-qualified symbol of the order.
func (o *Order) VTSymbol() string {
	return o.Symbol + "." + string(o.Exchange)
}

// Remaining returns the unfilled volume.
func (o *Order) Remaining() int {
	return o.Volume - o.Traded
}

// IsActive reports whether the order can still trade.
func (o *Order) IsActive() bool {
	return o.Status.IsActive()
}

// Trade represents a single fill against an order.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Exchange  Exchange  `json:"exchange"`
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	Volume    int       `json:"volume"`
	Time      time.Time `json:"time"`
}

// VTSymbol returns the exchange-qualified symbol of the trade.
func (t *Trade) VTSymbol() string {
	return t.Symbol + "." + string(t.Exchange)
}

// Notional returns price × volume.
func (t *Trade) Notional() float64 {
	return t.Price * float64(t.Volume)
}

// Position represents a long holding in one instrument.
type Position struct {
	Symbol      string   `json:"symbol"`
	Exchange    Exchange `json:"exchange"`
	Volume      int      `json:"volume"`
	AvgPrice    float64  `json:"avg_price"`
	LastPrice   float64  `json:"last_price"`
	PnL         float64  `json:"pnl"`          // unrealized, marked at LastPrice
	RealizedPnL float64  `json:"realized_pnl"` // cumulative from sells
}

// VTSymbol returns the exchange-qualified symbol of the position.
func (p *Position) VTSymbol() string {
	return p.Symbol + "." + string(p.Exchange)
}

// CostValue returns volume × average cost.
func (p *Position) CostValue() float64 {
	return float64(p.Volume) * p.AvgPrice
}

// MarketValue returns volume × last price, falling back to average cost
// when no tick has been seen.
func (p *Position) MarketValue() float64 {
	price := p.LastPrice
	if price <= 0 {
		price = p.AvgPrice
	}
	return float64(p.Volume) * price
}

// Account is a point-in-time view of the simulated account.
type Account struct {
	ID        string  `json:"id"`
	Balance   float64 `json:"balance"` // cash + frozen + position value
	Frozen    float64 `json:"frozen"`
	Available float64 `json:"available"`
}
