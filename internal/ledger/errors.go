package ledger

import "fmt"

// Sentinel errors.
var (
	ErrInvalidConfig = fmt.Errorf("invalid ledger config")
	ErrOrderNotFound = fmt.Errorf("order not found")
	ErrClosed        = fmt.Errorf("ledger closed")
	ErrCloseTimeout  = fmt.Errorf("publisher did not stop before close timeout")
)

// Reason classifies a rejected order.
type Reason string

const (
	ReasonClosed               Reason = "closed"
	ReasonInvalidLot           Reason = "invalid_lot"
	ReasonInvalidPrice         Reason = "invalid_price"
	ReasonInvalidRequest       Reason = "invalid_request"
	ReasonInsufficientFunds    Reason = "insufficient_funds"
	ReasonInsufficientPosition Reason = "insufficient_position"
	ReasonRiskLimit            Reason = "risk_limit"
)

// Rejection is the negative result of SubmitOrder. It is a value, not an
// error: a rejected order is an expected business outcome.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func (r *Rejection) String() string {
	return string(r.Reason) + ": " + r.Message
}

// Reject builds a Rejection with a formatted message.
func Reject(reason Reason, format string, args ...any) *Rejection {
	return reject(reason, format, args...)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
