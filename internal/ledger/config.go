package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Config is the ledger's cost and timing model. It is validated once in New.
//
// Zero rates mean zero cost, so a literal Config{InitialCapital: x} trades
// without commission, stamp duty or slippage. Start from DefaultConfig and
// override fields to get the A-share defaults.
type Config struct {
	AccountID      string
	InitialCapital float64
	CommissionRate float64 // both sides, fraction of notional
	StampDutyRate  float64 // sell side only
	Slippage       float64 // fill price ×(1±Slippage)
	LotSize        int

	// ExecutionDelay is carried for reporting only; fills happen on the
	// first qualifying tick.
	ExecutionDelay  time.Duration
	PublishInterval time.Duration
	CloseTimeout    time.Duration

	// DepthLimitedFills caps each fill by the opposing level-1 quote
	// volume, floored to LotSize.
	DepthLimitedFills bool
}

// DefaultConfig returns the A-share paper trading defaults.
func DefaultConfig() Config {
	return Config{
		AccountID:       "PAPER",
		InitialCapital:  1_000_000,
		CommissionRate:  0.0003,
		StampDutyRate:   0.001,
		Slippage:        0.001,
		LotSize:         100,
		ExecutionDelay:  100 * time.Millisecond,
		PublishInterval: time.Second,
		CloseTimeout:    3 * time.Second,
	}
}

// withDefaults fills zero-valued identity and timing fields. Rates are
// taken as given since zero is a legitimate cost.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AccountID == "" {
		c.AccountID = d.AccountID
	}
	if c.LotSize == 0 {
		c.LotSize = d.LotSize
	}
	if c.PublishInterval == 0 {
		c.PublishInterval = d.PublishInterval
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	return c
}

// Validate reports every out-of-range field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	if c.InitialCapital <= 0 {
		errs = append(errs, fmt.Errorf("initial capital must be > 0, got %v", c.InitialCapital))
	}
	rate := func(name string, v float64) {
		if v < 0 || v >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0,1), got %v", name, v))
		}
	}
	rate("commission rate", c.CommissionRate)
	rate("stamp duty rate", c.StampDutyRate)
	rate("slippage", c.Slippage)
	if c.LotSize < 1 {
		errs = append(errs, fmt.Errorf("lot size must be >= 1, got %d", c.LotSize))
	}
	if c.ExecutionDelay < 0 || c.PublishInterval < 0 || c.CloseTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
