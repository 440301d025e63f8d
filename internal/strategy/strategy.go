// Package strategy defines the structured strategy configuration consumed by
// the rule engine and risk manager, and loads it from YAML, JSON or TOML.
package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStrategy is wrapped by every shape validation failure.
var ErrInvalidStrategy = fmt.Errorf("invalid strategy")

// Condition is one declarative comparison between an indicator value and a
// literal or another indicator.
type Condition struct {
	Indicator string         `mapstructure:"indicator" json:"indicator" yaml:"indicator" toml:"indicator"`
	Params    map[string]any `mapstructure:"params"    json:"params,omitempty" yaml:"params,omitempty" toml:"params"`
	Operator  string         `mapstructure:"operator"  json:"operator"  yaml:"operator"  toml:"operator"`
	Value     any            `mapstructure:"value"     json:"value"     yaml:"value"     toml:"value"` // number, numeric string or indicator name
	Logic     string         `mapstructure:"logic"     json:"logic,omitempty" yaml:"logic,omitempty" toml:"logic"` // "and" (default) or "or"
}

// Universe describes which instruments a strategy trades.
type Universe struct {
	Type    string   `mapstructure:"type"    json:"type,omitempty"    yaml:"type,omitempty"    toml:"type"`  // "index_component", "list"
	Index   string   `mapstructure:"index"   json:"index,omitempty"   yaml:"index,omitempty"   toml:"index"` // e.g. "000300.SSE"
	Symbols []string `mapstructure:"symbols" json:"symbols,omitempty" yaml:"symbols,omitempty" toml:"symbols"`
}

// EntryRules holds the entry conditions and AI blending settings.
type EntryRules struct {
	Conditions []Condition `mapstructure:"conditions"  json:"conditions"  yaml:"conditions"  toml:"conditions"`
	AIEnhanced bool        `mapstructure:"ai_enhanced" json:"ai_enhanced" yaml:"ai_enhanced" toml:"ai_enhanced"`
	AIWeight   float64     `mapstructure:"ai_weight"   json:"ai_weight"   yaml:"ai_weight"   toml:"ai_weight"`
}

// ExitRules holds the exit thresholds (fractions of entry price) and
// residual declarative exit conditions.
type ExitRules struct {
	TakeProfit   float64     `mapstructure:"take_profit"   json:"take_profit"   yaml:"take_profit"   toml:"take_profit"`
	StopLoss     float64     `mapstructure:"stop_loss"     json:"stop_loss"     yaml:"stop_loss"     toml:"stop_loss"`
	HoldingDays  int         `mapstructure:"holding_days"  json:"holding_days"  yaml:"holding_days"  toml:"holding_days"`
	TrailingStop float64     `mapstructure:"trailing_stop" json:"trailing_stop" yaml:"trailing_stop" toml:"trailing_stop"`
	Conditions   []Condition `mapstructure:"conditions"    json:"conditions,omitempty" yaml:"conditions,omitempty" toml:"conditions"`
}

// RiskControl holds the portfolio limits.
type RiskControl struct {
	MaxPositions   int     `mapstructure:"max_positions"    json:"max_positions"    yaml:"max_positions"    toml:"max_positions"`
	PositionSize   float64 `mapstructure:"position_size"    json:"position_size"    yaml:"position_size"    toml:"position_size"`
	MaxDrawdown    float64 `mapstructure:"max_drawdown"     json:"max_drawdown"     yaml:"max_drawdown"     toml:"max_drawdown"`
	DailyLossLimit float64 `mapstructure:"daily_loss_limit" json:"daily_loss_limit" yaml:"daily_loss_limit" toml:"daily_loss_limit"`

	SectorConcentration float64 `mapstructure:"sector_concentration" json:"sector_concentration" yaml:"sector_concentration" toml:"sector_concentration"`
}

// Config is a complete strategy configuration.
type Config struct {
	Name        string      `mapstructure:"strategy_name" json:"strategy_name" yaml:"strategy_name" toml:"strategy_name"`
	Universe    Universe    `mapstructure:"universe"      json:"universe"      yaml:"universe"      toml:"universe"`
	EntryRules  EntryRules  `mapstructure:"entry_rules"   json:"entry_rules"   yaml:"entry_rules"   toml:"entry_rules"`
	ExitRules   ExitRules   `mapstructure:"exit_rules"    json:"exit_rules"    yaml:"exit_rules"    toml:"exit_rules"`
	RiskControl RiskControl `mapstructure:"risk_control"  json:"risk_control"  yaml:"risk_control"  toml:"risk_control"`
}

// Default returns a strategy with the standard exit and risk defaults and
// no entry conditions.
func Default() Config {
	return Config{
		Name: "paper_strategy",
		EntryRules: EntryRules{
			AIWeight: 0.3,
		},
		ExitRules: ExitRules{
			TakeProfit:  0.10,
			StopLoss:    0.05,
			HoldingDays: 20,
		},
		RiskControl: RiskControl{
			MaxPositions:   30,
			PositionSize:   0.03,
			MaxDrawdown:    0.15,
			DailyLossLimit: 0.05,

			SectorConcentration: 0.3,
		},
	}
}

var knownOperators = map[string]bool{
	">": true, "gt": true, "<": true, "lt": true,
	">=": true, "ge": true, "<=": true, "le": true,
	"==": true, "eq": true, "!=": true, "ne": true,
	"cross_above": true, "cross_below": true,
}

// KnownOperator reports whether op is a supported comparison operator.
func KnownOperator(op string) bool {
	return knownOperators[strings.ToLower(strings.TrimSpace(op))]
}

// Validate checks the shape of the configuration. It does not judge whether
// the strategy is sensible.
func (c Config) Validate() error {
	var errs []error

	check := func(section string, conds []Condition) {
		for i, cond := range conds {
			if strings.TrimSpace(cond.Indicator) == "" {
				errs = append(errs, fmt.Errorf("%s.conditions[%d]: indicator is required", section, i))
			}
			if !KnownOperator(cond.Operator) {
				errs = append(errs, fmt.Errorf("%s.conditions[%d]: unknown operator %q", section, i, cond.Operator))
			}
			switch strings.ToLower(cond.Logic) {
			case "", "and", "or":
			default:
				errs = append(errs, fmt.Errorf("%s.conditions[%d]: logic must be and/or, got %q", section, i, cond.Logic))
			}
		}
	}
	check("entry_rules", c.EntryRules.Conditions)
	check("exit_rules", c.ExitRules.Conditions)

	fraction := func(name string, v float64, allowZero bool) {
		if v < 0 || v > 1 || (!allowZero && v == 0) {
			errs = append(errs, fmt.Errorf("%s must be in (0,1], got %v", name, v))
		}
	}
	fraction("entry_rules.ai_weight", c.EntryRules.AIWeight, true)
	fraction("exit_rules.take_profit", c.ExitRules.TakeProfit, true)
	fraction("exit_rules.stop_loss", c.ExitRules.StopLoss, true)
	fraction("exit_rules.trailing_stop", c.ExitRules.TrailingStop, true)
	fraction("risk_control.position_size", c.RiskControl.PositionSize, false)
	fraction("risk_control.max_drawdown", c.RiskControl.MaxDrawdown, false)
	fraction("risk_control.daily_loss_limit", c.RiskControl.DailyLossLimit, false)
	fraction("risk_control.sector_concentration", c.RiskControl.SectorConcentration, true)

	if c.ExitRules.HoldingDays < 0 {
		errs = append(errs, fmt.Errorf("exit_rules.holding_days must be >= 0, got %d", c.ExitRules.HoldingDays))
	}
	if c.RiskControl.MaxPositions <= 0 {
		errs = append(errs, fmt.Errorf("risk_control.max_positions must be > 0, got %d", c.RiskControl.MaxPositions))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidStrategy, errors.Join(errs...))
}
