// Package rules evaluates the declarative entry and exit conditions of a
// strategy against a map of named indicator values.
package rules

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/seenimoa/papertrader/internal/strategy"
)

// equalEpsilon is the tolerance of the == and != operators.
const equalEpsilon = 1e-4

// Engine evaluates one strategy's rules. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	exit   strategy.ExitRules
	entry  []strategy.Condition
	exits  []strategy.Condition
	logger *slog.Logger
}

// New parses the conditions of cfg. Conditions without an indicator or
// operator are kept, logged, and always evaluate to false.
func New(cfg strategy.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rules", "strategy", cfg.Name)

	e := &Engine{
		exit:   cfg.ExitRules,
		logger: logger,
	}
	e.entry = e.parse("entry", cfg.EntryRules.Conditions)
	e.exits = e.parse("exit", cfg.ExitRules.Conditions)

	logger.Info("rule engine initialized", "entry_rules", len(e.entry), "exit_rules", len(e.exits))
	return e
}

func (e *Engine) parse(section string, conds []strategy.Condition) []strategy.Condition {
	out := make([]strategy.Condition, 0, len(conds))
	for i, c := range conds {
		c.Indicator = strings.TrimSpace(c.Indicator)
		c.Operator = strings.ToLower(strings.TrimSpace(c.Operator))
		c.Logic = strings.ToLower(strings.TrimSpace(c.Logic))
		if c.Logic == "" {
			c.Logic = "and"
		}
		if c.Indicator == "" || c.Operator == "" {
			e.logger.Warn("incomplete condition will never match", "section", section, "index", i)
		}
		out = append(out, c)
	}
	return out
}

// EvaluateEntry evaluates the entry conditions against values. Results are
// combined left to right, each joined to the previous result by the logic
// of the condition before it. Strength is the fraction of satisfied
// conditions. With no conditions it returns (false, 0).
func (e *Engine) EvaluateEntry(values map[string]float64) (bool, float64) {
	if len(e.entry) == 0 {
		return false, 0
	}

	results := make([]bool, len(e.entry))
	met := 0
	for i, c := range e.entry {
		results[i] = e.Evaluate(c, values)
		if results[i] {
			met++
		}
	}

	ok := results[0]
	for i := 1; i < len(results); i++ {
		if e.entry[i-1].Logic == "or" {
			ok = ok || results[i]
		} else {
			ok = ok && results[i]
		}
	}
	return ok, float64(met) / float64(len(results))
}

// ExitState is the position context for an exit decision.
type ExitState struct {
	EntryPrice     float64
	CurrentPrice   float64
	HoldingDays    int
	HighSinceEntry float64
	Values         map[string]float64
}

// EvaluateExit reports whether a position should be closed and why. Rules
// are checked in priority order: take profit, stop loss, maximum holding
// days, trailing stop, then each declarative exit condition on its own.
// A zero threshold disables its rule.
func (e *Engine) EvaluateExit(s ExitState) (bool, string) {
	if s.EntryPrice > 0 {
		pnl := (s.CurrentPrice - s.EntryPrice) / s.EntryPrice
		if tp := e.exit.TakeProfit; tp > 0 && pnl >= tp {
			return true, fmt.Sprintf("take_profit (%.2f%%)", pnl*100)
		}
		if sl := e.exit.StopLoss; sl > 0 && pnl <= -sl {
			return true, fmt.Sprintf("stop_loss (%.2f%%)", pnl*100)
		}
	}

	if limit := e.exit.HoldingDays; limit > 0 && s.HoldingDays >= limit {
		return true, fmt.Sprintf("max_holding_days (%d)", s.HoldingDays)
	}

	if ts := e.exit.TrailingStop; ts > 0 && s.HighSinceEntry > 0 {
		if s.CurrentPrice <= s.HighSinceEntry*(1-ts) {
			drop := (s.CurrentPrice - s.HighSinceEntry) / s.HighSinceEntry
			return true, fmt.Sprintf("trailing_stop (%.2f%%)", drop*100)
		}
	}

	for _, c := range e.exits {
		if e.Evaluate(c, s.Values) {
			return true, "condition_" + c.Indicator
		}
	}
	return false, ""
}

// Evaluate checks a single condition. An incomplete condition, a missing
// indicator, an unusable comparand or an unknown operator is false.
func (e *Engine) Evaluate(c strategy.Condition, values map[string]float64) bool {
	if strings.TrimSpace(c.Indicator) == "" || strings.TrimSpace(c.Operator) == "" {
		e.logger.Debug("incomplete condition", "indicator", c.Indicator, "operator", c.Operator)
		return false
	}
	current, ok := lookup(values, c.Indicator, c.Params)
	if !ok {
		e.logger.Debug("indicator not available", "indicator", c.Indicator)
		return false
	}

	target, ok := e.comparand(c.Value, values)
	if !ok {
		return false
	}

	switch strings.ToLower(c.Operator) {
	case ">", "gt":
		return current > target
	case "<", "lt":
		return current < target
	case ">=", "ge":
		return current >= target
	case "<=", "le":
		return current <= target
	case "==", "eq":
		return math.Abs(current-target) < equalEpsilon
	case "!=", "ne":
		return math.Abs(current-target) >= equalEpsilon
	case "cross_above", "cross_below":
		e.logger.Debug("crossover needs indicator history; condition not met", "indicator", c.Indicator)
		return false
	default:
		e.logger.Warn("unknown operator", "operator", c.Operator, "indicator", c.Indicator)
		return false
	}
}

// comparand resolves the right-hand side of a condition: a number, the
// name of another indicator, or a numeric string.
func (e *Engine) comparand(v any, values map[string]float64) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		s := strings.TrimSpace(x)
		if val, ok := lookup(values, s, nil); ok {
			return val, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	e.logger.Warn("invalid compare value", "value", v)
	return 0, false
}

// lookup finds an indicator by name, case-insensitively. When params carry
// a period, the "<name>_<period>" form is tried first.
func lookup(values map[string]float64, name string, params map[string]any) (float64, bool) {
	if values == nil || name == "" {
		return 0, false
	}
	for _, key := range keysFor(name, params) {
		if v, ok := values[key]; ok {
			return v, true
		}
		if v, ok := values[strings.ToLower(key)]; ok {
			return v, true
		}
		for k, v := range values {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return 0, false
}

func keysFor(name string, params map[string]any) []string {
	if p, ok := params["period"]; ok {
		return []string{fmt.Sprintf("%s_%v", name, p), name}
	}
	return []string{name}
}

// Indicators returns the sorted, lowercased names of every indicator the
// rules reference, including indicator-valued comparands.
func (e *Engine) Indicators() []string {
	seen := make(map[string]bool)
	add := func(c strategy.Condition) {
		if c.Indicator == "" {
			return
		}
		for _, k := range keysFor(c.Indicator, c.Params) {
			seen[strings.ToLower(k)] = true
		}
		if s, ok := c.Value.(string); ok {
			s = strings.TrimSpace(s)
			if _, err := strconv.ParseFloat(s, 64); err != nil && s != "" {
				seen[strings.ToLower(s)] = true
			}
		}
	}
	for _, c := range e.entry {
		add(c)
	}
	for _, c := range e.exits {
		add(c)
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
