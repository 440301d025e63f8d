package utils

import (
	"fmt"
	"strings"

	"github.com/seenimoa/papertrader/pkg/models"
)

// NormalizeSymbol trims a user-input A-share code and strips common
// prefixes/suffixes ("sh600000", "600000.SH", "SZ000001").
func NormalizeSymbol(symbol string) string {
	s := strings.TrimSpace(strings.ToUpper(symbol))

	for _, suffix := range []string{".SH", ".SS", ".SZ", ".SSE", ".SZSE"} {
		s = strings.TrimSuffix(s, suffix)
	}
	for _, prefix := range []string{"SH", "SZ"} {
		if strings.HasPrefix(s, prefix) && len(s) == len(prefix)+6 {
			s = strings.TrimPrefix(s, prefix)
		}
	}
	return s
}

// ExchangeFor infers the listing exchange from a six-digit A-share code.
// Shanghai codes start with 6; everything else is routed to Shenzhen.
func ExchangeFor(symbol string) models.Exchange {
	if strings.HasPrefix(NormalizeSymbol(symbol), "6") {
		return models.SSE
	}
	return models.SZSE
}

// VTSymbol returns the exchange-qualified symbol, e.g. "600000.SSE".
func VTSymbol(symbol string, exchange models.Exchange) string {
	return symbol + "." + string(exchange)
}

// ToVTSymbol normalizes a raw code and qualifies it with its inferred exchange.
func ToVTSymbol(symbol string) string {
	s := NormalizeSymbol(symbol)
	return VTSymbol(s, ExchangeFor(s))
}

// SplitVTSymbol splits "600000.SSE" into its symbol and exchange.
func SplitVTSymbol(vtSymbol string) (string, models.Exchange, error) {
	idx := strings.LastIndex(vtSymbol, ".")
	if idx <= 0 || idx == len(vtSymbol)-1 {
		return "", "", fmt.Errorf("invalid vt_symbol %q", vtSymbol)
	}
	exchange := models.Exchange(vtSymbol[idx+1:])
	switch exchange {
	case models.SSE, models.SZSE:
	default:
		return "", "", fmt.Errorf("invalid vt_symbol %q: unknown exchange %s", vtSymbol, exchange)
	}
	return vtSymbol[:idx], exchange, nil
}

// ParseSymbols splits a comma-separated list of codes, dropping blanks and duplicates.
func ParseSymbols(list string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(list, ",") {
		s := NormalizeSymbol(part)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
