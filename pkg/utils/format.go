// Package utils provides common utility functions for papertrader.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatCNY formats an amount as yuan with thousands separators (¥1,234,567.89).
func FormatCNY(amount float64) string {
	negative := amount < 0
	amount = math.Abs(amount)

	s := fmt.Sprintf("%.2f", amount)
	intPart, decPart, _ := strings.Cut(s, ".")

	formatted := groupThousands(intPart) + "." + decPart
	if negative {
		return "-¥" + formatted
	}
	return "¥" + formatted
}

// FormatCNYCompact formats an amount using 万 / 亿 units.
// e.g., 1234567 → "¥123.46万", 250000000 → "¥2.50亿"
func FormatCNYCompact(amount float64) string {
	prefix := "¥"
	if amount < 0 {
		prefix = "-¥"
		amount = -amount
	}

	switch {
	case amount >= 1e8:
		return fmt.Sprintf("%s%.2f亿", prefix, amount/1e8)
	case amount >= 1e4:
		return fmt.Sprintf("%s%.2f万", prefix, amount/1e4)
	default:
		return fmt.Sprintf("%s%.2f", prefix, amount)
	}
}

// FormatPct formats a percentage value with sign, e.g. 3.456 → "+3.46%".
func FormatPct(pct float64) string {
	if pct > 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
