// Package core provides money parsing and handling utilities.
//
// Amounts travel as decimal.Decimal end to end. User input is accepted with
// either a dot (12.34) or a comma (12,34) separator and rounded half-up to
// paise; display uses Indian digit grouping (12,34,567.50).
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// CurrencySymbol prefixes every formatted amount.
const CurrencySymbol = "₹"

// ParseAmount converts user input into a strictly positive amount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35 (half-up)
//	ParseAmount("0")      -> ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s, false)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseSignedAmount accepts a leading sign, used for value adjustments such as
// "+5000" or "-2000". Zero is rejected since it changes nothing.
func ParseSignedAmount(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s, true)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsZero() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseBalance accepts zero and negative values (credit card accounts carry
// negative balances).
func ParseBalance(s string) (decimal.Decimal, error) {
	return parseDecimal(s, true)
}

func parseDecimal(s string, signed bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	neg := false
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		if !signed {
			return decimal.Zero, ErrInvalidAmount
		}
		neg = s[0] == '-'
		s = s[1:]
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 || (parts[0] == "" && (len(parts) == 1 || parts[1] == "")) {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	if len(parts[0]) > 15 {
		return decimal.Zero, ErrInvalidAmount
	}
	normalized := parts[0]
	if normalized == "" {
		normalized = "0"
	}
	if len(parts) == 2 && parts[1] != "" {
		normalized += "." + parts[1]
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// FormatAmount renders an amount with the currency symbol and Indian grouping.
// Whole amounts drop the fractional part.
func FormatAmount(d decimal.Decimal) string {
	return CurrencySymbol + FormatPlain(d)
}

// FormatPlain is FormatAmount without the currency symbol.
func FormatPlain(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	d = d.Round(2)
	var whole, frac string
	if d.Equal(d.Truncate(0)) {
		whole = d.StringFixed(0)
	} else {
		fixed := d.StringFixed(2)
		dot := strings.IndexByte(fixed, '.')
		whole, frac = fixed[:dot], fixed[dot:]
	}
	return sign + groupIndian(whole) + frac
}

// groupIndian groups the last three digits, then pairs: 1234567 -> 12,34,567.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var b strings.Builder
	lead := len(head) % 2
	if lead == 1 {
		b.WriteString(head[:1])
	}
	for i := lead; i < len(head); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(head[i : i+2])
	}
	b.WriteByte(',')
	b.WriteString(tail)
	return b.String()
}

// Sum adds a projection of every element.
func Sum[T any](items []T, value func(T) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(value(it))
	}
	return total
}
