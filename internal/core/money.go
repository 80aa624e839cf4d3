// Package core provides money parsing and handling utilities.
//
// Tariff prices are CHF per kWh with up to five decimal places; invoice
// totals are CHF rounded to the cent. Both are carried as decimal.Decimal so
// no float arithmetic happens between form input and the backend.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// PricePlaces is the precision the backend stores tariff prices with.
const PricePlaces = 5

func init() {
	// The backend expects JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// ParsePrice converts user input like "0.2045" or "0,2045" into a price.
//
// Apostrophe and blank thousands separators are tolerated, the sign must be
// omitted and the result is rounded half-up to PricePlaces.
//
// Examples:
//
//	ParsePrice("0.20")     -> 0.2, nil
//	ParsePrice("0,123456") -> 0.12346, nil
//	ParsePrice("1'000.5")  -> 1000.5, nil
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidPrice
	}
	s = strings.NewReplacer("'", "", "’", "", " ", "").Replace(s)
	s = strings.ReplaceAll(s, ",", ".")
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return decimal.Zero, ErrInvalidPrice
		}
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidPrice
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidPrice
	}
	d = d.Round(PricePlaces)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	return d, nil
}

// FormatPrice renders a tariff price with at least two and at most five decimals.
func FormatPrice(d decimal.Decimal) string {
	s := d.Round(PricePlaces).StringFixed(PricePlaces)
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 < 2 {
		s += strings.Repeat("0", 2-(len(s)-i-1))
	}
	return s
}

// FormatCHF renders an amount as "CHF 1'234.50".
func FormatCHF(d decimal.Decimal) string {
	d = d.Round(2)
	neg := d.IsNegative()
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	s = groupThousands(intPart) + "." + frac
	if neg {
		return "CHF -" + s
	}
	return "CHF " + s
}

// FormatKWh renders an energy amount with two decimals and grouping.
func FormatKWh(d decimal.Decimal) string {
	d = d.Round(2)
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	s = groupThousands(intPart) + "." + frac + " kWh"
	if d.IsNegative() {
		return "-" + s
	}
	return s
}

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
			b.WriteByte('\'')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
