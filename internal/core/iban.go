package core

import (
	"errors"
	"strings"
)

var ErrInvalidIBAN = errors.New("invalid IBAN")

// ibanLengths lists the countries a ZEV invoice can be paid to.
var ibanLengths = map[string]int{
	"CH": 21,
	"LI": 21,
}

// NormalizeIBAN strips blanks and upper-cases the input.
func NormalizeIBAN(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// ValidateIBAN checks country, length and the ISO 13616 mod-97 checksum.
func ValidateIBAN(s string) error {
	iban := NormalizeIBAN(s)
	if len(iban) < 4 {
		return ErrInvalidIBAN
	}
	want, ok := ibanLengths[iban[:2]]
	if !ok || len(iban) != want {
		return ErrInvalidIBAN
	}
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return ErrInvalidIBAN
		}
	}
	if rem != 1 {
		return ErrInvalidIBAN
	}
	return nil
}

// FormatIBAN groups a normalized IBAN in blocks of four for display.
func FormatIBAN(s string) string {
	iban := NormalizeIBAN(s)
	var b strings.Builder
	for i, r := range iban {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
