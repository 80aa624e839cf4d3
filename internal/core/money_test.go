package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"0.2", "0.2", true},
		{"0,2045", "0.2045", true},
		{"0.123456", "0.12346", true}, // half-up rounding
		{" 1'000.5 ", "1000.5", true},
		{"-0.2", "", false},
		{"0", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParsePrice(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	cases := map[string]string{
		"0.2":     "0.20",
		"1":       "1.00",
		"0.12345": "0.12345",
		"0.1234":  "0.1234",
	}
	for in, want := range cases {
		if got := FormatPrice(decimal.RequireFromString(in)); got != want {
			t.Errorf("FormatPrice(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestFormatCHF(t *testing.T) {
	cases := map[string]string{
		"0":        "CHF 0.00",
		"12.5":     "CHF 12.50",
		"1234.567": "CHF 1'234.57",
		"1234567":  "CHF 1'234'567.00",
		"-99.9":    "CHF -99.90",
		"-0.004":   "CHF 0.00",
		"-0.005":   "CHF -0.01",
	}
	for in, want := range cases {
		if got := FormatCHF(decimal.RequireFromString(in)); got != want {
			t.Errorf("FormatCHF(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestIBAN(t *testing.T) {
	if err := ValidateIBAN("ch93 0076 2011 6238 5295 7"); err != nil {
		t.Fatalf("expected valid IBAN, got %v", err)
	}
	for _, bad := range []string{"", "CH93", "CH93 0076 2011 6238 5295 8", "DE89 3704 0044 0532 0130 00", "CH93 0076 2011 6238 5295 7 1"} {
		if err := ValidateIBAN(bad); err == nil {
			t.Errorf("%q expected error", bad)
		}
	}
	if got := FormatIBAN("CH9300762011623852957"); got != "CH93 0076 2011 6238 5295 7" {
		t.Errorf("FormatIBAN = %q", got)
	}
}
