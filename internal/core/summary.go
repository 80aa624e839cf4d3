package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MonatsStatistik aggregates one calendar month of the statistics period.
type MonatsStatistik struct {
	Jahr              int             `json:"jahr"`
	Monat             int             `json:"monat"`
	Von               Date            `json:"von"`
	Bis               Date            `json:"bis"`
	SummeProducer     decimal.Decimal `json:"summeProducer"`
	SummeConsumer     decimal.Decimal `json:"summeConsumer"`
	SummeZev          decimal.Decimal `json:"summeZev"`
	SummeNetzbezug    decimal.Decimal `json:"summeNetzbezug"`
	SummeEinspeisung  decimal.Decimal `json:"summeEinspeisung"`
	Abweichung        bool            `json:"abweichung"`
	DatenVollstaendig bool            `json:"datenVollstaendig"`
	FehlendeTage      []Date          `json:"fehlendeTage,omitempty"`
	Hinweise          []string        `json:"hinweise,omitempty"`
}

// Statistik is the backend's aggregation over a period.
type Statistik struct {
	Von              Date              `json:"von"`
	Bis              Date              `json:"bis"`
	MesspunkteAnzahl int               `json:"messpunkteAnzahl"`
	Monate           []MonatsStatistik `json:"monate"`
}

// Label is the month heading, e.g. "03/2025".
func (m MonatsStatistik) Label() string {
	return fmt.Sprintf("%02d/%d", m.Monat, m.Jahr)
}

// Eigenverbrauchsquote is the share of produced energy consumed inside the ZEV.
func (m MonatsStatistik) Eigenverbrauchsquote() decimal.Decimal {
	if !m.SummeProducer.IsPositive() {
		return decimal.Zero
	}
	return m.SummeZev.Div(m.SummeProducer).Mul(decimal.NewFromInt(100)).Round(1)
}

// HasIssues reports whether the month needs attention in the UI.
func (m MonatsStatistik) HasIssues() bool {
	return m.Abweichung || !m.DatenVollstaendig || len(m.FehlendeTage) > 0
}

// Totals sums all months of the period.
func (s Statistik) Totals() MonatsStatistik {
	t := MonatsStatistik{Von: s.Von, Bis: s.Bis, DatenVollstaendig: true}
	for _, m := range s.Monate {
		t.SummeProducer = t.SummeProducer.Add(m.SummeProducer)
		t.SummeConsumer = t.SummeConsumer.Add(m.SummeConsumer)
		t.SummeZev = t.SummeZev.Add(m.SummeZev)
		t.SummeNetzbezug = t.SummeNetzbezug.Add(m.SummeNetzbezug)
		t.SummeEinspeisung = t.SummeEinspeisung.Add(m.SummeEinspeisung)
		t.Abweichung = t.Abweichung || m.Abweichung
		t.DatenVollstaendig = t.DatenVollstaendig && m.DatenVollstaendig
		t.FehlendeTage = append(t.FehlendeTage, m.FehlendeTage...)
	}
	return t
}

// IssueCount is the number of months flagged for attention.
func (s Statistik) IssueCount() int {
	n := 0
	for _, m := range s.Monate {
		if m.HasIssues() {
			n++
		}
	}
	return n
}
