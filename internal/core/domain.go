package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Producer EinheitTyp = "PRODUCER"
	Consumer EinheitTyp = "CONSUMER"

	TarifZEV TarifTyp = "ZEV"
	TarifVNB TarifTyp = "VNB"

	ModusQuartale ValidierungsModus = "quartale"
	ModusJahre    ValidierungsModus = "jahre"
)

type (
	EinheitTyp        string
	TarifTyp          string
	ValidierungsModus string

	// Einheit is a metered unit: a consumer apartment or a producer (solar) installation.
	Einheit struct {
		ID        int64      `json:"id,omitempty"`
		Name      string     `json:"name" validate:"notblank,max=100"`
		Typ       EinheitTyp `json:"typ" validate:"oneof=PRODUCER CONSUMER"`
		Messpunkt string     `json:"messpunkt,omitempty" validate:"max=50"`
	}

	// Mieter is a tenant occupying a consumer unit.
	Mieter struct {
		ID         int64  `json:"id,omitempty"`
		Name       string `json:"name" validate:"notblank,max=100"`
		Strasse    string `json:"strasse" validate:"notblank,max=150"`
		Plz        string `json:"plz" validate:"plz"`
		Ort        string `json:"ort" validate:"notblank,max=100"`
		Mietbeginn Date   `json:"mietbeginn"`
		Mietende   *Date  `json:"mietende,omitempty"`
		EinheitID  int64  `json:"einheitId" validate:"gt=0"`
	}

	// Tarif is a priced tariff valid over a closed date range.
	Tarif struct {
		ID          int64           `json:"id,omitempty"`
		Bezeichnung string          `json:"bezeichnung" validate:"notblank,max=100"`
		Tariftyp    TarifTyp        `json:"tariftyp" validate:"oneof=ZEV VNB"`
		Preis       decimal.Decimal `json:"preis"`
		GueltigVon  Date            `json:"gueltigVon"`
		GueltigBis  Date            `json:"gueltigBis"`
	}

	// TarifValidierung is the backend's verdict on tariff coverage.
	TarifValidierung struct {
		Valid    bool     `json:"valid"`
		Messages []string `json:"messages"`
	}

	Rechnungssteller struct {
		Name    string `json:"name" validate:"notblank,max=100"`
		Strasse string `json:"strasse" validate:"notblank,max=150"`
		Plz     string `json:"plz" validate:"plz"`
		Ort     string `json:"ort" validate:"notblank,max=100"`
	}

	RechnungsKonfiguration struct {
		Zahlungsfrist string           `json:"zahlungsfrist" validate:"notblank,max=50"`
		IBAN          string           `json:"iban" validate:"iban"`
		Steller       Rechnungssteller `json:"steller"`
	}

	// Einstellungen is the per-tenant invoice configuration.
	Einstellungen struct {
		ID       int64                  `json:"id,omitempty"`
		Rechnung RechnungsKonfiguration `json:"rechnung"`
	}

	Translation struct {
		Key      string `json:"key" validate:"translationkey"`
		Deutsch  string `json:"deutsch" validate:"notblank"`
		Englisch string `json:"englisch,omitempty"`
	}

	// Messwert is one aggregated meter reading as returned for charts.
	Messwert struct {
		Zeit          string          `json:"zeit"`
		EinheitID     int64           `json:"einheitId"`
		EinheitName   string          `json:"einheitName"`
		Total         decimal.Decimal `json:"total"`
		Zev           decimal.Decimal `json:"zev"`
		ZevCalculated decimal.Decimal `json:"zevCalculated"`
	}

	// UploadResult is returned by the backend after a meter file import.
	UploadResult struct {
		Status  string `json:"status"`
		Count   int    `json:"count"`
		Message string `json:"message,omitempty"`
	}

	// DistributionResult summarises a distribution calculation run.
	DistributionResult struct {
		Status              string          `json:"status"`
		ProcessedTimestamps int             `json:"processedTimestamps"`
		TotalSolarProduced  decimal.Decimal `json:"totalSolarProduced"`
		TotalDistributed    decimal.Decimal `json:"totalDistributed"`
		Message             string          `json:"message,omitempty"`
	}

	RechnungRequest struct {
		DateFrom   Date    `json:"dateFrom"`
		DateTo     Date    `json:"dateTo"`
		EinheitIDs []int64 `json:"einheitIds"`
		Sprache    string  `json:"sprache,omitempty"`
	}

	// Rechnung is a generated invoice, downloadable by key.
	Rechnung struct {
		EinheitID   int64           `json:"einheitId"`
		EinheitName string          `json:"einheitName"`
		MieterName  string          `json:"mieterName"`
		Von         Date            `json:"von"`
		Bis         Date            `json:"bis"`
		TotalBetrag decimal.Decimal `json:"totalBetrag"`
		Filename    string          `json:"filename"`
		DownloadKey string          `json:"downloadKey"`
	}
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidDateRange = errors.New("end date must be after start date")
	ErrInvalidPrice     = errors.New("invalid price")
)

// ValidationError carries the itemized messages shown in a validation banner.
type ValidationError struct {
	Messages []string
}

func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (t EinheitTyp) IsValid() bool {
	return t == Producer || t == Consumer
}

func (t TarifTyp) IsValid() bool {
	return t == TarifZEV || t == TarifVNB
}

func (m ValidierungsModus) IsValid() bool {
	return m == ModusQuartale || m == ModusJahre
}

func (e Einheit) Validate() error {
	return validateStruct(e)
}

func (m Mieter) Validate() error {
	var msgs []string
	if err := validateStruct(m); err != nil {
		msgs = append(msgs, messagesOf(err)...)
	}
	if m.Mietbeginn.IsZero() {
		msgs = append(msgs, "mietbeginn: Pflichtfeld")
	} else if m.Mietende != nil && !m.Mietende.IsZero() && !m.Mietende.After(m.Mietbeginn.Time) {
		msgs = append(msgs, "mietende: muss nach dem Mietbeginn liegen")
	}
	if len(msgs) > 0 {
		return NewValidationError(msgs...)
	}
	return nil
}

// ActiveOn reports whether the lease covers the given day.
func (m Mieter) ActiveOn(d Date) bool {
	if d.Before(m.Mietbeginn.Time) {
		return false
	}
	return m.Mietende == nil || m.Mietende.IsZero() || !d.After(m.Mietende.Time)
}

func (t Tarif) Validate() error {
	var msgs []string
	if err := validateStruct(t); err != nil {
		msgs = append(msgs, messagesOf(err)...)
	}
	if !t.Preis.IsPositive() {
		msgs = append(msgs, "preis: muss grösser als 0 sein")
	}
	switch {
	case t.GueltigVon.IsZero():
		msgs = append(msgs, "gueltigVon: Pflichtfeld")
	case t.GueltigBis.IsZero():
		msgs = append(msgs, "gueltigBis: Pflichtfeld")
	case t.GueltigBis.Before(t.GueltigVon.Time):
		msgs = append(msgs, "gueltigBis: darf nicht vor gueltigVon liegen")
	}
	if len(msgs) > 0 {
		return NewValidationError(msgs...)
	}
	return nil
}

// CoversDay reports whether the tariff is valid on d (both bounds inclusive).
func (t Tarif) CoversDay(d Date) bool {
	return !d.Before(t.GueltigVon.Time) && !d.After(t.GueltigBis.Time)
}

func (e Einstellungen) Validate() error {
	return validateStruct(e)
}

func (t Translation) Validate() error {
	return validateStruct(t)
}

func (r RechnungRequest) Validate() error {
	var msgs []string
	if r.DateFrom.IsZero() || r.DateTo.IsZero() {
		msgs = append(msgs, "zeitraum: Von und Bis sind Pflichtfelder")
	} else if r.DateTo.Before(r.DateFrom.Time) {
		msgs = append(msgs, "zeitraum: "+ErrInvalidDateRange.Error())
	}
	if len(r.EinheitIDs) == 0 {
		msgs = append(msgs, "einheiten: mindestens eine Einheit auswählen")
	}
	if len(msgs) > 0 {
		return NewValidationError(msgs...)
	}
	return nil
}
