// Package zevapi defines the outbound ports to the ZEV billing backend.
//
// The REST client in zevapi/rest implements every port against the backend's
// HTTP API; zevapi/memory implements them in process for development and
// handler tests.
package zevapi

import (
	"context"

	"zev/internal/core"
)

// Ports for outbound adapters, one per backend resource.
type (
	EinheitService interface {
		ListEinheiten(ctx context.Context) ([]core.Einheit, error)
		GetEinheit(ctx context.Context, id int64) (core.Einheit, error)
		CreateEinheit(ctx context.Context, e core.Einheit) (core.Einheit, error)
		UpdateEinheit(ctx context.Context, e core.Einheit) (core.Einheit, error)
		DeleteEinheit(ctx context.Context, id int64) error
		// MatchEinheit asks the backend which unit a meter file name belongs to.
		MatchEinheit(ctx context.Context, filename string) (core.MatchResult, error)
	}

	MieterService interface {
		ListMieter(ctx context.Context) ([]core.Mieter, error)
		GetMieter(ctx context.Context, id int64) (core.Mieter, error)
		CreateMieter(ctx context.Context, m core.Mieter) (core.Mieter, error)
		UpdateMieter(ctx context.Context, m core.Mieter) (core.Mieter, error)
		DeleteMieter(ctx context.Context, id int64) error
	}

	TarifService interface {
		ListTarife(ctx context.Context) ([]core.Tarif, error)
		GetTarif(ctx context.Context, id int64) (core.Tarif, error)
		CreateTarif(ctx context.Context, t core.Tarif) (core.Tarif, error)
		UpdateTarif(ctx context.Context, t core.Tarif) (core.Tarif, error)
		DeleteTarif(ctx context.Context, id int64) error
		// ValidateTarife checks that ZEV and VNB tariffs cover every quarter or year without gaps.
		ValidateTarife(ctx context.Context, modus core.ValidierungsModus) (core.TarifValidierung, error)
	}

	EinstellungenService interface {
		// GetEinstellungen returns ErrNotFound while the tenant has not configured invoicing yet.
		GetEinstellungen(ctx context.Context) (core.Einstellungen, error)
		// SaveEinstellungen creates the settings when e.ID is zero and updates them otherwise.
		SaveEinstellungen(ctx context.Context, e core.Einstellungen) (core.Einstellungen, error)
	}

	StatistikService interface {
		GetStatistik(ctx context.Context, r core.DateRange) (core.Statistik, error)
		ExportStatistikPDF(ctx context.Context, r core.DateRange, sprache string) (Document, error)
	}

	MesswerteService interface {
		UploadMesswerte(ctx context.Context, u Upload) (core.UploadResult, error)
		MesswerteByTime(ctx context.Context, r core.DateRange) ([]core.Messwert, error)
		CalculateDistribution(ctx context.Context, r core.DateRange) (core.DistributionResult, error)
	}

	RechnungService interface {
		GenerateRechnungen(ctx context.Context, req core.RechnungRequest) ([]core.Rechnung, error)
		DownloadRechnung(ctx context.Context, key string) (Document, error)
	}

	TranslationService interface {
		ListTranslations(ctx context.Context) ([]core.Translation, error)
		CreateTranslation(ctx context.Context, t core.Translation) (core.Translation, error)
		UpdateTranslation(ctx context.Context, t core.Translation) (core.Translation, error)
		DeleteTranslation(ctx context.Context, key string) error
	}

	// Backend is the full surface of the billing backend.
	Backend interface {
		EinheitService
		MieterService
		TarifService
		EinstellungenService
		StatistikService
		MesswerteService
		RechnungService
		TranslationService
	}
)

// Upload is one meter data file sent to the backend.
type Upload struct {
	Date      core.Date
	EinheitID int64
	Filename  string
	Content   []byte
}

// Document is a binary file produced by the backend (invoice or statistics PDF).
type Document struct {
	Filename    string
	ContentType string
	Content     []byte
}
