package rest

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"zev/internal/core"
)

const (
	pathEinheit       = "/api/einheit"
	pathMieter        = "/api/mieter"
	pathTarife        = "/api/tarife"
	pathEinstellungen = "/api/einstellungen"
	pathTranslations  = "/api/translations"

	byID  = "/{id}"
	byKey = "/{key}"
)

func list[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	if err := c.do(ctx, endpoint{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func get[T any](ctx context.Context, c *Client, path string, params map[string]string) (T, error) {
	var out T
	err := c.do(ctx, endpoint{method: http.MethodGet, path: path, params: params}, &out)
	return out, err
}

func write[T any](ctx context.Context, c *Client, e endpoint, in T) (T, error) {
	var out T
	e.body = in
	if err := c.do(ctx, e, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (c *Client) remove(ctx context.Context, path string, params map[string]string) error {
	return c.do(ctx, endpoint{method: http.MethodDelete, path: path, params: params}, nil)
}

// Einheit

func (c *Client) ListEinheiten(ctx context.Context) ([]core.Einheit, error) {
	return list[core.Einheit](ctx, c, pathEinheit)
}

func (c *Client) GetEinheit(ctx context.Context, id int64) (core.Einheit, error) {
	return get[core.Einheit](ctx, c, pathEinheit+byID, idParam(id))
}

func (c *Client) CreateEinheit(ctx context.Context, e core.Einheit) (core.Einheit, error) {
	e.ID = 0
	return write(ctx, c, endpoint{method: http.MethodPost, path: pathEinheit}, e)
}

func (c *Client) UpdateEinheit(ctx context.Context, e core.Einheit) (core.Einheit, error) {
	return write(ctx, c, endpoint{method: http.MethodPut, path: pathEinheit + byID, params: idParam(e.ID)}, e)
}

func (c *Client) DeleteEinheit(ctx context.Context, id int64) error {
	return c.remove(ctx, pathEinheit+byID, idParam(id))
}

func (c *Client) MatchEinheit(ctx context.Context, filename string) (core.MatchResult, error) {
	var out core.MatchResult
	err := c.do(ctx, endpoint{method: http.MethodPost, path: pathEinheit + "/match", body: map[string]string{"filename": filename}}, &out)
	return out, err
}

// Mieter

func (c *Client) ListMieter(ctx context.Context) ([]core.Mieter, error) {
	return list[core.Mieter](ctx, c, pathMieter)
}

func (c *Client) GetMieter(ctx context.Context, id int64) (core.Mieter, error) {
	return get[core.Mieter](ctx, c, pathMieter+byID, idParam(id))
}

func (c *Client) CreateMieter(ctx context.Context, m core.Mieter) (core.Mieter, error) {
	m.ID = 0
	return write(ctx, c, endpoint{method: http.MethodPost, path: pathMieter}, m)
}

func (c *Client) UpdateMieter(ctx context.Context, m core.Mieter) (core.Mieter, error) {
	return write(ctx, c, endpoint{method: http.MethodPut, path: pathMieter + byID, params: idParam(m.ID)}, m)
}

func (c *Client) DeleteMieter(ctx context.Context, id int64) error {
	return c.remove(ctx, pathMieter+byID, idParam(id))
}

// Tarif

func (c *Client) ListTarife(ctx context.Context) ([]core.Tarif, error) {
	return list[core.Tarif](ctx, c, pathTarife)
}

func (c *Client) GetTarif(ctx context.Context, id int64) (core.Tarif, error) {
	return get[core.Tarif](ctx, c, pathTarife+byID, idParam(id))
}

func (c *Client) CreateTarif(ctx context.Context, t core.Tarif) (core.Tarif, error) {
	t.ID = 0
	return write(ctx, c, endpoint{method: http.MethodPost, path: pathTarife}, t)
}

func (c *Client) UpdateTarif(ctx context.Context, t core.Tarif) (core.Tarif, error) {
	return write(ctx, c, endpoint{method: http.MethodPut, path: pathTarife + byID, params: idParam(t.ID)}, t)
}

func (c *Client) DeleteTarif(ctx context.Context, id int64) error {
	return c.remove(ctx, pathTarife+byID, idParam(id))
}

// ValidateTarife treats a 400 carrying messages as a failed validation
// rather than an error, since some backend versions answer that way.
func (c *Client) ValidateTarife(ctx context.Context, modus core.ValidierungsModus) (core.TarifValidierung, error) {
	q := url.Values{}
	q.Set("modus", string(modus))
	var out core.TarifValidierung
	err := c.do(ctx, endpoint{method: http.MethodGet, path: pathTarife + "/validate", query: q}, &out)
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return core.TarifValidierung{Valid: false, Messages: ve.Messages}, nil
	}
	if err != nil {
		return core.TarifValidierung{}, err
	}
	if out.Valid {
		out.Messages = nil
	}
	return out, nil
}

// Einstellungen

func (c *Client) GetEinstellungen(ctx context.Context) (core.Einstellungen, error) {
	return get[core.Einstellungen](ctx, c, pathEinstellungen, nil)
}

func (c *Client) SaveEinstellungen(ctx context.Context, e core.Einstellungen) (core.Einstellungen, error) {
	if e.ID == 0 {
		return write(ctx, c, endpoint{method: http.MethodPost, path: pathEinstellungen}, e)
	}
	return write(ctx, c, endpoint{method: http.MethodPut, path: pathEinstellungen + byID, params: idParam(e.ID)}, e)
}

// Translations

func (c *Client) ListTranslations(ctx context.Context) ([]core.Translation, error) {
	return list[core.Translation](ctx, c, pathTranslations)
}

func (c *Client) CreateTranslation(ctx context.Context, t core.Translation) (core.Translation, error) {
	return write(ctx, c, endpoint{method: http.MethodPost, path: pathTranslations}, t)
}

func (c *Client) UpdateTranslation(ctx context.Context, t core.Translation) (core.Translation, error) {
	return write(ctx, c, endpoint{method: http.MethodPut, path: pathTranslations + byKey, params: map[string]string{"key": t.Key}}, t)
}

func (c *Client) DeleteTranslation(ctx context.Context, key string) error {
	return c.remove(ctx, pathTranslations+byKey, map[string]string{"key": key})
}
