package services

import (
	"context"
	"strings"
	"time"

	"zev/internal/cache"
	"zev/internal/core"
	applog "zev/internal/log"
	"zev/internal/zevapi"
)

const maxCachedTenants = 256

// Translator resolves UI labels for one language. Missing keys and missing
// English texts fall back to German, then to the key itself.
type Translator struct {
	lang  string
	texts map[string]core.Translation
}

// NewTranslator builds a translator from a fixed set of translations.
func NewTranslator(lang string, list []core.Translation) Translator {
	texts := make(map[string]core.Translation, len(list))
	for _, t := range list {
		texts[t.Key] = t
	}
	return Translator{lang: lang, texts: texts}
}

func (t Translator) T(key string) string {
	tr, ok := t.texts[key]
	if !ok {
		return key
	}
	if t.lang == "en" && strings.TrimSpace(tr.Englisch) != "" {
		return tr.Englisch
	}
	if strings.TrimSpace(tr.Deutsch) != "" {
		return tr.Deutsch
	}
	return key
}

func (t Translator) Lang() string {
	return t.lang
}

// TranslationService serves the tenant's translations to the templates from
// a per-tenant cache and invalidates it on every change.
type TranslationService struct {
	backend zevapi.TranslationService
	cache   *cache.LRUCache[[]core.Translation]
	logger  *applog.Logger
}

// NewTranslationService caches each tenant's translations for ttl; observe
// is told about cache hits and misses and may be nil.
func NewTranslationService(backend zevapi.TranslationService, ttl time.Duration, observe func(hit bool)) *TranslationService {
	c := cache.NewLRUCache[[]core.Translation](maxCachedTenants, ttl)
	c.OnLookup = observe
	return &TranslationService{
		backend: backend,
		cache:   c,
		logger:  applog.FromContext(context.Background()).WithComponent(applog.ComponentTranslations),
	}
}

// Cache exposes the tenant cache for the janitor.
func (s *TranslationService) Cache() cache.Cleaner {
	return s.cache
}

// Translator never fails: when the backend is unreachable labels show their keys.
func (s *TranslationService) Translator(ctx context.Context, lang string) Translator {
	list, err := s.cached(ctx)
	if err != nil {
		applog.FromContext(ctx).WithComponent(applog.ComponentTranslations).
			WarnContext(ctx, "Translations unavailable, using keys", applog.FieldError, err)
		return NewTranslator(lang, nil)
	}
	return NewTranslator(lang, list)
}

func (s *TranslationService) cached(ctx context.Context) ([]core.Translation, error) {
	tenant := zevapi.TenantFrom(ctx)
	if list, ok := s.cache.Get(tenant); ok {
		return list, nil
	}
	list, err := s.backend.ListTranslations(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(tenant, list)
	return list, nil
}

// List always reads through to the backend for the management screen.
func (s *TranslationService) List(ctx context.Context) ([]core.Translation, error) {
	list, err := s.backend.ListTranslations(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(zevapi.TenantFrom(ctx), list)
	return list, nil
}

func (s *TranslationService) Create(ctx context.Context, t core.Translation) (core.Translation, error) {
	if err := t.Validate(); err != nil {
		return core.Translation{}, err
	}
	created, err := s.backend.CreateTranslation(ctx, t)
	if err != nil {
		return core.Translation{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

func (s *TranslationService) Update(ctx context.Context, t core.Translation) (core.Translation, error) {
	if err := t.Validate(); err != nil {
		return core.Translation{}, err
	}
	updated, err := s.backend.UpdateTranslation(ctx, t)
	if err != nil {
		return core.Translation{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

func (s *TranslationService) Delete(ctx context.Context, key string) error {
	if err := s.backend.DeleteTranslation(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *TranslationService) invalidate(ctx context.Context) {
	tenant := zevapi.TenantFrom(ctx)
	s.cache.Delete(tenant)
	s.logger.DebugContext(ctx, "Translation cache invalidated", applog.FieldTenant, tenant)
}
