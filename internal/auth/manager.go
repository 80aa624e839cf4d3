package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	applog "zev/internal/log"
	"zev/internal/zevapi"
)

const (
	CookieName = "zev_session"

	LoginPath    = "/auth/login"
	CallbackPath = "/auth/callback"
	LogoutPath   = "/auth/logout"

	defaultSessionTTL = 12 * time.Hour
)

// LoginRecorder counts login outcomes.
type LoginRecorder interface {
	RecordLogin(ok bool)
}

// Principal is the signed-in user as seen by handlers and templates.
type Principal struct {
	SessionID string
	Subject   string
	Name      string
	Tenant    string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the user attached by Manager.Require.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Manager owns sessions: the login flow, the session cookie and the
// middleware that puts tenant and token source on the request context.
// Without a provider authentication is disabled and every request acts for
// the dev tenant.
type Manager struct {
	provider     *Provider
	store        Store
	ttl          time.Duration
	secure       bool
	devTenant    string
	postLogout   string
	recorder     LoginRecorder
	logger       *applog.Logger
	now          func() time.Time
	newSessionID func() string
}

type Option func(*Manager)

func WithSessionTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithSecureCookies(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

func WithDevTenant(tenant string) Option {
	return func(m *Manager) { m.devTenant = tenant }
}

// WithPostLogoutRedirect sets where Keycloak sends the browser after logout.
func WithPostLogoutRedirect(u string) Option {
	return func(m *Manager) { m.postLogout = u }
}

func WithLoginRecorder(r LoginRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

func WithLogger(l *applog.Logger) Option {
	return func(m *Manager) { m.logger = l.WithComponent(applog.ComponentAuth) }
}

func NewManager(provider *Provider, store Store, opts ...Option) *Manager {
	m := &Manager{
		provider:     provider,
		store:        store,
		ttl:          defaultSessionTTL,
		devTenant:    "dev",
		logger:       applog.FromContext(context.Background()).WithComponent(applog.ComponentAuth),
		now:          time.Now,
		newSessionID: func() string { return randStringURL(43) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enabled reports whether requests need a Keycloak session.
func (m *Manager) Enabled() bool {
	return m.provider != nil
}

// Require rejects requests without a valid session. Full page GETs are sent
// to the login, HTMX requests get 401 with an HX-Redirect.
func (m *Manager) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r.WithContext(m.devContext(r.Context())))
			return
		}
		sess, err := m.sessionFrom(r)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, http.ErrNoCookie) {
				m.logger.ErrorContext(r.Context(), "Session lookup failed", applog.FieldError, err)
			}
			m.challenge(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(m.attach(r.Context(), sess)))
	})
}

// SessionContext rebuilds the request context of a stored session; the
// upload worker uses it to call the backend on the user's behalf.
func (m *Manager) SessionContext(ctx context.Context, sessionID, tenant string) (context.Context, error) {
	if !m.Enabled() {
		if tenant == "" {
			tenant = m.devTenant
		}
		return zevapi.WithTenant(ctx, tenant), nil
	}
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.attach(ctx, sess), nil
}

// Login redirects to Keycloak. ?return= names the local page to come back to.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request) {
	if !m.Enabled() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	target := m.provider.AuthCodeURL(safeReturn(r.URL.Query().Get("return")))
	http.Redirect(w, r, target, http.StatusFound)
}

func (m *Manager) Callback(w http.ResponseWriter, r *http.Request) {
	if !m.Enabled() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		m.logger.WarnContext(r.Context(), "Login rejected by identity provider",
			"idp_error", e, "description", q.Get("error_description"))
		m.recordLogin(false)
		http.Error(w, "Anmeldung fehlgeschlagen", http.StatusUnauthorized)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	sess, returnTo, err := m.provider.Exchange(r.Context(), code, state)
	if err != nil {
		m.recordLogin(false)
		if errors.Is(err, ErrInvalidState) {
			m.logger.WarnContext(r.Context(), "Unknown login state", "state", state)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.logger.ErrorContext(r.Context(), "Login failed", applog.FieldError, err)
		http.Error(w, "Anmeldung fehlgeschlagen", http.StatusBadGateway)
		return
	}

	now := m.now()
	sess.ID = m.newSessionID()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(m.ttl)
	if err := m.store.Save(r.Context(), sess); err != nil {
		m.recordLogin(false)
		m.logger.ErrorContext(r.Context(), "Failed to save session", applog.FieldError, err)
		http.Error(w, "Anmeldung fehlgeschlagen", http.StatusInternalServerError)
		return
	}
	m.recordLogin(true)
	m.logger.InfoContext(r.Context(), "User logged in",
		applog.FieldTenant, sess.Tenant, applog.FieldSubject, sess.Subject)

	http.SetCookie(w, m.cookie(sess.ID, int(m.ttl.Seconds())))
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// Logout drops the session and ends the Keycloak session as well.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	target := "/"
	if m.Enabled() {
		if sess, err := m.sessionFrom(r); err == nil {
			if err := m.store.Delete(r.Context(), sess.ID); err != nil {
				m.logger.ErrorContext(r.Context(), "Failed to delete session", applog.FieldError, err)
			}
			target = m.provider.LogoutURL(sess.IDToken, m.postLogout)
			m.logger.InfoContext(r.Context(), "User logged out",
				applog.FieldTenant, sess.Tenant, applog.FieldSubject, sess.Subject)
		}
		if target == "" {
			target = "/"
		}
	}
	http.SetCookie(w, m.cookie("", -1))
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// CleanupExpired removes sessions past their lifetime.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

func (m *Manager) devContext(ctx context.Context) context.Context {
	ctx = zevapi.WithTenant(ctx, m.devTenant)
	return withPrincipal(ctx, Principal{Subject: "dev", Name: "Entwicklung", Tenant: m.devTenant})
}

func (m *Manager) attach(ctx context.Context, sess Session) context.Context {
	// refreshes must outlive the request that triggered them
	refreshCtx := context.WithoutCancel(ctx)
	ctx = zevapi.WithTenant(ctx, sess.Tenant)
	ctx = zevapi.WithTokenSource(ctx, m.provider.TokenSource(refreshCtx, sess, m.store, m.logger))
	ctx = withPrincipal(ctx, Principal{
		SessionID: sess.ID,
		Subject:   sess.Subject,
		Name:      sess.DisplayName,
		Tenant:    sess.Tenant,
	})
	return applog.IntoContext(ctx, applog.FromContext(ctx).With(applog.FieldTenant, sess.Tenant))
}

func (m *Manager) sessionFrom(r *http.Request) (Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, err
	}
	if c.Value == "" {
		return Session{}, ErrSessionNotFound
	}
	return m.store.Get(r.Context(), c.Value)
}

func (m *Manager) challenge(w http.ResponseWriter, r *http.Request) {
	login := LoginPath + "?return=" + url.QueryEscape(r.URL.RequestURI())
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", login)
		http.Error(w, "Sitzung abgelaufen", http.StatusUnauthorized)
		return
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		http.Redirect(w, r, login, http.StatusFound)
		return
	}
	http.Error(w, "Nicht angemeldet", http.StatusUnauthorized)
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) recordLogin(ok bool) {
	if m.recorder != nil {
		m.recorder.RecordLogin(ok)
	}
}

// safeReturn only accepts local absolute paths.
func safeReturn(s string) string {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/\\") {
		return "/"
	}
	return s
}
