package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"zev/internal/cache"
	applog "zev/internal/log"
)

const (
	pendingStateTTL     = 10 * time.Minute
	maxPendingStates    = 10000
	keycloakRealmMarker = "/realms/"
)

// ErrInvalidState means the callback carried a state that was never issued or has expired.
var ErrInvalidState = errors.New("invalid or expired login state")

// PendingAuthState is remembered between the login redirect and the callback.
type PendingAuthState struct {
	State        string
	CodeVerifier string
	ReturnTo     string
	CreatedAt    time.Time
}

type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TenantClaim names the ID token claim holding the tenant.
	TenantClaim string
}

// Provider runs the authorization-code flow with PKCE against Keycloak.
type Provider struct {
	oauth2Config  *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	issuer        string
	endSessionURL string
	tenantClaim   string
	pending       *cache.LRUCache[PendingAuthState]
}

// NewProvider discovers the issuer's endpoints.
func NewProvider(ctx context.Context, cfg OIDCConfig) (*Provider, error) {
	p, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover OIDC provider %s: %w", cfg.IssuerURL, err)
	}
	// end_session_endpoint is not part of oidc.Provider's typed fields
	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.Claims(&meta); err != nil {
		return nil, fmt.Errorf("read provider metadata: %w", err)
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     p.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	verifier := p.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newProvider(oc, verifier, cfg.IssuerURL, meta.EndSessionEndpoint, cfg.TenantClaim), nil
}

func newProvider(oc *oauth2.Config, verifier *oidc.IDTokenVerifier, issuer, endSessionURL, tenantClaim string) *Provider {
	if tenantClaim == "" {
		tenantClaim = "tenant"
	}
	return &Provider{
		oauth2Config:  oc,
		verifier:      verifier,
		issuer:        issuer,
		endSessionURL: endSessionURL,
		tenantClaim:   tenantClaim,
		pending:       cache.NewLRUCache[PendingAuthState](maxPendingStates, pendingStateTTL),
	}
}

// AuthCodeURL starts a login and returns the Keycloak URL to redirect to.
func (p *Provider) AuthCodeURL(returnTo string) string {
	state := randStringURL(32)
	verifier := oauth2.GenerateVerifier()
	p.pending.Set(state, PendingAuthState{
		State:        state,
		CodeVerifier: verifier,
		ReturnTo:     returnTo,
		CreatedAt:    time.Now(),
	})
	return p.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier))
}

// Exchange completes a login. The returned session has no ID or lifetime yet.
func (p *Provider) Exchange(ctx context.Context, code, state string) (Session, string, error) {
	pl, ok := p.pending.Get(state)
	if !ok {
		return Session{}, "", ErrInvalidState
	}
	p.pending.Delete(state)

	token, err := p.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(pl.CodeVerifier))
	if err != nil {
		return Session{}, "", fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Session{}, "", errors.New("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Session{}, "", fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Session{}, "", fmt.Errorf("parse claims: %w", err)
	}

	tenant := tenantFromClaims(claims, p.tenantClaim, idToken.Issuer)
	if tenant == "" {
		return Session{}, "", fmt.Errorf("no tenant in claim %q", p.tenantClaim)
	}
	return Session{
		Tenant:      tenant,
		Subject:     idToken.Subject,
		DisplayName: displayName(claims, idToken.Subject),
		IDToken:     rawIDToken,
		Token:       token,
	}, pl.ReturnTo, nil
}

// TokenSource refreshes the session's token when needed and writes every
// new token back to the store.
func (p *Provider) TokenSource(ctx context.Context, sess Session, store Store, logger *applog.Logger) oauth2.TokenSource {
	return &persistingTokenSource{
		ctx:    ctx,
		base:   p.oauth2Config.TokenSource(ctx, sess.Token),
		store:  store,
		id:     sess.ID,
		last:   sess.Token.AccessToken,
		logger: logger,
	}
}

// LogoutURL is Keycloak's end-session URL for the session, or redirect when
// the provider has none.
func (p *Provider) LogoutURL(idTokenHint, redirect string) string {
	if p.endSessionURL == "" {
		return redirect
	}
	u, err := url.Parse(p.endSessionURL)
	if err != nil {
		return redirect
	}
	q := u.Query()
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	q.Set("client_id", p.oauth2Config.ClientID)
	if redirect != "" {
		q.Set("post_logout_redirect_uri", redirect)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// CleanExpired drops abandoned logins; registered with the cache janitor.
func (p *Provider) CleanExpired() int {
	return p.pending.CleanExpired()
}

type persistingTokenSource struct {
	mu     sync.Mutex
	ctx    context.Context
	base   oauth2.TokenSource
	store  Store
	id     string
	last   string
	logger *applog.Logger
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.store.UpdateToken(s.ctx, s.id, tok); err != nil {
			s.logger.WarnContext(s.ctx, "Failed to persist refreshed token", applog.FieldError, err)
		}
	}
	return tok, nil
}

// tenantFromClaims reads the tenant claim as a string or the first entry of
// a list (Keycloak group paths lose their leading slash). Without it the
// realm name of a Keycloak issuer is used.
func tenantFromClaims(claims map[string]any, claim, issuer string) string {
	switch v := claims[claim].(type) {
	case string:
		if s := strings.TrimPrefix(strings.TrimSpace(v), "/"); s != "" {
			return s
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimPrefix(strings.TrimSpace(s), "/"); s != "" {
					return s
				}
			}
		}
	}
	if i := strings.LastIndex(issuer, keycloakRealmMarker); i >= 0 {
		return strings.TrimSuffix(issuer[i+len(keycloakRealmMarker):], "/")
	}
	return ""
}

func displayName(claims map[string]any, fallback string) string {
	for _, key := range []string{"name", "preferred_username", "email"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func randStringURL(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)[:n]
}
