package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"zev/internal/zevapi"
)

const (
	testIssuer   = "https://sso.example.ch/realms/sonnenhof"
	testClientID = "zev-frontend"
)

type fakeIdP struct {
	t        *testing.T
	key      *rsa.PrivateKey
	srv      *httptest.Server
	mu       sync.Mutex
	claims   map[string]any
	verifier string
	refreshs int
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	idp := &fakeIdP{t: t, key: key, claims: map[string]any{
		"sub": "user-1", "name": "Anna Muster", "tenant": "acme",
	}}
	idp.srv = httptest.NewServer(http.HandlerFunc(idp.token))
	t.Cleanup(idp.srv.Close)
	return idp
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := map[string]any{"token_type": "Bearer", "expires_in": 3600}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.verifier = r.PostForm.Get("code_verifier")
		resp["access_token"] = "at-1"
		resp["refresh_token"] = "rt-1"
		resp["id_token"] = f.signIDToken()
	case "refresh_token":
		f.refreshs++
		resp["access_token"] = "at-refreshed"
		resp["refresh_token"] = "rt-2"
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeIdP) signIDToken() string {
	claims := map[string]any{
		"iss": testIssuer,
		"aud": testClientID,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	for k, v := range f.claims {
		claims[k] = v
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(f.t, err)
	input := header + "." + base64.RawURLEncoding.EncodeToString(payload)
	sum := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, sum[:])
	require.NoError(f.t, err)
	return input + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func (f *fakeIdP) provider() *Provider {
	oc := &oauth2.Config{
		ClientID:    testClientID,
		RedirectURL: "http://localhost:8080" + CallbackPath,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://sso.example.ch/auth",
			TokenURL:  f.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{oidc.ScopeOpenID},
	}
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keys, &oidc.Config{ClientID: testClientID})
	return newProvider(oc, verifier, testIssuer, "https://sso.example.ch/logout", "tenant")
}

type loginCounter struct{ ok, failed int }

func (c *loginCounter) RecordLogin(ok bool) {
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}

// login drives the browser side of the flow and returns the session cookie.
func login(t *testing.T, m *Manager, returnTo string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Login(rec, httptest.NewRequest(http.MethodGet, LoginPath+"?return="+url.QueryEscape(returnTo), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "S256", loc.Query().Get("code_challenge_method"))
	assert.NotEmpty(t, loc.Query().Get("code_challenge"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	rec = httptest.NewRecorder()
	m.Callback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?code=abc&state="+state, nil))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			assert.True(t, c.HttpOnly)
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestLoginFlowCreatesSession(t *testing.T) {
	idp := newFakeIdP(t)
	store := NewMemoryStore()
	counter := &loginCounter{}
	m := NewManager(idp.provider(), store, WithLoginRecorder(counter), WithPostLogoutRedirect("http://localhost:8080/"))

	cookie := login(t, m, "/mieter?sort=name")
	assert.NotEmpty(t, idp.verifier, "code verifier must be sent")
	assert.Equal(t, 1, counter.ok)

	var seen Principal
	var token *oauth2.Token
	var tenant string
	h := m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		tenant = zevapi.TenantFrom(r.Context())
		var err error
		token, err = zevapi.TokenSourceFrom(r.Context()).Token()
		require.NoError(t, err)
	}))
	req := httptest.NewRequest(http.MethodGet, "/mieter", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, "Anna Muster", seen.Name)
	assert.Equal(t, "user-1", seen.Subject)
	assert.Equal(t, "at-1", token.AccessToken)
}

func TestCallbackRedirectsToReturnPath(t *testing.T) {
	idp := newFakeIdP(t)
	m := NewManager(idp.provider(), NewMemoryStore())

	rec := httptest.NewRecorder()
	m.Login(rec, httptest.NewRequest(http.MethodGet, LoginPath+"?return=%2Ftarife", nil))
	loc, _ := url.Parse(rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	m.Callback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?code=x&state="+loc.Query().Get("state"), nil))
	assert.Equal(t, "/tarife", rec.Header().Get("Location"))
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	idp := newFakeIdP(t)
	counter := &loginCounter{}
	m := NewManager(idp.provider(), NewMemoryStore(), WithLoginRecorder(counter))

	rec := httptest.NewRecorder()
	m.Callback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?code=x&state=forged", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, counter.failed)

	rec = httptest.NewRecorder()
	m.Callback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?state=forged", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	m.Callback(rec, httptest.NewRequest(http.MethodGet, CallbackPath+"?error=access_denied", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStateIsSingleUse(t *testing.T) {
	idp := newFakeIdP(t)
	m := NewManager(idp.provider(), NewMemoryStore())

	rec := httptest.NewRecorder()
	m.Login(rec, httptest.NewRequest(http.MethodGet, LoginPath, nil))
	loc, _ := url.Parse(rec.Header().Get("Location"))
	target := CallbackPath + "?code=x&state=" + loc.Query().Get("state")

	rec = httptest.NewRecorder()
	m.Callback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	rec = httptest.NewRecorder()
	m.Callback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireWithoutSession(t *testing.T) {
	idp := newFakeIdP(t)
	m := NewManager(idp.provider(), NewMemoryStore())
	h := m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/einheiten?sort=name", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?return=%2Feinheiten%3Fsort%3Dname", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/einheiten/list", nil)
	req.Header.Set("HX-Request", "true")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("HX-Redirect"), LoginPath))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/einheiten", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "stale"})
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshedTokenIsPersisted(t *testing.T) {
	idp := newFakeIdP(t)
	store := NewMemoryStore()
	m := NewManager(idp.provider(), store)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Session{
		ID:     "s1",
		Tenant: "acme",
		Token: &oauth2.Token{
			AccessToken:  "at-old",
			RefreshToken: "rt-1",
			Expiry:       time.Now().Add(-time.Minute),
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	sctx, err := m.SessionContext(ctx, "s1", "acme")
	require.NoError(t, err)
	tok, err := zevapi.TokenSourceFrom(sctx).Token()
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", tok.AccessToken)
	assert.Equal(t, 1, idp.refreshs)

	stored, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", stored.Token.AccessToken)
	assert.Equal(t, "rt-2", stored.Token.RefreshToken)

	_, err = m.SessionContext(ctx, "missing", "acme")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLogoutEndsSession(t *testing.T) {
	idp := newFakeIdP(t)
	store := NewMemoryStore()
	m := NewManager(idp.provider(), store, WithPostLogoutRedirect("http://localhost:8080/"))
	cookie := login(t, m, "/")

	req := httptest.NewRequest(http.MethodPost, LogoutPath, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	m.Logout(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "sso.example.ch", loc.Host)
	assert.Equal(t, "/logout", loc.Path)
	assert.NotEmpty(t, loc.Query().Get("id_token_hint"))
	assert.Equal(t, "http://localhost:8080/", loc.Query().Get("post_logout_redirect_uri"))

	_, err = store.Get(context.Background(), cookie.Value)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		cleared = cleared || (c.Name == CookieName && c.MaxAge < 0)
	}
	assert.True(t, cleared, "session cookie must be cleared")
}

func TestDisabledAuthUsesDevTenant(t *testing.T) {
	m := NewManager(nil, NewMemoryStore(), WithDevTenant("lokal"))
	assert.False(t, m.Enabled())

	var tenant string
	var hasToken bool
	h := m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant = zevapi.TenantFrom(r.Context())
		hasToken = zevapi.TokenSourceFrom(r.Context()) != nil
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "lokal", tenant)
	assert.False(t, hasToken)

	ctx, err := m.SessionContext(context.Background(), "", "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", zevapi.TenantFrom(ctx))

	rec := httptest.NewRecorder()
	m.Login(rec, httptest.NewRequest(http.MethodGet, LoginPath, nil))
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestTenantFromClaims(t *testing.T) {
	cases := []struct {
		name   string
		claims map[string]any
		issuer string
		want   string
	}{
		{"string claim", map[string]any{"tenant": "acme"}, testIssuer, "acme"},
		{"group path", map[string]any{"tenant": []any{"", "/acme"}}, testIssuer, "acme"},
		{"realm fallback", map[string]any{}, testIssuer, "sonnenhof"},
		{"realm with slash", map[string]any{"tenant": ""}, testIssuer + "/", "sonnenhof"},
		{"nothing", map[string]any{}, "https://accounts.example.com", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tenantFromClaims(tc.claims, "tenant", tc.issuer))
		})
	}
}

func TestSafeReturn(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"/mieter":              "/mieter",
		"//evil.example.com":   "/",
		"/\\evil.example.com":  "/",
		"https://evil.example": "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeReturn(in), in)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Session{ID: "a", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.Save(ctx, Session{ID: "b", ExpiresAt: now.Add(-time.Second)}))

	_, err := store.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.ErrorIs(t, store.UpdateToken(ctx, "b", &oauth2.Token{}), ErrSessionNotFound)
}
