package http

import (
	"net/http"
	"time"

	"golang.org/x/text/language"
)

const (
	langCookie  = "zev_lang"
	defaultLang = "de"
)

var (
	supportedLangs = []language.Tag{language.German, language.English}
	langMatcher    = language.NewMatcher(supportedLangs)
)

// requestLang picks the UI language: the cookie set by /lang/{lang}, else
// the best Accept-Language match, else German.
func requestLang(r *http.Request) string {
	if c, err := r.Cookie(langCookie); err == nil {
		if lang, ok := supportedLang(c.Value); ok {
			return lang
		}
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return defaultLang
	}
	tag, _, conf := langMatcher.Match(tags...)
	if conf == language.No {
		return defaultLang
	}
	base, _ := tag.Base()
	return base.String()
}

// supportedLang normalises s ("EN", "en-GB") to a supported base language.
func supportedLang(s string) (string, bool) {
	tag, err := language.Parse(s)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	for _, t := range supportedLangs {
		if b, _ := t.Base(); b == base {
			return base.String(), true
		}
	}
	return "", false
}

func langCookieFor(lang string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     langCookie,
		Value:    lang,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// handleLang stores the chosen language and sends the user back.
func (s *Server) handleLang(w http.ResponseWriter, r *http.Request) {
	lang, ok := supportedLang(r.PathValue("lang"))
	if !ok {
		NotFoundError("Sprache nicht unterstützt").Write(w)
		return
	}
	http.SetCookie(w, langCookieFor(lang, s.secureCookies))

	back := "/"
	if ref := r.Header.Get("Referer"); ref != "" {
		back = localPath(sameHostPath(ref, r.Host))
	}
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", back)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}
