package session

import (
	"net/http"
	"strings"
	"time"

	"eduplay/cmd/security/token"
)

// Cookie returns the Set-Cookie value carrying iss.
func (s *Service) Cookie(iss Issued, now time.Time) *http.Cookie {
	maxAge := int(iss.ExpiresAt.Sub(now) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    iss.Token,
		Path:     s.cfg.CookiePath,
		MaxAge:   maxAge,
		Expires:  iss.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: s.cfg.CookieSameSite,
	}
}

// ClearCookie returns a cookie that deletes the session cookie.
func (s *Service) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     s.cfg.CookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: s.cfg.CookieSameSite,
	}
}

// TokenFromRequest extracts a session token from the named cookie, falling
// back to an "Authorization: Bearer" header. It returns "" when neither is
// present or the value is oversize.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" && len(v) <= token.MaxTokenLength {
			return v
		}
	}

	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	v := strings.TrimSpace(h[7:])
	if len(v) > token.MaxTokenLength {
		return ""
	}
	return v
}
