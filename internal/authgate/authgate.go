// Package authgate implements the optional HTTP Basic Auth layer that sits
// in front of every request when the server has configured principals.
package authgate

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"miniserve/internal/config"
	"miniserve/internal/render"
)

type ctxKey string

const userKey ctxKey = "miniserve.user"

// UserFromContext returns the authenticated principal's username, or "" if
// the request was unauthenticated (no auth configured).
func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// RequireAuth wraps next with HTTP Basic Auth enforcement. If cfg carries no
// principals, auth is disabled entirely and next runs unmodified.
func RequireAuth(cfg config.Config, next http.Handler) http.Handler {
	if !cfg.HasAuth() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := parseBasicAuth(r.Header.Get("Authorization"))
		if !ok || !match(cfg.Principals, user, pass) {
			deny(w, cfg.ColorScheme)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// match reports whether username/password satisfies any configured
// principal. Every candidate is compared even after a match is found so the
// total work does not depend on which principal (if any) matched.
func match(principals []config.Principal, username, password string) bool {
	found := false
	for _, p := range principals {
		if usernamesEqual(p.Username, username) && comparePassword(password, p) {
			found = true
		}
	}
	return found
}

func usernamesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func comparePassword(password string, p config.Principal) bool {
	switch p.Kind {
	case config.SecretPlain:
		return subtle.ConstantTimeCompare([]byte(password), []byte(p.Secret)) == 1
	case config.SecretSHA256:
		sum := sha256.Sum256([]byte(password))
		return compareHex(sum[:], p.Secret)
	case config.SecretSHA512:
		sum := sha512.Sum512([]byte(password))
		return compareHex(sum[:], p.Secret)
	default:
		return false
	}
}

func compareHex(computed []byte, want string) bool {
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(computed)), []byte(strings.ToLower(want))) == 1
}

func deny(w http.ResponseWriter, colorScheme string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="miniserve"`)
	body, err := render.Error(http.StatusUnauthorized, "Unauthorized", "A valid username and password are required to access this resource.", colorScheme)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(body)
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	s := string(raw)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
