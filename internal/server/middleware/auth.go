package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// SessionCookie is the httpOnly cookie holding the upstream token.
const SessionCookie = "accessToken"

// OwnerResolver maps a session token to the user it belongs to.
// *auth.Verifier satisfies this interface.
type OwnerResolver interface {
	Owner(token string) (string, error)
}

// Session authenticates a request by its Bearer header or session cookie and
// stores the token and its owner in the request context.
func Session(resolver OwnerResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ExtractToken(r)
			if tok == "" {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing session"}`, http.StatusUnauthorized)
				return
			}

			owner, err := resolver.Owner(tok)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("session: rejected token")
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), tok, owner)))
		})
	}
}

// ExtractToken returns the Bearer token, falling back to the session cookie.
func ExtractToken(r *http.Request) string {
	if tok := extractBearer(r); tok != "" {
		return tok
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

// NoStore marks every response as uncacheable.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, must-revalidate")
		next.ServeHTTP(w, r)
	})
}
