package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// principalKey is the context key for the authenticated profile id.
type principalKey struct{}

// UserFrom extracts the authenticated profile id from the context. It
// returns an empty string for anonymous requests.
func UserFrom(ctx context.Context) string {
	if id, ok := ctx.Value(principalKey{}).(string); ok {
		return id
	}
	return ""
}

// ProfileDirectory confirms that a token subject maps to a real profile.
type ProfileDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Authenticate returns a middleware that resolves the bearer token into a
// principal. Tokens are HMAC-signed JWTs whose subject is the profile id.
//
// Missing or invalid credentials do NOT reject the request here: read
// endpoints degrade to anonymous (empty list) semantics, so the principal
// is simply absent from the context and each handler decides whether it is
// required.
func Authenticate(secret []byte, profiles ProfileDirectory) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, err := parser.Parse(raw, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				next.ServeHTTP(w, r)
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				next.ServeHTTP(w, r)
				return
			}

			if profiles != nil {
				ok, err := profiles.Exists(r.Context(), sub)
				if err != nil || !ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx := context.WithValue(r.Context(), principalKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header, accepting
// the websocket fallback of a "token" query parameter since browsers cannot
// set headers on websocket dials.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
