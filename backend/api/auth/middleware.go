package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware authenticates every request except those for the given paths
// and stores the caller's Identity in the request context.
func Middleware(tokens *TokenProvider, unauthenticatedPaths ...string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(unauthenticatedPaths))
	for _, path := range unauthenticatedPaths {
		public[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identity, message := authenticate(tokens, r.Header)
			if identity == nil {
				unauthorized(w, message)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func authenticate(tokens *TokenProvider, header http.Header) (*Identity, string) {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return nil, "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, "invalid authorization format"
	}

	identity, err := tokens.ValidateToken(parts[1])
	if err != nil {
		return nil, ErrInvalidToken.Error()
	}
	return identity, ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
