package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/eldtechnologies/rankvote/internal/crypto"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Verifier turns an access token into an identity.
type Verifier interface {
	Verify(token string) (crypto.Identity, error)
}

// AuthMiddleware checks access tokens on credential-gated endpoints.
type AuthMiddleware struct {
	verifier Verifier
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireCredential verifies the access token from an Authorization bearer
// header or, failing that, the accessToken field of a JSON body.
func (m *AuthMiddleware) RequireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" && r.Body != nil && r.ContentLength != 0 {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				jsonError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

			var payload struct {
				AccessToken string `json:"accessToken"`
			}
			if json.Unmarshal(body, &payload) == nil {
				token = payload.AccessToken
			}
		}

		id, err := m.verifier.Verify(token)
		if err != nil {
			jsonError(w, http.StatusForbidden, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// jsonError writes the error envelope shared with the handlers.
func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"statusCode": status,
		"message":    message,
		"error":      http.StatusText(status),
	})
}

// GetIdentityFromContext retrieves the verified identity from the request
// context.
func GetIdentityFromContext(ctx context.Context) (crypto.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(crypto.Identity)
	return id, ok
}
