package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/models"
	"github.com/creditforge/backend/internal/services"
)

type contextKey int

const accountKey contextKey = iota

// Resolver maps a bearer credential to its account.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*models.Account, error)
}

// Auth resolves the bearer token and stores the account in the request
// context. Every credential problem gets the same 401.
func Auth(resolver Resolver, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
				return
			}

			account, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, services.ErrStorageFailure) {
					logger.WithError(err).Error("Failed to resolve credential")
					services.SendErrorResponse(w, "Service unavailable", http.StatusServiceUnavailable, nil)
					return
				}
				services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// RequireAdmin rejects callers without the admin role. It must run after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFrom(r.Context())
		if !ok {
			services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
			return
		}
		if !account.IsAdmin() {
			services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func WithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

func AccountFrom(ctx context.Context) (*models.Account, bool) {
	account, ok := ctx.Value(accountKey).(*models.Account)
	return account, ok && account != nil
}
