package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mesura-ai/mesura/internal/i18n"
	"github.com/mesura-ai/mesura/internal/log"
	"github.com/mesura-ai/mesura/internal/store"
)

// UserResolver resolves an opaque API token to its user. Provisioning of
// users and tokens happens outside this service.
type UserResolver interface {
	GetUserByToken(ctx context.Context, token string) (*store.User, error)
}

// authMiddleware requires a valid bearer token and puts the resolved user
// in the request context.
func authMiddleware(users UserResolver, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", i18n.T("error.unauthorized"), logger)
				return
			}

			user, err := users.GetUserByToken(r.Context(), token)
			if err != nil {
				if !errors.Is(err, store.ErrUserNotFound) {
					logger.Error("resolve api token", "error", err)
				}
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", i18n.T("error.unauthorized"), logger)
				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
