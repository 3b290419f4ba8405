package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/fjod/qr_order/internal/domain"
	"go.uber.org/zap"
)

// Resolver looks up the user behind a bearer token.
type Resolver interface {
	CurrentUser(ctx context.Context, token string) (*domain.User, error)
}

// Middleware attaches an Identity to every request. Requests without a
// token, or whose token cannot be resolved, continue as guests.
func Middleware(resolver Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Guest()
			if token := bearerToken(r); token != "" {
				user, err := resolver.CurrentUser(r.Context(), token)
				switch {
				case err != nil:
					logger.Info("token not resolved, continuing as guest", zap.Error(err))
				case user != nil:
					id = Authenticated(*user)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
