package core

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"aiohub/internal/types"
)

// adminKeyHeader is the header carrying the admin API key for /v1 routes.
const adminKeyHeader = "X-Admin-Api-Key"

// AdminAuthMiddleware guards the dashboard/admin API surface. The presented
// key is compared against the configured bcrypt hash; the plaintext key is
// never stored server-side, so a leaked config dump does not leak the key.
//
// The key may be supplied either in the X-Admin-Api-Key header or as a
// "Bearer" token in Authorization. Missing and invalid keys produce distinct
// error codes (both 401) so operators can tell misconfigured clients apart
// from probing.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(adminKeyHeader)
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthKeyMissing,
				"admin API key is required",
				nil,
			))
			return
		}

		hash := s.Config.Security.AdminAPIKeyHash.Unmask()
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			s.Logger.WarnContext(r.Context(), "admin key rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthKeyInvalid,
				"admin API key is invalid",
				err,
			))
			return
		}

		next.ServeHTTP(w, r)
	})
}
