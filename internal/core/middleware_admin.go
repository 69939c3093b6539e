package core

import (
	"crypto/subtle"
	"net/http"

	"faberland/internal/types"
)

// adminKeyHeader carries the operator API key for the diagnostics endpoints.
const adminKeyHeader = "X-Admin-Api-Key"

// AdminKeyMiddleware guards the ops diagnostics routes with a static API
// key. The comparison is constant-time so the key cannot be recovered by
// timing probes. Routes stay closed when no key is configured; a missing
// config must never fail open.
func (s *Server) AdminKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := ""
		if s.Config != nil {
			configured = s.Config.Security.AdminAPIKey.Unmask()
		}
		if configured == "" {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthAdminKeyInvalid,
				"diagnostics endpoints are disabled",
				nil,
			))
			return
		}

		presented := r.Header.Get(adminKeyHeader)
		if presented == "" {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthAdminKeyMissing,
				"missing "+adminKeyHeader+" header",
				nil,
			))
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthAdminKeyInvalid,
				"invalid admin API key",
				nil,
			))
			return
		}

		next.ServeHTTP(w, r)
	})
}
