package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// MetricsAuthMiddleware guards the Prometheus scrape endpoint with basic
// auth. With no credentials configured the endpoint is open.
type MetricsAuthMiddleware struct {
	user   [sha256.Size]byte
	pass   [sha256.Size]byte
	open   bool
	logger *slog.Logger
}

// NewMetricsAuthMiddleware creates a new MetricsAuthMiddleware.
func NewMetricsAuthMiddleware(username, password string, logger *slog.Logger) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{
		user:   sha256.Sum256([]byte(username)),
		pass:   sha256.Sum256([]byte(password)),
		open:   username == "" && password == "",
		logger: logger,
	}
}

// Handler returns middleware that requires the scrape credentials.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.open {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		// Compare fixed-size digests of both fields.
		u := sha256.Sum256([]byte(user))
		p := sha256.Sum256([]byte(pass))
		match := subtle.ConstantTimeCompare(u[:], m.user[:]) & subtle.ConstantTimeCompare(p[:], m.pass[:])
		if !ok || match != 1 {
			m.logger.Warn("metrics scrape rejected", "ip", getClientIP(r))
			w.Header().Set("WWW-Authenticate", `Basic realm="proofsheet metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
