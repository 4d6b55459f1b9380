// Package middleware contains HTTP middleware for the Proofsheet API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/proofsheet/internal/auth"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/handler"
)

const (
	// GalleryTokenHeader carries the viewer's gallery access token.
	GalleryTokenHeader = "X-Gallery-Token"

	// galleryTokenParam is the query fallback for links opened directly in
	// a browser.
	galleryTokenParam = "token"
)

// =============================================================================
// Admin Auth
// =============================================================================

// AdminAuthMiddleware guards photographer-facing routes with a static bearer
// token.
type AdminAuthMiddleware struct {
	token  []byte
	logger *slog.Logger
}

// NewAdminAuthMiddleware creates a new AdminAuthMiddleware. An empty token
// rejects every request.
func NewAdminAuthMiddleware(token string, logger *slog.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		token:  []byte(token),
		logger: logger,
	}
}

// RequireAdmin rejects requests without the admin bearer token.
func (m *AdminAuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || len(m.token) == 0 || subtle.ConstantTimeCompare([]byte(token), m.token) != 1 {
			m.logger.Warn("admin authentication failed",
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="proofsheet"`)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Gallery Client
// =============================================================================

// GalleryClientMiddleware identifies gallery viewers. The viewer's access
// token is turned into a stable client key scoped to the session in the
// route, and the raw token never leaves this middleware.
type GalleryClientMiddleware struct {
	keys   *auth.ClientKeyDeriver
	logger *slog.Logger
}

// NewGalleryClientMiddleware creates a new GalleryClientMiddleware.
func NewGalleryClientMiddleware(keys *auth.ClientKeyDeriver, logger *slog.Logger) *GalleryClientMiddleware {
	return &GalleryClientMiddleware{
		keys:   keys,
		logger: logger,
	}
}

// RequireClient derives the client key and stores it in the request
// context. Routes using it must have a {sessionID} path segment.
func (m *GalleryClientMiddleware) RequireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(GalleryTokenHeader)
		if token == "" {
			token = r.URL.Query().Get(galleryTokenParam)
		}

		const op = "middleware.gallery_client"

		clientKey, err := m.keys.ClientKey(r.PathValue("sessionID"), token)
		if errors.Is(err, auth.ErrMissingToken) {
			handler.ErrorResponse(w, r, m.logger, domain.Unauthorized(op, "A gallery access token is required"))
			return
		}
		if err != nil {
			handler.ErrorResponse(w, r, m.logger, domain.Internal(err, op, "failed to identify client"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetClient(r.Context(), clientKey)))
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	gallery := Stack(limiter.Limit, clientMw.RequireClient)
//	mux.Handle("GET /galleries/{sessionID}/downloads", gallery(statusHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
