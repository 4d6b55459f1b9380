package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/proofsheet/internal/auth"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/service"
)

// DownloadHandler serves gallery download requests.
//
// Routes (gallery token required):
//   - GET /galleries/{sessionID}/assets/{assetID}/download -> Download
//   - GET /galleries/{sessionID}/downloads                 -> Status
type DownloadHandler struct {
	downloads service.DownloadService
	logger    *slog.Logger
}

// NewDownloadHandler creates a new DownloadHandler.
func NewDownloadHandler(downloads service.DownloadService, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		logger:    logger,
	}
}

// RegisterRoutes registers download routes behind the gallery client middleware.
func (h *DownloadHandler) RegisterRoutes(mux *http.ServeMux, requireClient func(http.Handler) http.Handler) {
	mux.Handle("GET /galleries/{sessionID}/assets/{assetID}/download", requireClient(http.HandlerFunc(h.Download)))
	mux.Handle("GET /galleries/{sessionID}/downloads", requireClient(http.HandlerFunc(h.Status)))
}

// DownloadResponse is returned for a download request. A granted download
// carries URL and ExpiresAt; a download that needs payment carries Quote.
type DownloadResponse struct {
	Decision      domain.Decision `json:"decision"`
	AssetID       string          `json:"asset_id"`
	URL           string          `json:"url,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Quote         *domain.Cart    `json:"quote,omitempty"`
	FreeRemaining int             `json:"free_remaining"`
}

// StatusResponse summarizes a client's downloads in a session.
type StatusResponse struct {
	SessionID     string             `json:"session_id"`
	Mode          domain.PricingMode `json:"mode"`
	Currency      string             `json:"currency"`
	PricePerAsset int64              `json:"price_per_asset"`
	TaxIncluded   bool               `json:"tax_included"`
	FreeCount     int                `json:"free_count"`
	FreeRemaining int                `json:"free_remaining"`
	Downloads     []GrantResponse    `json:"downloads"`
}

// GrantResponse describes one granted asset.
type GrantResponse struct {
	AssetID        string    `json:"asset_id"`
	Paid           bool      `json:"paid"`
	FirstGrantedAt time.Time `json:"first_granted_at"`
}

// Download handles GET /galleries/{sessionID}/assets/{assetID}/download.
//
// Responds 200 with a signed link, or 402 with a single-asset quote.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	clientKey := auth.GetClient(r.Context())
	if clientKey == "" {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	result, err := h.downloads.Request(r.Context(), r.PathValue("sessionID"), clientKey, r.PathValue("assetID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := DownloadResponse{
		Decision:      result.Decision,
		AssetID:       result.AssetID,
		FreeRemaining: result.FreeRemaining,
	}

	if result.Decision == domain.DecisionRequiresPayment {
		resp.Quote = result.Quote
		writeJSON(w, http.StatusPaymentRequired, resp)
		return
	}

	expiresAt := result.ExpiresAt
	resp.URL = result.URL
	resp.ExpiresAt = &expiresAt
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /galleries/{sessionID}/downloads.
func (h *DownloadHandler) Status(w http.ResponseWriter, r *http.Request) {
	clientKey := auth.GetClient(r.Context())
	if clientKey == "" {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	status, err := h.downloads.Status(r.Context(), r.PathValue("sessionID"), clientKey)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := StatusResponse{
		SessionID:     status.Policy.SessionID,
		Mode:          status.Policy.Mode,
		Currency:      status.Policy.Currency,
		PricePerAsset: status.Policy.PricePerAsset,
		TaxIncluded:   status.Policy.TaxIncluded,
		FreeCount:     status.Policy.EffectiveFreeCount(),
		FreeRemaining: status.FreeRemaining,
		Downloads:     make([]GrantResponse, 0, len(status.Grants)),
	}
	for _, g := range status.Grants {
		resp.Downloads = append(resp.Downloads, GrantResponse{
			AssetID:        g.AssetID,
			Paid:           g.Paid,
			FirstGrantedAt: g.FirstGrantedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
