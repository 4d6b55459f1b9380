package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/service"
)

// AssetHandler maintains the gallery asset catalog.
type AssetHandler struct {
	assets service.AssetService
	logger *slog.Logger
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(assets service.AssetService, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		assets: assets,
		logger: logger,
	}
}

// RegisterRoutes registers catalog routes behind the admin middleware.
func (h *AssetHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("PUT /sessions/{sessionID}/assets/{assetID}", requireAdmin(http.HandlerFunc(h.Put)))
}

// AssetRequest is the body of PUT /sessions/{sessionID}/assets/{assetID}.
type AssetRequest struct {
	StorageKey string `json:"storage_key" validate:"omitempty,max=1024"`
	Filename   string `json:"filename" validate:"omitempty,max=255"`
}

// AssetResponse describes a registered asset.
type AssetResponse struct {
	SessionID  string    `json:"session_id"`
	AssetID    string    `json:"asset_id"`
	StorageKey string    `json:"storage_key"`
	Filename   string    `json:"filename"`
	CreatedAt  time.Time `json:"created_at"`
}

// Put handles PUT /sessions/{sessionID}/assets/{assetID}.
func (h *AssetHandler) Put(w http.ResponseWriter, r *http.Request) {
	const op = "handler.asset.put"

	var req AssetRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	asset, err := h.assets.Register(r.Context(), domain.Asset{
		SessionID:  r.PathValue("sessionID"),
		AssetID:    r.PathValue("assetID"),
		StorageKey: req.StorageKey,
		Filename:   req.Filename,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AssetResponse{
		SessionID:  asset.SessionID,
		AssetID:    asset.AssetID,
		StorageKey: asset.StorageKey,
		Filename:   asset.Filename,
		CreatedAt:  asset.CreatedAt,
	})
}
