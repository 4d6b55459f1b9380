// Package handler contains HTTP handlers for the Proofsheet API.
//
// This file implements the photographer-facing pricing endpoints.
//
// Routes (admin token required):
//   - GET /sessions/{sessionID}/pricing -> Get
//   - PUT /sessions/{sessionID}/pricing -> Put
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/service"
)

// PolicyHandler serves session pricing policies.
type PolicyHandler struct {
	policies service.PolicyService
	logger   *slog.Logger
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(policies service.PolicyService, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{
		policies: policies,
		logger:   logger,
	}
}

// RegisterRoutes registers pricing routes behind the admin middleware.
func (h *PolicyHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /sessions/{sessionID}/pricing", requireAdmin(http.HandlerFunc(h.Get)))
	mux.Handle("PUT /sessions/{sessionID}/pricing", requireAdmin(http.HandlerFunc(h.Put)))
}

// PolicyRequest is the body of PUT /sessions/{sessionID}/pricing. Amounts
// are in minor currency units. freeCount and freeDownloads are accepted as
// aliases of free_count.
type PolicyRequest struct {
	Mode          string          `json:"mode" validate:"required"`
	FreeCount     *int            `json:"free_count" validate:"omitempty,gte=0"`
	FreeCountAlt  *int            `json:"freeCount" validate:"omitempty,gte=0"`
	FreeDownloads *int            `json:"freeDownloads" validate:"omitempty,gte=0"`
	PricePerAsset int64           `json:"price_per_asset" validate:"gte=0,lte=99999999"`
	Currency      string          `json:"currency" validate:"required,len=3,alpha"`
	TaxIncluded   bool            `json:"tax_included"`
	BulkTiers     json.RawMessage `json:"bulk_tiers,omitempty"`
}

// freeCount resolves the free count from the canonical field and its
// aliases. Conflicting values are rejected.
func (req *PolicyRequest) freeCount(op string) (int, error) {
	var (
		value int
		set   bool
	)
	for _, v := range []*int{req.FreeCount, req.FreeCountAlt, req.FreeDownloads} {
		if v == nil {
			continue
		}
		if set && *v != value {
			return 0, domain.NewValidationError(op, "free_count", "free_count was given more than once with different values")
		}
		value, set = *v, true
	}
	return value, nil
}

// Get handles GET /sessions/{sessionID}/pricing.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.Get(r.Context(), r.PathValue("sessionID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// Put handles PUT /sessions/{sessionID}/pricing.
func (h *PolicyHandler) Put(w http.ResponseWriter, r *http.Request) {
	const op = "handler.policy.put"

	var req PolicyRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	freeCount, err := req.freeCount(op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	policy, err := h.policies.Put(r.Context(), domain.PricingPolicy{
		SessionID:     r.PathValue("sessionID"),
		Mode:          domain.PricingMode(req.Mode),
		FreeCount:     freeCount,
		PricePerAsset: req.PricePerAsset,
		Currency:      req.Currency,
		TaxIncluded:   req.TaxIncluded,
		BulkTiers:     req.BulkTiers,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}
