package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DukeRupert/proofsheet/internal/auth"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/service"
	"github.com/google/uuid"
)

// CheckoutHandler lets gallery viewers buy downloads.
//
// Routes (gallery token required):
//   - POST /galleries/{sessionID}/checkout              -> Create
//   - GET  /galleries/{sessionID}/checkout/{checkoutID} -> Get
type CheckoutHandler struct {
	checkouts service.CheckoutService
	baseURL   string
	logger    *slog.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler. baseURL is used to build
// the default payment return URLs.
func NewCheckoutHandler(checkouts service.CheckoutService, baseURL string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// RegisterRoutes registers checkout routes behind the gallery client middleware.
func (h *CheckoutHandler) RegisterRoutes(mux *http.ServeMux, requireClient func(http.Handler) http.Handler) {
	mux.Handle("POST /galleries/{sessionID}/checkout", requireClient(http.HandlerFunc(h.Create)))
	mux.Handle("GET /galleries/{sessionID}/checkout/{checkoutID}", requireClient(http.HandlerFunc(h.Get)))
}

// CreateCheckoutRequest is the body of POST /galleries/{sessionID}/checkout.
type CreateCheckoutRequest struct {
	AssetIDs   []string `json:"asset_ids" validate:"required,min=1,max=500,dive,required,max=255"`
	SuccessURL string   `json:"success_url" validate:"omitempty,url"`
	CancelURL  string   `json:"cancel_url" validate:"omitempty,url"`
}

// CheckoutResponse describes a checkout. PaymentURL is only set when the
// checkout was just created.
type CheckoutResponse struct {
	CheckoutID      uuid.UUID             `json:"checkout_id"`
	Status          domain.CheckoutStatus `json:"status"`
	Cart            domain.Cart           `json:"cart"`
	PaymentRequired bool                  `json:"payment_required"`
	PaymentURL      string                `json:"payment_url,omitempty"`
	FreeAssets      []string              `json:"free_assets,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// FreeCheckoutResponse is returned when nothing in the request needed
// payment. The listed assets are now granted.
type FreeCheckoutResponse struct {
	PaymentRequired bool     `json:"payment_required"`
	FreeAssets      []string `json:"free_assets"`
}

// Create handles POST /galleries/{sessionID}/checkout.
//
// Responds 201 with the payment URL, or 200 when every asset was free.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "handler.checkout.create"

	clientKey := auth.GetClient(r.Context())
	if clientKey == "" {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req CreateCheckoutRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sessionID := r.PathValue("sessionID")
	successURL, cancelURL := h.returnURLs(sessionID)
	if req.SuccessURL != "" {
		successURL = req.SuccessURL
	}
	if req.CancelURL != "" {
		cancelURL = req.CancelURL
	}

	result, err := h.checkouts.Start(r.Context(), service.StartCheckoutRequest{
		SessionID:  sessionID,
		ClientKey:  clientKey,
		AssetIDs:   req.AssetIDs,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if errors.Is(err, domain.ErrEmptyCart) && result != nil {
		writeJSON(w, http.StatusOK, FreeCheckoutResponse{
			PaymentRequired: false,
			FreeAssets:      result.FreeAssets,
		})
		return
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := checkoutResponse(result.Checkout)
	resp.PaymentURL = result.PaymentURL
	resp.FreeAssets = result.FreeAssets

	w.Header().Set("Location", h.baseURL+"/galleries/"+url.PathEscape(sessionID)+"/checkout/"+result.Checkout.ID.String())
	writeJSON(w, http.StatusCreated, resp)
}

// Get handles GET /galleries/{sessionID}/checkout/{checkoutID}.
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientKey := auth.GetClient(r.Context())
	if clientKey == "" {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("checkoutID"))
	if err != nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	checkout, err := h.checkouts.Get(r.Context(), r.PathValue("sessionID"), clientKey, id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse(checkout))
}

// returnURLs builds the default URLs the payment page sends the viewer back
// to. {CHECKOUT_SESSION_ID} is filled in by the payment provider.
func (h *CheckoutHandler) returnURLs(sessionID string) (success, cancel string) {
	gallery := h.baseURL + "/galleries/" + url.PathEscape(sessionID)
	return gallery + "?checkout=success&ref={CHECKOUT_SESSION_ID}", gallery + "?checkout=canceled"
}

func checkoutResponse(c *domain.Checkout) CheckoutResponse {
	return CheckoutResponse{
		CheckoutID:      c.ID,
		Status:          c.Status,
		Cart:            c.Cart,
		PaymentRequired: c.Status == domain.CheckoutStatusPending,
		CreatedAt:       c.CreatedAt,
		CompletedAt:     c.CompletedAt,
	}
}
