package handlers

import (
	"net/http"

	"beliefcoach.app/cloud/internal/access"
	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/logger"
)

type CheckoutRequest struct {
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
}

// Checkout starts a hosted checkout for the Pro price. The license itself is
// issued later by the checkout.session.completed webhook.
func (s *Server) Checkout(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StripePriceID == "" {
		writeErrorResponse(w, http.StatusServiceUnavailable, "checkout not configured")
		return
	}

	var req CheckoutRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	checkoutURL, err := s.provider.CreateCheckoutSession(r.Context(), billing.CheckoutRequest{
		PriceID:    s.cfg.StripePriceID,
		Email:      req.Email,
		SuccessURL: s.cfg.PublicBaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.PublicBaseURL + access.UpgradeURL,
	})
	if err != nil {
		logger.Error("Failed to create checkout session", map[string]interface{}{
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusBadGateway, "unable to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, CheckoutResponse{CheckoutURL: checkoutURL})
}
