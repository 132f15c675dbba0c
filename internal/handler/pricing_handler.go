package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/service"
	"github.com/shiva/rentwheels/pkg/logger"
)

// PricingHandler handles fare preview and quote lookup requests.
type PricingHandler struct {
	pricingSvc *service.PricingService
	log        *zap.Logger
}

// NewPricingHandler creates a new pricing handler.
func NewPricingHandler(pricingSvc *service.PricingService, log *zap.Logger) *PricingHandler {
	return &PricingHandler{pricingSvc: pricingSvc, log: logger.OrNop(log).Named("http")}
}

// PreviewFare handles POST /api/v1/fares/preview
//
// Request body (self-drive):
//
//	{
//	  "service_mode": "SELF_DRIVE",
//	  "pickup_location": {"lat": 12.97, "lon": 77.59},
//	  "drop_location":   {"lat": 12.30, "lon": 76.64},
//	  "self_drive": {
//	    "price_per_hour": 200,
//	    "pickup_at": "2025-06-01T09:00:00+05:30",
//	    "drop_at":   "2025-06-01T15:00:00+05:30",
//	    "insure": true, "driver": false,
//	    "drop_off": {"policy": "FIXED", "amount": 300}
//	  }
//	}
//
// Response: 201 with the quote, its itemized fare_breakdown and expires_at.
func (h *PricingHandler) PreviewFare(w http.ResponseWriter, r *http.Request) {
	var req service.QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	quote, err := h.pricingSvc.Preview(r.Context(), credential(r), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

// GetQuote handles GET /api/v1/fares/quotes/{quote_id}
func (h *PricingHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.pricingSvc.Quote(r.Context(), credential(r), mux.Vars(r)["quote_id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
