package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers groups the per-resource handlers mounted under /api/v1.
type Handlers struct {
	Pricing  *PricingHandler
	Booking  *BookingHandler
	Handover *HandoverHandler
}

// NewRouter mounts /health without authentication and every /api/v1 route
// behind authn.
func NewRouter(h Handlers, authn mux.MiddlewareFunc, checks map[string]HealthCheck) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", Health(checks)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	if authn != nil {
		api.Use(authn)
	}

	// Fares
	api.HandleFunc("/fares/preview", h.Pricing.PreviewFare).Methods(http.MethodPost)
	api.HandleFunc("/fares/quotes/{quote_id}", h.Pricing.GetQuote).Methods(http.MethodGet)

	// Bookings
	api.HandleFunc("/bookings", h.Booking.CreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings", h.Booking.ListBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}", h.Booking.GetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/confirm", h.Booking.ConfirmBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/cancel", h.Booking.CancelBooking).Methods(http.MethodPost)

	// Handover gates
	api.HandleFunc("/bookings/{id}/handover/{kind}", h.Handover.GetGate).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/handover/{kind}/code", h.Handover.RevealCode).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/handover/{kind}/verify", h.Handover.VerifyCode).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/handover/{kind}/watch", h.Handover.WatchGate).Methods(http.MethodGet)

	return router
}
