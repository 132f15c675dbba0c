package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/service"
	"github.com/shiva/rentwheels/pkg/fare"
	"github.com/shiva/rentwheels/pkg/logger"
)

// BookingHandler handles booking HTTP requests.
type BookingHandler struct {
	bookingSvc *service.BookingService
	log        *zap.Logger
}

// NewBookingHandler creates a new booking handler.
func NewBookingHandler(bookingSvc *service.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{bookingSvc: bookingSvc, log: logger.OrNop(log).Named("http")}
}

// CreateBooking handles POST /api/v1/bookings
//
// Books either against a cached quote ({"quote_id": "..."}) or an inline
// quote request ({"quote": {...}}). The caller becomes the guest.
//
// Response codes:
//
//	201  Booking created (PENDING for self-drive, CONFIRMED for intercity)
//	400  Invalid body or fare inputs
//	401  Missing credential
//	403  Quote belongs to another guest
//	404  Quote unknown or expired
//	503  Store unavailable
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	b, err := h.bookingSvc.Create(r.Context(), credential(r), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBooking handles GET /api/v1/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	b, err := h.bookingSvc.Get(r.Context(), credential(r), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListBookings handles GET /api/v1/bookings?role=guest|host&status=&limit=&offset=
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.ListRequest{
		Role:   model.UserRole(q.Get("role")),
		Status: model.BookingStatus(q.Get("status")),
	}
	var err error
	if req.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		writeError(w, h.log, err)
		return
	}

	bookings, err := h.bookingSvc.List(r.Context(), credential(r), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// ConfirmBooking handles POST /api/v1/bookings/{id}/confirm
//
// Moves a PENDING booking to CONFIRMED and issues its handover codes.
// Confirming an already CONFIRMED booking returns it unchanged.
func (h *BookingHandler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	b, err := h.bookingSvc.Confirm(r.Context(), credential(r), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &fare.InputError{Field: field, Msg: "must be a non-negative integer"}
	}
	return n, nil
}
