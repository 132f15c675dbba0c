package handler

import "net/http"

// CancelBookingBody is the optional JSON body for a cancellation.
type CancelBookingBody struct {
	Reason string `json:"reason"`
}

// CancelBooking handles POST /api/v1/bookings/{id}/cancel
//
// Cancels a PENDING or CONFIRMED booking. The body is optional.
//
// Response codes:
//
//	200  Cancelled (or already cancelled)
//	400  Invalid id or body
//	403  Caller is not a party to the booking
//	404  Booking not found
//	409  Booking is ACTIVE or COMPLETED
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var body CancelBookingBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}

	b, err := h.bookingSvc.Cancel(r.Context(), credential(r), id, body.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
