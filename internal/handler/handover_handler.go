package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/service"
	"github.com/shiva/rentwheels/pkg/logger"
)

// VerifyCodeBody is the JSON body for a handover verification.
type VerifyCodeBody struct {
	Code string `json:"code"`
}

// HandoverHandler serves the pickup and drop gates of a booking.
type HandoverHandler struct {
	handoverSvc *service.HandoverService
	log         *zap.Logger
}

// NewHandoverHandler creates a new handover handler.
func NewHandoverHandler(handoverSvc *service.HandoverService, log *zap.Logger) *HandoverHandler {
	return &HandoverHandler{handoverSvc: handoverSvc, log: logger.OrNop(log).Named("http")}
}

// GetGate handles GET /api/v1/bookings/{id}/handover/{kind}
//
// Returns the gate state (LOCKED, VISIBLE or VERIFIED) with its countdown.
func (h *HandoverHandler) GetGate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	view, err := h.handoverSvc.Gate(r.Context(), credential(r), id, kind)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RevealCode handles GET /api/v1/bookings/{id}/handover/{kind}/code
//
// Guest only, and only while the gate is VISIBLE.
func (h *HandoverHandler) RevealCode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	code, err := h.handoverSvc.Code(r.Context(), credential(r), id, kind)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"booking_id": id,
		"kind":       kind,
		"code":       code,
	})
}

// VerifyCode handles POST /api/v1/bookings/{id}/handover/{kind}/verify
//
//	Request body: {"code": "482913"}
//
// Response codes:
//
//	200  Code accepted; body carries the new booking status
//	400  Code is not six digits
//	403  Caller is not the host
//	409  Already verified, outside the window, wrong status or in progress
//	422  Code does not match
//	429  Too many failed attempts
//	503  Store unavailable
func (h *HandoverHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var body VerifyCodeBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}

	res, err := h.handoverSvc.Verify(r.Context(), credential(r), id, kind, body.Code)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
