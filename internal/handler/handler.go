// Package handler contains HTTP request handlers for the rental booking API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/service"
	"github.com/shiva/rentwheels/pkg/fare"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "5"

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

// errorMapping pairs a service sentinel with its HTTP status and wire code.
// Order matters: the first match wins.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{service.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrQuoteNotFound, http.StatusNotFound, "quote_not_found"},
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{service.ErrInvalidFormat, http.StatusBadRequest, "invalid_format"},
	{service.ErrVerificationFailed, http.StatusUnprocessableEntity, "verification_failed"},
	{service.ErrAlreadyVerified, http.StatusConflict, "already_verified"},
	{service.ErrGateLocked, http.StatusConflict, "gate_locked"},
	{service.ErrVerificationInFlight, http.StatusConflict, "verification_in_progress"},
	{service.ErrTransitionRejected, http.StatusConflict, "transition_rejected"},
	{service.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// errorStatus maps err onto a status and body. Unknown errors are 500s.
func errorStatus(err error) (int, ErrorBody) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			body := ErrorBody{Error: m.code, Message: err.Error()}
			var in *fare.InputError
			if errors.As(err, &in) {
				body.Field = in.Field
				body.Message = in.Msg
			}
			return m.status, body
		}
	}
	return http.StatusInternalServerError, ErrorBody{Error: "internal_error"}
}

// writeError renders err and logs anything that is not a client mistake.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, body := errorStatus(err)
	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
		log.Warn("store unavailable", zap.Error(err))
	case status >= 500:
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads one JSON object into dst. Unknown fields are rejected so
// typos in tariff inputs do not silently price as zero.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return decode(w, r, dst, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return &fare.InputError{Field: "body", Msg: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &fare.InputError{Field: "body", Msg: "must contain a single JSON object"}
	}
	return nil
}

// pathID parses the {id} route variable.
func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &fare.InputError{Field: "id", Msg: "must be a positive integer"}
	}
	return id, nil
}

// pathKind parses the {kind} route variable. "pickup" and "PICKUP" are equal.
func pathKind(r *http.Request) (model.CodeKind, error) {
	kind := model.CodeKind(strings.ToUpper(mux.Vars(r)["kind"]))
	if !kind.Valid() {
		return "", &fare.InputError{Field: "kind", Msg: "must be PICKUP or DROP"}
	}
	return kind, nil
}

// credential returns the caller installed by middleware.Authenticate.
func credential(r *http.Request) auth.Credential {
	cred, _ := auth.FromContext(r.Context())
	return cred
}
