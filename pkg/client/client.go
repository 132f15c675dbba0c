// Package client is a Go client for the rentwheels HTTP API.
//
// Non-2xx responses are returned as *APIError, which matches the service
// sentinels with errors.Is:
//
//	_, err := c.VerifyCode(ctx, id, model.CodePickup, "482913")
//	if errors.Is(err, service.ErrVerificationFailed) { ... }
//
// Transport failures wrap ErrNetworkFailure and are never retried here.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shiva/rentwheels/internal/handover"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/service"
)

// ErrNetworkFailure wraps any error from the underlying transport.
var ErrNetworkFailure = errors.New("client: network failure")

// DefaultTimeout bounds each request when no http.Client is supplied.
const DefaultTimeout = 15 * time.Second

// wireErrors maps the API's error codes back to service sentinels.
var wireErrors = map[string]error{
	"unauthorized":             service.ErrUnauthorized,
	"forbidden":                service.ErrForbidden,
	"not_found":                service.ErrNotFound,
	"quote_not_found":          service.ErrQuoteNotFound,
	"invalid_input":            service.ErrInvalidInput,
	"invalid_format":           service.ErrInvalidFormat,
	"verification_failed":      service.ErrVerificationFailed,
	"already_verified":         service.ErrAlreadyVerified,
	"gate_locked":              service.ErrGateLocked,
	"verification_in_progress": service.ErrVerificationInFlight,
	"transition_rejected":      service.ErrTransitionRejected,
	"too_many_attempts":        service.ErrTooManyAttempts,
	"store_unavailable":        service.ErrStoreUnavailable,
}

// APIError is a non-2xx response.
type APIError struct {
	Status     int
	Code       string
	Message    string
	Field      string
	RetryAfter string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rentwheels: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("rentwheels: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is matches the service sentinel for e.Code.
func (e *APIError) Is(target error) bool {
	sentinel, ok := wireErrors[e.Code]
	return ok && sentinel == target
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client calls the API as one authenticated user.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for baseURL (e.g. "http://localhost:8080") that
// sends token as a bearer credential.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ─── Fares ──────────────────────────────────────────────────

// PreviewFare prices req and caches it as a quote.
func (c *Client) PreviewFare(ctx context.Context, req service.QuoteRequest) (*service.Quote, error) {
	var q service.Quote
	if err := c.do(ctx, http.MethodPost, "/api/v1/fares/preview", req, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Quote loads a cached quote.
func (c *Client) Quote(ctx context.Context, id string) (*service.Quote, error) {
	var q service.Quote
	if err := c.do(ctx, http.MethodGet, "/api/v1/fares/quotes/"+id, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// ─── Bookings ───────────────────────────────────────────────

// CreateBooking books a listing as the calling guest.
func (c *Client) CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*model.Booking, error) {
	var b model.Booking
	if err := c.do(ctx, http.MethodPost, "/api/v1/bookings", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Booking fetches one booking.
func (c *Client) Booking(ctx context.Context, id int64) (*model.Booking, error) {
	var b model.Booking
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ConfirmBooking moves a PENDING booking to CONFIRMED.
func (c *Client) ConfirmBooking(ctx context.Context, id int64) (*model.Booking, error) {
	var b model.Booking
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/confirm", id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CancelBooking cancels a PENDING or CONFIRMED booking.
func (c *Client) CancelBooking(ctx context.Context, id int64, reason string) (*model.Booking, error) {
	var b model.Booking
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", id), body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ─── Handover ───────────────────────────────────────────────

// Gate returns the current gate view.
func (c *Client) Gate(ctx context.Context, id int64, kind model.CodeKind) (*model.GateView, error) {
	var v model.GateView
	if err := c.do(ctx, http.MethodGet, handoverPath(id, kind, ""), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RevealCode returns the code the guest shows the host.
func (c *Client) RevealCode(ctx context.Context, id int64, kind model.CodeKind) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	if err := c.do(ctx, http.MethodGet, handoverPath(id, kind, "/code"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

// VerifyCode submits the code the host was shown. Entries that are not
// exactly six digits are rejected locally without a request.
func (c *Client) VerifyCode(ctx context.Context, id int64, kind model.CodeKind, code string) (*model.VerifiedResult, error) {
	if err := handover.ValidateFormat(code); err != nil {
		return nil, err
	}
	var res model.VerifiedResult
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, handoverPath(id, kind, "/verify"), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func handoverPath(id int64, kind model.CodeKind, suffix string) string {
	return fmt.Sprintf("/api/v1/bookings/%d/handover/%s%s", id, strings.ToLower(string(kind)), suffix)
}

// ─── Transport ──────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetworkFailure, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Field   string `json:"field"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb); err == nil {
			apiErr.Code, apiErr.Message, apiErr.Field = eb.Error, eb.Message, eb.Field
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", ErrNetworkFailure, method, path, err)
	}
	return nil
}
