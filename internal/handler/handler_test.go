package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/handover"
	"github.com/shiva/rentwheels/internal/middleware"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/repository"
	"github.com/shiva/rentwheels/internal/service"
	"github.com/shiva/rentwheels/pkg/fare"
)

var (
	guest = auth.Credential{UserID: 10, Role: model.RoleGuest}
	host  = auth.Credential{UserID: 20, Role: model.RoleHost}
)

type apiFixture struct {
	srv    *httptest.Server
	tokens *auth.Manager
	mr     *miniredis.Miniredis
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	calc, err := fare.NewCalculator(fare.DefaultRates())
	require.NoError(t, err)
	store := repository.NewMemoryBookingRepository()

	pricingSvc := service.NewPricingService(calc, repository.NewQuoteRepository(rdb), service.DefaultQuoteTTL, nil)
	bookingSvc := service.NewBookingService(store, pricingSvc, handover.DefaultPolicy(), nil)
	opts := service.DefaultHandoverOptions()
	opts.RecheckInterval = 20 * time.Millisecond
	handoverSvc := service.NewHandoverService(store, repository.NewAttemptRepository(rdb), opts, nil)

	tokens, err := auth.NewManager("handler-test-secret", "rentwheels", time.Hour)
	require.NoError(t, err)

	router := NewRouter(Handlers{
		Pricing:  NewPricingHandler(pricingSvc, nil),
		Booking:  NewBookingHandler(bookingSvc, nil),
		Handover: NewHandoverHandler(handoverSvc, nil),
	}, middleware.Authenticate(tokens), map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, tokens: tokens, mr: mr}
}

func (f *apiFixture) token(t *testing.T, cred auth.Credential) string {
	t.Helper()
	tok, err := f.tokens.Sign(cred, time.Now())
	require.NoError(t, err)
	return tok
}

// do sends a request as cred and decodes the JSON response into out.
func (f *apiFixture) do(t *testing.T, cred auth.Credential, method, path string, body, out interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if !cred.IsZero() {
		req.Header.Set("Authorization", "Bearer "+f.token(t, cred))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func selfDrivePreview(pickupAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"service_mode":    "SELF_DRIVE",
		"pickup_location": map[string]float64{"lat": 12.9716, "lon": 77.5946},
		"drop_location":   map[string]float64{"lat": 12.2958, "lon": 76.6394},
		"self_drive": map[string]interface{}{
			"price_per_hour": 200,
			"pickup_at":      pickupAt.Format(time.RFC3339),
			"drop_at":        pickupAt.Add(6 * time.Hour).Format(time.RFC3339),
			"insure":         true,
			"drop_off":       map[string]interface{}{"policy": "FIXED", "amount": 300},
		},
	}
}

// confirmedBooking previews, books and confirms a self-drive booking whose
// pickup is ten minutes away, so its PICKUP gate is already VISIBLE.
func (f *apiFixture) confirmedBooking(t *testing.T) int64 {
	t.Helper()

	var quote service.Quote
	resp := f.do(t, guest, http.MethodPost, "/api/v1/fares/preview",
		selfDrivePreview(time.Now().Add(10*time.Minute).Truncate(time.Second)), &quote)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var b model.Booking
	resp = f.do(t, guest, http.MethodPost, "/api/v1/bookings", map[string]interface{}{
		"listing_id": 5, "host_id": host.UserID, "quote_id": quote.ID,
	}, &b)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, model.StatusPending, b.Status)

	resp = f.do(t, host, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/confirm", b.ID), nil, &b)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, model.StatusConfirmed, b.Status)
	return b.ID
}

func TestFarePreview_WorkedExample(t *testing.T) {
	f := newAPI(t)

	var quote service.Quote
	resp := f.do(t, guest, http.MethodPost, "/api/v1/fares/preview", selfDrivePreview(time.Now().Add(time.Hour)), &quote)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// 6 h at 200 + 6 h insurance at 20 + 300 drop-off = 1620, GST 18% = 291.6.
	assert.Equal(t, model.FareBreakdown{
		BaseFare: 1200, InsuranceFee: 120, DropOffFee: 300, GSTAmount: 292, Total: 1912,
	}, quote.Fare)

	var again service.Quote
	resp = f.do(t, guest, http.MethodGet, "/api/v1/fares/quotes/"+quote.ID, nil, &again)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, quote.Fare, again.Fare)

	var body ErrorBody
	resp = f.do(t, host, http.MethodGet, "/api/v1/fares/quotes/"+quote.ID, nil, &body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFarePreview_InvalidInputNamesField(t *testing.T) {
	f := newAPI(t)

	req := selfDrivePreview(time.Now())
	req["self_drive"].(map[string]interface{})["price_per_hour"] = 0

	var body ErrorBody
	resp := f.do(t, guest, http.MethodPost, "/api/v1/fares/preview", req, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body.Error)
	assert.Equal(t, "price_per_hour", body.Field)

	resp = f.do(t, guest, http.MethodPost, "/api/v1/fares/preview", map[string]interface{}{"surge": 2}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "body", body.Field)
}

func TestRequiresAuthentication(t *testing.T) {
	f := newAPI(t)

	resp := f.do(t, auth.Credential{}, http.MethodGet, "/api/v1/bookings", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
}

func TestHandoverFlow(t *testing.T) {
	f := newAPI(t)
	id := f.confirmedBooking(t)
	base := fmt.Sprintf("/api/v1/bookings/%d/handover", id)

	var gate model.GateView
	resp := f.do(t, guest, http.MethodGet, base+"/pickup", nil, &gate)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.GateVisible, gate.State)

	var revealed struct {
		Code string `json:"code"`
	}
	resp = f.do(t, guest, http.MethodGet, base+"/pickup/code", nil, &revealed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.NoError(t, handover.ValidateFormat(revealed.Code))

	// The host never sees the code.
	resp = f.do(t, host, http.MethodGet, base+"/pickup/code", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body ErrorBody
	resp = f.do(t, host, http.MethodPost, base+"/pickup/verify", VerifyCodeBody{Code: "12ab56"}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_format", body.Error)

	resp = f.do(t, host, http.MethodPost, base+"/pickup/verify", VerifyCodeBody{Code: wrongCode(revealed.Code)}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "verification_failed", body.Error)

	resp = f.do(t, guest, http.MethodPost, base+"/pickup/verify", VerifyCodeBody{Code: revealed.Code}, &body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var res model.VerifiedResult
	resp = f.do(t, host, http.MethodPost, base+"/pickup/verify", VerifyCodeBody{Code: revealed.Code}, &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, res.Verified)
	assert.Equal(t, model.StatusActive, res.NewStatus)
	_, offset := res.VerifiedAt.Zone()
	assert.Equal(t, 5*3600+30*60, offset)

	resp = f.do(t, host, http.MethodPost, base+"/pickup/verify", VerifyCodeBody{Code: revealed.Code}, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_verified", body.Error)

	resp = f.do(t, guest, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", id), CancelBookingBody{Reason: "changed plans"}, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "transition_rejected", body.Error)

	// Drop gate stays locked until the scheduled drop time.
	resp = f.do(t, guest, http.MethodGet, base+"/drop", nil, &gate)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.GateLocked, gate.State)
}

func TestBookingsListAndCancel(t *testing.T) {
	f := newAPI(t)
	id := f.confirmedBooking(t)

	var list struct {
		Bookings []model.Booking `json:"bookings"`
		Count    int             `json:"count"`
	}
	resp := f.do(t, host, http.MethodGet, "/api/v1/bookings?role=host", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Bookings[0].ID)

	resp = f.do(t, guest, http.MethodGet, "/api/v1/bookings?role=host", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Bookings)

	resp = f.do(t, guest, http.MethodGet, "/api/v1/bookings?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var b model.Booking
	resp = f.do(t, guest, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", id), nil, &b)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusCancelled, b.Status)

	resp = f.do(t, guest, http.MethodGet, "/api/v1/bookings/9999", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(t, guest, http.MethodGet, "/api/v1/bookings/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreUnavailable(t *testing.T) {
	f := newAPI(t)
	f.mr.Close()

	var body ErrorBody
	resp := f.do(t, guest, http.MethodPost, "/api/v1/fares/preview", selfDrivePreview(time.Now()), &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "store_unavailable", body.Error)
	assert.Equal(t, retryAfterSeconds, resp.Header.Get("Retry-After"))

	var health HealthResponse
	resp = f.do(t, auth.Credential{}, http.MethodGet, "/health", nil, &health)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", health.Status)
	assert.Contains(t, health.Services["redis"], "unhealthy")
}

func TestWatchGate_PushesChanges(t *testing.T) {
	f := newAPI(t)
	id := f.confirmedBooking(t)

	var revealed struct {
		Code string `json:"code"`
	}
	f.do(t, guest, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/handover/pickup/code", id), nil, &revealed)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		fmt.Sprintf("/api/v1/bookings/%d/handover/pickup/watch?access_token=%s", id, f.token(t, guest))
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var v model.GateView
	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, model.GateVisible, v.State)

	r := f.do(t, host, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/handover/pickup/verify", id),
		VerifyCodeBody{Code: revealed.Code}, nil)
	require.Equal(t, http.StatusOK, r.StatusCode)

	// Countdown text may tick over before the VERIFIED view arrives.
	for v.State != model.GateVerified {
		require.NoError(t, conn.ReadJSON(&v))
	}
}

func TestWatchGate_RejectsBeforeUpgrade(t *testing.T) {
	f := newAPI(t)
	id := f.confirmedBooking(t)

	stranger := auth.Credential{UserID: 99, Role: model.RoleGuest}
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		fmt.Sprintf("/api/v1/bookings/%d/handover/pickup/watch?access_token=%s", id, f.token(t, stranger))
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("wrapped: %w", service.ErrForbidden), http.StatusForbidden, "forbidden"},
		{service.ErrQuoteNotFound, http.StatusNotFound, "quote_not_found"},
		{&fare.InputError{Field: "distance_km", Msg: "must be positive"}, http.StatusBadRequest, "invalid_input"},
		{service.ErrVerificationFailed, http.StatusUnprocessableEntity, "verification_failed"},
		{service.ErrGateLocked, http.StatusConflict, "gate_locked"},
		{service.ErrVerificationInFlight, http.StatusConflict, "verification_in_progress"},
		{service.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
		{service.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, body := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Error)
		})
	}

	_, body := errorStatus(&fare.InputError{Field: "distance_km", Msg: "must be positive"})
	assert.Equal(t, "distance_km", body.Field)
	assert.Equal(t, "must be positive", body.Message)
}

func wrongCode(code string) string {
	last := (code[len(code)-1]-'0'+1)%10 + '0'
	return code[:len(code)-1] + string(rune(last))
}
