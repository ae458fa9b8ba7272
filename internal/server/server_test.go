package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/homeserve/internal/billingschedule/domain"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	checkoutdomain "github.com/smallbiznis/homeserve/internal/checkout/domain"
	"github.com/smallbiznis/homeserve/internal/config"
	gatewaydomain "github.com/smallbiznis/homeserve/internal/gateway/domain"
	"github.com/smallbiznis/homeserve/internal/observability"
	obsmetrics "github.com/smallbiznis/homeserve/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/homeserve/internal/pricing/domain"
	"github.com/smallbiznis/homeserve/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/homeserve/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCheckoutService struct {
	createReq checkoutdomain.BookingRequest
	result    *checkoutdomain.Result
	quote     *checkoutdomain.QuoteResult
	err       error
}

func (f *fakeCheckoutService) CreateCheckout(ctx context.Context, req checkoutdomain.BookingRequest) (*checkoutdomain.Result, error) {
	f.createReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeCheckoutService) Quote(ctx context.Context, req checkoutdomain.QuoteRequest) (*checkoutdomain.QuoteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

type fakeWebhookService struct {
	payload []byte
	header  string
	ack     *webhookdomain.Ack
	err     error
}

func (f *fakeWebhookService) Handle(ctx context.Context, payload []byte, signatureHeader string) (*webhookdomain.Ack, error) {
	f.payload = payload
	f.header = signatureHeader
	if f.err != nil {
		return nil, f.err
	}
	return f.ack, nil
}

func newTestServer(t *testing.T, checkout *fakeCheckoutService, hooks *fakeWebhookService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	httpMetrics, err := obsmetrics.NewHTTPMetricsWithRegisterer(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("http metrics: %v", err)
	}
	engine := NewEngine(observability.Config{}, httpMetrics)
	srv := NewServer(ServerParams{
		Gin:         engine,
		Log:         zap.NewNop(),
		CheckoutSvc: checkout,
		WebhookSvc:  hooks,
		Limiter:     ratelimit.NewLimiter(config.Config{}, zap.NewNop()),
	})
	return srv.Engine()
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func validBookingBody() map[string]any {
	return map[string]any{
		"service_id":     "regular-clean",
		"recurrence":     "weekly",
		"scheduled_date": "2025-09-10",
		"customer_name":  "Ann Example",
		"customer_email": "ann@example.com",
		"address_line1":  "1 High Street",
		"city":           "Leeds",
		"postcode":       "LS1 1AA",
	}
}

func TestCreateCheckoutSessionReturnsCreated(t *testing.T) {
	checkout := &fakeCheckoutService{result: &checkoutdomain.Result{
		SessionID:   "cs_test_1",
		CheckoutURL: "https://checkout.stripe.test/cs_test_1",
		BookingCode: "BK-01J",
	}}
	engine := newTestServer(t, checkout, &fakeWebhookService{})
	body := validBookingBody()
	body["manual_discount"] = "50"

	rec := doJSON(t, engine, http.MethodPost, "/v1/checkout/sessions", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got checkoutdomain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cs_test_1", got.SessionID)
	assert.Equal(t, "BK-01J", got.BookingCode)
	assert.Equal(t, "regular-clean", checkout.createReq.ServiceID)
	assert.True(t, checkout.createReq.ManualDiscount.Equal(decimal.Zero), "manual discount must not bind from JSON")
}

func TestCreateCheckoutSessionSurfacesCouponRejection(t *testing.T) {
	checkout := &fakeCheckoutService{result: &checkoutdomain.Result{
		SessionID:       "cs_test_2",
		BookingCode:     "BK-01K",
		Breakdown:       &pricingdomain.Breakdown{FinalAmount: decimal.RequireFromString("148.80")},
		CouponRejection: "not_found",
	}}
	engine := newTestServer(t, checkout, &fakeWebhookService{})
	body := validBookingBody()
	body["coupon_code"] = "NOPE"

	rec := doJSON(t, engine, http.MethodPost, "/v1/checkout/sessions", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"coupon_rejection":"not_found"`)
	assert.Equal(t, "NOPE", checkout.createReq.CouponCode)
}

func TestCreateCheckoutSessionRejectsMalformedJSON(t *testing.T) {
	engine := newTestServer(t, &fakeCheckoutService{}, &fakeWebhookService{})

	rec := doJSON(t, engine, http.MethodPost, "/v1/checkout/sessions", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestCheckoutErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		errType  string
		code     string
		bookCode string
	}{
		{
			name:    "past date",
			err:     errors.Mark(checkoutdomain.ErrServiceDateInPast, checkoutdomain.ErrInvalidRequest),
			status:  http.StatusBadRequest,
			errType: "validation_error",
			code:    "invalid_scheduled_date",
		},
		{
			name:    "unknown service",
			err:     &pricingdomain.UnknownServiceError{ServiceID: "pool-clean"},
			status:  http.StatusUnprocessableEntity,
			errType: "unprocessable",
			code:    "unknown_service",
		},
		{
			name:    "zero amount payment",
			err:     errors.WithHint(checkoutdomain.ErrCheckoutNotAllowed, "positive amount"),
			status:  http.StatusUnprocessableEntity,
			errType: "unprocessable",
			code:    "checkout_amount_not_allowed",
		},
		{
			name:    "gateway down",
			err:     &checkoutdomain.GatewayError{Op: "create_checkout_session", Err: errors.New("timeout")},
			status:  http.StatusBadGateway,
			errType: "gateway_error",
		},
		{
			name:     "booking not saved",
			err:      &checkoutdomain.PersistenceError{SessionID: "cs_1", BookingCode: "BK-9", Err: errors.New("disk full")},
			status:   http.StatusInternalServerError,
			errType:  "internal_error",
			code:     "booking_not_saved",
			bookCode: "BK-9",
		},
		{
			name:    "unexpected",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			errType: "internal_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestServer(t, &fakeCheckoutService{err: tc.err}, &fakeWebhookService{})

			rec := doJSON(t, engine, http.MethodPost, "/v1/checkout/sessions", validBookingBody())

			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			payload := decodeError(t, rec)
			assert.Equal(t, tc.errType, payload.Type)
			if tc.code != "" {
				code := payload.Code
				if code == "" && len(payload.Errors) > 0 {
					code = payload.Errors[0].Code
				}
				assert.Equal(t, tc.code, code)
			}
			assert.Equal(t, tc.bookCode, payload.BookingCode)
		})
	}
}

func TestQuoteCheckout(t *testing.T) {
	checkout := &fakeCheckoutService{quote: &checkoutdomain.QuoteResult{
		Breakdown:       &pricingdomain.Breakdown{FinalAmount: decimal.RequireFromString("132.80")},
		CouponRejection: "expired",
	}}
	engine := newTestServer(t, checkout, &fakeWebhookService{})

	rec := doJSON(t, engine, http.MethodPost, "/v1/checkout/quote", map[string]any{
		"service_id":  "regular-clean",
		"coupon_code": "OLD10",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"coupon_rejection":"expired"`)
}

func TestStripeWebhookPassesRawBody(t *testing.T) {
	hooks := &fakeWebhookService{ack: &webhookdomain.Ack{
		EventID:   "evt_1",
		EventType: "checkout.session.completed",
		Outcome:   webhookdomain.OutcomeConfirmed,
	}}
	engine := newTestServer(t, &fakeCheckoutService{}, hooks)

	body := `{"id":"evt_1","type":"checkout.session.completed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, body, string(hooks.payload))
	assert.Equal(t, "t=1,v1=abc", hooks.header)
	assert.Contains(t, rec.Body.String(), `"outcome":"confirmed"`)
}

func TestStripeWebhookErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"bad signature", &webhookdomain.SignatureError{Err: gatewaydomain.ErrInvalidSignature}, http.StatusBadRequest},
		{"booking not found yet", errors.Wrap(bookingdomain.ErrBookingNotFound, "confirm booking"), http.StatusConflict},
		{"event in progress", webhookdomain.ErrEventInProgress, http.StatusConflict},
		{"storage failure", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestServer(t, &fakeCheckoutService{}, &fakeWebhookService{err: tc.err})

			rec := doJSON(t, engine, http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`)

			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHealthAndFallback(t *testing.T) {
	engine := newTestServer(t, &fakeCheckoutService{}, &fakeWebhookService{})

	rec := doJSON(t, engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/v1/bookings", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(&pricingdomain.UnknownServiceError{ServiceID: "x"})
	assert.Equal(t, "unprocessable", errType)
	assert.Equal(t, "unknown_service", code)

	errType, code = classifyErrorForLog(ErrRateLimited)
	assert.Equal(t, "rate_limited", errType)
	assert.Empty(t, code)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "3", retryAfterSeconds(2100*time.Millisecond))
}

func TestDomainSentinelsStayDistinct(t *testing.T) {
	assert.False(t, errors.Is(gatewaydomain.ErrInvalidRequest, checkoutdomain.ErrInvalidRequest))
	assert.False(t, errors.Is(billingdomain.ErrInvalidRecurrence, pricingdomain.ErrInvalidRecurrence))
	assert.False(t, errors.Is(checkoutdomain.ErrInvalidRequest, ErrInvalidRequest))

	status, payload := mapError(errors.Wrap(billingdomain.ErrInvalidRecurrence, "plan"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_recurrence", payload.Errors[0].Code)
}
