package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/gateway/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const (
	providerName        = "stripe"
	accessFieldKey      = "access_instructions"
	accessFieldLabel    = "Access instructions"
	requestTimeout      = 15 * time.Second
	defaultMaxRetries   = 2
	paymentStatusUnpaid = "unpaid"
)

type sessionAPI interface {
	New(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
	Expire(id string, params *stripeapi.CheckoutSessionExpireParams) (*stripeapi.CheckoutSession, error)
}

type Config struct {
	SecretKey         string
	WebhookSecret     string
	WebhookTolerance  time.Duration
	AutomaticTax      bool
	ShippingCountries []string
	MaxRetries        int
	Log               *zap.Logger

	// Sessions replaces the API client, for tests.
	Sessions sessionAPI
}

func ConfigFrom(cfg config.Config, log *zap.Logger) Config {
	return Config{
		SecretKey:         cfg.Stripe.SecretKey,
		WebhookSecret:     cfg.Stripe.WebhookSecret,
		WebhookTolerance:  cfg.Stripe.WebhookTolerance,
		AutomaticTax:      cfg.Stripe.AutomaticTax,
		ShippingCountries: cfg.Stripe.ShippingCountries,
		MaxRetries:        cfg.Stripe.MaxRetries,
		Log:               log,
	}
}

type Adapter struct {
	sessions          sessionAPI
	webhookSecret     string
	tolerance         time.Duration
	automaticTax      bool
	shippingCountries []string
	log               *zap.Logger
}

func New(cfg Config) (*Adapter, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("gateway.stripe")

	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, &config.ConfigurationError{Field: "STRIPE_WEBHOOK_SECRET", Reason: "is required"}
	}

	sessions := cfg.Sessions
	if sessions == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, &config.ConfigurationError{Field: "STRIPE_SECRET_KEY", Reason: "is required"}
		}
		backends := stripeapi.NewBackendsWithConfig(&stripeapi.BackendConfig{
			HTTPClient:        newHTTPClient(cfg.MaxRetries, log),
			MaxNetworkRetries: stripeapi.Int64(0),
			LeveledLogger:     log.Sugar(),
		})
		sessions = client.New(key, backends).CheckoutSessions
	}

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &Adapter{
		sessions:          sessions,
		webhookSecret:     secret,
		tolerance:         tolerance,
		automaticTax:      cfg.AutomaticTax,
		shippingCountries: normalizeCountries(cfg.ShippingCountries),
		log:               log,
	}, nil
}

// newHTTPClient retries transport failures and 5xx responses. Stripe's own
// retries are disabled so only one layer retries.
func newHTTPClient(maxRetries int, log *zap.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultMaxRetries
	if maxRetries >= 0 {
		rc.RetryMax = maxRetries
	}
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = requestTimeout
	rc.Logger = retryLogger{log: log.Sugar()}
	return rc.StandardClient()
}

func (a *Adapter) Provider() string {
	return providerName
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	priceData := &stripeapi.CheckoutSessionLineItemPriceDataParams{
		Currency:    stripeapi.String(strings.ToLower(req.Currency)),
		UnitAmount:  stripeapi.Int64(req.UnitAmount),
		TaxBehavior: stripeapi.String(string(stripeapi.PriceTaxBehaviorExclusive)),
		ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripeapi.String(req.ProductName),
		},
	}
	if desc := strings.TrimSpace(req.ProductDescription); desc != "" {
		priceData.ProductData.Description = stripeapi.String(desc)
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:                     stripeapi.String(req.Mode),
		SuccessURL:               stripeapi.String(req.SuccessURL),
		CancelURL:                stripeapi.String(req.CancelURL),
		BillingAddressCollection: stripeapi.String(string(stripeapi.CheckoutSessionBillingAddressCollectionRequired)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Quantity: stripeapi.Int64(1), PriceData: priceData},
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripeapi.String(email)
	}
	if ref := strings.TrimSpace(req.ClientReferenceID); ref != "" {
		params.ClientReferenceID = stripeapi.String(ref)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = copyMetadata(req.Metadata)
	}
	if len(a.shippingCountries) > 0 {
		params.ShippingAddressCollection = &stripeapi.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripeapi.StringSlice(a.shippingCountries),
		}
	}
	if req.CollectAccessNotes {
		params.CustomFields = []*stripeapi.CheckoutSessionCustomFieldParams{
			{
				Key: stripeapi.String(accessFieldKey),
				Label: &stripeapi.CheckoutSessionCustomFieldLabelParams{
					Type:   stripeapi.String(string(stripeapi.CheckoutSessionCustomFieldLabelTypeCustom)),
					Custom: stripeapi.String(accessFieldLabel),
				},
				Type:     stripeapi.String(string(stripeapi.CheckoutSessionCustomFieldTypeText)),
				Optional: stripeapi.Bool(true),
			},
		}
	}
	if a.automaticTax {
		params.AutomaticTax = &stripeapi.CheckoutSessionAutomaticTaxParams{Enabled: stripeapi.Bool(true)}
	}

	switch req.Mode {
	case domain.ModePayment:
		params.InvoiceCreation = &stripeapi.CheckoutSessionInvoiceCreationParams{Enabled: stripeapi.Bool(true)}
	case domain.ModeSubscription:
		priceData.Recurring = &stripeapi.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval:      stripeapi.String(req.Interval),
			IntervalCount: stripeapi.Int64(req.IntervalCount),
		}
		params.SubscriptionData = &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: copyMetadata(req.Metadata),
		}
		if req.BillingAnchor != nil {
			params.SubscriptionData.BillingCycleAnchor = stripeapi.Int64(req.BillingAnchor.Unix())
			params.SubscriptionData.ProrationBehavior = stripeapi.String("none")
		}
	}

	session, err := a.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("stripe: empty checkout session")
	}

	a.log.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("mode", req.Mode),
		zap.String("booking_code", req.ClientReferenceID),
	)

	result := &domain.CheckoutSession{ID: session.ID, URL: session.URL}
	if session.ExpiresAt > 0 {
		result.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return result, nil
}

func validateRequest(req domain.CheckoutRequest) error {
	if req.UnitAmount < 0 || strings.TrimSpace(req.Currency) == "" || strings.TrimSpace(req.ProductName) == "" {
		return domain.ErrInvalidRequest
	}
	if strings.TrimSpace(req.SuccessURL) == "" || strings.TrimSpace(req.CancelURL) == "" {
		return domain.ErrInvalidRequest
	}
	switch req.Mode {
	case domain.ModePayment:
	case domain.ModeSubscription:
		if req.Interval == "" || req.IntervalCount <= 0 {
			return domain.ErrInvalidRequest
		}
	default:
		return domain.ErrInvalidRequest
	}
	return nil
}

func (a *Adapter) ExpireSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrInvalidRequest
	}
	params := &stripeapi.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := a.sessions.Expire(sessionID, params); err != nil {
		var stripeErr *stripeapi.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotOpen, stripeErr.Msg)
		}
		return fmt.Errorf("stripe: expire checkout session: %w", err)
	}
	return nil
}

func (a *Adapter) ParseWebhook(payload []byte, signatureHeader string) (*domain.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, domain.ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, domain.ErrInvalidPayload
	}

	out := &domain.Event{
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       domain.EventIgnored,
		OccurredAt: timestamp(event.Created),
		Payload:    payload,
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		session.fill(out)
		out.Kind = domain.EventSessionCompleted
		if session.PaymentStatus == paymentStatusUnpaid {
			out.Kind = domain.EventSessionAwaitingPayment
		}
	case "checkout.session.async_payment_succeeded":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		session.fill(out)
		out.Kind = domain.EventPaymentSucceeded
	case "checkout.session.async_payment_failed":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		session.fill(out)
		out.Kind = domain.EventPaymentFailed
	case "checkout.session.expired":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		session.fill(out)
		out.Kind = domain.EventSessionExpired
	case "invoice.payment_succeeded", "invoice.paid":
		var invoice stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		invoice.fill(out)
		out.Kind = domain.EventInvoicePaid
	}

	return out, nil
}

type stripeSession struct {
	ID                string            `json:"id"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      json.RawMessage   `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

func decodeSession(raw json.RawMessage) (*stripeSession, error) {
	var session stripeSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}
	return &session, nil
}

func (s *stripeSession) fill(out *domain.Event) {
	out.SessionID = s.ID
	out.SubscriptionID = expandableID(s.Subscription)
	out.BookingCode = lo.CoalesceOrEmpty(
		strings.TrimSpace(s.Metadata["booking_code"]),
		strings.TrimSpace(s.ClientReferenceID),
	)
}

type stripeInvoice struct {
	ID                  string          `json:"id"`
	Subscription        json.RawMessage `json:"subscription"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage   `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

// fill reads subscription details from the current invoice shape first and
// falls back to the pre-2025 top-level fields.
func (i *stripeInvoice) fill(out *domain.Event) {
	var metadata map[string]string
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = expandableID(i.Parent.SubscriptionDetails.Subscription)
		metadata = i.Parent.SubscriptionDetails.Metadata
	}
	if out.SubscriptionID == "" {
		out.SubscriptionID = expandableID(i.Subscription)
	}
	if len(metadata) == 0 && i.SubscriptionDetails != nil {
		metadata = i.SubscriptionDetails.Metadata
	}
	out.BookingCode = strings.TrimSpace(metadata["booking_code"])
	if i.StatusTransitions.PaidAt > 0 {
		out.OccurredAt = timestamp(i.StatusTransitions.PaidAt)
	}
}

// expandableID accepts either a bare id string or an expanded object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeCountries(countries []string) []string {
	return lo.Uniq(lo.FilterMap(countries, func(c string, _ int) (string, bool) {
		c = strings.ToUpper(strings.TrimSpace(c))
		return c, c != ""
	}))
}

type retryLogger struct {
	log *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
