package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("mode", "subscription"),
		attribute.String("customer_email", "jane@example.com"),
		attribute.String("booking_code", "BK-01"),
		attribute.String("outcome", "redeemed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "customer_email" || attr.Key == "booking_code" {
			t.Fatalf("unexpected attribute %s retained", attr.Key)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordCheckoutSession(context.Background(), "payment", "one-time")
	m.RecordCouponRedemption(context.Background(), "exhausted")
	m.RecordWebhookEvent(context.Background(), "stripe", "checkout.session.completed", "processed")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "homeserve"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordBookingTransition(context.Background(), "confirmed")
}
