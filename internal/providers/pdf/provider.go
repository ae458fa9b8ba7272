package pdf

import "context"

// BookingConfirmation is the printable summary attached to confirmation emails.
type BookingConfirmation struct {
	BusinessName   string
	BookingCode    string
	ServiceName    string
	ScheduledDate  string
	ScheduledTime  string
	Recurrence     string
	CustomerName   string
	CustomerEmail  string
	Address        []string
	Lines          []Line
	Subtotal       string
	TotalDiscount  string
	Total          string
	FirstBillingOn string
}

type Line struct {
	Description string
	Amount      string
}

type Provider interface {
	GenerateBookingConfirmation(ctx context.Context, data BookingConfirmation) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateBookingConfirmation(ctx context.Context, data BookingConfirmation) ([]byte, error) {
	return nil, nil
}
