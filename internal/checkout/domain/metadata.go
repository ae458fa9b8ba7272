package domain

import "unicode/utf8"

// Gateway metadata values are capped at 500 characters.
const maxMetadataValue = 500

// SessionMetadata is the typed set of booking attributes attached to a
// gateway session for webhook correlation.
type SessionMetadata struct {
	BookingCode        string
	ServiceID          string
	CustomerName       string
	CustomerEmail      string
	CustomerPhone      string
	AddressLine1       string
	AddressLine2       string
	City               string
	Postcode           string
	ScheduledDate      string
	ScheduledTime      string
	Recurrence         string
	Extras             string
	CouponCode         string
	CouponDiscount     string
	RecurrenceDiscount string
	ManualDiscount     string
	FinalAmount        string
	FirstBillingDate   string
	ReferralCode       string
}

// Map flattens the metadata into the gateway's string map, skipping empty values.
func (m SessionMetadata) Map() map[string]string {
	out := map[string]string{}
	put := func(key, value string) {
		if value == "" {
			return
		}
		out[key] = truncate(value, maxMetadataValue)
	}
	put("booking_code", m.BookingCode)
	put("service_id", m.ServiceID)
	put("customer_name", m.CustomerName)
	put("customer_email", m.CustomerEmail)
	put("customer_phone", m.CustomerPhone)
	put("address_line1", m.AddressLine1)
	put("address_line2", m.AddressLine2)
	put("city", m.City)
	put("postcode", m.Postcode)
	put("scheduled_date", m.ScheduledDate)
	put("scheduled_time", m.ScheduledTime)
	put("recurrence", m.Recurrence)
	put("extras", m.Extras)
	put("coupon_code", m.CouponCode)
	put("coupon_discount", m.CouponDiscount)
	put("recurrence_discount", m.RecurrenceDiscount)
	put("manual_discount", m.ManualDiscount)
	put("final_amount", m.FinalAmount)
	put("first_billing_date", m.FirstBillingDate)
	put("referral_code", m.ReferralCode)
	return out
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
