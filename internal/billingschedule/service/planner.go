package service

import (
	"time"

	"github.com/smallbiznis/homeserve/internal/billingschedule/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	pricingdomain "github.com/smallbiznis/homeserve/internal/pricing/domain"
)

type Planner struct {
	clock clock.Clock
}

func New(clk clock.Clock) domain.Planner {
	return &Planner{clock: clk}
}

func (p *Planner) Plan(serviceDate time.Time, recurrence pricingdomain.Recurrence) (domain.Schedule, error) {
	if serviceDate.IsZero() {
		return domain.Schedule{}, domain.ErrInvalidServiceDate
	}
	serviceDate = serviceDate.UTC()

	schedule := domain.Schedule{
		Recurrence:       recurrence,
		ServiceDate:      serviceDate,
		FirstBillingDate: serviceDate.Add(-domain.AdvanceBilling),
	}
	if now := p.clock.Now(); !schedule.FirstBillingDate.After(now) {
		schedule.FirstBillingDate = now
		schedule.BillImmediately = true
	}

	if recurrence == pricingdomain.RecurrenceOneTime {
		schedule.Mode = domain.ModePayment
		return schedule, nil
	}

	interval, count, err := cadence(recurrence)
	if err != nil {
		return domain.Schedule{}, err
	}
	schedule.Mode = domain.ModeSubscription
	schedule.Interval = interval
	schedule.IntervalCount = count

	next := advance(schedule.FirstBillingDate, interval, count)
	schedule.NextBillingDate = &next
	return schedule, nil
}

func cadence(recurrence pricingdomain.Recurrence) (domain.Interval, int64, error) {
	switch recurrence {
	case pricingdomain.RecurrenceWeekly:
		return domain.IntervalWeek, 1, nil
	case pricingdomain.RecurrenceFortnightly:
		return domain.IntervalWeek, 2, nil
	case pricingdomain.RecurrenceMonthly:
		return domain.IntervalMonth, 1, nil
	default:
		return "", 0, domain.ErrInvalidRecurrence
	}
}

func advance(from time.Time, interval domain.Interval, count int64) time.Time {
	switch interval {
	case domain.IntervalMonth:
		return addMonths(from, int(count))
	default:
		return from.AddDate(0, 0, 7*int(count))
	}
}

// addMonths keeps the day of month, clamped to the target month's last day.
func addMonths(from time.Time, months int) time.Time {
	firstOfTarget := time.Date(from.Year(), from.Month()+time.Month(months), 1,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	day := from.Day()
	if day > lastDay {
		day = lastDay
	}
	return firstOfTarget.AddDate(0, 0, day-1)
}
