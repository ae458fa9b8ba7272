package service_test

import (
	"testing"
	"time"

	"github.com/smallbiznis/homeserve/internal/billingschedule/domain"
	"github.com/smallbiznis/homeserve/internal/billingschedule/service"
	"github.com/smallbiznis/homeserve/internal/clock"
	pricingdomain "github.com/smallbiznis/homeserve/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPlanFortnightlyBillsTwoDaysAhead(t *testing.T) {
	planner := service.New(clock.NewFakeClock(date(2025, 9, 1)))

	schedule, err := planner.Plan(date(2025, 9, 10), pricingdomain.RecurrenceFortnightly)
	require.NoError(t, err)

	assert.Equal(t, date(2025, 9, 8), schedule.FirstBillingDate)
	assert.Equal(t, domain.ModeSubscription, schedule.Mode)
	assert.Equal(t, domain.IntervalWeek, schedule.Interval)
	assert.Equal(t, int64(2), schedule.IntervalCount)
	require.NotNil(t, schedule.NextBillingDate)
	assert.Equal(t, date(2025, 9, 22), *schedule.NextBillingDate)
	require.NotNil(t, schedule.BillingAnchor())
	assert.Equal(t, date(2025, 9, 8), *schedule.BillingAnchor())
}

func TestPlanCadences(t *testing.T) {
	planner := service.New(clock.NewFakeClock(date(2025, 1, 1)))

	cases := []struct {
		recurrence pricingdomain.Recurrence
		interval   domain.Interval
		count      int64
		next       time.Time
	}{
		{pricingdomain.RecurrenceWeekly, domain.IntervalWeek, 1, date(2025, 2, 6)},
		{pricingdomain.RecurrenceFortnightly, domain.IntervalWeek, 2, date(2025, 2, 13)},
		{pricingdomain.RecurrenceMonthly, domain.IntervalMonth, 1, date(2025, 2, 28)},
	}
	for _, tc := range cases {
		t.Run(string(tc.recurrence), func(t *testing.T) {
			schedule, err := planner.Plan(date(2025, 2, 1), tc.recurrence)
			require.NoError(t, err)
			assert.Equal(t, date(2025, 1, 30), schedule.FirstBillingDate)
			assert.Equal(t, tc.interval, schedule.Interval)
			assert.Equal(t, tc.count, schedule.IntervalCount)
			require.NotNil(t, schedule.NextBillingDate)
			assert.Equal(t, tc.next, *schedule.NextBillingDate)
		})
	}
}

func TestPlanOneTimeIsSinglePayment(t *testing.T) {
	planner := service.New(clock.NewFakeClock(date(2025, 9, 1)))

	schedule, err := planner.Plan(date(2025, 9, 10), pricingdomain.RecurrenceOneTime)
	require.NoError(t, err)

	assert.Equal(t, domain.ModePayment, schedule.Mode)
	assert.Equal(t, date(2025, 9, 8), schedule.FirstBillingDate)
	assert.Nil(t, schedule.NextBillingDate)
	assert.Nil(t, schedule.BillingAnchor())
	assert.Empty(t, schedule.Interval)
}

func TestPlanPastAdvanceDateBillsImmediately(t *testing.T) {
	now := time.Date(2025, 9, 9, 15, 0, 0, 0, time.UTC)
	planner := service.New(clock.NewFakeClock(now))

	schedule, err := planner.Plan(date(2025, 9, 10), pricingdomain.RecurrenceWeekly)
	require.NoError(t, err)

	assert.True(t, schedule.BillImmediately)
	assert.Equal(t, now, schedule.FirstBillingDate)
	assert.Nil(t, schedule.BillingAnchor())
	require.NotNil(t, schedule.NextBillingDate)
	assert.Equal(t, now.AddDate(0, 0, 7), *schedule.NextBillingDate)
}

func TestPlanRejectsZeroDate(t *testing.T) {
	planner := service.New(clock.NewFakeClock(date(2025, 9, 1)))

	_, err := planner.Plan(time.Time{}, pricingdomain.RecurrenceWeekly)
	assert.ErrorIs(t, err, domain.ErrInvalidServiceDate)
}

func TestPlanMonthlyClampsToMonthEnd(t *testing.T) {
	planner := service.New(clock.NewFakeClock(date(2025, 1, 1)))

	schedule, err := planner.Plan(date(2025, 2, 2), pricingdomain.RecurrenceMonthly)
	require.NoError(t, err)

	assert.Equal(t, date(2025, 1, 31), schedule.FirstBillingDate)
	require.NotNil(t, schedule.NextBillingDate)
	assert.Equal(t, date(2025, 2, 28), *schedule.NextBillingDate)
}
