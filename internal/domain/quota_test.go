package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() QuotaLimits {
	l := DefaultQuotaLimits()
	l.Location = time.UTC
	return l
}

func TestQuotaLimits_Decide(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
	nextDay := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	nextMonth := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		user          User
		counts        QuotaCounts
		wantAllowed   bool
		wantReason    QuotaReason
		wantRemaining *int
		wantReset     *time.Time
		wantWindow    QuotaWindow
	}{
		{
			name:        "premium ignores counts",
			user:        User{IsPremium: true},
			counts:      QuotaCounts{Daily: 50, Monthly: 500},
			wantAllowed: true,
			wantReason:  QuotaReasonPremium,
		},
		{
			name:          "fresh free user",
			counts:        QuotaCounts{},
			wantAllowed:   true,
			wantReason:    QuotaReasonWithinLimit,
			wantRemaining: intPtr(3),
			wantWindow:    QuotaWindowDay,
		},
		{
			name:          "remaining is min of daily and monthly",
			counts:        QuotaCounts{Daily: 0, Monthly: 9},
			wantAllowed:   true,
			wantReason:    QuotaReasonWithinLimit,
			wantRemaining: intPtr(1),
			wantWindow:    QuotaWindowMonth,
		},
		{
			name:          "daily limit reached",
			counts:        QuotaCounts{Daily: 3, Monthly: 3},
			wantAllowed:   false,
			wantReason:    QuotaReasonLimitExceeded,
			wantRemaining: intPtr(0),
			wantReset:     &nextDay,
			wantWindow:    QuotaWindowDay,
		},
		{
			name:          "daily checked before monthly",
			counts:        QuotaCounts{Daily: 3, Monthly: 10},
			wantAllowed:   false,
			wantReason:    QuotaReasonLimitExceeded,
			wantRemaining: intPtr(0),
			wantReset:     &nextDay,
			wantWindow:    QuotaWindowDay,
		},
		{
			name:          "monthly limit reached under daily cap",
			counts:        QuotaCounts{Daily: 1, Monthly: 10},
			wantAllowed:   false,
			wantReason:    QuotaReasonLimitExceeded,
			wantRemaining: intPtr(0),
			wantReset:     &nextMonth,
			wantWindow:    QuotaWindowMonth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testLimits().Decide(&tt.user, tt.counts, now)

			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, tt.wantRemaining, d.Remaining)
			assert.Equal(t, tt.wantWindow, d.Window)
			if tt.wantReset == nil {
				assert.Nil(t, d.ResetDate)
			} else {
				require.NotNil(t, d.ResetDate)
				assert.True(t, tt.wantReset.Equal(*d.ResetDate), "reset %v, want %v", *d.ResetDate, *tt.wantReset)
			}
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestQuotaLimits_Decide_Messages(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
	limits := testLimits()

	daily := limits.Decide(&User{}, QuotaCounts{Daily: 3, Monthly: 3}, now)
	monthly := limits.Decide(&User{}, QuotaCounts{Daily: 0, Monthly: 10}, now)

	assert.Contains(t, daily.Message, "today")
	assert.Contains(t, monthly.Message, "this month")
	assert.NotEqual(t, daily.Message, monthly.Message)
}

func TestQuotaLimits_Decide_GracePeriod(t *testing.T) {
	periodEnd := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limits := testLimits()

	tests := []struct {
		name          string
		now           time.Time
		counts        QuotaCounts
		wantReason    QuotaReason
		wantAllowed   bool
		wantRemaining int
	}{
		{
			name:          "inside window with grace left",
			now:           periodEnd.Add(24 * time.Hour),
			counts:        QuotaCounts{Daily: 3, Monthly: 10, SincePeriodEnd: 2},
			wantReason:    QuotaReasonGracePeriod,
			wantAllowed:   true,
			wantRemaining: 3,
		},
		{
			name:          "exactly at window end still qualifies",
			now:           periodEnd.AddDate(0, 0, 3),
			counts:        QuotaCounts{SincePeriodEnd: 4},
			wantReason:    QuotaReasonGracePeriod,
			wantAllowed:   true,
			wantRemaining: 1,
		},
		{
			name:          "grace used up falls back to free tier",
			now:           periodEnd.Add(24 * time.Hour),
			counts:        QuotaCounts{Daily: 1, Monthly: 5, SincePeriodEnd: 5},
			wantReason:    QuotaReasonWithinLimit,
			wantAllowed:   true,
			wantRemaining: 2,
		},
		{
			name:          "after window uses free tier",
			now:           periodEnd.AddDate(0, 0, 3).Add(time.Second),
			counts:        QuotaCounts{Daily: 3, SincePeriodEnd: 0},
			wantReason:    QuotaReasonLimitExceeded,
			wantAllowed:   false,
			wantRemaining: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{SubscriptionPeriodEnd: &periodEnd}
			d := limits.Decide(u, tt.counts, tt.now)

			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			require.NotNil(t, d.Remaining)
			assert.Equal(t, tt.wantRemaining, *d.Remaining)
		})
	}
}

func TestQuotaDecision_ReservationCap(t *testing.T) {
	assert.Equal(t, 0, QuotaDecision{Allowed: true, Reason: QuotaReasonPremium}.ReservationCap())
	assert.Equal(t, 3, QuotaDecision{Remaining: intPtr(1), UsedToday: 2, Counter: 2}.ReservationCap())
	// A counter ahead of the event log moves the cap with it.
	assert.Equal(t, 4, QuotaDecision{Remaining: intPtr(1), UsedToday: 2, Counter: 3}.ReservationCap())
}

func TestUser_UsedToday(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, loc)

	tests := []struct {
		name      string
		lastReset time.Time
		used      int
		want      int
	}{
		{"stamped today", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), 2, 2},
		{"stale from yesterday", time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), 3, 0},
		{"never stamped", time.Time{}, 7, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{AnalysesUsed: tt.used, LastResetDate: tt.lastReset}
			assert.Equal(t, tt.want, u.UsedToday(now, loc))
		})
	}
}

func TestCalendarWindows(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	// 02:00 UTC on the 1st is still the previous evening in New York.
	now := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)

	dayStart, dayEnd := DayWindow(now, ny)
	assert.Equal(t, 30, dayStart.Day())
	assert.Equal(t, time.April, dayStart.Month())
	assert.Equal(t, 24*time.Hour, dayEnd.Sub(dayStart))

	monthStart, monthEnd := MonthWindow(now, ny)
	assert.Equal(t, time.April, monthStart.Month())
	assert.Equal(t, 1, monthStart.Day())
	assert.Equal(t, time.May, monthEnd.Month())

	assert.Equal(t, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), CalendarDate(now, ny))
}

func TestParseTradingStyle(t *testing.T) {
	tests := []struct {
		in     string
		want   TradingStyle
		wantOK bool
	}{
		{"", TradingStyleGeneral, true},
		{"Swing", TradingStyleSwing, true},
		{" scalp ", TradingStyleScalp, true},
		{"position", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTradingStyle(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func intPtr(n int) *int { return &n }

func TestQuotaDecision_AfterUse(t *testing.T) {
	premium := QuotaDecision{Allowed: true, Reason: QuotaReasonPremium}
	assert.Equal(t, premium, premium.AfterUse())

	d := QuotaDecision{Allowed: true, Reason: QuotaReasonWithinLimit, Remaining: intPtr(2), UsedToday: 1}
	after := d.AfterUse()
	assert.Equal(t, 1, *after.Remaining)
	assert.Equal(t, 2, after.UsedToday)
	assert.Equal(t, "1 free analysis remaining.", after.Message)
	assert.Equal(t, 2, *d.Remaining, "original decision must not change")

	last := QuotaDecision{Allowed: true, Reason: QuotaReasonGracePeriod, Remaining: intPtr(1)}
	assert.Equal(t, "0 grace-period analyses remaining.", last.AfterUse().Message)

	floor := QuotaDecision{Allowed: true, Reason: QuotaReasonWithinLimit, Remaining: intPtr(0)}
	assert.Equal(t, 0, *floor.AfterUse().Remaining)
}
