// Package domain contains core business types and rules.
//
// This file holds the usage policy: the limits, the decision type, and the
// pure arithmetic that turns event counts into an allow/deny decision. The
// service layer supplies the counts from the analysis event log.
package domain

import (
	"fmt"
	"time"
)

// QuotaReason explains which regime produced a decision.
type QuotaReason string

const (
	QuotaReasonPremium       QuotaReason = "premium"
	QuotaReasonWithinLimit   QuotaReason = "within_limit"
	QuotaReasonLimitExceeded QuotaReason = "limit_exceeded"
	QuotaReasonGracePeriod   QuotaReason = "grace_period"
)

// QuotaWindow names the window that bounded a decision.
type QuotaWindow string

const (
	QuotaWindowNone  QuotaWindow = ""
	QuotaWindowDay   QuotaWindow = "day"
	QuotaWindowMonth QuotaWindow = "month"
	QuotaWindowGrace QuotaWindow = "grace"
)

// QuotaDecision is the transient outcome of evaluating a user's quota.
type QuotaDecision struct {
	Allowed   bool
	Remaining *int       // nil means unlimited
	ResetDate *time.Time // when a denied user may try again
	Reason    QuotaReason
	Message   string
	Window    QuotaWindow

	// UsedToday is the event-log count for the current day.
	UsedToday int

	// Counter is the display counter read alongside the event log. The
	// reservation taken before the model call is relative to it.
	Counter int
}

// ReservationCap returns the highest value the daily counter may reach for
// this decision, or 0 when the decision is not capped.
func (d QuotaDecision) ReservationCap() int {
	if d.Remaining == nil {
		return 0
	}
	return d.Counter + *d.Remaining
}

// QuotaLimits configures the free tier and the post-downgrade grace window.
type QuotaLimits struct {
	DailyLimit   int
	MonthlyLimit int
	GraceDays    int
	GraceLimit   int
	Location     *time.Location // calendar used for day/month boundaries
}

// DefaultQuotaLimits returns the stock free-tier limits in server-local time.
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{
		DailyLimit:   3,
		MonthlyLimit: 10,
		GraceDays:    3,
		GraceLimit:   5,
		Location:     time.Local,
	}
}

func (l QuotaLimits) location() *time.Location {
	if l.Location == nil {
		return time.Local
	}
	return l.Location
}

// QuotaCounts are event-log counts gathered for one evaluation.
type QuotaCounts struct {
	Daily          int
	Monthly        int
	SincePeriodEnd int // events created at or after SubscriptionPeriodEnd
}

// InGraceWindow reports whether the user lapsed recently enough to qualify
// for grace-period access at now.
func (l QuotaLimits) InGraceWindow(u *User, now time.Time) bool {
	if u.SubscriptionPeriodEnd == nil || l.GraceLimit <= 0 {
		return false
	}
	end := u.SubscriptionPeriodEnd.AddDate(0, 0, l.GraceDays)
	return !now.After(end)
}

// Decide applies the usage policy to pre-computed counts.
//
// Order: premium, grace period, daily limit, monthly limit. Daily is
// checked before monthly so the user sees the window that resets first.
func (l QuotaLimits) Decide(u *User, counts QuotaCounts, now time.Time) QuotaDecision {
	if u.IsPremium {
		return QuotaDecision{
			Allowed: true,
			Reason:  QuotaReasonPremium,
			Message: "Premium plan: unlimited analyses.",
		}
	}

	loc := l.location()

	if l.InGraceWindow(u, now) && counts.SincePeriodEnd < l.GraceLimit {
		remaining := l.GraceLimit - counts.SincePeriodEnd
		graceEnd := u.SubscriptionPeriodEnd.AddDate(0, 0, l.GraceDays)
		return QuotaDecision{
			Allowed:   true,
			Remaining: &remaining,
			ResetDate: &graceEnd,
			Reason:    QuotaReasonGracePeriod,
			Window:    QuotaWindowGrace,
			UsedToday: counts.Daily,
			Message: fmt.Sprintf("Your premium plan has ended. You have %d grace-period %s left until %s.",
				remaining, plural(remaining, "analysis", "analyses"), graceEnd.In(loc).Format("Jan 2")),
		}
	}

	if counts.Daily >= l.DailyLimit {
		reset := StartOfDay(now, loc).AddDate(0, 0, 1)
		zero := 0
		return QuotaDecision{
			Allowed:   false,
			Remaining: &zero,
			ResetDate: &reset,
			Reason:    QuotaReasonLimitExceeded,
			Window:    QuotaWindowDay,
			UsedToday: counts.Daily,
			Message: fmt.Sprintf("You've used all %d free %s for today. Your limit resets at midnight.",
				l.DailyLimit, plural(l.DailyLimit, "analysis", "analyses")),
		}
	}

	if counts.Monthly >= l.MonthlyLimit {
		reset := StartOfMonth(now, loc).AddDate(0, 1, 0)
		zero := 0
		return QuotaDecision{
			Allowed:   false,
			Remaining: &zero,
			ResetDate: &reset,
			Reason:    QuotaReasonLimitExceeded,
			Window:    QuotaWindowMonth,
			UsedToday: counts.Daily,
			Message: fmt.Sprintf("You've used all %d free %s this month. Upgrade to premium for unlimited analyses.",
				l.MonthlyLimit, plural(l.MonthlyLimit, "analysis", "analyses")),
		}
	}

	remaining := min(l.DailyLimit-counts.Daily, l.MonthlyLimit-counts.Monthly)
	window := QuotaWindowDay
	if l.MonthlyLimit-counts.Monthly < l.DailyLimit-counts.Daily {
		window = QuotaWindowMonth
	}
	return QuotaDecision{
		Allowed:   true,
		Remaining: &remaining,
		Reason:    QuotaReasonWithinLimit,
		Window:    window,
		UsedToday: counts.Daily,
		Message: fmt.Sprintf("%d free %s remaining.",
			remaining, plural(remaining, "analysis", "analyses")),
	}
}

// AfterUse returns the decision as it stands once one more analysis has
// been recorded against it. Uncapped decisions are returned unchanged.
func (d QuotaDecision) AfterUse() QuotaDecision {
	if d.Remaining == nil {
		return d
	}
	remaining := max(*d.Remaining-1, 0)
	d.Remaining = &remaining
	d.UsedToday++

	kind := "free"
	if d.Reason == QuotaReasonGracePeriod {
		kind = "grace-period"
	}
	d.Message = fmt.Sprintf("%d %s %s remaining.", remaining, kind, plural(remaining, "analysis", "analyses"))
	return d
}

// Unavailable is the fail-closed decision used when quota state cannot be read.
func Unavailable() QuotaDecision {
	return QuotaDecision{
		Allowed: false,
		Reason:  QuotaReasonLimitExceeded,
		Message: "We couldn't verify your usage right now. Please try again shortly.",
	}
}

// =============================================================================
// Calendar windows
// =============================================================================

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfMonth returns midnight of the first day of t's month in loc.
func StartOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// DayWindow returns the half-open range [start, end) of t's day.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := StartOfDay(t, loc)
	return start, start.AddDate(0, 0, 1)
}

// MonthWindow returns the half-open range [start, end) of t's month.
func MonthWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := StartOfMonth(t, loc)
	return start, start.AddDate(0, 1, 0)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// CalendarDate returns t's calendar day in loc as a UTC midnight value,
// the form DATE columns round-trip through the driver.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
