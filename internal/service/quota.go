package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/metrics"
	"github.com/DukeRupert/chartlens/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaOptions narrows what an evaluation counts.
type QuotaOptions struct {
	// Styles restricts counting to these trading styles. Empty counts all.
	Styles []domain.TradingStyle
}

// UsageSummary is what the dashboard shows about a user's usage.
type UsageSummary struct {
	Premium      bool
	UsedToday    int // from the display counter
	DailyLimit   int
	MonthlyLimit int
	Decision     domain.QuotaDecision
}

// QuotaService decides whether a user may run another analysis.
//
// Evaluate counts events in the analysis log and is the only input to
// authorization. GetUsage additionally reads the per-user display counter,
// which is never consulted when deciding.
type QuotaService interface {
	// Evaluate never returns an error: store failures produce a denying
	// decision (fail closed).
	Evaluate(ctx context.Context, user *domain.User, now time.Time, opts QuotaOptions) domain.QuotaDecision

	// GetUsage is the display read path.
	GetUsage(ctx context.Context, user *domain.User, now time.Time, opts QuotaOptions) *UsageSummary

	// Limits returns the configured free-tier limits.
	Limits() domain.QuotaLimits
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	events EventCounter
	limits domain.QuotaLimits
	logger *slog.Logger
}

var _ QuotaService = (*quotaService)(nil)

// NewQuotaService creates a new QuotaService.
func NewQuotaService(events EventCounter, limits domain.QuotaLimits, logger *slog.Logger) QuotaService {
	if limits.Location == nil {
		limits.Location = time.Local
	}
	return &quotaService{
		events: events,
		limits: limits,
		logger: logger,
	}
}

func (s *quotaService) Limits() domain.QuotaLimits {
	return s.limits
}

// Evaluate applies the usage policy to the user's analysis events.
func (s *quotaService) Evaluate(ctx context.Context, user *domain.User, now time.Time, opts QuotaOptions) domain.QuotaDecision {
	const op = "QuotaService.Evaluate"

	if user == nil {
		s.logger.Warn("quota evaluated without a user", "op", op)
		return s.record(domain.Unavailable())
	}

	// Premium users are never counted.
	if user.IsPremium {
		return s.record(s.limits.Decide(user, domain.QuotaCounts{}, now))
	}

	counts, err := s.counts(ctx, user, now, opts)
	if err != nil {
		s.logger.Error("quota lookup failed, denying",
			"op", op,
			"user_id", user.ID,
			"error", err,
		)
		return s.record(domain.Unavailable())
	}

	decision := s.limits.Decide(user, counts, now)
	decision.Counter = user.UsedToday(now, s.limits.Location)
	if !decision.Allowed {
		s.logger.Info("analysis quota exceeded",
			"user_id", user.ID,
			"window", decision.Window,
			"daily", counts.Daily,
			"monthly", counts.Monthly,
		)
	}
	return s.record(decision)
}

// GetUsage combines the display counter with the authoritative decision.
func (s *quotaService) GetUsage(ctx context.Context, user *domain.User, now time.Time, opts QuotaOptions) *UsageSummary {
	summary := &UsageSummary{
		DailyLimit:   s.limits.DailyLimit,
		MonthlyLimit: s.limits.MonthlyLimit,
	}
	if user == nil {
		summary.Decision = domain.Unavailable()
		return summary
	}

	summary.Premium = user.IsPremium
	summary.UsedToday = user.UsedToday(now, s.limits.Location)
	summary.Decision = s.Evaluate(ctx, user, now, opts)
	return summary
}

// counts reads the event-log counts the policy needs. The grace count is
// only queried while the user is inside the grace window.
func (s *quotaService) counts(ctx context.Context, user *domain.User, now time.Time, opts QuotaOptions) (domain.QuotaCounts, error) {
	styles := styleStrings(opts.Styles)
	var counts domain.QuotaCounts

	if s.limits.InGraceWindow(user, now) {
		n, err := s.events.CountAnalysesInRange(ctx, repository.CountAnalysesInRangeParams{
			UserID: user.ID,
			Start:  *user.SubscriptionPeriodEnd,
			Styles: styles,
		})
		if err != nil {
			return counts, err
		}
		counts.SincePeriodEnd = int(n)
	}

	dayStart, dayEnd := domain.DayWindow(now, s.limits.Location)
	daily, err := s.events.CountAnalysesInRange(ctx, repository.CountAnalysesInRangeParams{
		UserID: user.ID,
		Start:  dayStart,
		End:    sql.NullTime{Time: dayEnd, Valid: true},
		Styles: styles,
	})
	if err != nil {
		return counts, err
	}
	counts.Daily = int(daily)

	monthStart, monthEnd := domain.MonthWindow(now, s.limits.Location)
	monthly, err := s.events.CountAnalysesInRange(ctx, repository.CountAnalysesInRangeParams{
		UserID: user.ID,
		Start:  monthStart,
		End:    sql.NullTime{Time: monthEnd, Valid: true},
		Styles: styles,
	})
	if err != nil {
		return counts, err
	}
	counts.Monthly = int(monthly)

	return counts, nil
}

func (s *quotaService) record(d domain.QuotaDecision) domain.QuotaDecision {
	metrics.QuotaDecided(d.Allowed, string(d.Reason))
	return d
}

func styleStrings(styles []domain.TradingStyle) []string {
	if len(styles) == 0 {
		return nil
	}
	out := make([]string, len(styles))
	for i, st := range styles {
		out[i] = string(st)
	}
	return out
}
