package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/google/uuid"
)

// UsageRecorder maintains the per-day display counter.
//
// Record is a single conditional UPDATE: it restarts the counter when the
// stored day is stale and refuses to move past ceiling. Calling it before the
// model call turns the policy check into a reservation, so two concurrent
// requests cannot both spend the last unit of quota.
type UsageRecorder interface {
	// Record increments today's counter and returns its new value. A ceiling
	// of 0 means uncapped. Returns a *domain.QuotaError when the counter
	// already reached ceiling.
	Record(ctx context.Context, userID uuid.UUID, ceiling int, now time.Time) (int, error)

	// Release undoes one Record for the same day. It is a no-op once the
	// counter has rolled over to a later day.
	Release(ctx context.Context, userID uuid.UUID, now time.Time) error
}

type usageRecorder struct {
	counters CounterStore
	loc      *time.Location
	logger   *slog.Logger
}

var _ UsageRecorder = (*usageRecorder)(nil)

// NewUsageRecorder creates a recorder whose calendar days follow loc.
func NewUsageRecorder(counters CounterStore, loc *time.Location, logger *slog.Logger) UsageRecorder {
	if loc == nil {
		loc = time.Local
	}
	return &usageRecorder{counters: counters, loc: loc, logger: logger}
}

func (r *usageRecorder) Record(ctx context.Context, userID uuid.UUID, ceiling int, now time.Time) (int, error) {
	const op = "UsageRecorder.Record"

	if ceiling < 0 {
		ceiling = 0
	}

	used, err := r.counters.IncrementAnalysesUsed(ctx, repository.IncrementAnalysesUsedParams{
		ID:    userID,
		Today: domain.CalendarDate(now, r.loc),
		Cap:   int32(ceiling),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if ceiling > 0 {
				r.logger.Info("usage reservation lost", "user_id", userID, "ceiling", ceiling)
				return 0, domain.QuotaExceeded(op, r.exhausted(now))
			}
			return 0, domain.NotFound(op, "user", userID.String())
		}
		return 0, domain.Internal(err, op, "Failed to record usage")
	}

	return int(used), nil
}

func (r *usageRecorder) Release(ctx context.Context, userID uuid.UUID, now time.Time) error {
	const op = "UsageRecorder.Release"

	n, err := r.counters.ReleaseAnalysesUsed(ctx, repository.ReleaseAnalysesUsedParams{
		ID:    userID,
		Today: domain.CalendarDate(now, r.loc),
	})
	if err != nil {
		return domain.Internal(err, op, "Failed to release usage")
	}
	if n == 0 {
		r.logger.Debug("usage release skipped, counter already rolled over", "user_id", userID)
	}
	return nil
}

// exhausted is the decision reported when a concurrent request took the
// last unit of quota between evaluation and reservation.
func (r *usageRecorder) exhausted(now time.Time) domain.QuotaDecision {
	zero := 0
	reset := domain.StartOfDay(now, r.loc).AddDate(0, 0, 1)
	return domain.QuotaDecision{
		Allowed:   false,
		Remaining: &zero,
		ResetDate: &reset,
		Reason:    domain.QuotaReasonLimitExceeded,
		Window:    domain.QuotaWindowDay,
		Message:   "Another analysis just used your remaining quota. Your limit resets at midnight.",
	}
}
