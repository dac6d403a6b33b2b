package service

import (
	"context"

	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/google/uuid"
)

// The store interfaces below are the slices of *repository.Queries each
// service needs. Tests substitute in-memory fakes.

// UserStore persists accounts and sessions.
type UserStore interface {
	CreateUser(ctx context.Context, arg repository.CreateUserParams) (repository.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (repository.User, error)
	GetUserByEmail(ctx context.Context, email string) (repository.User, error)
	GetUserByStripeCustomerID(ctx context.Context, stripeCustomerID string) (repository.User, error)
	UpdateUserStripeCustomer(ctx context.Context, arg repository.UpdateUserStripeCustomerParams) error
	UpdateUserSubscription(ctx context.Context, arg repository.UpdateUserSubscriptionParams) error

	CreateSession(ctx context.Context, arg repository.CreateSessionParams) (repository.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (repository.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// EventCounter counts analysis events, the authoritative usage record.
type EventCounter interface {
	CountAnalysesInRange(ctx context.Context, arg repository.CountAnalysesInRangeParams) (int64, error)
}

// CounterStore owns the denormalized per-day display counter.
type CounterStore interface {
	IncrementAnalysesUsed(ctx context.Context, arg repository.IncrementAnalysesUsedParams) (int32, error)
	ReleaseAnalysesUsed(ctx context.Context, arg repository.ReleaseAnalysesUsedParams) (int64, error)
}

// AnalysisStore persists analysis events and the AI usage ledger.
type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, arg repository.CreateAnalysisParams) (repository.Analysis, error)
	GetAnalysisForUser(ctx context.Context, arg repository.GetAnalysisForUserParams) (repository.Analysis, error)
	ListAnalysesByUser(ctx context.Context, arg repository.ListAnalysesByUserParams) ([]repository.Analysis, error)
	CountAnalysesByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	CreateAIUsage(ctx context.Context, arg repository.CreateAIUsageParams) (repository.AiUsage, error)
}

var (
	_ UserStore     = (*repository.Queries)(nil)
	_ EventCounter  = (*repository.Queries)(nil)
	_ CounterStore  = (*repository.Queries)(nil)
	_ AnalysisStore = (*repository.Queries)(nil)
)
