package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for *repository.Queries. Its
// IncrementAnalysesUsed mirrors the conditional UPDATE under a mutex.
type memStore struct {
	mu sync.Mutex

	now      func() time.Time
	users    map[uuid.UUID]repository.User
	sessions map[string]repository.Session
	analyses []repository.Analysis
	aiUsage  []repository.CreateAIUsageParams

	countErr          error
	createAnalysisErr error
	createAIUsageErr  error
	countCalls        int
}

var (
	_ UserStore     = (*memStore)(nil)
	_ EventCounter  = (*memStore)(nil)
	_ CounterStore  = (*memStore)(nil)
	_ AnalysisStore = (*memStore)(nil)
)

func newMemStore(now time.Time) *memStore {
	return &memStore{
		now:      func() time.Time { return now },
		users:    make(map[uuid.UUID]repository.User),
		sessions: make(map[string]repository.Session),
	}
}

func (m *memStore) addUser(u repository.User) repository.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = string(domain.SubscriptionStatusInactive)
	}
	m.users[u.ID] = u
	return u
}

// addEvents appends n analysis events for userID at the given time.
func (m *memStore) addEvents(userID uuid.UUID, at time.Time, style domain.TradingStyle, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for range n {
		m.analyses = append(m.analyses, repository.Analysis{
			ID:           uuid.New(),
			UserID:       userID,
			TradingStyle: string(style),
			Explanation:  "seeded",
			ParseQuality: "strict",
			CreatedAt:    at,
		})
	}
}

func (m *memStore) user(id uuid.UUID) repository.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *memStore) eventCount(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.analyses {
		if a.UserID == userID {
			n++
		}
	}
	return n
}

// =============================================================================
// Users and sessions
// =============================================================================

func (m *memStore) CreateUser(ctx context.Context, arg repository.CreateUserParams) (repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == arg.Email {
			return repository.User{}, &pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key value"}
		}
	}
	u := repository.User{
		ID:                 uuid.New(),
		Email:              arg.Email,
		PasswordHash:       arg.PasswordHash,
		Name:               arg.Name,
		SubscriptionStatus: string(domain.SubscriptionStatusInactive),
		LastResetDate:      arg.Today,
		CreatedAt:          m.now(),
		UpdatedAt:          m.now(),
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUserByID(ctx context.Context, id uuid.UUID) (repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return repository.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByStripeCustomerID(ctx context.Context, stripeCustomerID string) (repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.StripeCustomerID.Valid && u.StripeCustomerID.String == stripeCustomerID {
			return u, nil
		}
	}
	return repository.User{}, sql.ErrNoRows
}

func (m *memStore) UpdateUserStripeCustomer(ctx context.Context, arg repository.UpdateUserStripeCustomerParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[arg.ID]
	u.StripeCustomerID = arg.StripeCustomerID
	m.users[arg.ID] = u
	return nil
}

func (m *memStore) UpdateUserSubscription(ctx context.Context, arg repository.UpdateUserSubscriptionParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[arg.ID]
	u.SubscriptionStatus = arg.SubscriptionStatus
	u.SubscriptionID = arg.SubscriptionID
	u.IsPremium = arg.IsPremium
	if arg.SubscriptionPeriodEnd.Valid {
		u.SubscriptionPeriodEnd = arg.SubscriptionPeriodEnd
	}
	m.users[arg.ID] = u
	return nil
}

func (m *memStore) CreateSession(ctx context.Context, arg repository.CreateSessionParams) (repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := repository.Session{
		ID:        uuid.New(),
		UserID:    arg.UserID,
		TokenHash: arg.TokenHash,
		ExpiresAt: arg.ExpiresAt,
		CreatedAt: m.now(),
	}
	m.sessions[arg.TokenHash] = s
	return s, nil
}

func (m *memStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenHash]
	if !ok || !s.ExpiresAt.After(m.now()) {
		return repository.Session{}, sql.ErrNoRows
	}
	return s, nil
}

func (m *memStore) DeleteSession(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return nil
}

func (m *memStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if !s.ExpiresAt.After(m.now()) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Usage
// =============================================================================

func (m *memStore) CountAnalysesInRange(ctx context.Context, arg repository.CountAnalysesInRangeParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	if m.countErr != nil {
		return 0, m.countErr
	}
	var n int64
	for _, a := range m.analyses {
		if a.UserID != arg.UserID || a.CreatedAt.Before(arg.Start) {
			continue
		}
		if arg.End.Valid && !a.CreatedAt.Before(arg.End.Time) {
			continue
		}
		if len(arg.Styles) > 0 && !slices.Contains(arg.Styles, a.TradingStyle) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *memStore) IncrementAnalysesUsed(ctx context.Context, arg repository.IncrementAnalysesUsedParams) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[arg.ID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	current := int32(0)
	if u.LastResetDate.Equal(arg.Today) {
		current = u.AnalysesUsed
	}
	if arg.Cap > 0 && current >= arg.Cap {
		return 0, sql.ErrNoRows
	}
	u.AnalysesUsed = current + 1
	u.LastResetDate = arg.Today
	m.users[arg.ID] = u
	return u.AnalysesUsed, nil
}

func (m *memStore) ReleaseAnalysesUsed(ctx context.Context, arg repository.ReleaseAnalysesUsedParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[arg.ID]
	if !ok || !u.LastResetDate.Equal(arg.Today) || u.AnalysesUsed == 0 {
		return 0, nil
	}
	u.AnalysesUsed--
	m.users[arg.ID] = u
	return 1, nil
}

// =============================================================================
// Analyses
// =============================================================================

func (m *memStore) CreateAnalysis(ctx context.Context, arg repository.CreateAnalysisParams) (repository.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createAnalysisErr != nil {
		return repository.Analysis{}, m.createAnalysisErr
	}
	a := repository.Analysis{
		ID:           uuid.New(),
		UserID:       arg.UserID,
		TradingStyle: arg.TradingStyle,
		Pattern:      arg.Pattern,
		Confidence:   arg.Confidence,
		Trend:        arg.Trend,
		Timeframe:    arg.Timeframe,
		EntryPoint:   arg.EntryPoint,
		StopLoss:     arg.StopLoss,
		Target:       arg.Target,
		RiskReward:   arg.RiskReward,
		Explanation:  arg.Explanation,
		ParseQuality: arg.ParseQuality,
		RawResponse:  arg.RawResponse,
		Model:        arg.Model,
		ImageKey:     arg.ImageKey,
		CreatedAt:    m.now(),
	}
	m.analyses = append(m.analyses, a)
	return a, nil
}

func (m *memStore) GetAnalysisForUser(ctx context.Context, arg repository.GetAnalysisForUserParams) (repository.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.analyses {
		if a.ID == arg.ID && a.UserID == arg.UserID {
			return a, nil
		}
	}
	return repository.Analysis{}, sql.ErrNoRows
}

func (m *memStore) ListAnalysesByUser(ctx context.Context, arg repository.ListAnalysesByUserParams) ([]repository.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []repository.Analysis
	for _, a := range m.analyses {
		if a.UserID == arg.UserID {
			mine = append(mine, a)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })
	start := min(int(arg.Offset), len(mine))
	end := min(start+int(arg.Limit), len(mine))
	return mine[start:end], nil
}

func (m *memStore) CountAnalysesByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return int64(m.eventCount(userID)), nil
}

func (m *memStore) CreateAIUsage(ctx context.Context, arg repository.CreateAIUsageParams) (repository.AiUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createAIUsageErr != nil {
		return repository.AiUsage{}, m.createAIUsageErr
	}
	m.aiUsage = append(m.aiUsage, arg)
	return repository.AiUsage{ID: uuid.New(), UserID: arg.UserID, AnalysisID: arg.AnalysisID}, nil
}
