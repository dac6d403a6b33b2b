package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/DukeRupert/chartlens/internal/billing"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/service"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(n int) *int { return &n }

func testUser() *domain.User {
	return &domain.User{
		ID:                 uuid.MustParse("6f1c8a52-2b7e-4c1f-9d3a-0f7e1b2c3d4e"),
		Email:              "trader@example.com",
		Name:               "Tess",
		PasswordHash:       "$2a$12$secret",
		StripeCustomerID:   "cus_secret",
		SubscriptionStatus: domain.SubscriptionStatusInactive,
	}
}

// =============================================================================
// UserService
// =============================================================================

type mockUserService struct {
	RegisterFunc              func(ctx context.Context, params domain.RegisterParams) (*domain.User, error)
	LoginFunc                 func(ctx context.Context, email, password string) (*domain.LoginResult, error)
	LogoutFunc                func(ctx context.Context, token string) error
	GetBySessionTokenFunc     func(ctx context.Context, token string) (*domain.User, error)
	UpdateStripeCustomerFunc  func(ctx context.Context, userID uuid.UUID, customerID string) error
	UpdateSubscriptionFunc    func(ctx context.Context, update domain.SubscriptionUpdate) error
	GetByStripeCustomerIDFunc func(ctx context.Context, customerID string) (*domain.User, error)
}

var _ service.UserService = (*mockUserService)(nil)

func (m *mockUserService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, params)
	}
	return nil, errors.New("RegisterFunc not implemented")
}

func (m *mockUserService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, errors.New("LoginFunc not implemented")
}

func (m *mockUserService) Logout(ctx context.Context, token string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, token)
	}
	return nil
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return nil, errors.New("GetByID not implemented")
}

func (m *mockUserService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	if m.GetBySessionTokenFunc != nil {
		return m.GetBySessionTokenFunc(ctx, token)
	}
	return nil, domain.Unauthorized("", "Invalid or expired session")
}

func (m *mockUserService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockUserService) UpdateStripeCustomer(ctx context.Context, userID uuid.UUID, customerID string) error {
	if m.UpdateStripeCustomerFunc != nil {
		return m.UpdateStripeCustomerFunc(ctx, userID, customerID)
	}
	return nil
}

func (m *mockUserService) UpdateSubscription(ctx context.Context, update domain.SubscriptionUpdate) error {
	if m.UpdateSubscriptionFunc != nil {
		return m.UpdateSubscriptionFunc(ctx, update)
	}
	return nil
}

func (m *mockUserService) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	if m.GetByStripeCustomerIDFunc != nil {
		return m.GetByStripeCustomerIDFunc(ctx, customerID)
	}
	return nil, domain.NotFound("", "user", customerID)
}

// =============================================================================
// QuotaService
// =============================================================================

type stubQuota struct {
	summary *service.UsageSummary
	opts    service.QuotaOptions
}

var _ service.QuotaService = (*stubQuota)(nil)

func (s *stubQuota) Evaluate(ctx context.Context, user *domain.User, now time.Time, opts service.QuotaOptions) domain.QuotaDecision {
	return s.summary.Decision
}

func (s *stubQuota) GetUsage(ctx context.Context, user *domain.User, now time.Time, opts service.QuotaOptions) *service.UsageSummary {
	s.opts = opts
	return s.summary
}

func (s *stubQuota) Limits() domain.QuotaLimits {
	return domain.DefaultQuotaLimits()
}

// =============================================================================
// AnalysisService
// =============================================================================

type stubAnalyses struct {
	outcome *service.AnalysisOutcome
	err     error
	got     service.AnalyzeParams

	list     []domain.Analysis
	total    int64
	gotPage  domain.Page
	analysis *domain.Analysis
}

var _ service.AnalysisService = (*stubAnalyses)(nil)

func (s *stubAnalyses) Analyze(ctx context.Context, params service.AnalyzeParams) (*service.AnalysisOutcome, error) {
	s.got = params
	return s.outcome, s.err
}

func (s *stubAnalyses) List(ctx context.Context, user *domain.User, page domain.Page) ([]domain.Analysis, int64, error) {
	s.gotPage = page
	return s.list, s.total, s.err
}

func (s *stubAnalyses) Get(ctx context.Context, user *domain.User, id uuid.UUID) (*domain.Analysis, error) {
	if s.analysis == nil || s.analysis.ID != id {
		return nil, domain.NotFound("AnalysisService.Get", "analysis", id.String())
	}
	return s.analysis, nil
}

// =============================================================================
// billing.Service
// =============================================================================

type stubBilling struct {
	event       stripe.Event
	verifyErr   error
	customerID  string
	checkoutURL string
	interval    domain.BillingInterval
}

var _ billing.Service = (*stubBilling)(nil)

func (s *stubBilling) CreateCustomer(email, name string) (string, error) {
	return s.customerID, nil
}

func (s *stubBilling) CreateCheckoutSession(customerID string, interval domain.BillingInterval, successURL, cancelURL string) (string, error) {
	s.interval = interval
	return s.checkoutURL, nil
}

func (s *stubBilling) CreatePortalSession(customerID, returnURL string) (string, error) {
	return "https://billing.stripe.test/portal/" + customerID, nil
}

func (s *stubBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if s.verifyErr != nil {
		return stripe.Event{}, s.verifyErr
	}
	return s.event, nil
}
