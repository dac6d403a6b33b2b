package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/invite"
	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// BcryptCost is deliberately not configurable at runtime.
	BcryptCost = 12

	// SessionTokenBytes gives 256 bits of entropy, hex-encoded to 64 chars.
	SessionTokenBytes = 32

	DefaultSessionDuration = 7 * 24 * time.Hour
	MinSessionDuration     = 15 * time.Minute
	MaxSessionDuration     = 30 * 24 * time.Hour

	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt ignores anything past 72 bytes

	pgUniqueViolation = "23505"
)

// commonPasswords rejects passwords that pass the shape rules but appear at
// the top of every breach list.
var commonPasswords = map[string]bool{
	"password1":   true,
	"password12":  true,
	"password123": true,
	"qwerty123":   true,
	"letmein1":    true,
	"welcome1":    true,
	"admin123":    true,
	"abc12345":    true,
	"iloveyou1":   true,
	"trading123":  true,
	"bitcoin123":  true,
}

// =============================================================================
// Interface Definition
// =============================================================================

// UserService manages accounts, sessions and the subscription state billing
// events leave on a user.
type UserService interface {
	// Register creates a new free-tier account.
	// Returns domain.ECONFLICT if email already exists.
	// Returns domain.EINVALID for validation errors or a missing invite code.
	Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error)

	// Login authenticates a user and creates a new session.
	// Returns domain.EUNAUTHORIZED for invalid credentials.
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)

	// Logout is idempotent.
	Logout(ctx context.Context, token string) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetBySessionToken returns domain.EUNAUTHORIZED if token is invalid or
	// expired.
	GetBySessionToken(ctx context.Context, token string) (*domain.User, error)

	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Billing
	UpdateStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error
	UpdateSubscription(ctx context.Context, update domain.SubscriptionUpdate) error
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.User, error)
}

// UserServiceConfig holds optional settings for the user service.
type UserServiceConfig struct {
	SessionDuration time.Duration

	// Invites gates registration; nil or disabled means open sign-up.
	Invites *invite.Validator

	// QuotaLocation decides the calendar day new counters start on.
	QuotaLocation *time.Location

	Now func() time.Time
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	store           UserStore
	sessionDuration time.Duration
	invites         *invite.Validator
	loc             *time.Location
	now             func() time.Time
	logger          *slog.Logger
}

var _ UserService = (*userService)(nil)

// NewUserService creates a new UserService.
func NewUserService(store UserStore, cfg UserServiceConfig, logger *slog.Logger) UserService {
	if cfg.QuotaLocation == nil {
		cfg.QuotaLocation = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &userService{
		store:           store,
		sessionDuration: normalizeSessionDuration(cfg.SessionDuration),
		invites:         cfg.Invites,
		loc:             cfg.QuotaLocation,
		now:             cfg.Now,
		logger:          logger,
	}
}

// normalizeSessionDuration clamps to [MinSessionDuration, MaxSessionDuration];
// zero selects the default.
func normalizeSessionDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultSessionDuration
	case d < MinSessionDuration:
		return MinSessionDuration
	case d > MaxSessionDuration:
		return MaxSessionDuration
	default:
		return d
	}
}

// =============================================================================
// Accounts
// =============================================================================

// Register hashes even when the email is taken, so response timing doesn't
// reveal which addresses have accounts.
func (s *userService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	const op = "UserService.Register"

	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Name = strings.TrimSpace(params.Name)

	if s.invites.IsEnabled() {
		if err := s.invites.Check(op, params.InviteCode); err != nil {
			return nil, err
		}
	}

	if err := validateEmail(params.Email); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, domain.ErrorMessage(err))
	}
	if err := validatePassword(params.Password); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, domain.ErrorMessage(err))
	}

	_, err := s.store.GetUserByEmail(ctx, params.Email)
	if err == nil {
		_, _ = bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
		return nil, domain.Conflict(op, "Email already registered")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Internal(err, op, "Failed to check email availability")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to hash password")
	}

	repoUser, err := s.store.CreateUser(ctx, repository.CreateUserParams{
		Email:        params.Email,
		PasswordHash: string(passwordHash),
		Name:         params.Name,
		Today:        domain.CalendarDate(s.now(), s.loc),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflict(op, "Email already registered")
		}
		return nil, domain.Internal(err, op, "Failed to create user")
	}

	user := repoUserToDomain(repoUser)
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	const op = "UserService.Login"

	email = strings.ToLower(strings.TrimSpace(email))

	repoUser, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Keep timing flat for unknown emails.
			dummyHash := "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, domain.Unauthorized(op, "Invalid email or password")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(repoUser.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Unauthorized(op, "Invalid email or password")
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate session token")
	}

	_, err = s.store.CreateSession(ctx, repository.CreateSessionParams{
		UserID:    repoUser.ID,
		TokenHash: hashSessionToken(token),
		ExpiresAt: s.now().Add(s.sessionDuration),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create session")
	}

	user := repoUserToDomain(repoUser)
	s.logger.Info("user logged in", "user_id", user.ID)

	return &domain.LoginResult{User: user, Token: token}, nil
}

func (s *userService) Logout(ctx context.Context, token string) error {
	if len(token) != SessionTokenBytes*2 {
		return nil
	}

	if err := s.store.DeleteSession(ctx, hashSessionToken(token)); err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("failed to delete session", "error", err)
	}

	s.logger.Debug("session invalidated")
	return nil
}

func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "UserService.GetByID"

	repoUser, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	return repoUserToDomain(repoUser), nil
}

// GetBySessionToken hashes the token before lookup; the query itself
// filters expired sessions.
func (s *userService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "UserService.GetBySessionToken"

	if len(token) != SessionTokenBytes*2 {
		return nil, domain.Unauthorized(op, "Invalid or expired session")
	}

	session, err := s.store.GetSessionByTokenHash(ctx, hashSessionToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Unauthorized(op, "Invalid or expired session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve session")
	}

	repoUser, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Unauthorized(op, "Invalid or expired session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	return repoUserToDomain(repoUser), nil
}

func (s *userService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "UserService.DeleteExpiredSessions"

	n, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired sessions")
	}
	if n > 0 {
		s.logger.Info("expired sessions cleaned up", "count", n)
	}
	return n, nil
}

// =============================================================================
// Billing
// =============================================================================

func (s *userService) UpdateStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error {
	const op = "UserService.UpdateStripeCustomer"

	err := s.store.UpdateUserStripeCustomer(ctx, repository.UpdateUserStripeCustomerParams{
		ID:               userID,
		StripeCustomerID: domain.ToNullString(stripeCustomerID),
	})
	if err != nil {
		return domain.Internal(err, op, "Failed to update Stripe customer ID")
	}

	s.logger.Info("stripe customer linked", "user_id", userID, "stripe_customer_id", stripeCustomerID)
	return nil
}

// UpdateSubscription derives the premium flag from the status. A nil
// PeriodEnd keeps the stored one so the grace window survives.
func (s *userService) UpdateSubscription(ctx context.Context, update domain.SubscriptionUpdate) error {
	const op = "UserService.UpdateSubscription"

	premium := update.Status.GrantsPremium()
	err := s.store.UpdateUserSubscription(ctx, repository.UpdateUserSubscriptionParams{
		ID:                    update.UserID,
		SubscriptionStatus:    string(update.Status),
		SubscriptionID:        domain.ToNullString(update.SubscriptionID),
		IsPremium:             premium,
		SubscriptionPeriodEnd: domain.ToNullTime(update.PeriodEnd),
	})
	if err != nil {
		return domain.Internal(err, op, "Failed to update subscription")
	}

	s.logger.Info("subscription updated",
		"user_id", update.UserID,
		"status", update.Status,
		"premium", premium,
	)
	return nil
}

func (s *userService) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.User, error) {
	const op = "UserService.GetByStripeCustomerID"

	repoUser, err := s.store.GetUserByStripeCustomerID(ctx, stripeCustomerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", stripeCustomerID)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user by Stripe customer ID")
	}
	return repoUserToDomain(repoUser), nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func generateSessionToken() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashSessionToken uses SHA-256: session tokens are high-entropy, so a slow
// hash buys nothing.
func hashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// repoUserToDomain converts a row; the password hash is dropped.
func repoUserToDomain(u repository.User) *domain.User {
	return &domain.User{
		ID:                    u.ID,
		Email:                 u.Email,
		Name:                  u.Name,
		StripeCustomerID:      domain.NullStringValue(u.StripeCustomerID),
		SubscriptionStatus:    domain.SubscriptionStatus(u.SubscriptionStatus),
		SubscriptionID:        domain.NullStringValue(u.SubscriptionID),
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
		IsPremium:             u.IsPremium,
		AnalysesUsed:          int(u.AnalysesUsed),
		LastResetDate:         u.LastResetDate,
		SubscriptionPeriodEnd: domain.NullTimeValue(u.SubscriptionPeriodEnd),
	}
}

func validateEmail(email string) error {
	if email == "" {
		return domain.Invalid("", "Email is required")
	}
	if len(email) > 254 {
		return domain.Invalid("", "Email must be 254 characters or less")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.Invalid("", "Please enter a valid email address")
	}

	at := strings.LastIndex(email, "@")
	if !strings.Contains(email[at+1:], ".") || strings.Contains(email, "..") {
		return domain.Invalid("", "Please enter a valid email address")
	}
	return nil
}

// validatePassword enforces length, at least one letter and one digit, and
// rejects well-known passwords.
func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return domain.Invalid("", "Password must be at least 8 characters")
	}
	if len(password) > MaxPasswordLength {
		return domain.Invalid("", "Password must be 72 characters or less")
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		return domain.Invalid("", "Password must contain at least one letter")
	}
	if !hasDigit {
		return domain.Invalid("", "Password must contain at least one number")
	}

	if commonPasswords[strings.ToLower(password)] {
		return domain.Invalid("", "That password is too common. Please choose another.")
	}
	return nil
}
