package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/invite"
	"github.com/DukeRupert/chartlens/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService(store *memStore, invites *invite.Validator) UserService {
	return NewUserService(store, UserServiceConfig{
		SessionDuration: 24 * time.Hour,
		Invites:         invites,
		QuotaLocation:   time.UTC,
		Now:             func() time.Time { return testNow },
	}, testLogger())
}

func TestUserService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testNow)
	svc := newUserService(store, nil)

	user, err := svc.Register(ctx, domain.RegisterParams{
		Email:    "  Trader@Example.com ",
		Password: "Candl3sticks",
		Name:     " Tess ",
	})
	require.NoError(t, err)
	assert.Equal(t, "trader@example.com", user.Email)
	assert.Equal(t, "Tess", user.Name)
	assert.Empty(t, user.PasswordHash)
	assert.False(t, user.IsPremium)
	assert.True(t, user.LastResetDate.Equal(domain.CalendarDate(testNow, time.UTC)))

	_, err = svc.Register(ctx, domain.RegisterParams{Email: "trader@example.com", Password: "Candl3sticks"})
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	_, err = svc.Login(ctx, "trader@example.com", "wrong-pass1")
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))

	_, err = svc.Login(ctx, "nobody@example.com", "Candl3sticks")
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
	assert.Equal(t, "Invalid email or password", domain.ErrorMessage(err))

	result, err := svc.Login(ctx, "TRADER@example.com", "Candl3sticks")
	require.NoError(t, err)
	assert.Len(t, result.Token, SessionTokenBytes*2)
	assert.Equal(t, user.ID, result.User.ID)

	session, ok := store.sessions[hashSessionToken(result.Token)]
	require.True(t, ok, "only the token hash is stored")
	assert.Equal(t, testNow.Add(24*time.Hour), session.ExpiresAt)

	me, err := svc.GetBySessionToken(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)

	require.NoError(t, svc.Logout(ctx, result.Token))
	_, err = svc.GetBySessionToken(ctx, result.Token)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))

	assert.NoError(t, svc.Logout(ctx, "not-a-token"))
}

func TestUserService_Register_Validation(t *testing.T) {
	svc := newUserService(newMemStore(testNow), nil)

	tests := []struct {
		name   string
		params domain.RegisterParams
	}{
		{"bad email", domain.RegisterParams{Email: "nope", Password: "Candl3sticks"}},
		{"weak password", domain.RegisterParams{Email: "a@example.com", Password: "short"}},
		{"common password", domain.RegisterParams{Email: "a@example.com", Password: "Password1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.params)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

func TestUserService_Register_InviteCodes(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(newMemStore(testNow), invite.New(true, []string{"BETA-2026"}))

	_, err := svc.Register(ctx, domain.RegisterParams{Email: "a@example.com", Password: "Candl3sticks"})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = svc.Register(ctx, domain.RegisterParams{Email: "a@example.com", Password: "Candl3sticks", InviteCode: "WRONG"})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = svc.Register(ctx, domain.RegisterParams{Email: "a@example.com", Password: "Candl3sticks", InviteCode: " beta-2026 "})
	assert.NoError(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	store := newMemStore(testNow)
	_, err := store.CreateUser(context.Background(), repository.CreateUserParams{Email: "race@example.com"})
	require.NoError(t, err)

	_, err = store.CreateUser(context.Background(), repository.CreateUserParams{Email: "race@example.com"})
	assert.True(t, isUniqueViolation(err))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", err)))
	assert.False(t, isUniqueViolation(errors.New("duplicate key")))
	assert.False(t, isUniqueViolation(nil))
}

func TestUserService_GetBySessionToken_Expired(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testNow)
	svc := newUserService(store, nil)

	token, err := generateSessionToken()
	require.NoError(t, err)
	u := store.addUser(repository.User{Email: "old@example.com"})
	_, err = store.CreateSession(ctx, repository.CreateSessionParams{
		UserID:    u.ID,
		TokenHash: hashSessionToken(token),
		ExpiresAt: testNow.Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = svc.GetBySessionToken(ctx, token)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))

	n, err := svc.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUserService_UpdateSubscription(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testNow)
	svc := newUserService(store, nil)
	u := store.addUser(repository.User{Email: "sub@example.com"})

	require.NoError(t, svc.UpdateStripeCustomer(ctx, u.ID, "cus_123"))
	found, err := svc.GetByStripeCustomerID(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	periodEnd := testNow.AddDate(0, 1, 0)
	require.NoError(t, svc.UpdateSubscription(ctx, domain.SubscriptionUpdate{
		UserID:         u.ID,
		Status:         domain.SubscriptionStatusActive,
		SubscriptionID: "sub_1",
		PeriodEnd:      &periodEnd,
	}))
	got, err := svc.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPremium)
	require.NotNil(t, got.SubscriptionPeriodEnd)
	assert.True(t, got.SubscriptionPeriodEnd.Equal(periodEnd))

	// Cancellation without period data keeps the last period end for grace.
	require.NoError(t, svc.UpdateSubscription(ctx, domain.SubscriptionUpdate{
		UserID: u.ID,
		Status: domain.SubscriptionStatusCanceled,
	}))
	got, err = svc.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPremium)
	require.NotNil(t, got.SubscriptionPeriodEnd)
	assert.True(t, got.SubscriptionPeriodEnd.Equal(periodEnd))

	_, err = svc.GetByStripeCustomerID(ctx, "cus_missing")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	_, err = svc.GetByID(ctx, uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
