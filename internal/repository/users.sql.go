package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, password_hash, name, stripe_customer_id, subscription_status,
    subscription_id, is_premium, analyses_used, last_reset_date, subscription_period_end,
    created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.Name,
		&i.StripeCustomerID,
		&i.SubscriptionStatus,
		&i.SubscriptionID,
		&i.IsPremium,
		&i.AnalysesUsed,
		&i.LastResetDate,
		&i.SubscriptionPeriodEnd,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (email, password_hash, name, last_reset_date)
VALUES ($1, $2, $3, $4::date)
RETURNING ` + userColumns

type CreateUserParams struct {
	Email        string
	PasswordHash string
	Name         string
	Today        time.Time
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser,
		arg.Email,
		arg.PasswordHash,
		arg.Name,
		arg.Today.Format(time.DateOnly),
	)
	return scanUser(row)
}

const getUserByID = `-- name: GetUserByID :one
SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	return scanUser(row)
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT ` + userColumns + ` FROM users WHERE email = $1`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	return scanUser(row)
}

const getUserByStripeCustomerID = `-- name: GetUserByStripeCustomerID :one
SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1`

func (q *Queries) GetUserByStripeCustomerID(ctx context.Context, stripeCustomerID string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByStripeCustomerID, stripeCustomerID)
	return scanUser(row)
}

const updateUserStripeCustomer = `-- name: UpdateUserStripeCustomer :exec
UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`

type UpdateUserStripeCustomerParams struct {
	ID               uuid.UUID
	StripeCustomerID sql.NullString
}

func (q *Queries) UpdateUserStripeCustomer(ctx context.Context, arg UpdateUserStripeCustomerParams) error {
	_, err := q.db.ExecContext(ctx, updateUserStripeCustomer, arg.ID, arg.StripeCustomerID)
	return err
}

const updateUserSubscription = `-- name: UpdateUserSubscription :exec
UPDATE users
SET subscription_status     = $2,
    subscription_id         = $3,
    is_premium              = $4,
    subscription_period_end = COALESCE($5, subscription_period_end),
    updated_at              = NOW()
WHERE id = $1`

type UpdateUserSubscriptionParams struct {
	ID                    uuid.UUID
	SubscriptionStatus    string
	SubscriptionID        sql.NullString
	IsPremium             bool
	SubscriptionPeriodEnd sql.NullTime
}

// UpdateUserSubscription keeps the previous period end when none is given,
// so a deletion event without period data still leaves the grace window intact.
func (q *Queries) UpdateUserSubscription(ctx context.Context, arg UpdateUserSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, updateUserSubscription,
		arg.ID,
		arg.SubscriptionStatus,
		arg.SubscriptionID,
		arg.IsPremium,
		arg.SubscriptionPeriodEnd,
	)
	return err
}

const incrementAnalysesUsed = `-- name: IncrementAnalysesUsed :one
UPDATE users
SET analyses_used   = CASE WHEN last_reset_date = $2::date THEN analyses_used + 1 ELSE 1 END,
    last_reset_date = $2::date,
    updated_at      = NOW()
WHERE id = $1
  AND ($3::int <= 0
       OR (CASE WHEN last_reset_date = $2::date THEN analyses_used ELSE 0 END) < $3::int)
RETURNING analyses_used`

type IncrementAnalysesUsedParams struct {
	ID    uuid.UUID
	Today time.Time
	Cap   int32
}

// IncrementAnalysesUsed bumps the daily counter in a single statement,
// restarting it when last_reset_date is stale. With Cap > 0 the row is only
// touched while today's value is below Cap; otherwise sql.ErrNoRows.
func (q *Queries) IncrementAnalysesUsed(ctx context.Context, arg IncrementAnalysesUsedParams) (int32, error) {
	row := q.db.QueryRowContext(ctx, incrementAnalysesUsed, arg.ID, arg.Today.Format(time.DateOnly), arg.Cap)
	var analysesUsed int32
	err := row.Scan(&analysesUsed)
	return analysesUsed, err
}

const releaseAnalysesUsed = `-- name: ReleaseAnalysesUsed :execrows
UPDATE users
SET analyses_used = GREATEST(analyses_used - 1, 0),
    updated_at    = NOW()
WHERE id = $1 AND last_reset_date = $2::date`

type ReleaseAnalysesUsedParams struct {
	ID    uuid.UUID
	Today time.Time
}

func (q *Queries) ReleaseAnalysesUsed(ctx context.Context, arg ReleaseAnalysesUsedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, releaseAnalysesUsed, arg.ID, arg.Today.Format(time.DateOnly))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
