package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type User struct {
	ID                    uuid.UUID
	Email                 string
	PasswordHash          string
	Name                  string
	StripeCustomerID      sql.NullString
	SubscriptionStatus    string
	SubscriptionID        sql.NullString
	IsPremium             bool
	AnalysesUsed          int32
	LastResetDate         time.Time
	SubscriptionPeriodEnd sql.NullTime
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Analysis struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	TradingStyle string
	Pattern      sql.NullString
	Confidence   sql.NullString
	Trend        sql.NullString
	Timeframe    sql.NullString
	EntryPoint   sql.NullFloat64
	StopLoss     sql.NullFloat64
	Target       sql.NullFloat64
	RiskReward   sql.NullFloat64
	Explanation  string
	ParseQuality string
	RawResponse  pqtype.NullRawMessage
	Model        string
	ImageKey     sql.NullString
	CreatedAt    time.Time
}

type AiUsage struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AnalysisID   uuid.NullUUID
	Model        string
	InputTokens  int32
	OutputTokens int32
	CostCents    int32
	RequestType  string
	CreatedAt    time.Time
}
