// Package domain contains core business types and rules.
//
// This file defines the User type, including the quota state that the usage
// policy and recorder operate on. These types are separate from the
// repository models so business rules never see sql.Null* values.
package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the Stripe subscription status we last observed.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// GrantsPremium reports whether a subscription in this status unlocks premium.
// past_due keeps access while Stripe retries the payment.
func (s SubscriptionStatus) GrantsPremium() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// User is a registered account together with its quota state.
type User struct {
	ID                 uuid.UUID
	Email              string
	PasswordHash       string // Never expose this in API responses
	Name               string
	StripeCustomerID   string
	SubscriptionStatus SubscriptionStatus
	SubscriptionID     string
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Quota state.
	IsPremium             bool
	AnalysesUsed          int        // Display counter, valid only for LastResetDate
	LastResetDate         time.Time  // Calendar day as UTC midnight (see CalendarDate)
	SubscriptionPeriodEnd *time.Time // End of the last paid period, drives the grace window
}

// UsedToday returns the display counter for the day containing now.
// A counter stamped with an earlier day means nothing was used today.
func (u *User) UsedToday(now time.Time, loc *time.Location) int {
	if u.LastResetDate.IsZero() {
		return 0
	}
	// LastResetDate is a DATE value; compare its own Y/M/D against today in loc.
	if !u.LastResetDate.Equal(CalendarDate(now, loc)) {
		return 0
	}
	return u.AnalysesUsed
}

// DisplayName returns the user's name or email if name is empty.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Session represents an authenticated session.
//
// Sessions are stored with a hashed token; the raw token is only given to
// the client once, at login.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// RegisterParams contains the parameters for user registration.
type RegisterParams struct {
	Email      string
	Password   string // Raw password, hashed by the service
	Name       string
	InviteCode string
}

// LoginResult contains the result of a successful login.
type LoginResult struct {
	User  *User
	Token string // Raw session token, only returned once
}

// SubscriptionUpdate is the state a billing event leaves a user in.
type SubscriptionUpdate struct {
	UserID         uuid.UUID
	Status         SubscriptionStatus
	SubscriptionID string
	PeriodEnd      *time.Time
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// NullFloatValue safely extracts a float pointer from sql.NullFloat64.
func NullFloatValue(nf sql.NullFloat64) *float64 {
	if nf.Valid {
		f := nf.Float64
		return &f
	}
	return nil
}

// ToNullString converts a string to sql.NullString.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// ToNullTime converts a time pointer to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ToNullFloat converts a float pointer to sql.NullFloat64.
func ToNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// ToNullUUID converts a uuid pointer to uuid.NullUUID.
func ToNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{Valid: false}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
