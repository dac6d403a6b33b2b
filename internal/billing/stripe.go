// Package billing provides the Stripe integration behind premium subscriptions.
package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/stripe/stripe-go/v79"
	billingportalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Service defines the billing operations the HTTP layer needs.
type Service interface {
	// CreateCustomer creates a new Stripe customer for the given email.
	CreateCustomer(email, name string) (string, error)

	// CreateCheckoutSession returns the hosted checkout URL for one
	// premium subscription at the given interval.
	CreateCheckoutSession(customerID string, interval domain.BillingInterval, successURL, cancelURL string) (string, error)

	// CreatePortalSession returns the Customer Portal URL.
	CreatePortalSession(customerID, returnURL string) (string, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// PriceConfig holds the Stripe price IDs for the premium plan.
type PriceConfig struct {
	PremiumMonthlyPriceID string
	PremiumYearlyPriceID  string
}

// PriceFor returns the price ID for an interval, or "" when none is set.
func (p PriceConfig) PriceFor(interval domain.BillingInterval) string {
	switch interval {
	case domain.BillingMonthly:
		return p.PremiumMonthlyPriceID
	case domain.BillingYearly:
		return p.PremiumYearlyPriceID
	default:
		return ""
	}
}

type stripeService struct {
	webhookSecret string
	prices        PriceConfig
}

// NewStripeService creates a new Stripe billing service.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey
	return &stripeService{
		webhookSecret: webhookSecret,
		prices:        prices,
	}
}

func (s *stripeService) CreateCustomer(email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (s *stripeService) CreateCheckoutSession(customerID string, interval domain.BillingInterval, successURL, cancelURL string) (string, error) {
	priceID := s.prices.PriceFor(interval)
	if priceID == "" {
		return "", fmt.Errorf("stripe create checkout session: no price configured for %q", interval)
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

// VerifyWebhookSignature tolerates API version mismatches; the handler only
// reads fields that are stable across versions.
func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

// =============================================================================
// Event decoding
// =============================================================================

// SubscriptionEvent is the part of a customer.subscription.* event the
// webhook acts on.
type SubscriptionEvent struct {
	CustomerID     string
	SubscriptionID string
	Status         domain.SubscriptionStatus
	PeriodEnd      *time.Time
}

// DecodeSubscription reads a subscription object out of an event payload.
func DecodeSubscription(event stripe.Event) (SubscriptionEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return SubscriptionEvent{}, fmt.Errorf("decode subscription: %w", err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return SubscriptionEvent{}, fmt.Errorf("decode subscription %s: missing customer", sub.ID)
	}

	out := SubscriptionEvent{
		CustomerID:     sub.Customer.ID,
		SubscriptionID: sub.ID,
		Status:         StatusFromStripe(sub.Status),
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.PeriodEnd = &end
	}
	return out, nil
}

// StatusFromStripe folds Stripe's subscription statuses onto ours.
func StatusFromStripe(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return domain.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusUnpaid:
		return domain.SubscriptionStatusUnpaid
	default:
		return domain.SubscriptionStatusInactive
	}
}
