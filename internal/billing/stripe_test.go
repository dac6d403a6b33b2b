package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func TestPriceConfig_PriceFor(t *testing.T) {
	p := PriceConfig{PremiumMonthlyPriceID: "price_m", PremiumYearlyPriceID: "price_y"}

	assert.Equal(t, "price_m", p.PriceFor(domain.BillingMonthly))
	assert.Equal(t, "price_y", p.PriceFor(domain.BillingYearly))
	assert.Empty(t, p.PriceFor("weekly"))
}

func TestStatusFromStripe(t *testing.T) {
	tests := []struct {
		in   stripe.SubscriptionStatus
		want domain.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusActive, domain.SubscriptionStatusActive},
		{stripe.SubscriptionStatusTrialing, domain.SubscriptionStatusTrialing},
		{stripe.SubscriptionStatusPastDue, domain.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusCanceled, domain.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusUnpaid, domain.SubscriptionStatusUnpaid},
		{stripe.SubscriptionStatusIncomplete, domain.SubscriptionStatusInactive},
		{"", domain.SubscriptionStatusInactive},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromStripe(tt.in))
		})
	}
}

func subscriptionEvent(t *testing.T, payload map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return stripe.Event{Type: "customer.subscription.updated", Data: &stripe.EventData{Raw: raw}}
}

func TestDecodeSubscription(t *testing.T) {
	end := time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)

	got, err := DecodeSubscription(subscriptionEvent(t, map[string]any{
		"id":                 "sub_1",
		"object":             "subscription",
		"customer":           "cus_1",
		"status":             "active",
		"current_period_end": end.Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "cus_1", got.CustomerID)
	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.PeriodEnd)
	assert.True(t, got.PeriodEnd.Equal(end))

	_, err = DecodeSubscription(subscriptionEvent(t, map[string]any{"id": "sub_2", "status": "active"}))
	assert.Error(t, err)

	_, err = DecodeSubscription(stripe.Event{Data: &stripe.EventData{Raw: []byte("{")}})
	assert.Error(t, err)
}
