package domain

import "strconv"

// BillingInterval selects between the premium price points.
type BillingInterval string

const (
	BillingMonthly BillingInterval = "monthly"
	BillingYearly  BillingInterval = "yearly"
)

// Plan describes one purchasable option shown on the pricing endpoint.
type Plan struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Interval    BillingInterval `json:"interval,omitempty"`
	PriceCents  int             `json:"price_cents"`
	Description string          `json:"description"`
	Features    []string        `json:"features"`
}

// Plans returns the catalogue for the given free-tier limits.
// Prices are display values; Stripe holds the authoritative amounts.
func Plans(limits QuotaLimits) []Plan {
	return []Plan{
		{
			ID:          "free",
			Name:        "Free",
			PriceCents:  0,
			Description: "Try chart analysis with daily and monthly limits.",
			Features: []string{
				pluralCount(limits.DailyLimit, "analysis", "analyses") + " per day",
				pluralCount(limits.MonthlyLimit, "analysis", "analyses") + " per month",
				"All trading styles",
			},
		},
		{
			ID:          "premium_monthly",
			Name:        "Premium",
			Interval:    BillingMonthly,
			PriceCents:  1900,
			Description: "Unlimited analyses, billed monthly.",
			Features:    []string{"Unlimited analyses", "Full analysis history", "Priority support"},
		},
		{
			ID:          "premium_yearly",
			Name:        "Premium",
			Interval:    BillingYearly,
			PriceCents:  19000,
			Description: "Unlimited analyses, billed yearly.",
			Features:    []string{"Unlimited analyses", "Full analysis history", "Two months free"},
		},
	}
}

func pluralCount(n int, one, many string) string {
	return strconv.Itoa(n) + " " + plural(n, one, many)
}
