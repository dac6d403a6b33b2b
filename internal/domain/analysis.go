package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TradingStyle selects the instruction sent to the model and tags the event.
type TradingStyle string

const (
	TradingStyleScalp   TradingStyle = "scalp"
	TradingStyleDay     TradingStyle = "day"
	TradingStyleSwing   TradingStyle = "swing"
	TradingStyleGeneral TradingStyle = "general"
)

// TradingStyles lists every accepted style in display order.
var TradingStyles = []TradingStyle{
	TradingStyleScalp,
	TradingStyleDay,
	TradingStyleSwing,
	TradingStyleGeneral,
}

// ParseTradingStyle normalizes user input; empty input means general.
func ParseTradingStyle(s string) (TradingStyle, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TradingStyleGeneral, true
	}
	for _, style := range TradingStyles {
		if string(style) == s {
			return style, true
		}
	}
	return "", false
}

// Confidence is the model's self-reported certainty, clamped to three levels.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Trend is the market direction read from the chart.
type Trend string

const (
	TrendBullish  Trend = "Bullish"
	TrendBearish  Trend = "Bearish"
	TrendSideways Trend = "Sideways"
)

// Analysis is one persisted analysis event.
//
// Events are append-only: they are the source of truth for rolling usage
// counts, so nothing updates or deletes them once created. Every extracted
// field is optional because extraction can fail.
type Analysis struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CreatedAt    time.Time
	TradingStyle TradingStyle

	Pattern     string
	Confidence  Confidence
	Trend       Trend
	Timeframe   string
	EntryPoint  *float64
	StopLoss    *float64
	Target      *float64
	RiskReward  *float64
	Explanation string

	ParseQuality string // which parser stage produced the fields
	Model        string
	ImageKey     string
}

// Degraded reports whether the fields came from a fallback parser stage.
func (a *Analysis) Degraded() bool {
	return a.ParseQuality == "regex" || a.ParseQuality == "raw"
}

// Page is a simple offset page request.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps a page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
