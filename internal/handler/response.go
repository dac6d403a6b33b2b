package handler

import (
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/service"
	"github.com/google/uuid"
)

// QuotaResponse is a QuotaDecision as the client sees it. Remaining is
// omitted for unlimited users.
type QuotaResponse struct {
	Allowed   bool       `json:"allowed"`
	Remaining *int       `json:"remaining,omitempty"`
	ResetDate *time.Time `json:"reset_date,omitempty"`
	Reason    string     `json:"reason"`
	Window    string     `json:"window,omitempty"`
	Message   string     `json:"message"`
}

func quotaBody(d domain.QuotaDecision) *QuotaResponse {
	return &QuotaResponse{
		Allowed:   d.Allowed,
		Remaining: d.Remaining,
		ResetDate: d.ResetDate,
		Reason:    string(d.Reason),
		Window:    string(d.Window),
		Message:   d.Message,
	}
}

// UserResponse never carries the password hash or Stripe identifiers.
type UserResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name,omitempty"`
	Premium            bool       `json:"premium"`
	SubscriptionStatus string     `json:"subscription_status"`
	PeriodEnd          *time.Time `json:"subscription_period_end,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func userBody(u *domain.User) UserResponse {
	return UserResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Premium:            u.IsPremium,
		SubscriptionStatus: string(u.SubscriptionStatus),
		PeriodEnd:          u.SubscriptionPeriodEnd,
		CreatedAt:          u.CreatedAt,
	}
}

// UsageResponse is the dashboard view of usage. UsedToday comes from the
// display counter; Quota comes from the event log.
type UsageResponse struct {
	Premium      bool          `json:"premium"`
	UsedToday    int           `json:"used_today"`
	DailyLimit   int           `json:"daily_limit"`
	MonthlyLimit int           `json:"monthly_limit"`
	Quota        QuotaResponse `json:"quota"`
}

func usageBody(s *service.UsageSummary) UsageResponse {
	return UsageResponse{
		Premium:      s.Premium,
		UsedToday:    s.UsedToday,
		DailyLimit:   s.DailyLimit,
		MonthlyLimit: s.MonthlyLimit,
		Quota:        *quotaBody(s.Decision),
	}
}

type AnalysisResponse struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	TradingStyle string    `json:"trading_style"`
	Pattern      string    `json:"pattern,omitempty"`
	Confidence   string    `json:"confidence,omitempty"`
	Trend        string    `json:"trend,omitempty"`
	Timeframe    string    `json:"timeframe,omitempty"`
	EntryPoint   *float64  `json:"entry_point"`
	StopLoss     *float64  `json:"stop_loss"`
	Target       *float64  `json:"target"`
	RiskReward   *float64  `json:"risk_reward"`
	Explanation  string    `json:"explanation"`
	ParseQuality string    `json:"parse_quality"`
	Degraded     bool      `json:"degraded"`
}

func analysisBody(a *domain.Analysis) AnalysisResponse {
	return AnalysisResponse{
		ID:           a.ID,
		CreatedAt:    a.CreatedAt,
		TradingStyle: string(a.TradingStyle),
		Pattern:      a.Pattern,
		Confidence:   string(a.Confidence),
		Trend:        string(a.Trend),
		Timeframe:    a.Timeframe,
		EntryPoint:   a.EntryPoint,
		StopLoss:     a.StopLoss,
		Target:       a.Target,
		RiskReward:   a.RiskReward,
		Explanation:  a.Explanation,
		ParseQuality: a.ParseQuality,
		Degraded:     a.Degraded(),
	}
}

// AnalyzeResponse is returned by POST /api/analyses. Warnings name the
// bookkeeping steps that failed after the model answered.
type AnalyzeResponse struct {
	Analysis AnalysisResponse `json:"analysis"`
	Quota    QuotaResponse    `json:"quota"`
	Warnings []string         `json:"warnings,omitempty"`
}

func analyzeBody(o *service.AnalysisOutcome) AnalyzeResponse {
	resp := AnalyzeResponse{
		Analysis: analysisBody(o.Analysis),
		Quota:    *quotaBody(o.Quota),
	}
	for _, w := range o.Warnings {
		resp.Warnings = append(resp.Warnings, w.Step)
	}
	return resp
}

type AnalysisListResponse struct {
	Analyses []AnalysisResponse `json:"analyses"`
	Total    int64              `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}
