package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/chartlens/internal/auth"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/service"
)

// AccountHandler serves the signed-in user's profile, usage and the
// public pricing catalogue.
//
// Routes handled:
//   - GET /api/me      -> Me
//   - GET /api/usage   -> Usage
//   - GET /api/pricing -> Pricing (404 unless pricing is enabled)
type AccountHandler struct {
	quota       service.QuotaService
	showPricing bool
	now         func() time.Time
	logger      *slog.Logger
}

func NewAccountHandler(quota service.QuotaService, showPricing bool, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		quota:       quota,
		showPricing: showPricing,
		now:         time.Now,
		logger:      logger,
	}
}

func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/me", requireUser(http.HandlerFunc(h.Me)))
	mux.Handle("GET /api/usage", requireUser(http.HandlerFunc(h.Usage)))
	mux.HandleFunc("GET /api/pricing", h.Pricing)
}

type MeResponse struct {
	User  UserResponse  `json:"user"`
	Usage UsageResponse `json:"usage"`
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	summary := h.quota.GetUsage(r.Context(), user, h.now(), service.QuotaOptions{})
	writeJSON(w, http.StatusOK, MeResponse{
		User:  userBody(user),
		Usage: usageBody(summary),
	})
}

// Usage is the display read path. An optional ?style= narrows the
// event-log counts to one trading style.
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	const op = "AccountHandler.Usage"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var opts service.QuotaOptions
	if raw := r.URL.Query().Get("style"); raw != "" {
		style, ok := domain.ParseTradingStyle(raw)
		if !ok {
			ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "style", "Must be one of: scalp, day, swing, general"))
			return
		}
		opts.Styles = []domain.TradingStyle{style}
	}

	writeJSON(w, http.StatusOK, usageBody(h.quota.GetUsage(r.Context(), user, h.now(), opts)))
}

type PricingResponse struct {
	Plans []domain.Plan `json:"plans"`
}

func (h *AccountHandler) Pricing(w http.ResponseWriter, r *http.Request) {
	if !h.showPricing {
		NotFoundResponse(w, r, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, PricingResponse{Plans: domain.Plans(h.quota.Limits())})
}
