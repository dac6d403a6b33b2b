package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/chartlens/internal/auth"
	"github.com/DukeRupert/chartlens/internal/billing"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/service"
)

// BillingHandler starts Stripe Checkout and Customer Portal sessions.
//
// Routes handled:
//   - POST /api/billing/checkout -> CreateCheckout
//   - POST /api/billing/portal   -> OpenPortal
//
// The webhook is the only path that changes subscription state; these
// endpoints just hand out Stripe URLs.
type BillingHandler struct {
	billing     billing.Service
	userService service.UserService
	baseURL     string
	logger      *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured.
func NewBillingHandler(billingService billing.Service, userService service.UserService, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:     billingService,
		userService: userService,
		baseURL:     baseURL,
		logger:      logger,
	}
}

func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/billing/checkout", protect(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /api/billing/portal", protect(http.HandlerFunc(h.OpenPortal)))
}

type checkoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=monthly yearly"`
}

// RedirectResponse carries the Stripe-hosted URL the client should open.
type RedirectResponse struct {
	URL string `json:"url"`
}

func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "BillingHandler.CreateCheckout"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EUNAVAILABLE, op, "Billing is not configured"))
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if user.IsPremium {
		ErrorResponse(w, r, h.logger, domain.Conflict(op, "You already have an active subscription. Use the billing portal to change it."))
		return
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		var err error
		customerID, err = h.billing.CreateCustomer(user.Email, user.Name)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EUPSTREAM, op, "Failed to initialize billing"))
			return
		}
		if err := h.userService.UpdateStripeCustomer(r.Context(), user.ID, customerID); err != nil {
			// Checkout still works; the webhook can't match the customer
			// until this is retried.
			h.logger.Error("failed to save stripe customer ID", "error", err, "user_id", user.ID)
		}
	}

	successURL := h.baseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	cancelURL := h.baseURL + "/pricing"

	url, err := h.billing.CreateCheckoutSession(customerID, domain.BillingInterval(req.Plan), successURL, cancelURL)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EUPSTREAM, op, "Failed to create checkout session"))
		return
	}

	h.logger.Info("checkout session created", "user_id", user.ID, "plan", req.Plan)
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	const op = "BillingHandler.OpenPortal"

	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EUNAVAILABLE, op, "Billing is not configured"))
		return
	}
	if user.StripeCustomerID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "No billing account yet. Subscribe first."))
		return
	}

	url, err := h.billing.CreatePortalSession(user.StripeCustomerID, h.baseURL+"/account")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Wrap(err, domain.EUPSTREAM, op, "Failed to open billing portal"))
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}
