package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/chartlens/internal/billing"
	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/DukeRupert/chartlens/internal/service"
	"github.com/stripe/stripe-go/v79"
)

// maxWebhookBody matches the size Stripe documents for event payloads.
const maxWebhookBody = 65536

// WebhookHandler applies Stripe subscription events to users.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is public; authentication is the Stripe signature.
type WebhookHandler struct {
	billing     billing.Service
	userService service.UserService
	logger      *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, userService service.UserService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:     billingService,
		userService: userService,
		logger:      logger,
	}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook answers 200 for events it ignores or cannot match to a
// user, and 500 when applying a matched event failed so Stripe retries it.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.billing.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Finish applying the event even if Stripe hangs up.
	ctx := context.WithoutCancel(r.Context())

	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		err = h.handleSubscriptionChange(ctx, event)
	case "invoice.payment_failed":
		err = h.handlePaymentFailed(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	if err != nil {
		h.logger.Error("failed to apply webhook event", "error", err, "type", event.Type, "id", event.ID)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return nil
	}
	if sess.Customer == nil || sess.Subscription == nil {
		h.logger.Warn("checkout session missing customer or subscription", "session_id", sess.ID)
		return nil
	}

	user, ok := h.lookup(ctx, sess.Customer.ID)
	if !ok {
		return nil
	}

	// The subscription.created event carries the period end; this just
	// unlocks premium as soon as checkout finishes.
	return h.userService.UpdateSubscription(ctx, domain.SubscriptionUpdate{
		UserID:         user.ID,
		Status:         domain.SubscriptionStatusActive,
		SubscriptionID: sess.Subscription.ID,
	})
}

// handleSubscriptionChange covers created, updated and deleted. A deleted
// subscription arrives with status canceled and its final period end, which
// starts the grace window.
func (h *WebhookHandler) handleSubscriptionChange(ctx context.Context, event stripe.Event) error {
	sub, err := billing.DecodeSubscription(event)
	if err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "type", event.Type)
		return nil
	}

	user, ok := h.lookup(ctx, sub.CustomerID)
	if !ok {
		return nil
	}

	if err := h.userService.UpdateSubscription(ctx, domain.SubscriptionUpdate{
		UserID:         user.ID,
		Status:         sub.Status,
		SubscriptionID: sub.SubscriptionID,
		PeriodEnd:      sub.PeriodEnd,
	}); err != nil {
		return err
	}

	h.logger.Info("subscription event processed",
		"user_id", user.ID, "type", event.Type, "status", sub.Status)
	return nil
}

func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice payment failed event", "error", err)
		return nil
	}
	if invoice.Customer == nil {
		return nil
	}

	user, ok := h.lookup(ctx, invoice.Customer.ID)
	if !ok {
		return nil
	}

	h.logger.Warn("payment failed", "user_id", user.ID, "customer_id", invoice.Customer.ID)
	return h.userService.UpdateSubscription(ctx, domain.SubscriptionUpdate{
		UserID:         user.ID,
		Status:         domain.SubscriptionStatusPastDue,
		SubscriptionID: user.SubscriptionID,
	})
}

func (h *WebhookHandler) lookup(ctx context.Context, customerID string) (*domain.User, bool) {
	user, err := h.userService.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		h.logger.Warn("no user for stripe customer", "customer_id", customerID, "error", err)
		return nil, false
	}
	return user, true
}
