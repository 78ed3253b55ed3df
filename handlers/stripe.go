package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/email"
	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/metrics"
	"beliefcoach.app/cloud/models"
)

var subscriptionSources = map[stripe.EventType]string{
	"customer.subscription.created": models.SourceSubscriptionCreated,
	"customer.subscription.updated": models.SourceSubscriptionUpdated,
	"customer.subscription.deleted": models.SourceSubscriptionDeleted,
}

func (s *Server) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	logger.Info("Stripe webhook received", map[string]interface{}{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.Header.Get("User-Agent"),
	})

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		status = http.StatusServiceUnavailable
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		w.WriteHeader(status)
		return
	}

	var event stripe.Event
	if s.cfg.TestMode {
		logger.Debug("Skipping webhook signature verification (test mode)")
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.Error("Failed to parse webhook JSON", map[string]interface{}{
				"error": err.Error(),
			})
			status = http.StatusBadRequest
			w.WriteHeader(status)
			return
		}
	} else {
		signatureHeader := r.Header.Get("Stripe-Signature")
		event, err = webhook.ConstructEventWithOptions(payload, signatureHeader, s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			logger.Error("Webhook signature verification failed", map[string]interface{}{
				"error":     err.Error(),
				"signature": signatureHeader,
			})
			status = http.StatusBadRequest
			w.WriteHeader(status)
			return
		}
	}
	eventType = string(event.Type)

	logger.Info("Stripe event parsed", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})

	if err := s.handleEvent(r.Context(), &event); err != nil {
		logger.Error("Stripe webhook processing failed", map[string]interface{}{
			"error":      err.Error(),
			"event_type": event.Type,
			"event_id":   event.ID,
		})
		status = http.StatusInternalServerError
		w.WriteHeader(status)
		return
	}

	writeJSON(w, status, map[string]string{"received": "true"})
}

func (s *Server) handleEvent(ctx context.Context, event *stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}

	if event.Type == "checkout.session.completed" {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("unmarshal checkout session: %w", err)
		}
		return s.handleCheckoutComplete(ctx, &session)
	}

	if source, ok := subscriptionSources[event.Type]; ok {
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("unmarshal subscription: %w", err)
		}
		return s.handleSubscriptionChange(ctx, &sub, source)
	}

	logger.Info("Unhandled webhook event type", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})
	return nil
}

// handleCheckoutComplete issues a license for the paying customer and mails
// the key. Mail failures are logged and do not fail the webhook.
func (s *Server) handleCheckoutComplete(ctx context.Context, session *stripe.CheckoutSession) error {
	customerEmail := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		customerEmail = session.CustomerDetails.Email
	}

	logger.Info("Processing checkout session", map[string]interface{}{
		"session_id":     session.ID,
		"payment_status": session.PaymentStatus,
	})

	customerID, err := s.findOrCreateCustomer(ctx, session, customerEmail)
	if err != nil {
		return err
	}

	rec, err := s.Licenses.Issue(ctx, customerID, customerEmail, models.SourceCheckoutCompleted)
	if err != nil {
		return fmt.Errorf("issue license: %w", err)
	}

	if customerEmail == "" {
		logger.Warn("Checkout session has no email, license not mailed", map[string]interface{}{
			"session_id":  session.ID,
			"customer_id": customerID,
		})
		return nil
	}

	subject, body := email.LicenseMessage(rec.LicenseKey, s.cfg.PublicBaseURL)
	if err := s.mailer.Send(ctx, customerEmail, subject, body); err != nil {
		logger.Error("Failed to send license email", map[string]interface{}{
			"error":       err.Error(),
			"customer_id": customerID,
			"session_id":  session.ID,
		})
	} else {
		logger.Info("License email sent successfully", map[string]interface{}{
			"customer_id": customerID,
		})
	}
	return nil
}

func (s *Server) findOrCreateCustomer(ctx context.Context, session *stripe.CheckoutSession, customerEmail string) (string, error) {
	if session.Customer != nil && session.Customer.ID != "" {
		return session.Customer.ID, nil
	}
	if customerEmail == "" {
		return "", fmt.Errorf("checkout session %s has neither customer nor email", session.ID)
	}

	logger.Warn("Checkout session without customer, resolving by email", map[string]interface{}{
		"session_id": session.ID,
	})

	found, err := s.provider.FindCustomersByEmail(ctx, customerEmail)
	if err != nil {
		return "", fmt.Errorf("find customer: %w", err)
	}
	if len(found) > 0 {
		return found[0].ID, nil
	}

	created, err := s.provider.CreateCustomer(ctx, customerEmail)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return created.ID, nil
}

func (s *Server) handleSubscriptionChange(ctx context.Context, stripeSub *stripe.Subscription, source string) error {
	sub := billing.SubscriptionFromStripe(stripeSub)
	if sub.CustomerID == "" {
		return fmt.Errorf("subscription %s has no customer", sub.ID)
	}

	var customerEmail string
	if stripeSub.Customer != nil {
		customerEmail = stripeSub.Customer.Email
	}
	if customerEmail == "" {
		customerEmail = s.customerEmail(ctx, sub.CustomerID)
	}

	if _, err := s.Licenses.RecordSubscription(ctx, sub, customerEmail, source); err != nil {
		return fmt.Errorf("record subscription: %w", err)
	}

	logger.Info("Subscription snapshot recorded", map[string]interface{}{
		"subscription_id": sub.ID,
		"customer_id":     sub.CustomerID,
		"status":          sub.Status,
		"source":          source,
	})
	return nil
}

// customerEmail looks up the email of a customer the webhook sent unexpanded,
// unless an earlier record already carries one. Lookup failures leave it empty.
func (s *Server) customerEmail(ctx context.Context, customerID string) string {
	prev, err := s.Licenses.Latest(ctx, customerID)
	if err == nil && prev != nil && prev.Email != "" {
		return ""
	}

	customer, err := s.provider.GetCustomer(ctx, customerID)
	if err != nil {
		logger.Warn("Could not look up subscription customer", map[string]interface{}{
			"error":       err.Error(),
			"customer_id": customerID,
		})
		return ""
	}
	return customer.Email
}
