// Package billing wraps the subscription billing provider that is the source
// of truth for whether a customer is paying.
package billing

import (
	"context"
	"errors"
	"fmt"

	"beliefcoach.app/cloud/models"
)

// ErrVerificationFailed marks any provider call that failed or timed out.
// Callers must treat it as "unknown", never as "not paying".
var ErrVerificationFailed = errors.New("billing: verification failed")

const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusUnpaid            = "unpaid"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusCanceled          = "canceled"
	StatusPaused            = "paused"
)

type Provider interface {
	// ListSubscriptions returns every subscription of the customer regardless of status.
	ListSubscriptions(ctx context.Context, customerID string) ([]models.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
	FindCustomersByEmail(ctx context.Context, email string) ([]models.Customer, error)
	CreateCustomer(ctx context.Context, email string) (*models.Customer, error)
	// CreateCheckoutSession starts a hosted subscription checkout and returns its URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// CheckoutRequest describes a one-seat subscription checkout.
type CheckoutRequest struct {
	PriceID    string
	Email      string
	SuccessURL string
	CancelURL  string
}

func verificationFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrVerificationFailed, op, err)
}
