package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"beliefcoach.app/cloud/internal/metrics"
	"beliefcoach.app/cloud/models"
)

type StripeProvider struct {
	api     *client.API
	timeout time.Duration
}

func NewStripeProvider(secret string, timeout time.Duration) *StripeProvider {
	httpClient := &http.Client{Timeout: timeout}

	api := &client.API{}
	api.Init(secret, stripe.NewBackends(httpClient))

	return &StripeProvider{
		api:     api,
		timeout: timeout,
	}
}

func (p *StripeProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]models.Subscription, error) {
	defer metrics.ObserveProviderCall("list_subscriptions", time.Now())

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var subs []models.Subscription
	it := p.api.Subscriptions.List(params)
	for it.Next() {
		subs = append(subs, subscriptionFromStripe(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, verificationFailed("list subscriptions", err)
	}

	return subs, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	defer metrics.ObserveProviderCall("cancel_subscription", time.Now())

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return verificationFailed("cancel subscription", err)
	}
	return nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	defer metrics.ObserveProviderCall("get_customer", time.Now())

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, verificationFailed("get customer", err)
	}
	return customerFromStripe(c), nil
}

func (p *StripeProvider) FindCustomersByEmail(ctx context.Context, email string) ([]models.Customer, error) {
	defer metrics.ObserveProviderCall("list_customers", time.Now())

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerListParams{
		Email: stripe.String(strings.TrimSpace(email)),
	}
	params.Context = ctx

	var customers []models.Customer
	it := p.api.Customers.List(params)
	for it.Next() {
		customers = append(customers, *customerFromStripe(it.Customer()))
	}
	if err := it.Err(); err != nil {
		return nil, verificationFailed("list customers", err)
	}
	return customers, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email string) (*models.Customer, error) {
	defer metrics.ObserveProviderCall("create_customer", time.Now())

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(strings.TrimSpace(email)),
	}
	params.Context = ctx

	c, err := p.api.Customers.New(params)
	if err != nil {
		return nil, verificationFailed("create customer", err)
	}
	return customerFromStripe(c), nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	defer metrics.ObserveProviderCall("create_checkout_session", time.Now())

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", verificationFailed("create checkout session", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", verificationFailed("create checkout session", errors.New("empty checkout URL"))
	}
	return strings.TrimSpace(session.URL), nil
}

func customerFromStripe(c *stripe.Customer) *models.Customer {
	if c == nil {
		return &models.Customer{}
	}
	return &models.Customer{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		CreatedAt: time.Unix(c.Created, 0).UTC(),
	}
}

// SubscriptionFromStripe converts a webhook or API subscription object.
func SubscriptionFromStripe(s *stripe.Subscription) models.Subscription {
	return subscriptionFromStripe(s)
}

func subscriptionFromStripe(s *stripe.Subscription) models.Subscription {
	sub := models.Subscription{
		ID:     s.ID,
		Status: string(s.Status),
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	// period end lives on the items since the 2025-03 API version
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item != nil && item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
				if end.After(sub.CurrentPeriodEnd) {
					sub.CurrentPeriodEnd = end
				}
			}
		}
	}
	return sub
}
