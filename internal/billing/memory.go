package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"beliefcoach.app/cloud/models"
)

// MemoryProvider is an in-process Provider used in TEST_MODE and in tests.
type MemoryProvider struct {
	mu            sync.Mutex
	customers     map[string]models.Customer
	subscriptions map[string]models.Subscription
	checkouts     []CheckoutRequest
	failWith      error
	calls         int
	nextID        int
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		customers:     make(map[string]models.Customer),
		subscriptions: make(map[string]models.Subscription),
	}
}

// FailWith makes every following call fail with ErrVerificationFailed wrapping err.
// A nil err restores normal behaviour.
func (m *MemoryProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls reports how many provider calls were made.
func (m *MemoryProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MemoryProvider) AddCustomer(c models.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.customers[c.ID] = c
}

// SetSubscription creates or replaces a subscription.
func (m *MemoryProvider) SetSubscription(sub models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = sub
}

func (m *MemoryProvider) Subscription(id string) (models.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	return sub, ok
}

func (m *MemoryProvider) begin(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failWith != nil {
		return verificationFailed(op, m.failWith)
	}
	return nil
}

func (m *MemoryProvider) ListSubscriptions(ctx context.Context, customerID string) ([]models.Subscription, error) {
	if err := m.begin("list subscriptions"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, verificationFailed("list subscriptions", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []models.Subscription
	for _, s := range m.subscriptions {
		if s.CustomerID == customerID {
			subs = append(subs, s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (m *MemoryProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if err := m.begin("cancel subscription"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return verificationFailed("cancel subscription", fmt.Errorf("no such subscription: %s", subscriptionID))
	}
	sub.Status = StatusCanceled
	m.subscriptions[subscriptionID] = sub
	return nil
}

func (m *MemoryProvider) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	if err := m.begin("get customer"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[customerID]
	if !ok {
		return nil, verificationFailed("get customer", fmt.Errorf("no such customer: %s", customerID))
	}
	return &c, nil
}

func (m *MemoryProvider) FindCustomersByEmail(ctx context.Context, email string) ([]models.Customer, error) {
	if err := m.begin("list customers"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var found []models.Customer
	for _, c := range m.customers {
		if strings.EqualFold(c.Email, strings.TrimSpace(email)) {
			found = append(found, c)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

func (m *MemoryProvider) CreateCustomer(ctx context.Context, email string) (*models.Customer, error) {
	if err := m.begin("create customer"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	c := models.Customer{
		ID:        fmt.Sprintf("cus_mem%04d", m.nextID),
		Email:     strings.TrimSpace(email),
		CreatedAt: time.Now().UTC(),
	}
	m.customers[c.ID] = c
	return &c, nil
}

func (m *MemoryProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if err := m.begin("create checkout session"); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.PriceID == "" {
		return "", verificationFailed("create checkout session", fmt.Errorf("missing price"))
	}
	m.checkouts = append(m.checkouts, req)
	return fmt.Sprintf("https://checkout.stripe.test/c/cs_mem%04d", len(m.checkouts)), nil
}

// Checkouts returns the checkout sessions created so far.
func (m *MemoryProvider) Checkouts() []CheckoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CheckoutRequest(nil), m.checkouts...)
}
