// Package testutil holds fixtures shared by the handler and end-to-end tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// TestCustomerID is the customer every mock Stripe object belongs to.
const TestCustomerID = "cus_test123"

// Clock is a settable clock for trial and rate-limit tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer records every message instead of sending it.
type Mailer struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (m *Mailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, Mail{To: to, Subject: subject, Body: body})
	return nil
}

// FailWith makes every following Send return err.
func (m *Mailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mailer) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}

// CreateMockStripeEvent wraps data the way Stripe delivers it to webhooks.
func CreateMockStripeEvent(eventType string, data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":     "evt_test123",
		"object": "event",
		"type":   eventType,
		"data": map[string]interface{}{
			"object": data,
		},
	}
}

func CreateMockCheckoutSession(customerEmail, sessionID string, hasCustomer bool) map[string]interface{} {
	session := map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"customer_email": customerEmail,
		"amount_total":   2999,
		"currency":       "usd",
		"payment_status": "paid",
	}

	if hasCustomer {
		session["customer"] = map[string]interface{}{
			"id": TestCustomerID,
		}
	}

	return session
}

// CreateMockSubscription builds a subscription for TestCustomerID whose
// single item ends its period at periodEnd.
func CreateMockSubscription(status string, periodEnd time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":       "sub_test123",
		"object":   "subscription",
		"customer": TestCustomerID,
		"status":   status,
		"items": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{
					"id":                 "si_test123",
					"current_period_end": periodEnd.Unix(),
				},
			},
		},
	}
}

func MarshalEvent(t *testing.T, event map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return payload
}

// SignedWebhookRequest signs payload with the real clock. Signature
// tolerance is checked against time.Now, not against a test Clock.
func SignedWebhookRequest(t *testing.T, target string, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func JSONRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

// AssertDeny checks the status and the deny body every gated route shares.
func AssertDeny(t *testing.T, w *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body map[string]string
	DecodeJSON(t, w, &body)
	if body["error"] != reason {
		t.Errorf("Expected reason %s, got %s", reason, body["error"])
	}
	if body["upgradeUrl"] != "/pricing" {
		t.Errorf("Expected upgradeUrl /pricing, got %q", body["upgradeUrl"])
	}
	if body["message"] == "" {
		t.Error("Expected a human readable message")
	}
}
