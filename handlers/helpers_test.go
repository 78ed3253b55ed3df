package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/config"
	"beliefcoach.app/cloud/internal/testutil"
	"beliefcoach.app/cloud/models"
	"beliefcoach.app/cloud/storage"
)

const testWebhookSecret = "whsec_test_secret"

type testEnv struct {
	server   *Server
	provider *billing.MemoryProvider
	store    *storage.MemoryStore
	mailer   *testutil.Mailer
	clock    *testutil.Clock
	cfg      *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                "8080",
		PublicBaseURL:       "http://localhost:8080",
		StripeWebhookSecret: testWebhookSecret,
		TrialDays:           7,
		TrialCookieName:     "bc_trial",
		TrialDailyAnalyses:  3,
		ListRateLimit:       30,
		BlobBackend:         config.BlobBackendMemory,
		AdminToken:          "admin-token-123",
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	clock := testutil.NewClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	env := &testEnv{
		provider: billing.NewMemoryProvider(),
		store:    storage.NewMemoryStore(cfg.PublicBaseURL, storage.WithMemoryClock(clock.Now)),
		mailer:   &testutil.Mailer{},
		clock:    clock,
		cfg:      cfg,
	}
	env.server = NewServer(Deps{
		Config:   cfg,
		Provider: env.provider,
		Store:    env.store,
		Mailer:   env.mailer,
		Clock:    clock.Now,
		Version:  "test",
	})
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) activeCustomer(t *testing.T, customerID, email string) string {
	t.Helper()
	e.provider.SetSubscription(models.Subscription{ID: "sub_" + customerID, CustomerID: customerID, Status: billing.StatusActive})
	rec, err := e.server.Licenses.Issue(context.Background(), customerID, email, models.SourceCheckoutCompleted)
	if err != nil {
		t.Fatalf("Failed to issue license: %v", err)
	}
	return rec.LicenseKey
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func sampleAnswers() []models.Answer {
	return []models.Answer{
		{QuestionID: "q2", Text: "I always procrastinate. I'm not disciplined enough."},
		{QuestionID: "q4", Text: "I should have figured this out by now."},
	}
}
