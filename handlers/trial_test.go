package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beliefcoach.app/cloud/internal/access"
	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/testutil"
	"beliefcoach.app/cloud/models"
)

func boot(t *testing.T, env *testEnv, email string) access.BootResult {
	t.Helper()
	w := env.do(testutil.JSONRequest(t, http.MethodPost, "/api/boot", BootRequest{Email: email}))
	assertStatus(t, w, http.StatusOK)
	var res access.BootResult
	testutil.DecodeJSON(t, w, &res)
	return res
}

func TestBoot_TrialThenExpired(t *testing.T) {
	env := newTestEnv(t)

	res := boot(t, env, "A@B.com")
	if res.Mode != access.ModeTrial {
		t.Errorf("Expected trial mode, got %s", res.Mode)
	}
	if res.DaysTotal != 7 || res.DaysUsed != 0 || res.DaysLeft != 7 {
		t.Errorf("Expected 7/0/7, got %d/%d/%d", res.DaysTotal, res.DaysUsed, res.DaysLeft)
	}
	if res.EndsAtISO != "2026-06-08T12:00:00.000Z" {
		t.Errorf("Unexpected endsAtISO %s", res.EndsAtISO)
	}

	env.clock.Advance(3 * 24 * time.Hour)
	res = boot(t, env, "a@b.com")
	if res.Mode != access.ModeTrial || res.DaysUsed != 3 || res.DaysLeft != 4 {
		t.Errorf("Expected same trial three days in, got %+v", res)
	}

	env.clock.Advance(5 * 24 * time.Hour)
	res = boot(t, env, "a@b.com")
	if res.Mode != access.ModeTrialExpired {
		t.Errorf("Expected trial_expired, got %s", res.Mode)
	}
	if res.DaysUsed != 7 || res.DaysLeft != 0 {
		t.Errorf("Expected 7 used and 0 left, got %d/%d", res.DaysUsed, res.DaysLeft)
	}
}

func TestBoot_Pro(t *testing.T) {
	env := newTestEnv(t)
	env.activeCustomer(t, "cus_alice", "alice@example.com")

	res := boot(t, env, "alice@example.com")
	if res.Mode != access.ModePro {
		t.Errorf("Expected pro mode, got %s", res.Mode)
	}
	if res.DaysTotal != 7 {
		t.Errorf("Expected daysTotal 7, got %d", res.DaysTotal)
	}
}

func TestBoot_LapsedSubscriptionFallsBackToTrial(t *testing.T) {
	env := newTestEnv(t)
	env.activeCustomer(t, "cus_alice", "alice@example.com")
	env.provider.SetSubscription(models.Subscription{ID: "sub_cus_alice", CustomerID: "cus_alice", Status: billing.StatusCanceled})

	res := boot(t, env, "alice@example.com")
	if res.Mode != access.ModeTrial {
		t.Errorf("Expected trial mode after cancellation, got %s", res.Mode)
	}
}

func TestBoot_ProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.activeCustomer(t, "cus_alice", "alice@example.com")
	env.provider.FailWith(errors.New("timeout"))

	w := env.do(testutil.JSONRequest(t, http.MethodPost, "/api/boot", BootRequest{Email: "alice@example.com"}))
	testutil.AssertDeny(t, w, http.StatusUnauthorized, "PAYWALL_ERROR")
}

func TestBoot_InvalidRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"invalid json", "{"},
		{"missing email", `{}`},
		{"not an email", `{"email":"nobody"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/boot", strings.NewReader(tt.body))
			w := env.do(req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}
}

func TestBoot_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t)

	big := `{"email":"` + strings.Repeat("a", int(maxBodyBytes)) + `@b.com"}`
	w := env.do(httptest.NewRequest(http.MethodPost, "/api/boot", strings.NewReader(big)))
	assertStatus(t, w, http.StatusBadRequest)
}

func TestTrialStatus_Cookie(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/trial/status", nil))
	assertStatus(t, w, http.StatusOK)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "bc_trial" {
		t.Fatalf("Expected bc_trial cookie, got %v", cookies)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Expected no-store, got %q", w.Header().Get("Cache-Control"))
	}

	var resp TrialStatusResponse
	testutil.DecodeJSON(t, w, &resp)
	if !resp.IsActive || resp.TrialDays != 7 || resp.DaysLeft != 7 {
		t.Errorf("Unexpected cookie trial %+v", resp)
	}
	if resp.StartedAt == nil || *resp.StartedAt != "2026-06-01T12:00:00.000Z" {
		t.Errorf("Unexpected startedAt %v", resp.StartedAt)
	}

	env.clock.Advance(7 * 24 * time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/api/trial/status", nil)
	req.AddCookie(cookies[0])
	w = env.do(req)
	assertStatus(t, w, http.StatusOK)
	testutil.DecodeJSON(t, w, &resp)
	if resp.IsActive || resp.DaysLeft != 0 {
		t.Errorf("Expected expired cookie trial, got %+v", resp)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("Expected existing cookie to be kept")
	}
}

func TestTrialStatus_CookielessRequestsDoNotStoreTrials(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 50; i++ {
		w := env.do(httptest.NewRequest(http.MethodGet, "/api/trial/status", nil))
		assertStatus(t, w, http.StatusOK)
		if len(w.Result().Cookies()) != 1 {
			t.Fatalf("Expected a trial cookie on request %d", i)
		}
	}
	if n := env.store.Len(); n != 0 {
		t.Errorf("Expected no stored trials for cookieless clients, got %d blobs", n)
	}
}

func TestTrialStatus_EmailNeverStarts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/trial/status?email=new@example.com", nil))
	assertStatus(t, w, http.StatusOK)

	var resp TrialStatusResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.StartedAt != nil || resp.IsActive || resp.DaysLeft != 7 {
		t.Errorf("Expected not-started trial, got %+v", resp)
	}

	boot(t, env, "new@example.com")
	w = env.do(httptest.NewRequest(http.MethodGet, "/api/trial/status?email=NEW@example.com", nil))
	testutil.DecodeJSON(t, w, &resp)
	if resp.StartedAt == nil || !resp.IsActive {
		t.Errorf("Expected started trial after boot, got %+v", resp)
	}
}

func TestQuestionnaire_CookieGate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(testutil.JSONRequest(t, http.MethodPost, "/api/questionnaire", QuestionnaireRequest{Topic: "career"}))
	assertStatus(t, w, http.StatusOK)

	var resp QuestionnaireResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.Topic != "career" || len(resp.Questions) != 6 {
		t.Errorf("Expected 6 questions about career, got %+v", resp)
	}

	cookie := w.Result().Cookies()[0]
	env.clock.Advance(8 * 24 * time.Hour)

	req := testutil.JSONRequest(t, http.MethodPost, "/api/questionnaire", QuestionnaireRequest{Topic: "career"})
	req.AddCookie(cookie)
	w = env.do(req)
	testutil.AssertDeny(t, w, http.StatusPaymentRequired, "TRIAL_EXPIRED")
}

func TestQuestionnaire_PayingCallerBypassesExpiredCookie(t *testing.T) {
	env := newTestEnv(t)
	key := env.activeCustomer(t, "cus_alice", "alice@example.com")

	w := env.do(testutil.JSONRequest(t, http.MethodPost, "/api/questionnaire", QuestionnaireRequest{}))
	cookie := w.Result().Cookies()[0]
	env.clock.Advance(30 * 24 * time.Hour)

	req := testutil.JSONRequest(t, http.MethodPost, "/api/questionnaire?key="+key, QuestionnaireRequest{})
	req.AddCookie(cookie)
	w = env.do(req)
	assertStatus(t, w, http.StatusOK)
}

func analysisRequest(t *testing.T, target string) *http.Request {
	return testutil.JSONRequest(t, http.MethodPost, target, AnalysisRequest{Topic: "work", Answers: sampleAnswers()})
}

func TestAnalysis_TrialQuota(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < env.cfg.TrialDailyAnalyses; i++ {
		w := env.do(analysisRequest(t, "/api/analysis?email=trial@example.com"))
		assertStatus(t, w, http.StatusOK)
	}

	w := env.do(analysisRequest(t, "/api/analysis?email=trial@example.com"))
	testutil.AssertDeny(t, w, http.StatusTooManyRequests, "RATE_LIMITED")
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	w = env.do(analysisRequest(t, "/api/analysis?email=other@example.com"))
	assertStatus(t, w, http.StatusOK)
}

func TestAnalysis_PayingCallersHaveNoQuota(t *testing.T) {
	env := newTestEnv(t)
	key := env.activeCustomer(t, "cus_alice", "alice@example.com")

	for i := 0; i < env.cfg.TrialDailyAnalyses+2; i++ {
		w := env.do(analysisRequest(t, "/api/analysis?key="+key))
		assertStatus(t, w, http.StatusOK)
	}
}

func TestAnalysis_Result(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(analysisRequest(t, "/api/analysis?email=trial@example.com"))
	assertStatus(t, w, http.StatusOK)

	var a models.Analysis
	testutil.DecodeJSON(t, w, &a)
	if a.Topic != "work" || a.Analyzed != 2 {
		t.Errorf("Unexpected analysis header %+v", a)
	}
	if len(a.Beliefs) == 0 {
		t.Error("Expected at least one belief")
	}
}

func TestAnalysis_NoIdentity(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(analysisRequest(t, "/api/analysis"))
	testutil.AssertDeny(t, w, http.StatusPaymentRequired, "UPGRADE_REQUIRED")
}

func TestQuotaKey(t *testing.T) {
	now := time.Date(2026, 6, 1, 23, 59, 0, 0, time.UTC)
	snap := models.TrialSnapshot{IdentityKey: "a@b.com"}

	trialV := access.Allow(access.ViaTrial)
	trialV.Trial = &snap
	if got := quotaKey(trialV, now); got != "analysis:a@b.com:2026-06-01" {
		t.Errorf("Unexpected quota key %s", got)
	}
	if got := quotaKey(access.Allow(access.ViaLicense), now); got != "" {
		t.Errorf("Expected no quota for license callers, got %s", got)
	}
}
