package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/models"
)

func newCookieTrial(f *fixture) *CookieTrial {
	return &CookieTrial{Tracker: f.tracker, Gate: f.gate, Name: "bc_trial"}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestCookieTrial_StartIssuesCookie(t *testing.T) {
	f := newFixture(t)
	ct := newCookieTrial(f)

	rec := httptest.NewRecorder()
	ct.Start(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trial/status", nil))

	resp := rec.Result()
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "bc_trial", c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 7*86400, c.MaxAge)
	assert.Equal(t, 0, f.trialCount(t))

	// the returning visitor's trial starts when the cookie was issued
	f.clock.Advance(2 * time.Hour)
	var snap models.TrialSnapshot
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/trial/status", nil)
	req.AddCookie(&http.Cookie{Name: "bc_trial", Value: c.Value})
	ct.Start(captureSnapshot(&snap)).ServeHTTP(rec, req)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 1, f.trialCount(t))
	assert.Equal(t, time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), snap.StartedAt.UTC())
	assert.Equal(t, 7, snap.DaysLeft)
}

func captureSnapshot(dst *models.TrialSnapshot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*dst, _ = CookieSnapshot(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestCookieTrial_CookielessClientsDoNotWrite(t *testing.T) {
	f := newFixture(t)
	ct := newCookieTrial(f)
	h := ct.Start(ct.Require(okHandler()))

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/questionnaire", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, rec.Result().Cookies(), 1)
	}
	assert.Equal(t, 0, f.trialCount(t))
	assert.Equal(t, 0, f.store.Len())
}

func TestCookieTrial_StampedCookieExpiresFromIssue(t *testing.T) {
	f := newFixture(t)
	ct := newCookieTrial(f)
	h := ct.Start(ct.Require(okHandler()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/questionnaire", nil))
	cookie := rec.Result().Cookies()[0]

	// first return after the window has already elapsed
	f.clock.Advance(8 * 24 * time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/api/questionnaire", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, ReasonTrialExpired, decodeDeny(t, rec).Error)
}

func TestCookieTrial_RequireActiveThenExpired(t *testing.T) {
	f := newFixture(t)
	ct := newCookieTrial(f)
	h := ct.Start(ct.Require(okHandler()))

	req := httptest.NewRequest(http.MethodPost, "/api/questionnaire", nil)
	req.AddCookie(&http.Cookie{Name: "bc_trial", Value: "4b0c1a8e-2f0d-4a3b-8c1e-5d6f7a8b9c0d"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.clock.Advance(7 * 24 * time.Hour)
	req = httptest.NewRequest(http.MethodPost, "/api/questionnaire", nil)
	req.AddCookie(&http.Cookie{Name: "bc_trial", Value: "4b0c1a8e-2f0d-4a3b-8c1e-5d6f7a8b9c0d"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, ReasonTrialExpired, decodeDeny(t, rec).Error)
}

func TestCookieTrial_PayingCallerBypassesExpiredCookie(t *testing.T) {
	f := newFixture(t)
	ct := newCookieTrial(f)
	h := ct.Start(ct.Require(okHandler()))
	f.provider.SetSubscription(models.Subscription{ID: "sub_1", CustomerID: "cus_123", Status: billing.StatusActive})

	req := httptest.NewRequest(http.MethodPost, "/api/questionnaire", nil)
	req.AddCookie(&http.Cookie{Name: "bc_trial", Value: "4b0c1a8e-2f0d-4a3b-8c1e-5d6f7a8b9c0d"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	f.clock.Advance(30 * 24 * time.Hour)

	req = httptest.NewRequest(http.MethodPost, "/api/questionnaire?key=LIC-PRO-cus_123-DEADBEEF", nil)
	req.AddCookie(&http.Cookie{Name: "bc_trial", Value: "4b0c1a8e-2f0d-4a3b-8c1e-5d6f7a8b9c0d"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCookieTrial_InvalidCookieReplaced(t *testing.T) {
	f := newFixture(t)
	ct := newCookieTrial(f)

	req := httptest.NewRequest(http.MethodGet, "/api/trial/status", nil)
	req.AddCookie(&http.Cookie{Name: "bc_trial", Value: "../../etc"})
	rec := httptest.NewRecorder()
	ct.Start(okHandler()).ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.NotEqual(t, "../../etc", cookies[0].Value)
}
