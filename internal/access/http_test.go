package access

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/ratelimit"
	"beliefcoach.app/cloud/models"
)

func decodeDeny(t *testing.T, rec *httptest.ResponseRecorder) DenyBody {
	t.Helper()
	var body DenyBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(ReasonUpgradeRequired))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(ReasonLegacyLicenseFormat))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(ReasonSubInactive))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(ReasonTrialExpired))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(ReasonPaywallError))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(ReasonRateLimited))
}

func TestWriteDeny_Contract(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/reports?debug=1", nil)

	Responder{}.WriteDeny(rec, req, Deny(ReasonPaywallError, errors.New("stripe: invalid api key sk_live_abc for cus_123")))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeDeny(t, rec)
	assert.Equal(t, ReasonPaywallError, body.Error)
	assert.Equal(t, "/pricing", body.UpgradeURL)
	assert.NotEmpty(t, body.Message)
	assert.Empty(t, body.Diag, "diagnostics are off")
	assert.NotContains(t, rec.Body.String(), "cus_123")
}

func TestWriteDeny_Diagnostics(t *testing.T) {
	cause := errors.New(strings.Repeat("x", 300))

	rec := httptest.NewRecorder()
	Responder{Diagnostics: true}.WriteDeny(rec, httptest.NewRequest(http.MethodGet, "/?debug=1", nil), Deny(ReasonPaywallError, cause))
	assert.Len(t, decodeDeny(t, rec).Diag, 120)

	rec = httptest.NewRecorder()
	Responder{Diagnostics: true}.WriteDeny(rec, httptest.NewRequest(http.MethodGet, "/", nil), Deny(ReasonPaywallError, cause))
	assert.Empty(t, decodeDeny(t, rec).Diag, "debug=1 is required")
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	Responder{}.WriteRateLimited(rec, httptest.NewRequest(http.MethodGet, "/", nil), ratelimit.Decision{RetryAfter: 300 * time.Millisecond})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, ReasonRateLimited, decodeDeny(t, rec).Error)
}

func TestHintsFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?key=QUERY&email=a@b.com", nil)
	req.Header.Set(LicenseKeyHeader, "HEADER")
	assert.Equal(t, Hints{LicenseKey: "QUERY", Email: "a@b.com"}, HintsFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(LicenseKeyHeader, " HEADER ")
	assert.Equal(t, Hints{LicenseKey: "HEADER"}, HintsFromRequest(req))
}

func TestRequire(t *testing.T) {
	f := newFixture(t)
	f.provider.SetSubscription(models.Subscription{ID: "sub_1", CustomerID: "cus_123", Status: billing.StatusActive})

	var seen Verdict
	h := f.gate.Require(Options{AllowTrial: false}, Responder{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reports?key=LIC-PRO-cus_123-DEADBEEF", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, ViaLicense, seen.Via)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reports?email=a@b.com", nil))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, ReasonUpgradeRequired, decodeDeny(t, rec).Error)
}
