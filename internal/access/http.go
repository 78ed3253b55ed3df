package access

import (
	"context"
	"encoding/json"
	"net/http"

	"beliefcoach.app/cloud/internal/ratelimit"
)

const (
	UpgradeURL = "/pricing"
	maxDiag    = 120
)

type DenyBody struct {
	Error      Reason `json:"error"`
	Message    string `json:"message"`
	UpgradeURL string `json:"upgradeUrl"`
	Diag       string `json:"diag,omitempty"`
}

// StatusFor maps a deny reason to its HTTP status.
func StatusFor(reason Reason) int {
	switch reason {
	case ReasonPaywallError:
		return http.StatusUnauthorized
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusPaymentRequired
	}
}

// Responder writes deny responses. Diagnostics holds whether a short cause
// may be echoed to callers that pass debug=1.
type Responder struct {
	Diagnostics bool
}

func (rs Responder) WriteDeny(w http.ResponseWriter, r *http.Request, v Verdict) {
	body := DenyBody{
		Error:      v.Reason,
		Message:    v.Message,
		UpgradeURL: UpgradeURL,
	}
	if body.Message == "" {
		body.Message = v.Reason.Message()
	}
	if rs.Diagnostics && v.Err != nil && r.URL.Query().Get("debug") == "1" {
		body.Diag = truncate(v.Err.Error(), maxDiag)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(v.Reason))
	json.NewEncoder(w).Encode(body)
}

// WriteRateLimited answers 429 with Retry-After in whole seconds.
func (rs Responder) WriteRateLimited(w http.ResponseWriter, r *http.Request, d ratelimit.Decision) {
	ratelimit.SetRetryAfter(w, d)
	rs.WriteDeny(w, r, Deny(ReasonRateLimited, nil))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type ctxKey struct{}

func WithVerdict(ctx context.Context, v Verdict) context.Context {
	return context.WithValue(ctx, ctxKey{}, v)
}

// FromContext returns the verdict stored by Require.
func FromContext(ctx context.Context) (Verdict, bool) {
	v, ok := ctx.Value(ctxKey{}).(Verdict)
	return v, ok
}

// Require gates a handler. Allowed requests carry their verdict in the context.
func (g *Gate) Require(opts Options, rs Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := g.Check(r.Context(), HintsFromRequest(r), opts)
			if !v.Allowed {
				rs.WriteDeny(w, r, v)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithVerdict(r.Context(), v)))
		})
	}
}
