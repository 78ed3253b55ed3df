package access

import (
	"context"
	"net/http"
	"time"

	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/trial"
	"beliefcoach.app/cloud/models"
)

// CookieTrial is the low-trust edge variant: an anonymous cookie keys its
// own trial, started on the first API call of any kind.
type CookieTrial struct {
	Tracker *trial.Tracker
	Gate    *Gate
	Name    string
	Resp    Responder
}

type cookieCtxKey struct{}

// CookieSnapshot returns the cookie trial that Start attached to the request.
func CookieSnapshot(ctx context.Context) (models.TrialSnapshot, bool) {
	snap, ok := ctx.Value(cookieCtxKey{}).(models.TrialSnapshot)
	return snap, ok
}

// Start issues the trial cookie when missing and attaches the cookie trial to
// the request. A fresh cookie's trial is stored only once the client sends the
// cookie back, so cookieless clients never write. It never denies; storage
// failures are logged and the request continues without a cookie trial.
func (c *CookieTrial) Start(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := c.identity(r)
		if !id.Valid() {
			id, snap := c.Tracker.IssueCookie()
			http.SetCookie(w, c.cookie(id.Key))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cookieCtxKey{}, snap)))
			return
		}

		snap, err := c.Tracker.Ensure(r.Context(), id)
		if err != nil {
			logger.Warn("Cookie trial unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cookieCtxKey{}, snap)))
	})
}

// Require lets paying callers through and otherwise grants access only
// while the cookie trial is active.
func (c *CookieTrial) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hints := HintsFromRequest(r)
		var paid Verdict
		if hints.LicenseKey != "" || hints.Email != "" {
			paid = c.Gate.Check(r.Context(), hints, Options{AllowTrial: false})
			if paid.Allowed {
				next.ServeHTTP(w, r.WithContext(WithVerdict(r.Context(), paid)))
				return
			}
		}

		snap, ok := CookieSnapshot(r.Context())
		if ok && snap.Active {
			v := trialVerdict(snap)
			next.ServeHTTP(w, r.WithContext(WithVerdict(r.Context(), v)))
			return
		}

		switch {
		case paid.Reason != ReasonNone && paid.Reason != ReasonUpgradeRequired:
			c.Resp.WriteDeny(w, r, paid)
		case ok:
			c.Resp.WriteDeny(w, r, Deny(ReasonTrialExpired, nil))
		default:
			c.Resp.WriteDeny(w, r, Deny(ReasonUpgradeRequired, nil))
		}
	})
}

func (c *CookieTrial) identity(r *http.Request) trial.Identity {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return trial.Identity{Kind: trial.KindCookie}
	}
	return trial.CookieIdentity(ck.Value)
}

func (c *CookieTrial) cookie(value string) *http.Cookie {
	maxAge := time.Duration(c.Tracker.Days()) * 24 * time.Hour
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}
