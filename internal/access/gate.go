// Package access combines license and trial checks into one verdict per
// protected request.
package access

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"beliefcoach.app/cloud/internal/license"
	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/metrics"
	"beliefcoach.app/cloud/internal/trial"
	"beliefcoach.app/cloud/models"
	"beliefcoach.app/cloud/storage"
)

const LicenseKeyHeader = "X-License-Key"

// Hints are the identity claims a request carries.
type Hints struct {
	LicenseKey string
	Email      string
}

// HintsFromRequest reads the key from ?key= then X-License-Key, and the email from ?email=.
func HintsFromRequest(r *http.Request) Hints {
	q := r.URL.Query()
	key := strings.TrimSpace(q.Get("key"))
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(LicenseKeyHeader))
	}
	return Hints{
		LicenseKey: key,
		Email:      strings.TrimSpace(q.Get("email")),
	}
}

type Options struct {
	AllowTrial bool
}

type Gate struct {
	licenses *license.Resolver
	trials   *trial.Tracker
}

func NewGate(licenses *license.Resolver, trials *trial.Tracker) *Gate {
	return &Gate{licenses: licenses, trials: trials}
}

// Check decides whether the request may proceed. The first matching rule
// wins: license key, then email, then deny. It never returns an error; any
// failure to verify becomes a PAYWALL_ERROR deny.
func (g *Gate) Check(ctx context.Context, h Hints, opts Options) Verdict {
	v := g.check(ctx, h, opts)

	reason := string(v.Reason)
	if reason == "" {
		reason = "none"
	}
	metrics.AccessVerdictsTotal.WithLabelValues(string(v.Via), reason).Inc()

	if !v.Allowed {
		fields := map[string]interface{}{
			"reason":      reason,
			"allow_trial": opts.AllowTrial,
		}
		if v.Err != nil {
			fields["error"] = v.Err.Error()
		}
		logger.Info("Access denied", fields)
	}
	return v
}

func (g *Gate) check(ctx context.Context, h Hints, opts Options) Verdict {
	if h.LicenseKey != "" {
		return g.checkKey(ctx, h.LicenseKey)
	}
	if storage.NormalizeEmail(h.Email) != "" {
		return g.checkEmail(ctx, h.Email, opts)
	}
	return Deny(ReasonUpgradeRequired, nil)
}

func (g *Gate) checkKey(ctx context.Context, key string) Verdict {
	customerID, ok := license.ParseKey(key).Resolved()
	if !ok {
		return Deny(ReasonLegacyLicenseFormat, nil)
	}

	active, err := g.licenses.HasActiveSubscription(ctx, customerID)
	if err != nil {
		return Deny(ReasonPaywallError, err)
	}
	if !active {
		v := Deny(ReasonSubInactive, nil)
		v.CustomerID = customerID
		return v
	}

	v := Allow(ViaLicense)
	v.CustomerID = customerID
	return v
}

func (g *Gate) checkEmail(ctx context.Context, email string, opts Options) Verdict {
	rec, err := g.licenses.FindByEmail(ctx, email)
	if err != nil {
		return Deny(ReasonPaywallError, err)
	}
	if rec != nil {
		active, err := g.licenses.HasActiveSubscription(ctx, rec.CustomerID)
		if err != nil {
			return Deny(ReasonPaywallError, err)
		}
		if active {
			v := Allow(ViaLicense)
			v.CustomerID = rec.CustomerID
			return v
		}
	}

	if !opts.AllowTrial {
		return Deny(ReasonUpgradeRequired, nil)
	}

	id := trial.EmailIdentity(email)
	snap, found, err := g.trials.Status(ctx, id)
	if err != nil {
		return Deny(ReasonPaywallError, err)
	}
	if found {
		if !snap.Active {
			v := Deny(ReasonTrialExpired, nil)
			v.Trial = &snap
			return v
		}
		return trialVerdict(snap)
	}

	snap, err = g.trials.Ensure(ctx, id)
	if err != nil {
		return Deny(ReasonPaywallError, err)
	}
	return trialVerdict(snap)
}

func trialVerdict(snap models.TrialSnapshot) Verdict {
	v := Allow(ViaTrial)
	v.Trial = &snap
	return v
}

type Mode string

const (
	ModePro          Mode = "pro"
	ModeTrial        Mode = "trial"
	ModeTrialExpired Mode = "trial_expired"
)

// BootResult tells a client which experience to show for an email.
type BootResult struct {
	Mode      Mode   `json:"mode"`
	DaysTotal int    `json:"daysTotal"`
	DaysUsed  int    `json:"daysUsed"`
	DaysLeft  int    `json:"daysLeft"`
	EndsAtISO string `json:"endsAtISO,omitempty"`
}

var ErrEmailRequired = errors.New("access: email required")

// Boot reports pro when the email maps to an active subscription. Otherwise
// it starts or reads the email trial. A provider failure is returned, not
// downgraded to a trial answer.
func (g *Gate) Boot(ctx context.Context, email string) (BootResult, error) {
	if storage.NormalizeEmail(email) == "" {
		return BootResult{}, ErrEmailRequired
	}

	rec, err := g.licenses.FindByEmail(ctx, email)
	if err != nil {
		return BootResult{}, err
	}
	if rec != nil {
		active, err := g.licenses.HasActiveSubscription(ctx, rec.CustomerID)
		if err != nil {
			return BootResult{}, err
		}
		if active {
			return BootResult{Mode: ModePro, DaysTotal: g.trials.Days()}, nil
		}
	}

	snap, err := g.trials.Ensure(ctx, trial.EmailIdentity(email))
	if err != nil {
		return BootResult{}, err
	}

	res := BootResult{
		Mode:      ModeTrial,
		DaysTotal: snap.TrialDays,
		DaysUsed:  snap.DaysUsed,
		DaysLeft:  snap.DaysLeft,
		EndsAtISO: FormatISO(snap.ExpiresAt),
	}
	if !snap.Active {
		res.Mode = ModeTrialExpired
		res.DaysUsed = snap.TrialDays
	}
	return res, nil
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// FormatISO renders a time the way the status endpoints report it.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
