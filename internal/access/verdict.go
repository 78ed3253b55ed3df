package access

import "beliefcoach.app/cloud/models"

// Reason is the stable machine-readable code of a deny.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonUpgradeRequired     Reason = "UPGRADE_REQUIRED"
	ReasonLegacyLicenseFormat Reason = "LEGACY_LICENSE_FORMAT"
	ReasonSubInactive         Reason = "SUB_INACTIVE"
	ReasonPaywallError        Reason = "PAYWALL_ERROR"
	ReasonTrialExpired        Reason = "TRIAL_EXPIRED"
	ReasonRateLimited         Reason = "RATE_LIMITED"
)

var messages = map[Reason]string{
	ReasonUpgradeRequired:     "Upgrade to Pro to use this feature.",
	ReasonLegacyLicenseFormat: "This license key uses an old format. Contact support for a new key.",
	ReasonSubInactive:         "Your subscription is not active. Renew it to continue.",
	ReasonPaywallError:        "We could not verify your subscription right now. Please try again shortly.",
	ReasonTrialExpired:        "Your free trial has ended. Upgrade to Pro to continue.",
	ReasonRateLimited:         "Too many requests. Please slow down.",
}

func (r Reason) Message() string {
	return messages[r]
}

// Via names the path that granted access.
type Via string

const (
	ViaNone    Via = "none"
	ViaLicense Via = "license"
	ViaTrial   Via = "trial"
)

// Verdict is the outcome of one access check. Err carries the internal cause
// of a PAYWALL_ERROR and is never shown to users unless diagnostics are on.
type Verdict struct {
	Allowed    bool
	Via        Via
	Reason     Reason
	Message    string
	CustomerID string
	Trial      *models.TrialSnapshot
	Err        error
}

func Allow(via Via) Verdict {
	return Verdict{Allowed: true, Via: via}
}

func Deny(reason Reason, err error) Verdict {
	return Verdict{Via: ViaNone, Reason: reason, Message: reason.Message(), Err: err}
}
