package storage

import (
	"fmt"
	"strings"
	"time"
)

// Persisted state layout. Everything that reads or writes license and trial
// state goes through these helpers so the layout lives in one place.
const (
	licenseLatestPrefix  = "licenses/latest/"
	licenseEmailPrefix   = "licenses/by-email/"
	licenseHistoryPrefix = "licenses/history/"
	trialPrefix          = "trials/"
	ContentTypeJSON      = "application/json"
)

// NormalizeEmail lowercases and trims an email and drops every character
// outside [a-z0-9._-]. The result is only a lookup key, not an address.
// Dropping "@" means distinct addresses can share a key (ab@c.com and a@bc.com).
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))

	var b strings.Builder
	b.Grow(len(email))
	for _, r := range email {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func LicenseLatestPath(customerID string) string {
	return licenseLatestPrefix + customerID + ".json"
}

func LicenseEmailPath(email string) string {
	return licenseEmailPrefix + NormalizeEmail(email) + ".json"
}

func LicenseHistoryPrefix(customerID string) string {
	return licenseHistoryPrefix + customerID + "/"
}

// LicenseHistoryPath zero-pads the write time so lexical order is write order.
func LicenseHistoryPath(customerID string, at time.Time) string {
	return fmt.Sprintf("%s%019d.json", LicenseHistoryPrefix(customerID), at.UTC().UnixNano())
}

func TrialPath(kind, identity string) string {
	return trialPrefix + kind + "/" + identity + ".json"
}
