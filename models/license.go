package models

import "time"

const (
	SourceCheckoutCompleted   = "checkout.completed"
	SourceSubscriptionCreated = "subscription.created"
	SourceSubscriptionUpdated = "subscription.updated"
	SourceSubscriptionDeleted = "subscription.deleted"
	SourceAdminIssue          = "admin.issue"
	SourceAdminRevoke         = "admin.revoke"
)

// LicenseRecord is one immutable snapshot of what is known about a customer's license.
// History entries are never rewritten; only the latest pointers are replaced.
type LicenseRecord struct {
	CustomerID       string     `json:"customerId"`
	LicenseKey       string     `json:"licenseKey,omitempty"`
	Email            string     `json:"email,omitempty"`
	Source           string     `json:"source"`
	SavedAt          time.Time  `json:"savedAt"`
	SubscriptionID   string     `json:"subscriptionId,omitempty"`
	Status           string     `json:"status,omitempty"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}
