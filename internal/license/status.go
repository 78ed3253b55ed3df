package license

import "beliefcoach.app/cloud/internal/billing"

// ActiveStatuses grant access. Keep this separate from RevocableStatuses:
// a past_due customer is still billed but no longer gets access.
var ActiveStatuses = map[string]bool{
	billing.StatusActive:   true,
	billing.StatusTrialing: true,
}

// RevocableStatuses are cancelled on revocation: anything that could still bill.
var RevocableStatuses = map[string]bool{
	billing.StatusActive:     true,
	billing.StatusTrialing:   true,
	billing.StatusPastDue:    true,
	billing.StatusUnpaid:     true,
	billing.StatusIncomplete: true,
}

func IsActiveStatus(status string) bool {
	return ActiveStatuses[status]
}

func IsRevocableStatus(status string) bool {
	return RevocableStatuses[status]
}
