package models

import "time"

// Customer is the billing provider's view of a paying (or formerly paying) person.
type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Subscription is the last observed state of one billing subscription.
type Subscription struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customerId"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"currentPeriodEnd,omitempty"`
}
