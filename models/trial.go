package models

import "time"

const day = 24 * time.Hour

// TrialState is the only stored part of a trial. StartedAt is written once per identity.
type TrialState struct {
	IdentityKey string    `json:"identityKey"`
	StartedAt   time.Time `json:"startedAt"`
}

// TrialSnapshot is a TrialState evaluated at a given instant.
type TrialSnapshot struct {
	IdentityKey string    `json:"-"`
	TrialDays   int       `json:"trialDays"`
	StartedAt   time.Time `json:"startedAt"`
	ExpiresAt   time.Time `json:"endsAt"`
	DaysUsed    int       `json:"daysUsed"`
	DaysLeft    int       `json:"daysLeft"`
	Active      bool      `json:"isActive"`
}

// At derives expiry, usage and activity for the state at now.
func (s TrialState) At(now time.Time, trialDays int) TrialSnapshot {
	expiresAt := s.StartedAt.Add(time.Duration(trialDays) * day)

	elapsed := now.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	daysLeft := 0
	if remaining := expiresAt.Sub(now); remaining > 0 {
		daysLeft = int((remaining + day - 1) / day)
	}

	return TrialSnapshot{
		IdentityKey: s.IdentityKey,
		TrialDays:   trialDays,
		StartedAt:   s.StartedAt,
		ExpiresAt:   expiresAt,
		DaysUsed:    int(elapsed / day),
		DaysLeft:    daysLeft,
		Active:      now.Before(expiresAt),
	}
}
