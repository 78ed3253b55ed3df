package handlers

import (
	"errors"
	"net/http"
	"time"

	"beliefcoach.app/cloud/internal/access"
	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/trial"
	"beliefcoach.app/cloud/models"
)

type BootRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (s *Server) Boot(w http.ResponseWriter, r *http.Request) {
	var req BootRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.Gate.Boot(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, access.ErrEmailRequired) {
			writeErrorResponse(w, http.StatusBadRequest, "email required")
			return
		}
		logger.Warn("Boot could not verify subscription", map[string]interface{}{
			"error": err.Error(),
		})
		s.resp.WriteDeny(w, r, access.Deny(access.ReasonPaywallError, err))
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type TrialStatusResponse struct {
	TrialDays int     `json:"trialDays"`
	StartedAt *string `json:"startedAt"`
	IsActive  bool    `json:"isActive"`
	DaysLeft  int     `json:"daysLeft"`
	EndsAtISO string  `json:"endsAtISO,omitempty"`
}

func trialStatusResponse(snap models.TrialSnapshot) TrialStatusResponse {
	started := access.FormatISO(snap.StartedAt)
	return TrialStatusResponse{
		TrialDays: snap.TrialDays,
		StartedAt: &started,
		IsActive:  snap.Active,
		DaysLeft:  snap.DaysLeft,
		EndsAtISO: access.FormatISO(snap.ExpiresAt),
	}
}

// TrialStatus reports the email trial when ?email= is given and the cookie
// trial otherwise. It never starts an email trial.
func (s *Server) TrialStatus(w http.ResponseWriter, r *http.Request) {
	if email := r.URL.Query().Get("email"); email != "" {
		snap, found, err := s.Trials.Status(r.Context(), trial.EmailIdentity(email))
		switch {
		case errors.Is(err, trial.ErrNoIdentity):
			writeErrorResponse(w, http.StatusBadRequest, "invalid email")
		case err != nil:
			logger.Error("Failed to read trial", map[string]interface{}{
				"error": err.Error(),
			})
			writeErrorResponse(w, http.StatusServiceUnavailable, "Trial status unavailable")
		case !found:
			writeJSON(w, http.StatusOK, TrialStatusResponse{
				TrialDays: s.Trials.Days(),
				DaysLeft:  s.Trials.Days(),
			})
		default:
			writeJSON(w, http.StatusOK, trialStatusResponse(snap))
		}
		return
	}

	snap, ok := access.CookieSnapshot(r.Context())
	if !ok {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Trial status unavailable")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, trialStatusResponse(snap))
}

// quotaKey returns the daily analysis quota key for trial callers and ""
// for paying ones.
func quotaKey(v access.Verdict, now time.Time) string {
	if v.Via != access.ViaTrial || v.Trial == nil {
		return ""
	}
	return "analysis:" + v.Trial.IdentityKey + ":" + now.UTC().Format("2006-01-02")
}
