package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"beliefcoach.app/cloud/internal/access"
	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/license"
	"beliefcoach.app/cloud/internal/logger"
)

type LicenseStatusResponse struct {
	Active     bool          `json:"active"`
	Via        access.Via    `json:"via"`
	Reason     access.Reason `json:"reason,omitempty"`
	Message    string        `json:"message,omitempty"`
	UpgradeURL string        `json:"upgradeUrl,omitempty"`
}

// LicenseStatus reports whether the key or email in the query currently
// grants Pro. It never starts a trial. A failed verification is answered
// with the deny contract rather than a "not active" payload.
func (s *Server) LicenseStatus(w http.ResponseWriter, r *http.Request) {
	hints := access.HintsFromRequest(r)
	if hints.LicenseKey == "" && hints.Email == "" {
		writeErrorResponse(w, http.StatusBadRequest, "key or email required")
		return
	}

	v := s.Gate.Check(r.Context(), hints, access.Options{AllowTrial: false})
	if v.Reason == access.ReasonPaywallError {
		s.resp.WriteDeny(w, r, v)
		return
	}

	resp := LicenseStatusResponse{Active: v.Allowed, Via: v.Via}
	if !v.Allowed {
		resp.Reason = v.Reason
		resp.Message = v.Message
		resp.UpgradeURL = access.UpgradeURL
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireAdmin checks the bearer token against ADMIN_TOKEN. Admin routes are
// disabled when no token is configured.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeErrorResponse(w, http.StatusNotFound, "Not found")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			logger.Warn("Rejected admin request", map[string]interface{}{
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			})
			writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !strings.HasPrefix(customerID, license.CustomerIDPrefix) || len(customerID) == len(license.CustomerIDPrefix) {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid customer id")
		return
	}

	result, err := s.Licenses.Revoke(r.Context(), customerID)
	if err != nil {
		logger.Error("Failed to revoke license", map[string]interface{}{
			"customer_id": customerID,
			"error":       err.Error(),
		})
		status := http.StatusInternalServerError
		if errors.Is(err, billing.ErrVerificationFailed) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]interface{}{
			"error":    "Revocation incomplete",
			"canceled": canceledOrEmpty(result),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func canceledOrEmpty(result *license.RevokeResult) []string {
	if result == nil {
		return []string{}
	}
	return result.Canceled
}
