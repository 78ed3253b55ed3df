package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"beliefcoach.app/cloud/internal/access"
	"beliefcoach.app/cloud/internal/analysis"
	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/metrics"
	"beliefcoach.app/cloud/internal/report"
	"beliefcoach.app/cloud/models"
	"beliefcoach.app/cloud/storage"
)

var (
	errOwnerMismatch = errors.New("report owner does not match caller")
	errEmailRequired = errors.New("email required")
)

type QuestionnaireRequest struct {
	Topic string `json:"topic" validate:"max=80"`
}

type QuestionnaireResponse struct {
	Topic     string            `json:"topic"`
	Questions []models.Question `json:"questions"`
}

func (s *Server) Questionnaire(w http.ResponseWriter, r *http.Request) {
	var req QuestionnaireRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	questions := analysis.Questionnaire(req.Topic)
	writeJSON(w, http.StatusOK, QuestionnaireResponse{
		Topic:     analysis.NormalizeTopic(req.Topic),
		Questions: questions,
	})
}

type AnalysisRequest struct {
	Topic   string          `json:"topic" validate:"max=80"`
	Title   string          `json:"title" validate:"max=120"`
	Answers []models.Answer `json:"answers" validate:"required,min=1,max=50,dive"`
}

// Analysis runs belief inference. Trial callers are held to a daily quota.
func (s *Server) Analysis(w http.ResponseWriter, r *http.Request) {
	v, _ := access.FromContext(r.Context())

	var req AnalysisRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if key := quotaKey(v, s.now()); key != "" {
		d, err := s.counter.Allow(r.Context(), key, quotaWindow, s.cfg.TrialDailyAnalyses)
		if err != nil {
			logger.Warn("Quota counter unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else if !d.Allowed {
			metrics.RateLimitedTotal.WithLabelValues("trial_analysis").Inc()
			s.resp.WriteRateLimited(w, r, d)
			return
		}
	}

	writeJSON(w, http.StatusOK, analysis.Analyze(req.Topic, req.Answers))
}

type ArtifactResponse struct {
	Format string `json:"format"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

type ReportResponse struct {
	ID        string             `json:"id"`
	Title     string             `json:"title,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	Artifacts []ArtifactResponse `json:"artifacts"`
	Analysis  *models.Analysis   `json:"analysis,omitempty"`
}

// CreateReport analyzes the answers and stores HTML, PDF and JSON renderings
// under the caller's owner prefix.
func (s *Server) CreateReport(w http.ResponseWriter, r *http.Request) {
	v, _ := access.FromContext(r.Context())

	owner, err := s.ownerFor(r.Context(), r, v)
	if err != nil {
		writeOwnerError(w, err)
		return
	}

	var req AnalysisRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	a := analysis.Analyze(req.Topic, req.Answers)
	rep := models.Report{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     strings.TrimSpace(req.Title),
		CreatedAt: s.now().UTC(),
		Analysis:  a,
	}
	if rep.Title == "" {
		rep.Title = "Beliefs about " + a.Topic
	}

	artifacts, err := s.storeReport(r.Context(), rep)
	if err != nil {
		logger.Error("Failed to store report", map[string]interface{}{
			"report_id": rep.ID,
			"error":     err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to store report")
		return
	}

	logger.Info("Report created", map[string]interface{}{
		"report_id": rep.ID,
		"beliefs":   len(a.Beliefs),
	})
	writeJSON(w, http.StatusCreated, ReportResponse{
		ID:        rep.ID,
		Title:     rep.Title,
		CreatedAt: rep.CreatedAt,
		Artifacts: artifacts,
		Analysis:  &rep.Analysis,
	})
}

func (s *Server) storeReport(ctx context.Context, rep models.Report) ([]ArtifactResponse, error) {
	html, err := report.RenderHTML(rep)
	if err != nil {
		return nil, err
	}
	pdf, err := report.RenderPDF(rep)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return nil, err
	}

	renderings := []struct {
		ext  string
		data []byte
	}{
		{"html", []byte(html)},
		{"pdf", pdf},
		{"json", raw},
	}

	var result *multierror.Error
	artifacts := make([]ArtifactResponse, 0, len(renderings))
	for _, rd := range renderings {
		path, err := storage.EncodeReportPath(rep.Owner, rep.ID, rd.ext)
		if err != nil {
			return nil, err
		}
		p, _ := storage.DecodeReportPath(path)
		if _, err := s.store.Put(ctx, path, rd.data, p.ContentType()); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		artifacts = append(artifacts, ArtifactResponse{
			Format: rd.ext,
			URL:    s.reportURL(p),
			Size:   int64(len(rd.data)),
		})
	}
	return artifacts, result.ErrorOrNil()
}

func (s *Server) reportURL(p storage.ReportPath) string {
	return s.cfg.PublicBaseURL + "/api/reports/" + p.Owner + "/" + p.ReportID + "." + p.Ext
}

// ListReports lists the caller's reports, newest first.
func (s *Server) ListReports(w http.ResponseWriter, r *http.Request) {
	v, _ := access.FromContext(r.Context())

	owner, err := s.ownerFor(r.Context(), r, v)
	if err != nil {
		writeOwnerError(w, err)
		return
	}

	objects, err := s.store.List(r.Context(), storage.ReportOwnerPrefix(owner))
	if err != nil {
		logger.Error("Failed to list reports", map[string]interface{}{
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to list reports")
		return
	}

	byID := make(map[string]*ReportResponse)
	for _, obj := range objects {
		p, err := storage.DecodeReportPath(obj.Path)
		if err != nil || p.Owner != owner {
			continue
		}
		rep, ok := byID[p.ReportID]
		if !ok {
			rep = &ReportResponse{ID: p.ReportID, Artifacts: []ArtifactResponse{}}
			byID[p.ReportID] = rep
		}
		if obj.UpdatedAt.After(rep.CreatedAt) {
			rep.CreatedAt = obj.UpdatedAt
		}
		rep.Artifacts = append(rep.Artifacts, ArtifactResponse{
			Format: p.Ext,
			URL:    s.reportURL(p),
			Size:   obj.Size,
		})
	}

	reports := make([]ReportResponse, 0, len(byID))
	for _, rep := range byID {
		reports = append(reports, *rep)
	}
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].CreatedAt.After(reports[j].CreatedAt)
		}
		return reports[i].ID < reports[j].ID
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// GetReport serves one stored artifact. The owner segment must be the caller.
func (s *Server) GetReport(w http.ResponseWriter, r *http.Request) {
	v, _ := access.FromContext(r.Context())

	owner, err := s.ownerFor(r.Context(), r, v)
	if err != nil {
		writeOwnerError(w, err)
		return
	}

	p, err := storage.DecodeReportPath("reports/" + chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "file"))
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "Report not found")
		return
	}
	if p.Owner != owner {
		writeOwnerError(w, errOwnerMismatch)
		return
	}

	data, err := s.store.Get(r.Context(), p.String())
	if errors.Is(err, storage.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		logger.Error("Failed to read report", map[string]interface{}{
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to read report")
		return
	}

	w.Header().Set("Content-Type", p.ContentType())
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ownerFor returns the normalized email that owns the caller's reports. A
// caller that proved payment with a key may only act for the email on
// record for that customer.
func (s *Server) ownerFor(ctx context.Context, r *http.Request, v access.Verdict) (string, error) {
	owner := storage.NormalizeEmail(r.URL.Query().Get("email"))
	if owner == "" {
		return "", errEmailRequired
	}
	if v.Via != access.ViaLicense || access.HintsFromRequest(r).LicenseKey == "" {
		return owner, nil
	}

	rec, err := s.Licenses.FindByEmail(ctx, owner)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.CustomerID != v.CustomerID {
		return "", errOwnerMismatch
	}
	return owner, nil
}

func writeOwnerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errOwnerMismatch):
		writeErrorResponse(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, errEmailRequired):
		writeErrorResponse(w, http.StatusBadRequest, "email required")
	default:
		logger.Error("Failed to resolve report owner", map[string]interface{}{
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Internal error")
	}
}
