package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beliefcoach.app/cloud/internal/access"
	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/config"
	"beliefcoach.app/cloud/internal/email"
	"beliefcoach.app/cloud/internal/license"
	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/ratelimit"
	"beliefcoach.app/cloud/internal/trial"
	"beliefcoach.app/cloud/storage"
)

const (
	maxBodyBytes = int64(65536)
	listWindow   = time.Minute
	quotaWindow  = 24 * time.Hour
)

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config   *config.Config
	Provider billing.Provider
	Store    storage.Store
	Counter  ratelimit.Counter
	Mailer   email.Sender
	Clock    func() time.Time
	Version  string
}

type Server struct {
	Router   chi.Router
	Licenses *license.Resolver
	Trials   *trial.Tracker
	Gate     *access.Gate

	cfg      *config.Config
	provider billing.Provider
	store    storage.Store
	counter  ratelimit.Counter
	mailer   email.Sender
	resp     access.Responder
	cookie   *access.CookieTrial
	validate *validator.Validate
	now      func() time.Time
	version  string
}

func NewServer(d Deps) *Server {
	now := d.Clock
	if now == nil {
		now = time.Now
	}
	counter := d.Counter
	if counter == nil {
		counter = ratelimit.NewMemoryCounter(ratelimit.WithClock(now))
	}
	mailer := d.Mailer
	if mailer == nil {
		mailer = email.LogSender{}
	}

	licenses := license.NewResolver(d.Provider, d.Store, license.WithClock(now))
	trials := trial.NewTracker(d.Store, d.Config.TrialDays, trial.WithClock(now))
	gate := access.NewGate(licenses, trials)
	resp := access.Responder{Diagnostics: d.Config.DebugDiagnostics}

	s := &Server{
		Licenses: licenses,
		Trials:   trials,
		Gate:     gate,
		cfg:      d.Config,
		provider: d.Provider,
		store:    d.Store,
		counter:  counter,
		mailer:   mailer,
		resp:     resp,
		cookie: &access.CookieTrial{
			Tracker: trials,
			Gate:    gate,
			Name:    d.Config.TrialCookieName,
			Resp:    resp,
		},
		validate: validator.New(),
		now:      now,
		version:  d.Version,
	}
	s.Router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(cors.Handler(s.corsOptions()))

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	paid := s.Gate.Require(access.Options{AllowTrial: false}, s.resp)
	trialOK := s.Gate.Require(access.Options{AllowTrial: true}, s.resp)
	listLimit := ratelimit.Middleware(s.counter, "list", listWindow, s.cfg.ListRateLimit, s.resp.WriteRateLimited)
	checkoutLimit := ratelimit.Middleware(s.counter, "checkout", listWindow, s.cfg.ListRateLimit, s.resp.WriteRateLimited)

	r.With(trialOK).Get("/files/reports/{owner}/{file}", s.GetReport)

	r.Route("/api", func(r chi.Router) {
		r.Post("/stripe/webhook", s.StripeWebhook)
		r.With(checkoutLimit).Post("/checkout", s.Checkout)
		r.Post("/admin/licenses/{customerId}/revoke", s.requireAdmin(s.RevokeLicense))

		r.Group(func(r chi.Router) {
			r.Use(s.cookie.Start)

			r.Post("/boot", s.Boot)
			r.Get("/trial/status", s.TrialStatus)
			r.Get("/license/status", s.LicenseStatus)
			r.With(s.cookie.Require).Post("/questionnaire", s.Questionnaire)
			r.With(trialOK).Post("/analysis", s.Analysis)
			r.With(paid).Post("/reports", s.CreateReport)
			r.With(listLimit, trialOK).Get("/reports", s.ListReports)
			r.With(trialOK).Get("/reports/{owner}/{file}", s.GetReport)
		})
	})

	return r
}

func (s *Server) corsOptions() cors.Options {
	return cors.Options{
		AllowedOrigins:   []string{s.cfg.PublicBaseURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", access.LicenseKeyHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Timestamp: s.now().UTC(),
	})
}

// recoverer turns a panic into a safe JSON deny. sentryhttp has already
// reported it by the time it gets here.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("Panic while handling request", map[string]interface{}{
				"path":  r.URL.Path,
				"panic": fmt.Sprint(rec),
			})

			writeJSON(w, http.StatusInternalServerError, access.DenyBody{
				Error:      access.ReasonPaywallError,
				Message:    access.ReasonPaywallError.Message(),
				UpgradeURL: access.UpgradeURL,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody reads at most maxBodyBytes of JSON into dst and validates it.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("body too large")
		}
		return errors.New("invalid JSON")
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid %s: failed %s", fe.Field(), fe.Tag())
	}
	return err
}
