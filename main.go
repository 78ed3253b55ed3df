package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"beliefcoach.app/cloud/handlers"
	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/config"
	"beliefcoach.app/cloud/internal/email"
	"beliefcoach.app/cloud/internal/license"
	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/ratelimit"
	"beliefcoach.app/cloud/internal/trial"
	"beliefcoach.app/cloud/internal/version"
	"beliefcoach.app/cloud/storage"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:           "beliefcoach-cloud",
	Short:         "Belief Coach cloud API",
	Long:          `License resolution, trial tracking and access gating for Belief Coach.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Belief Coach cloud %s\n", version.Resolve("VERSION"))
	},
}

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Inspect and manage licenses",
}

var licenseResolveCmd = &cobra.Command{
	Use:   "resolve <key>",
	Short: "Resolve a license key and check its subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return resolveLicense(ctx, cmd.OutOrStdout(), a.licenses(), args[0])
		})
	},
}

var licenseRevokeCmd = &cobra.Command{
	Use:   "revoke <customerId>",
	Short: "Cancel every billable subscription of a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return revokeLicense(ctx, cmd.OutOrStdout(), a.licenses(), args[0])
		})
	},
}

var trialCmd = &cobra.Command{
	Use:   "trial",
	Short: "Inspect trials",
}

var trialStatusCmd = &cobra.Command{
	Use:   "status <email>",
	Short: "Show the email trial without starting one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return trialStatus(ctx, cmd.OutOrStdout(), a.trials(), args[0])
		})
	},
}

func init() {
	licenseCmd.AddCommand(licenseResolveCmd, licenseRevokeCmd)
	trialCmd.AddCommand(trialStatusCmd)
	rootCmd.AddCommand(serveCmd, versionCmd, licenseCmd, trialCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the wired set of backends the server and the CLI commands share.
type app struct {
	cfg     *config.Config
	deps    handlers.Deps
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)

	counter, err := openCounter(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.deps = handlers.Deps{
		Config:   cfg,
		Provider: provider,
		Store:    store,
		Counter:  counter,
		Mailer:   newMailer(cfg),
		Version:  version.Resolve("VERSION"),
	}
	return a, nil
}

func (a *app) licenses() *license.Resolver {
	return license.NewResolver(a.deps.Provider, a.deps.Store)
}

func (a *app) trials() *trial.Tracker {
	return trial.NewTracker(a.deps.Store, a.cfg.TrialDays)
}

// Close releases every backend and reports all failures together.
func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendMemory:
		logger.Warn("Using in-memory blob store, state is lost on restart")
		return storage.NewMemoryStore(cfg.PublicBaseURL), nil
	case config.BlobBackendS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicURL:       cfg.S3.PublicURL,
		})
	default:
		return storage.NewSQLiteStore(cfg.DatabaseURL, cfg.PublicBaseURL)
	}
}

func openCounter(ctx context.Context, cfg *config.Config, a *app) (ratelimit.Counter, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryCounter(), nil
	}
	counter, client, err := ratelimit.NewRedisCounterFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, redisCloser{client})
	return counter, nil
}

type redisCloser struct{ client *redis.Client }

func (c redisCloser) Close() error { return c.client.Close() }

func newProvider(cfg *config.Config) (billing.Provider, error) {
	if cfg.StripeSecret != "" {
		return billing.NewStripeProvider(cfg.StripeSecret, cfg.ProviderTimeout), nil
	}
	if cfg.TestMode {
		logger.Warn("TEST_MODE without STRIPE_SECRET, using in-memory billing provider")
		return billing.NewMemoryProvider(), nil
	}
	return nil, errors.New("STRIPE_SECRET is required outside TEST_MODE")
}

func newMailer(cfg *config.Config) email.Sender {
	if !cfg.SMTPConfigured() {
		logger.Warn("SMTP not configured, license emails will only be logged")
		return email.LogSender{}
	}
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Release:          version.Resolve("VERSION"),
		TracesSampleRate: 1.0,
	}); err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	defer sentry.Flush(2 * time.Second)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Failed to close backends", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewServer(a.deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Belief Coach cloud API starting", map[string]interface{}{
			"version":      a.deps.Version,
			"port":         cfg.Port,
			"blob_backend": cfg.BlobBackend,
			"test_mode":    cfg.TestMode,
			"trial_days":   cfg.TrialDays,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-sigCtx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func resolveLicense(ctx context.Context, out io.Writer, licenses *license.Resolver, key string) error {
	parsed := licenses.ResolveByKey(key)
	customerID, ok := parsed.Resolved()
	if !ok {
		fmt.Fprintf(out, "status: %s\n", parsed.Status)
		return nil
	}

	active, err := licenses.HasActiveSubscription(ctx, customerID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "status: %s\ncustomer: %s\nactive: %t\n", parsed.Status, customerID, active)
	return nil
}

func revokeLicense(ctx context.Context, out io.Writer, licenses *license.Resolver, customerID string) error {
	result, err := licenses.Revoke(ctx, customerID)
	if result != nil {
		for _, id := range result.Canceled {
			fmt.Fprintf(out, "canceled: %s\n", id)
		}
	}
	if err != nil {
		return fmt.Errorf("revoke %s: %w", customerID, err)
	}
	fmt.Fprintf(out, "revoked: %s (%d subscriptions)\n", customerID, len(result.Canceled))
	return nil
}

func trialStatus(ctx context.Context, out io.Writer, trials *trial.Tracker, email string) error {
	snap, found, err := trials.Status(ctx, trial.EmailIdentity(email))
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(out, "no trial started (%d days available)\n", trials.Days())
		return nil
	}
	fmt.Fprintf(out, "started: %s\nends: %s\nactive: %t\ndays left: %d\n",
		snap.StartedAt.UTC().Format(time.RFC3339),
		snap.ExpiresAt.UTC().Format(time.RFC3339),
		snap.Active,
		snap.DaysLeft,
	)
	return nil
}
