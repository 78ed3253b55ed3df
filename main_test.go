package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/config"
	"beliefcoach.app/cloud/internal/email"
	"beliefcoach.app/cloud/internal/ratelimit"
	"beliefcoach.app/cloud/internal/trial"
	"beliefcoach.app/cloud/models"
	"beliefcoach.app/cloud/storage"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.New()
	require.NoError(t, err)
	return cfg
}

func trialEmail(addr string) trial.Identity {
	return trial.EmailIdentity(addr)
}

func memoryApp(t *testing.T) (*app, *billing.MemoryProvider) {
	t.Helper()
	provider := billing.NewMemoryProvider()
	a := &app{
		cfg: &config.Config{TrialDays: 7},
	}
	a.deps.Provider = provider
	a.deps.Store = storage.NewMemoryStore("")
	return a, provider
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Belief Coach cloud ")
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"version"},
		{"license", "resolve"},
		{"license", "revoke"},
		{"trial", "status"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestResolveLicense(t *testing.T) {
	a, provider := memoryApp(t)
	provider.SetSubscription(models.Subscription{ID: "sub_1", CustomerID: "cus_abc", Status: billing.StatusActive})

	var out bytes.Buffer
	require.NoError(t, resolveLicense(context.Background(), &out, a.licenses(), "LIC-PRO-cus_abc-0A1B2C3D"))
	assert.Contains(t, out.String(), "customer: cus_abc")
	assert.Contains(t, out.String(), "active: true")

	out.Reset()
	require.NoError(t, resolveLicense(context.Background(), &out, a.licenses(), "AFP-OLDKEY"))
	assert.Equal(t, "status: unresolvable\n", out.String())
	assert.Equal(t, 1, provider.Calls())
}

func TestResolveLicense_ProviderFailure(t *testing.T) {
	a, provider := memoryApp(t)
	provider.FailWith(errors.New("timeout"))

	err := resolveLicense(context.Background(), &bytes.Buffer{}, a.licenses(), "LIC-PRO-cus_abc-0A1B2C3D")
	assert.ErrorIs(t, err, billing.ErrVerificationFailed)
}

func TestRevokeLicense(t *testing.T) {
	a, provider := memoryApp(t)
	provider.SetSubscription(models.Subscription{ID: "sub_1", CustomerID: "cus_abc", Status: billing.StatusActive})
	provider.SetSubscription(models.Subscription{ID: "sub_2", CustomerID: "cus_abc", Status: billing.StatusCanceled})

	var out bytes.Buffer
	require.NoError(t, revokeLicense(context.Background(), &out, a.licenses(), "cus_abc"))
	assert.Contains(t, out.String(), "canceled: sub_1")
	assert.NotContains(t, out.String(), "sub_2")

	sub, _ := provider.Subscription("sub_1")
	assert.Equal(t, billing.StatusCanceled, sub.Status)

	rec, err := a.licenses().Latest(context.Background(), "cus_abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.SourceAdminRevoke, rec.Source)
}

func TestTrialStatusCmd(t *testing.T) {
	a, _ := memoryApp(t)

	var out bytes.Buffer
	require.NoError(t, trialStatus(context.Background(), &out, a.trials(), "nobody@example.com"))
	assert.Equal(t, "no trial started (7 days available)\n", out.String())

	_, err := a.trials().Ensure(context.Background(), trialEmail("someone@example.com"))
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, trialStatus(context.Background(), &out, a.trials(), "Someone@Example.com"))
	assert.Contains(t, out.String(), "active: true")
	assert.Contains(t, out.String(), "days left: 7")
}

func TestNewProvider(t *testing.T) {
	p, err := newProvider(&config.Config{StripeSecret: "sk_test_123", ProviderTimeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &billing.StripeProvider{}, p)

	p, err = newProvider(&config.Config{TestMode: true})
	require.NoError(t, err)
	assert.IsType(t, &billing.MemoryProvider{}, p)

	_, err = newProvider(&config.Config{})
	assert.Error(t, err)
}

func TestNewMailer(t *testing.T) {
	assert.IsType(t, email.LogSender{}, newMailer(&config.Config{}))
	assert.IsType(t, &email.SMTPSender{}, newMailer(&config.Config{SMTPHost: "smtp.example.com", SMTPPort: "587"}))
}

func TestNewApp_MemoryBackends(t *testing.T) {
	cfg := &config.Config{
		BlobBackend: config.BlobBackendMemory,
		TestMode:    true,
		TrialDays:   7,
	}
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &storage.MemoryStore{}, a.deps.Store)
	assert.IsType(t, &ratelimit.FixedWindowCounter{}, a.deps.Counter)
	assert.IsType(t, email.LogSender{}, a.deps.Mailer)
	assert.NotEmpty(t, a.deps.Version)
}

func TestNewApp_BadRedisURL(t *testing.T) {
	cfg := &config.Config{
		BlobBackend: config.BlobBackendMemory,
		TestMode:    true,
		RedisURL:    "not-a-redis-url",
	}
	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestAppClose_AggregatesErrors(t *testing.T) {
	a := &app{closers: []io.Closer{failingCloser{"first"}, failingCloser{"second"}}}

	err := a.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
	assert.NoError(t, a.Close())
}

type failingCloser struct{ name string }

func (f failingCloser) Close() error { return errors.New(f.name + " failed") }
