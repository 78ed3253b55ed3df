// Package license resolves license keys and emails to paying customers.
package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"beliefcoach.app/cloud/internal/billing"
	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/models"
	"beliefcoach.app/cloud/storage"
)

type Resolver struct {
	provider billing.Provider
	store    storage.Store
	now      func() time.Time

	mu        sync.Mutex
	lastSaved time.Time
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(provider billing.Provider, store storage.Store, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveByKey parses a license key. It never touches the network.
func (r *Resolver) ResolveByKey(key string) ParsedKey {
	return ParseKey(key)
}

// HasActiveSubscription asks the billing provider whether any subscription
// of the customer is active or trialing. A provider failure is returned as
// an error wrapping billing.ErrVerificationFailed.
func (r *Resolver) HasActiveSubscription(ctx context.Context, customerID string) (bool, error) {
	subs, err := r.provider.ListSubscriptions(ctx, customerID)
	if err != nil {
		if !errors.Is(err, billing.ErrVerificationFailed) {
			err = fmt.Errorf("%w: %v", billing.ErrVerificationFailed, err)
		}
		logger.Warn("Subscription verification failed", map[string]interface{}{
			"customer_id": customerID,
			"error":       err.Error(),
		})
		return false, err
	}

	for _, sub := range subs {
		if IsActiveStatus(sub.Status) {
			return true, nil
		}
	}
	return false, nil
}

// FindByEmail returns the latest license record indexed under the email, or
// nil when there is none or the stored record cannot be read.
func (r *Resolver) FindByEmail(ctx context.Context, email string) (*models.LicenseRecord, error) {
	if storage.NormalizeEmail(email) == "" {
		return nil, nil
	}
	return r.readRecord(ctx, storage.LicenseEmailPath(email))
}

// Latest returns the latest license record for a customer, or nil.
func (r *Resolver) Latest(ctx context.Context, customerID string) (*models.LicenseRecord, error) {
	return r.readRecord(ctx, storage.LicenseLatestPath(customerID))
}

func (r *Resolver) readRecord(ctx context.Context, path string) (*models.LicenseRecord, error) {
	data, err := r.store.Get(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license record: %w", err)
	}

	var rec models.LicenseRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.CustomerID == "" {
		logger.Warn("Ignoring unreadable license record", map[string]interface{}{
			"path": path,
		})
		return nil, nil
	}
	return &rec, nil
}

// Issue generates a fresh key for the customer and saves it as the latest
// record. Earlier keys keep resolving because they embed the same customer id.
func (r *Resolver) Issue(ctx context.Context, customerID, email, source string) (*models.LicenseRecord, error) {
	key, err := NewKey(customerID)
	if err != nil {
		return nil, err
	}

	rec := models.LicenseRecord{
		CustomerID: customerID,
		LicenseKey: key,
		Email:      email,
		Source:     source,
	}
	if prev, err := r.Latest(ctx, customerID); err == nil && prev != nil {
		if rec.Email == "" {
			rec.Email = prev.Email
		}
		rec.SubscriptionID = prev.SubscriptionID
		rec.Status = prev.Status
		rec.CurrentPeriodEnd = prev.CurrentPeriodEnd
	}

	if err := r.Save(ctx, &rec); err != nil {
		return nil, err
	}

	logger.Info("License issued", map[string]interface{}{
		"customer_id": customerID,
		"source":      source,
	})
	return &rec, nil
}

// Save appends rec to the customer's history and then moves the latest and
// by-email pointers to it. SavedAt is stamped here.
func (r *Resolver) Save(ctx context.Context, rec *models.LicenseRecord) error {
	if rec.CustomerID == "" {
		return errors.New("license: record without customer id")
	}
	rec.SavedAt = r.nextSaveTime()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode license record: %w", err)
	}

	if _, err := r.store.Put(ctx, storage.LicenseHistoryPath(rec.CustomerID, rec.SavedAt), data, storage.ContentTypeJSON); err != nil {
		return fmt.Errorf("append license history: %w", err)
	}
	if _, err := r.store.Put(ctx, storage.LicenseLatestPath(rec.CustomerID), data, storage.ContentTypeJSON); err != nil {
		return fmt.Errorf("write latest license: %w", err)
	}
	if storage.NormalizeEmail(rec.Email) != "" {
		if _, err := r.store.Put(ctx, storage.LicenseEmailPath(rec.Email), data, storage.ContentTypeJSON); err != nil {
			return fmt.Errorf("write license email index: %w", err)
		}
	}
	return nil
}

// nextSaveTime keeps history keys strictly increasing within this process.
func (r *Resolver) nextSaveTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.now().UTC()
	if !t.After(r.lastSaved) {
		t = r.lastSaved.Add(time.Nanosecond)
	}
	r.lastSaved = t
	return t
}

// History returns every record written for the customer, oldest first.
func (r *Resolver) History(ctx context.Context, customerID string) ([]models.LicenseRecord, error) {
	objects, err := r.store.List(ctx, storage.LicenseHistoryPrefix(customerID))
	if err != nil {
		return nil, fmt.Errorf("list license history: %w", err)
	}

	records := make([]models.LicenseRecord, 0, len(objects))
	for _, obj := range objects {
		data, err := r.store.Get(ctx, obj.Path)
		if err != nil {
			return nil, fmt.Errorf("read license history %s: %w", obj.Path, err)
		}
		var rec models.LicenseRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode license history %s: %w", obj.Path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// RecordSubscription refreshes the latest pointer with a subscription
// snapshot, carrying the key and email forward from the previous record.
func (r *Resolver) RecordSubscription(ctx context.Context, sub models.Subscription, email, source string) (*models.LicenseRecord, error) {
	rec := models.LicenseRecord{
		CustomerID:     sub.CustomerID,
		Email:          email,
		Source:         source,
		SubscriptionID: sub.ID,
		Status:         sub.Status,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		rec.CurrentPeriodEnd = &end
	}

	prev, err := r.Latest(ctx, sub.CustomerID)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		rec.LicenseKey = prev.LicenseKey
		if rec.Email == "" {
			rec.Email = prev.Email
		}
	}

	if err := r.Save(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RevokeResult lists what a revocation cancelled.
type RevokeResult struct {
	CustomerID string   `json:"customerId"`
	Canceled   []string `json:"canceled"`
}

// Revoke cancels every subscription that could still bill the customer and
// records the revocation. Keys are not erased; the status check denies them.
func (r *Resolver) Revoke(ctx context.Context, customerID string) (*RevokeResult, error) {
	subs, err := r.provider.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := &RevokeResult{CustomerID: customerID, Canceled: []string{}}
	for _, sub := range subs {
		if !IsRevocableStatus(sub.Status) {
			continue
		}
		if err := r.provider.CancelSubscription(ctx, sub.ID); err != nil {
			return result, err
		}
		result.Canceled = append(result.Canceled, sub.ID)
	}

	rec := models.LicenseRecord{
		CustomerID: customerID,
		Source:     models.SourceAdminRevoke,
		Status:     billing.StatusCanceled,
	}
	if prev, err := r.Latest(ctx, customerID); err == nil && prev != nil {
		rec.LicenseKey = prev.LicenseKey
		rec.Email = prev.Email
		rec.SubscriptionID = prev.SubscriptionID
	}
	if err := r.Save(ctx, &rec); err != nil {
		return result, err
	}

	logger.Info("License revoked", map[string]interface{}{
		"customer_id": customerID,
		"canceled":    len(result.Canceled),
	})
	return result, nil
}
