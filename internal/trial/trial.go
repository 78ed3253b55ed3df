// Package trial tracks one-time, fixed-length free trials per identity.
package trial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/metrics"
	"beliefcoach.app/cloud/models"
	"beliefcoach.app/cloud/storage"
)

type Kind string

const (
	KindEmail  Kind = "email"
	KindCookie Kind = "cookie"
)

// ErrNoIdentity is returned when an identity normalizes to nothing.
var ErrNoIdentity = errors.New("trial: empty identity")

var cookieIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]{7,63}$`)

const createTimeout = 10 * time.Second

// Identity keys a trial. Email and cookie trials live in separate
// namespaces and are never merged.
type Identity struct {
	Kind Kind
	Key  string
}

func EmailIdentity(email string) Identity {
	return Identity{Kind: KindEmail, Key: storage.NormalizeEmail(email)}
}

func CookieIdentity(value string) Identity {
	if !cookieIDPattern.MatchString(value) {
		return Identity{Kind: KindCookie}
	}
	return Identity{Kind: KindCookie, Key: value}
}

// issuedAt reads the issue time a cookie value carries after its last dot.
// Plain uuid cookies carry none.
func (id Identity) issuedAt() (time.Time, bool) {
	if id.Kind != KindCookie {
		return time.Time{}, false
	}
	i := strings.LastIndexByte(id.Key, '.')
	if i < 0 {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(id.Key[i+1:], 36, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

func (id Identity) Valid() bool {
	return id.Key != "" && (id.Kind == KindEmail || id.Kind == KindCookie)
}

func (id Identity) path() string {
	return storage.TrialPath(string(id.Kind), id.Key)
}

type Tracker struct {
	store storage.Store
	days  int
	now   func() time.Time
	group singleflight.Group
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a tracker with a fixed trial length. days is read once
// at startup and must be positive.
func NewTracker(store storage.Store, days int, opts ...Option) *Tracker {
	if days <= 0 {
		days = 7
	}
	t := &Tracker{store: store, days: days, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Days() int {
	return t.days
}

// IssueCookie mints a cookie identity stamped with the current time and
// returns the trial it will have once stored. Nothing is written: the trial
// is persisted by Ensure when the cookie comes back, starting at the stamp.
func (t *Tracker) IssueCookie() (Identity, models.TrialSnapshot) {
	now := t.now().UTC()
	id := Identity{Kind: KindCookie, Key: uuid.NewString() + "." + strconv.FormatInt(now.Unix(), 36)}
	state := models.TrialState{IdentityKey: id.Key, StartedAt: now.Truncate(time.Second)}
	return id, state.At(now, t.days)
}

// Status evaluates the stored trial at the current time. It never writes.
func (t *Tracker) Status(ctx context.Context, id Identity) (models.TrialSnapshot, bool, error) {
	if !id.Valid() {
		return models.TrialSnapshot{}, false, ErrNoIdentity
	}

	state, err := t.read(ctx, id)
	if err != nil || state == nil {
		return models.TrialSnapshot{}, false, err
	}
	return state.At(t.now(), t.days), true, nil
}

// Ensure returns the identity's trial, starting it now if none exists.
// Concurrent first calls in this process share one creation; across
// processes the last write wins and the value read back is returned.
func (t *Tracker) Ensure(ctx context.Context, id Identity) (models.TrialSnapshot, error) {
	if !id.Valid() {
		return models.TrialSnapshot{}, ErrNoIdentity
	}

	if state, err := t.read(ctx, id); err != nil {
		return models.TrialSnapshot{}, err
	} else if state != nil {
		return state.At(t.now(), t.days), nil
	}

	// The creation is shared by every waiting caller, so it must outlive
	// the first caller's request.
	v, err, _ := t.group.Do(id.path(), func() (interface{}, error) {
		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
		defer cancel()
		return t.create(createCtx, id)
	})
	if err != nil {
		return models.TrialSnapshot{}, err
	}
	state := v.(models.TrialState)
	return state.At(t.now(), t.days), nil
}

func (t *Tracker) create(ctx context.Context, id Identity) (models.TrialState, error) {
	if state, err := t.read(ctx, id); err != nil {
		return models.TrialState{}, err
	} else if state != nil {
		return *state, nil
	}

	state := models.TrialState{IdentityKey: id.Key, StartedAt: t.startFor(id)}
	data, err := json.Marshal(state)
	if err != nil {
		return models.TrialState{}, fmt.Errorf("encode trial: %w", err)
	}
	if _, err := t.store.Put(ctx, id.path(), data, storage.ContentTypeJSON); err != nil {
		return models.TrialState{}, fmt.Errorf("write trial: %w", err)
	}

	metrics.TrialsStartedTotal.WithLabelValues(string(id.Kind)).Inc()
	logger.Info("Trial started", map[string]interface{}{
		"kind": string(id.Kind),
	})

	// Another instance may have written between our read and write.
	if stored, err := t.read(ctx, id); err == nil && stored != nil {
		return *stored, nil
	}
	return state, nil
}

func (t *Tracker) read(ctx context.Context, id Identity) (*models.TrialState, error) {
	data, err := t.store.Get(ctx, id.path())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trial: %w", err)
	}

	var state models.TrialState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode trial %s: %w", id.path(), err)
	}
	if state.StartedAt.IsZero() {
		return nil, fmt.Errorf("decode trial %s: missing startedAt", id.path())
	}
	return &state, nil
}

// startFor is now, or the cookie's issue stamp when it is earlier.
func (t *Tracker) startFor(id Identity) time.Time {
	now := t.now().UTC()
	if issued, ok := id.issuedAt(); ok && issued.Before(now) {
		return issued
	}
	return now
}
