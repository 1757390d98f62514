// Package session tracks which identity is signed in to the dashboard and
// mediates sign-in, sign-up and sign-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/bissquit/deepvisas/internal/guard"
	"github.com/bissquit/deepvisas/internal/pkg/metrics"
	"github.com/bissquit/deepvisas/internal/storage"
)

// SnapshotKey is the storage key the signed-in identity is persisted under.
const SnapshotKey = "deepvisas.session"

// Errors returned by Manager operations. Callers render them inline.
var (
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
)

// Credentials is the identity lookup the manager depends on.
type Credentials interface {
	Find(ctx context.Context, email, secret string) (domain.Identity, bool, error)
	Exists(ctx context.Context, email string) (bool, error)
	Insert(ctx context.Context, identity domain.Identity) (bool, error)
}

// EventKind identifies a session transition.
type EventKind string

// Event kinds.
const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedUp  EventKind = "signed_up"
	EventSignedOut EventKind = "signed_out"
)

// Event is delivered to subscribers after a transition has been persisted.
type Event struct {
	Kind     EventKind
	Identity domain.Identity
	Redirect domain.Route
}

type subscriber struct {
	id int
	fn func(Event)
}

// Manager owns the single session of a dashboard process.
// It is constructed once at start-up and injected where needed.
type Manager struct {
	mu          sync.RWMutex
	credentials Credentials
	kv          storage.Storage
	codec       Codec
	logger      *slog.Logger
	current     *domain.Identity

	subMu       sync.Mutex
	subscribers []subscriber
	nextSubID   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager and rehydrates a previously persisted
// session. A snapshot that fails to decode is deleted and the manager
// starts anonymous. A nil codec means JSONCodec.
func NewManager(ctx context.Context, credentials Credentials, kv storage.Storage, codec Codec, opts ...Option) (*Manager, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	m := &Manager{
		credentials: credentials,
		kv:          kv,
		codec:       codec,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.rehydrate(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) rehydrate(ctx context.Context) error {
	data, err := m.kv.Get(ctx, SnapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		recordAuthenticated(false)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session snapshot: %w", err)
	}

	identity, err := m.codec.Decode(data)
	if err != nil {
		m.logger.Warn("discarding session snapshot", "error", err)
		metrics.RecordRecovery("session")
		if err := m.kv.Delete(ctx, SnapshotKey); err != nil {
			return fmt.Errorf("delete session snapshot: %w", err)
		}
		recordAuthenticated(false)
		return nil
	}

	m.current = &identity
	recordAuthenticated(true)
	m.logger.Info("session restored", "email", identity.Email, "role", identity.Role)
	return nil
}

// IsAuthenticated reports whether an identity is signed in.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// CurrentUser returns a copy of the signed-in identity.
func (m *Manager) CurrentUser() (domain.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return domain.Identity{}, false
	}
	return *m.current, true
}

// SignIn authenticates email and secret. On success the snapshot is
// persisted before the state changes, and the returned route is where the
// caller must navigate next. On failure the state is left as it was.
func (m *Manager) SignIn(ctx context.Context, email, secret string) (domain.Route, error) {
	_, redirect, err := m.Authenticate(ctx, email, secret)
	return redirect, err
}

// Authenticate is SignIn that also returns the identity it signed in, as it
// was at that moment.
func (m *Manager) Authenticate(ctx context.Context, email, secret string) (domain.Identity, domain.Route, error) {
	m.mu.Lock()

	identity, found, err := m.credentials.Find(ctx, email, secret)
	if err != nil {
		m.mu.Unlock()
		recordAttempt("sign_in", "error")
		return domain.Identity{}, "", fmt.Errorf("find identity: %w", err)
	}
	if !found {
		m.mu.Unlock()
		recordAttempt("sign_in", "invalid_credentials")
		return domain.Identity{}, "", ErrInvalidCredentials
	}

	identity.Secret = ""
	data, err := m.codec.Encode(identity)
	if err != nil {
		m.mu.Unlock()
		recordAttempt("sign_in", "error")
		return domain.Identity{}, "", fmt.Errorf("encode session snapshot: %w", err)
	}
	if err := m.kv.Put(ctx, SnapshotKey, data); err != nil {
		m.mu.Unlock()
		recordAttempt("sign_in", "error")
		return domain.Identity{}, "", fmt.Errorf("persist session snapshot: %w", err)
	}

	m.current = &identity
	m.mu.Unlock()

	recordAttempt("sign_in", "success")
	recordAuthenticated(true)

	redirect := domain.LandingFor(identity.Role)
	m.publish(Event{Kind: EventSignedIn, Identity: identity, Redirect: redirect})
	return identity, redirect, nil
}

// SignUp registers a new user-role identity. It does not sign it in.
func (m *Manager) SignUp(ctx context.Context, email, secret string) error {
	return m.SignUpIdentity(ctx, domain.Identity{Email: email, Secret: secret})
}

// SignUpIdentity is SignUp with an optional display name. Any role on
// identity is ignored.
func (m *Manager) SignUpIdentity(ctx context.Context, identity domain.Identity) error {
	m.mu.Lock()

	exists, err := m.credentials.Exists(ctx, identity.Email)
	if err != nil {
		m.mu.Unlock()
		recordAttempt("sign_up", "error")
		return fmt.Errorf("check identity: %w", err)
	}
	if exists {
		m.mu.Unlock()
		recordAttempt("sign_up", "email_exists")
		return ErrEmailAlreadyRegistered
	}

	identity.Role = domain.RoleUser
	inserted, err := m.credentials.Insert(ctx, identity)
	m.mu.Unlock()
	if err != nil {
		recordAttempt("sign_up", "error")
		return fmt.Errorf("insert identity: %w", err)
	}
	if !inserted {
		recordAttempt("sign_up", "email_exists")
		return ErrEmailAlreadyRegistered
	}

	recordAttempt("sign_up", "success")
	identity.Secret = ""
	m.publish(Event{Kind: EventSignedUp, Identity: identity, Redirect: domain.RouteSignIn})
	return nil
}

// SignOut ends the session. The in-memory state is cleared even if the
// persisted snapshot cannot be deleted; that failure is returned.
func (m *Manager) SignOut(ctx context.Context) (domain.Route, error) {
	m.mu.Lock()
	var previous domain.Identity
	if m.current != nil {
		previous = *m.current
	}
	m.current = nil
	err := m.kv.Delete(ctx, SnapshotKey)
	m.mu.Unlock()

	recordAuthenticated(false)
	if err != nil {
		recordAttempt("sign_out", "error")
		err = fmt.Errorf("delete session snapshot: %w", err)
	} else {
		recordAttempt("sign_out", "success")
	}

	m.publish(Event{Kind: EventSignedOut, Identity: previous, Redirect: domain.RouteLanding})
	return domain.RouteLanding, err
}

// Guard evaluates policy against the current session.
func (m *Manager) Guard(policy guard.Policy) guard.Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return policy.Evaluate(nil)
	}
	current := *m.current
	return policy.Evaluate(&current)
}

// Subscribe registers fn to receive events. Subscribers run synchronously,
// in registration order, after the transition completed. The returned
// function removes the subscription.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) publish(event Event) {
	m.subMu.Lock()
	subs := make([]subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.Unlock()

	for _, s := range subs {
		s.fn(event)
	}
}
