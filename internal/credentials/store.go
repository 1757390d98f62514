// Package credentials keeps the persisted set of identities the dashboard
// knows about and answers lookups against it.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/bissquit/deepvisas/internal/pkg/metrics"
	"github.com/bissquit/deepvisas/internal/storage"
	"github.com/google/uuid"
)

// IdentitiesKey is the storage key the identity set lives under.
const IdentitiesKey = "deepvisas.identities"

// Errors returned by the store.
var (
	ErrInvalidIdentity = errors.New("identity requires an email and a secret")
	errMalformed       = errors.New("malformed identity set")
)

// Seed is an identity written on first run.
type Seed struct {
	Email       string
	Secret      string
	Role        domain.Role
	DisplayName string
}

// DefaultSeeds are the two accounts every fresh install starts with.
var DefaultSeeds = []Seed{
	{Email: "admin@deepvisas.com", Secret: "password123", Role: domain.RoleAdmin},
	{Email: "user@deepvisas.com", Secret: "password123", Role: domain.RoleUser},
}

type record struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Secret      string      `json:"secret"`
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"display_name,omitempty"`
}

func (r record) toDomain() domain.Identity {
	return domain.Identity{
		ID:          r.ID,
		Email:       r.Email,
		Secret:      r.Secret,
		Role:        r.Role,
		DisplayName: r.DisplayName,
	}
}

// Store is the credential store. All reads go to storage, so two stores
// over the same storage observe each other's writes.
type Store struct {
	mu      sync.Mutex
	kv      storage.Storage
	matcher SecretMatcher
	seeds   []Seed
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSeeds overrides DefaultSeeds.
func WithSeeds(seeds []Seed) Option {
	return func(s *Store) {
		s.seeds = seeds
	}
}

// WithLogger sets the logger used for recovery warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a credential store over kv. A nil matcher means plain.
func NewStore(kv storage.Storage, matcher SecretMatcher, opts ...Option) *Store {
	if matcher == nil {
		matcher = PlainMatcher{}
	}
	s := &Store{
		kv:      kv,
		matcher: matcher,
		seeds:   DefaultSeeds,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize writes the seed identities unless a non-empty, well-formed set
// is already persisted.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	switch {
	case errors.Is(err, errMalformed):
		s.logger.Warn("discarding malformed identity set", "error", err)
		metrics.RecordRecovery("identities")
	case err != nil:
		return err
	case len(records) > 0:
		return nil
	}

	_, err = s.writeSeeds(ctx)
	return err
}

// Find returns the identity whose email matches case-insensitively and
// whose secret matches exactly.
func (s *Store) Find(ctx context.Context, email, secret string) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(ctx)
	if err != nil {
		return domain.Identity{}, false, err
	}

	key := domain.NormalizeEmail(email)
	for _, r := range records {
		if domain.NormalizeEmail(r.Email) != key {
			continue
		}
		if !s.matcher.Match(r.Secret, secret) {
			return domain.Identity{}, false, nil
		}
		return r.toDomain(), true, nil
	}
	return domain.Identity{}, false, nil
}

// Exists reports whether an identity with this email is stored.
func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(ctx)
	if err != nil {
		return false, err
	}
	return indexOf(records, email) >= 0, nil
}

// Insert adds identity with the user role. It returns false, without
// error, when the email is already taken.
func (s *Store) Insert(ctx context.Context, identity domain.Identity) (bool, error) {
	email := strings.TrimSpace(identity.Email)
	if email == "" || identity.Secret == "" {
		return false, ErrInvalidIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(ctx)
	if err != nil {
		return false, err
	}
	if indexOf(records, email) >= 0 {
		return false, nil
	}

	sealed, err := s.matcher.Seal(identity.Secret)
	if err != nil {
		return false, err
	}

	id := identity.ID
	if id == "" {
		id = uuid.NewString()
	}

	records = append(records, record{
		ID:          id,
		Email:       email,
		Secret:      sealed,
		Role:        domain.RoleUser,
		DisplayName: identity.DisplayName,
	})
	if err := s.save(ctx, records); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every stored identity in insertion order.
func (s *Store) List(ctx context.Context) ([]domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}

	identities := make([]domain.Identity, 0, len(records))
	for _, r := range records {
		identities = append(identities, r.toDomain())
	}
	return identities, nil
}

// records loads the set, replacing a corrupt one with the seeds.
// Caller must hold s.mu.
func (s *Store) records(ctx context.Context) ([]record, error) {
	records, err := s.load(ctx)
	if errors.Is(err, errMalformed) {
		s.logger.Warn("discarding malformed identity set", "error", err)
		metrics.RecordRecovery("identities")
		return s.writeSeeds(ctx)
	}
	return records, err
}

func (s *Store) load(ctx context.Context) ([]record, error) {
	data, err := s.kv.Get(ctx, IdentitiesKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.Email) == "" || !r.Role.IsValid() {
			return nil, fmt.Errorf("%w: record %d is incomplete", errMalformed, i)
		}
		key := domain.NormalizeEmail(r.Email)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate email at record %d", errMalformed, i)
		}
		seen[key] = struct{}{}
	}
	return records, nil
}

func (s *Store) save(ctx context.Context, records []record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode identities: %w", err)
	}
	if err := s.kv.Put(ctx, IdentitiesKey, data); err != nil {
		return fmt.Errorf("save identities: %w", err)
	}
	return nil
}

func (s *Store) writeSeeds(ctx context.Context) ([]record, error) {
	records := make([]record, 0, len(s.seeds))
	for _, seed := range s.seeds {
		sealed, err := s.matcher.Seal(seed.Secret)
		if err != nil {
			return nil, err
		}
		records = append(records, record{
			ID:          uuid.NewString(),
			Email:       seed.Email,
			Secret:      sealed,
			Role:        seed.Role,
			DisplayName: seed.DisplayName,
		})
	}

	if err := s.save(ctx, records); err != nil {
		return nil, err
	}
	s.logger.Info("seeded identity set", "count", len(records))
	return records, nil
}

func indexOf(records []record, email string) int {
	key := domain.NormalizeEmail(email)
	for i, r := range records {
		if domain.NormalizeEmail(r.Email) == key {
			return i
		}
	}
	return -1
}
