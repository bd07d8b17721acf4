package preference

import (
	"context"
	"sync"
	"time"
)

// Store handles preference persistence. Preferences are keyed by
// (tenant, user, module).
type Store interface {
	// Get retrieves a preference. Returns ErrNotFound when the user has
	// never materialized settings for the module; callers treat that as
	// "everything enabled, no caps".
	Get(ctx context.Context, tenantID, userID, module string) (*Preference, error)

	// Upsert validates and stores a preference, replacing any existing one.
	Upsert(ctx context.Context, pref Preference) error

	// Seed stores a preference only when none exists for the scope.
	// Used to materialize defaults from role rules at role-assignment
	// time; it never overrides settings the user already saved.
	Seed(ctx context.Context, pref Preference) error

	// Delete removes a preference.
	Delete(ctx context.Context, tenantID, userID, module string) error
}

// MemoryStore is an in-memory implementation of the Store interface.
// Suitable for development and testing.
type MemoryStore struct {
	prefs map[string]Preference
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory preference store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prefs: make(map[string]Preference),
	}
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, userID, module string) (*Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pref, ok := s.prefs[prefKey(tenantID, userID, module)]
	if !ok {
		return nil, ErrNotFound
	}
	return &pref, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, pref Preference) error {
	if err := pref.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pref.UpdatedAt = time.Now()
	s.prefs[prefKey(pref.TenantID, pref.UserID, pref.Module)] = pref
	return nil
}

func (s *MemoryStore) Seed(ctx context.Context, pref Preference) error {
	if err := pref.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := prefKey(pref.TenantID, pref.UserID, pref.Module)
	if _, exists := s.prefs[key]; exists {
		return nil
	}
	pref.UpdatedAt = time.Now()
	s.prefs[key] = pref
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID, userID, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.prefs, prefKey(tenantID, userID, module))
	return nil
}

func prefKey(tenantID, userID, module string) string {
	return tenantID + "/" + userID + "/" + module
}
