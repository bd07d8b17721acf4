package delivery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Suitable for development and testing.
type MemoryStorage struct {
	attempts       map[string]*Attempt // id -> attempt
	byNotification map[string][]string
	byProviderRef  map[string]string // provider "\x00" providerMessageID -> id
	mu             sync.RWMutex
}

// NewMemoryStorage creates a new in-memory attempt storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		attempts:       make(map[string]*Attempt),
		byNotification: make(map[string][]string),
		byProviderRef:  make(map[string]string),
	}
}

func (s *MemoryStorage) Create(ctx context.Context, att Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attempts[att.ID]; exists {
		return ErrDuplicateID
	}
	for _, id := range s.byNotification[att.NotificationID] {
		if s.attempts[id].Channel == att.Channel {
			return ErrDuplicateChannel
		}
	}

	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now()
	}
	if att.Status == "" {
		att.Status = StatusPending
	}
	if att.MaxRetries == 0 {
		att.MaxRetries = DefaultMaxRetries
	}

	stored := att
	s.attempts[att.ID] = &stored
	s.byNotification[att.NotificationID] = append(s.byNotification[att.NotificationID], att.ID)
	if att.Provider != "" && att.ProviderMessageID != "" {
		s.byProviderRef[providerRefKey(att.Provider, att.ProviderMessageID)] = att.ID
	}
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, exists := s.attempts[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := *att
	return &out, nil
}

func (s *MemoryStorage) GetByProviderRef(ctx context.Context, provider, providerMessageID string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byProviderRef[providerRefKey(provider, providerMessageID)]
	if !exists {
		return nil, ErrNotFound
	}
	out := *s.attempts[id]
	return &out, nil
}

func (s *MemoryStorage) ListByNotification(ctx context.Context, notificationID string) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byNotification[notificationID]
	out := make([]Attempt, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.attempts[id])
	}
	return out, nil
}

func (s *MemoryStorage) Update(ctx context.Context, att Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.attempts[att.ID]
	if !exists {
		return ErrNotFound
	}
	if current.Version != att.Version {
		return ErrVersionConflict
	}

	att.Version++
	stored := att
	s.attempts[att.ID] = &stored
	if att.Provider != "" && att.ProviderMessageID != "" {
		s.byProviderRef[providerRefKey(att.Provider, att.ProviderMessageID)] = att.ID
	}
	return nil
}

func (s *MemoryStorage) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Attempt
	for _, att := range s.attempts {
		if att.Status != StatusPending {
			continue
		}
		if att.ScheduledFor != nil && att.ScheduledFor.After(now) {
			continue
		}
		out = append(out, *att)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStorage) ListRetryable(ctx context.Context, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Attempt
	for _, att := range s.attempts {
		if att.Status != StatusFailed || att.RetriesExhausted() {
			continue
		}
		out = append(out, *att)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStorage) Stats(ctx context.Context, q StatsQuery) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	for _, att := range s.attempts {
		if q.TenantID != "" && att.TenantID != q.TenantID {
			continue
		}
		if q.Module != "" && att.Module != q.Module {
			continue
		}
		if q.Channel != "" && string(att.Channel) != q.Channel {
			continue
		}
		if !q.From.IsZero() && att.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !att.CreatedAt.Before(q.To) {
			continue
		}

		stats.Total++
		if att.SentAt != nil {
			stats.Sent++
		}
		if att.DeliveredAt != nil {
			stats.Delivered++
		}
		switch att.Status {
		case StatusFailed:
			stats.Failed++
		case StatusBounced:
			stats.Bounced++
		case StatusRejected:
			stats.Rejected++
		}
		if att.OpenCount > 0 {
			stats.Opened++
		}
		if att.ClickCount > 0 {
			stats.Clicked++
		}
	}
	return stats, nil
}

func (s *MemoryStorage) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, att := range s.attempts {
		if !att.CreatedAt.Before(cutoff) {
			continue
		}
		delete(s.attempts, id)
		ids := s.byNotification[att.NotificationID]
		for i, aid := range ids {
			if aid == id {
				s.byNotification[att.NotificationID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if att.Provider != "" && att.ProviderMessageID != "" {
			delete(s.byProviderRef, providerRefKey(att.Provider, att.ProviderMessageID))
		}
		purged++
	}
	return purged, nil
}

func providerRefKey(provider, providerMessageID string) string {
	return provider + "\x00" + providerMessageID
}
