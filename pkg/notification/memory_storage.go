package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Suitable for development and testing.
type MemoryStorage struct {
	records map[string]*Record // id -> record
	byUser  map[string][]string
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory notification storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*Record),
		byUser:  make(map[string][]string),
	}
}

func (s *MemoryStorage) Create(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		return ErrNotFound
	}
	if rec.UserID == "" {
		return ErrMissingUserID
	}
	if _, exists := s.records[rec.ID]; exists {
		return ErrDuplicateID
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ChannelStatus == nil {
		rec.ChannelStatus = make(map[Channel]string)
	}

	stored := rec
	s.records[rec.ID] = &stored
	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec.ID)
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external mutation of stored data.
	out := *rec
	out.ChannelStatus = copyStatus(rec.ChannelStatus)
	return &out, nil
}

func (s *MemoryStorage) List(ctx context.Context, userID string, opts ListOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []Record
	for _, id := range s.byUser[userID] {
		rec := s.records[id]

		if rec.Dismissed && !opts.IncludeDismissed {
			continue
		}
		if opts.OnlyUnread && rec.Read {
			continue
		}
		if opts.Module != "" && rec.Module != opts.Module {
			continue
		}
		if len(opts.Priorities) > 0 {
			found := false
			for _, p := range opts.Priorities {
				if rec.Priority == p {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if opts.Since != nil && rec.CreatedAt.Before(*opts.Since) {
			continue
		}

		out := *rec
		out.ChannelStatus = copyStatus(rec.ChannelStatus)
		filtered = append(filtered, out)
	}

	// Newest first.
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(filtered) {
		return []Record{}, nil
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

func (s *MemoryStorage) ListThread(ctx context.Context, userID, threadID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, id := range s.byUser[userID] {
		rec := s.records[id]
		if rec.ThreadID != threadID || threadID == "" {
			continue
		}
		c := *rec
		c.ChannelStatus = copyStatus(rec.ChannelStatus)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStorage) MarkRead(ctx context.Context, userID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		rec, exists := s.records[id]
		if !exists || rec.UserID != userID {
			continue
		}
		rec.MarkAsRead(now)
	}
	return nil
}

func (s *MemoryStorage) Dismiss(ctx context.Context, userID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		rec, exists := s.records[id]
		if !exists || rec.UserID != userID {
			continue
		}
		rec.MarkAsDismissed(now)
	}
	return nil
}

func (s *MemoryStorage) CountUnread(ctx context.Context, userID, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.byUser[userID] {
		rec := s.records[id]
		if rec.Read || rec.Dismissed {
			continue
		}
		if tenantID != "" && rec.TenantID != tenantID {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStorage) SetChannelStatus(ctx context.Context, id string, ch Channel, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}
	if rec.ChannelStatus == nil {
		rec.ChannelStatus = make(map[Channel]string)
	}
	rec.ChannelStatus[ch] = status
	rec.Version++
	return nil
}

func (s *MemoryStorage) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, rec := range s.records {
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		delete(s.records, id)
		ids := s.byUser[rec.UserID]
		for i, uid := range ids {
			if uid == id {
				s.byUser[rec.UserID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		purged++
	}
	return purged, nil
}

func copyStatus(in map[Channel]string) map[Channel]string {
	if in == nil {
		return nil
	}
	out := make(map[Channel]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
