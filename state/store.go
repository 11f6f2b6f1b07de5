package state

import "time"

// CacheEntry is one cached value with an optional expiry.
type CacheEntry struct {
	Value     any        `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (e CacheEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Store is the full persisted state: the sessions map, the cache map, and
// the last persistence timestamp. It is owned exclusively by a Manager.
type Store struct {
	Sessions  map[string]*Session   `json:"sessions"`
	Cache     map[string]CacheEntry `json:"cache"`
	LastSaved time.Time             `json:"last_saved"`
}

func newStore() *Store {
	return &Store{
		Sessions: make(map[string]*Session),
		Cache:    make(map[string]CacheEntry),
	}
}

// normalize repairs nil maps after a snapshot load.
func (s *Store) normalize() {
	if s.Sessions == nil {
		s.Sessions = make(map[string]*Session)
	}
	if s.Cache == nil {
		s.Cache = make(map[string]CacheEntry)
	}
}
