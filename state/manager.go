package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Delta-Corvi/docqa-core/observe"
)

// ErrSessionNotFound is returned when a session id resolves to nothing.
var ErrSessionNotFound = errors.New("state: session not found")

// Config configures a Manager.
type Config struct {
	// Path is the snapshot file location. Default: "docqa_state.json"
	Path string

	// SessionTTL is how long a session lives after creation.
	// Default: 24 hours
	SessionTTL time.Duration

	// DefaultCacheTTL applies to cache entries stored without an explicit
	// TTL. Zero means such entries never expire.
	DefaultCacheTTL time.Duration

	// SweepInterval is how often expired entries are evicted when the
	// manager's background loop is used. Default: 1 hour
	SweepInterval time.Duration

	// PersistInterval is how often the snapshot is rewritten when the
	// manager's background loop is used. Default: 5 minutes
	PersistInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "docqa_state.json"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 5 * time.Minute
	}
	return c
}

// Stats summarizes the store for metrics payloads.
type Stats struct {
	SessionsCount int       `json:"sessions_count"`
	CacheSize     int       `json:"cache_size"`
	LastSaved     time.Time `json:"last_saved"`
}

// Manager owns a Store and mediates all access to it. Reads take a shared
// lock; mutations and sweeps take the exclusive lock; snapshot writes are
// coalesced so concurrent Persist calls produce a single write.
type Manager struct {
	config Config
	logger observe.Logger

	mu    sync.RWMutex
	store *Store

	persistGroup singleflight.Group
}

// NewManager creates a manager with an empty store. Call Load to recover a
// previous snapshot.
func NewManager(config Config, logger observe.Logger) *Manager {
	return &Manager{
		config: config.withDefaults(),
		logger: observe.OrNop(logger),
		store:  newStore(),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Load reads the snapshot from disk. An absent or corrupt snapshot is logged
// and replaced with an empty store; startup never fails on state recovery.
func (m *Manager) Load(ctx context.Context) {
	data, err := os.ReadFile(m.config.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Info(ctx, "no state snapshot, starting empty", observe.F("path", m.config.Path))
		} else {
			m.logger.Error(ctx, "failed to read state snapshot, starting empty",
				observe.F("path", m.config.Path),
				observe.F("error", err.Error()),
			)
		}
		return
	}

	var loaded Store
	if err := json.Unmarshal(data, &loaded); err != nil {
		m.logger.Error(ctx, "corrupt state snapshot, starting empty",
			observe.F("path", m.config.Path),
			observe.F("error", err.Error()),
		)
		return
	}
	loaded.normalize()

	m.mu.Lock()
	m.store = &loaded
	m.mu.Unlock()

	m.logger.Info(ctx, "state snapshot loaded",
		observe.F("path", m.config.Path),
		observe.F("sessions", len(loaded.Sessions)),
		observe.F("cache_entries", len(loaded.Cache)),
	)
}

// Persist writes the full store to disk atomically: the snapshot is written
// to a temporary file in the same directory and renamed over the previous
// one, so a crash mid-write leaves the old snapshot intact. Concurrent
// callers share a single write.
func (m *Manager) Persist(ctx context.Context) error {
	_, err, _ := m.persistGroup.Do("persist", func() (any, error) {
		return nil, m.persist(ctx)
	})
	return err
}

func (m *Manager) persist(ctx context.Context) error {
	m.mu.Lock()
	m.store.LastSaved = time.Now()
	data, err := json.Marshal(m.store)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(m.config.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(m.config.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, m.config.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: commit snapshot: %w", err)
	}

	m.logger.Debug(ctx, "state persisted", observe.F("path", m.config.Path))
	return nil
}

// CreateSession creates a session referencing the given documents and
// returns a copy of the stored record.
func (m *Manager) CreateSession(documents ...string) *Session {
	now := time.Now()
	session := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.SessionTTL),
		Documents: append([]string(nil), documents...),
	}

	m.mu.Lock()
	m.store.Sessions[session.ID] = session
	cp := session.clone()
	m.mu.Unlock()

	return cp
}

// GetSession returns a copy of the session, or false when it is absent or
// expired. Expired sessions are evicted lazily.
func (m *Manager) GetSession(id string) (*Session, bool) {
	now := time.Now()

	// The copy is taken while the lock is held; the stored record may be
	// appended to by concurrent writers the moment the lock is released.
	m.mu.RLock()
	session, ok := m.store.Sessions[id]
	if ok && !session.expired(now) {
		cp := session.clone()
		m.mu.RUnlock()
		return cp, true
	}
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	m.mu.Lock()
	if session, ok := m.store.Sessions[id]; ok && session.expired(now) {
		delete(m.store.Sessions, id)
	}
	m.mu.Unlock()
	return nil, false
}

// AppendExchange adds a question-answer pair to the session's history.
func (m *Manager) AppendExchange(id, question, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.store.Sessions[id]
	if !ok || session.expired(time.Now()) {
		return fmt.Errorf("state: %q: %w", id, ErrSessionNotFound)
	}
	session.History = append(session.History, Exchange{
		Question: question,
		Answer:   answer,
		AskedAt:  time.Now(),
	})
	return nil
}

// AttachDocument adds a document reference to an existing session.
func (m *Manager) AttachDocument(id, document string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.store.Sessions[id]
	if !ok || session.expired(time.Now()) {
		return fmt.Errorf("state: %q: %w", id, ErrSessionNotFound)
	}
	session.Documents = append(session.Documents, document)
	return nil
}

// DeleteSession evicts a session. Idempotent.
func (m *Manager) DeleteSession(id string) {
	m.mu.Lock()
	delete(m.store.Sessions, id)
	m.mu.Unlock()
}

// CacheGet returns the cached value, or false on miss or expiry. Expired
// entries are evicted lazily.
func (m *Manager) CacheGet(key string) (any, bool) {
	m.mu.RLock()
	entry, ok := m.store.Cache[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		m.mu.Lock()
		delete(m.store.Cache, key)
		m.mu.Unlock()
		return nil, false
	}
	return entry.Value, true
}

// CacheSet stores a value. ttl <= 0 selects the configured default; a zero
// default means the entry never expires.
func (m *Manager) CacheSet(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.config.DefaultCacheTTL
	}

	entry := CacheEntry{Value: value}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		entry.ExpiresAt = &expires
	}

	m.mu.Lock()
	m.store.Cache[key] = entry
	m.mu.Unlock()
}

// CacheDelete evicts a cache entry. Idempotent.
func (m *Manager) CacheDelete(key string) {
	m.mu.Lock()
	delete(m.store.Cache, key)
	m.mu.Unlock()
}

// ClearCache drops every cache entry.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.store.Cache = make(map[string]CacheEntry)
	m.mu.Unlock()
}

// Sweep evicts expired sessions and cache entries, returning how many of
// each were removed.
func (m *Manager) Sweep(now time.Time) (sessions, entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.store.Sessions {
		if session.expired(now) {
			delete(m.store.Sessions, id)
			sessions++
		}
	}
	for key, entry := range m.store.Cache {
		if entry.expired(now) {
			delete(m.store.Cache, key)
			entries++
		}
	}
	return sessions, entries
}

// Stats summarizes the current store contents.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		SessionsCount: len(m.store.Sessions),
		CacheSize:     len(m.store.Cache),
		LastSaved:     m.store.LastSaved,
	}
}
