// Package session tracks authenticated users and the engine each one queries.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cinematch/internal/account"
	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/engine"
	"github.com/kalambet/cinematch/internal/metrics"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Session is one logged-in user's context: identity, filters, last search,
// and a private engine instance.
type Session struct {
	Token     string
	Account   account.Public
	Engine    *engine.Engine
	CreatedAt time.Time

	mu         sync.Mutex
	lastSeen   time.Time
	lastSearch string
}

// LastSearch returns the most recent title the user searched for.
func (s *Session) LastSearch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSearch
}

// SetLastSearch records title as the user's latest search.
func (s *Session) SetLastSearch(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSearch = title
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Options configures a Manager.
type Options struct {
	// TTL is the idle time after which a session expires. Defaults to 30m.
	TTL    time.Duration
	Engine engine.Options
	Clock  Clock
	Logger *slog.Logger
}

// Manager owns the live sessions and the catalog snapshot handed to new ones.
type Manager struct {
	ttl    time.Duration
	engOpt engine.Options
	clock  Clock
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	cat      catalog.Catalog
	hasCat   bool
}

// NewManager creates a Manager with no catalog.
func NewManager(opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		ttl:      opts.TTL,
		engOpt:   opts.Engine,
		clock:    opts.Clock,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session for acct. The session's engine gets the current
// catalog, if any.
func (m *Manager) Create(acct account.Public) *Session {
	now := m.clock.Now()
	opts := m.engOpt
	opts.Logger = m.logger.With("user", acct.Username)
	s := &Session{
		Token:     uuid.NewString(),
		Account:   acct,
		Engine:    engine.New(opts),
		CreatedAt: now,
		lastSeen:  now,
	}

	m.mu.Lock()
	if m.hasCat {
		s.Engine.Load(m.cat)
	}
	m.sessions[s.Token] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
	m.logger.Info("session created", "user", acct.Username)
	return s
}

// Get returns the live session for token and refreshes its idle timer.
// Unknown or expired tokens yield account.ErrNotAuthenticated.
func (m *Manager) Get(token string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return nil, account.ErrNotAuthenticated
	}

	now := m.clock.Now()
	if now.Sub(s.idleSince()) > m.ttl {
		m.Delete(token)
		return nil, account.ErrNotAuthenticated
	}
	s.touch(now)
	return s, nil
}

// Delete ends the session for token and returns it.
func (m *Manager) Delete(token string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	delete(m.sessions, token)
	n := len(m.sessions)
	m.mu.Unlock()

	if ok {
		metrics.SessionsActive.Set(float64(n))
	}
	return s, ok
}

// ReloadAll installs cat as the current catalog and hands it to every live
// session, whose index becomes unbuilt until its next query.
func (m *Manager) ReloadAll(cat catalog.Catalog) int {
	m.mu.Lock()
	m.cat = cat
	m.hasCat = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Engine.Load(cat)
	}
	m.logger.Info("catalog reloaded", "records", cat.Len(), "sessions", len(live))
	return len(live)
}

// HasCatalog reports whether a catalog has been installed.
func (m *Manager) HasCatalog() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasCat
}

// Sweep removes sessions idle for longer than the TTL.
func (m *Manager) Sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	removed := 0
	for tok, s := range m.sessions {
		if now.Sub(s.idleSince()) > m.ttl {
			delete(m.sessions, tok)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		metrics.SessionsActive.Set(float64(n))
		m.logger.Debug("expired sessions removed", "count", removed)
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
