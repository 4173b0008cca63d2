package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// resolveTimeout bounds the background session check so a slow provider
// cannot pin a store in Resolving forever.
const resolveTimeout = 10 * time.Second

// Manager hands out one Store per session token, so the route guard and
// the handlers serving the same browser session all read the same
// state.
//
// LIFECYCLE:
// The first request carrying a given token gets a fresh Store in the
// Resolving phase, and the manager kicks off the background session
// check. Later requests with the same token observe the resolved store.
// A login issues a new token, which maps to a new store — that is the
// "full reinitialization" under which Resolving may appear again.
type Manager struct {
	provider Provider
	logger   *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store // keyed by session token; "" = anonymous
}

func NewManager(provider Provider, logger *slog.Logger) *Manager {
	return &Manager{
		provider: provider,
		logger:   logger,
		stores:   make(map[string]*Store),
	}
}

// StoreFor returns the Store for the given session token, creating it
// (and starting its background resolution) on first sight.
func (m *Manager) StoreFor(token string) *Store {
	m.mu.Lock()
	if s, ok := m.stores[token]; ok {
		m.mu.Unlock()
		return s
	}

	s := NewStore(m.provider, m.logger)
	m.stores[token] = s
	m.mu.Unlock()

	// Resolve off the request goroutine. The store discards the result
	// if an explicit transition happens first.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		s.ResolveSession(ctx, token)
	}()

	return s
}

// Adopt registers an already-resolved store for a freshly issued
// session, so the request that performed the login and every request
// after it share state without re-resolving.
func (m *Manager) Adopt(session Session) *Store {
	s := NewStore(m.provider, m.logger)
	s.SetPrincipal(session.Principal)
	s.mu.Lock()
	s.token = session.Token
	s.mu.Unlock()

	m.mu.Lock()
	m.stores[session.Token] = s
	m.mu.Unlock()
	return s
}

// Drop forgets the store for a token. Called on logout; the next
// request with that token (there should be none — the cookie is
// cleared) would simply resolve to Absent.
func (m *Manager) Drop(token string) {
	m.mu.Lock()
	delete(m.stores, token)
	m.mu.Unlock()
}
