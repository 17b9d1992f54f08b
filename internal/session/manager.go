package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/vbonduro/treetag/internal/form"
	"github.com/vbonduro/treetag/internal/species"
)

var ErrNotFound = errors.New("session not found")

// Observer is told about session lifecycle events. reason is "closed" or
// "expired".
type Observer interface {
	SessionOpened()
	SessionClosed(reason string)
}

// Manager keeps open sessions in memory. A session expires ttl after it was
// last used. Nothing is persisted.
type Manager struct {
	sessions  *cache.Cache
	catalog   *species.Catalog
	submitter form.Submitter
	observer  Observer
	logger    *slog.Logger
}

// NewManager creates a manager. observer may be nil.
func NewManager(ttl time.Duration, catalog *species.Catalog, submitter form.Submitter, observer Observer, logger *slog.Logger) *Manager {
	m := &Manager{
		sessions:  cache.New(ttl, ttl),
		catalog:   catalog,
		submitter: submitter,
		observer:  observer,
		logger:    logger,
	}
	// Delete fires OnEvicted too, so sessions removed by Close are skipped.
	m.sessions.OnEvicted(func(id string, v any) {
		if v.(*Session).closed.Load() {
			return
		}
		m.logger.Info("session expired", "session_id", id)
		if m.observer != nil {
			m.observer.SessionClosed("expired")
		}
	})
	return m
}

// Open starts a session with a fresh form.
func (m *Manager) Open() *Session {
	id := uuid.NewString()
	s := newSession(id, m.catalog, m.submitter, m.logger)
	m.sessions.SetDefault(id, s)
	m.logger.Info("session opened", "session_id", id)
	if m.observer != nil {
		m.observer.SessionOpened()
	}
	return s
}

// Get returns the session and extends its lifetime.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*Session)
	m.sessions.SetDefault(id, s)
	return s, nil
}

// Close discards a session and everything entered into it.
func (m *Manager) Close(id string) error {
	v, ok := m.sessions.Get(id)
	if !ok {
		return ErrNotFound
	}
	v.(*Session).closed.Store(true)
	m.sessions.Delete(id)
	m.logger.Info("session closed", "session_id", id)
	if m.observer != nil {
		m.observer.SessionClosed("closed")
	}
	return nil
}

// Count is the number of live sessions, including expired ones not yet swept.
func (m *Manager) Count() int {
	return m.sessions.ItemCount()
}
