package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/market-chat/internal/bus"
	"github.com/cwrk-planet/market-chat/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var ErrUnknownSession = errors.New("session: unknown session")

// Handle is the transport side of a connection.
type Handle interface {
	UserID() string
	Deliver(ev domain.Event) error
	Close() error
}

type Session struct {
	id          string
	handle      Handle
	connectedAt time.Time

	mu    sync.Mutex
	rooms map[string]struct{}
}

func (s *Session) ID() string                    { return s.id }
func (s *Session) UserID() string                { return s.handle.UserID() }
func (s *Session) Deliver(ev domain.Event) error { return s.handle.Deliver(ev) }
func (s *Session) ConnectedAt() time.Time        { return s.connectedAt }

func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.rooms)
}

func (s *Session) InRoom(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[chatID]
	return ok
}

// Manager owns session lifecycle and the cleanup of room memberships.
type Manager struct {
	bus *bus.Bus

	mu       sync.RWMutex
	sessions map[string]*Session

	onChange func(active int)
}

type Option func(*Manager)

// WithActiveHook reports the number of live sessions after connect/disconnect.
func WithActiveHook(fn func(active int)) Option {
	return func(m *Manager) { m.onChange = fn }
}

func NewManager(b *bus.Bus, opts ...Option) *Manager {
	m := &Manager{bus: b, sessions: make(map[string]*Session)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Connect registers h and returns its session with an empty room set.
func (m *Manager) Connect(h Handle) *Session {
	s := &Session{
		id:          uuid.NewString(),
		handle:      h,
		connectedAt: time.Now(),
		rooms:       make(map[string]struct{}),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	active := len(m.sessions)
	m.mu.Unlock()

	slog.Info("session connected", "session_id", s.id, "user_id", h.UserID())
	m.notify(active)
	return s
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) Join(sessionID, chatID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	// под локом сессии, чтобы не разъехаться с Disconnect
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms == nil {
		return ErrUnknownSession
	}
	s.rooms[chatID] = struct{}{}
	m.bus.Join(chatID, s)
	return nil
}

func (m *Manager) Leave(sessionID, chatID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, chatID)
	m.bus.Leave(chatID, s.id)
	return nil
}

// Disconnect removes the session from every joined room before returning.
// Calling it twice is a no-op.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	active := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	rooms := lo.Keys(s.rooms)
	for _, chatID := range rooms {
		m.bus.Leave(chatID, s.id)
	}
	s.rooms = nil
	s.mu.Unlock()

	slog.Info("session disconnected",
		"session_id", s.id,
		"user_id", s.UserID(),
		"rooms", len(rooms),
		"duration", time.Since(s.connectedAt).String())
	m.notify(active)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every live handle; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	handles := make([]Handle, 0, len(m.sessions))
	for _, s := range m.sessions {
		handles = append(handles, s.handle)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		_ = h.Close()
	}
}

func (m *Manager) notify(active int) {
	if m.onChange != nil {
		m.onChange(active)
	}
}
