package wire

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// Session is one authenticated WebSocket connection.
type Session struct {
	// ID uniquely identifies this session.
	ID string

	// Owner scopes every subscription opened on the session.
	Owner string

	// Codec is the negotiated wire format for server frames.
	Codec Codec

	// ConnectedAt records when the session was established.
	ConnectedAt time.Time

	lastActivity atomic.Int64

	conn net.Conn
	wmu  sync.Mutex

	mu   sync.Mutex
	subs map[string]*stream.Subscription
}

func newSession(sessionID, owner string, codec Codec, conn net.Conn) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:          sessionID,
		Owner:       owner,
		Codec:       codec,
		ConnectedAt: now,
		conn:        conn,
		subs:        make(map[string]*stream.Subscription),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity returns when the session last received a frame.
func (s *Session) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()).UTC() }

// Subscriptions returns the ids of the session's open subscriptions.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for subID := range s.subs {
		out = append(out, subID)
	}
	return out
}

func (s *Session) addSub(sub *stream.Subscription) {
	s.mu.Lock()
	s.subs[sub.ID().String()] = sub
	s.mu.Unlock()
}

func (s *Session) takeSub(subID string) (*stream.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[subID]
	delete(s.subs, subID)
	return sub, ok
}

func (s *Session) takeAll() []*stream.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*stream.Subscription, 0, len(s.subs))
	for subID, sub := range s.subs {
		out = append(out, sub)
		delete(s.subs, subID)
	}
	return out
}

// write encodes frame with the session codec and sends it.
func (s *Session) write(frame *Frame) error {
	data, err := s.Codec.Encode(frame)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return wsutil.WriteServerMessage(s.conn, s.Codec.OpCode(), data)
}

// Close drops the connection. The session's read loop then ends.
func (s *Session) Close() error { return s.conn.Close() }

// SessionManager tracks active sessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (m *SessionManager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Remove unregisters a session.
func (m *SessionManager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Get returns a session by id.
func (m *SessionManager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of all sessions.
func (m *SessionManager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
