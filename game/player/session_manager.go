package player

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager maintains the registry of all connected PlayerSessions,
// keyed by client (account) id.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int64]*PlayerSession
	logger   *zap.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*PlayerSession),
		logger:   logger,
	}
}

// Register adds a session. If a previous session exists for the same client,
// it is closed first (handles duplicate login / reconnect).
func (sm *SessionManager) Register(s *PlayerSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if old, ok := sm.sessions[s.AccountID]; ok && old != s {
		old.Close()
		sm.logger.Info("duplicate session displaced",
			zap.Int64("account_id", s.AccountID))
	}
	sm.sessions[s.AccountID] = s
	sm.logger.Info("player session registered", zap.Int64("account_id", s.AccountID))
}

// Unregister removes s if it is still the current session for its client.
func (sm *SessionManager) Unregister(s *PlayerSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.sessions[s.AccountID]; ok && cur == s {
		delete(sm.sessions, s.AccountID)
	}
	sm.logger.Info("player session unregistered", zap.Int64("account_id", s.AccountID))
}

// Get returns the session for a client, or nil if not found.
func (sm *SessionManager) Get(clientID int64) *PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[clientID]
}

// GetByChar finds the session currently playing charID.
func (sm *SessionManager) GetByChar(charID int64) *PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		if id, _ := s.Character(); id == charID {
			return s
		}
	}
	return nil
}

// Count returns the number of currently connected sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot slice of all current sessions.
func (sm *SessionManager) All() []*PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*PlayerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// BroadcastAll sends a raw pre-encoded packet to every connected session.
// Uses non-blocking send to prevent slow connections from blocking the broadcast.
func (sm *SessionManager) BroadcastAll(data []byte) {
	for _, s := range sm.All() {
		select {
		case s.SendChan <- data:
		default:
			sm.logger.Warn("broadcast dropped packet for slow client",
				zap.Int64("account_id", s.AccountID))
		}
	}
}

// Broadcast sends a typed packet to every connected session.
func (sm *SessionManager) Broadcast(msgType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		sm.logger.Error("failed to marshal broadcast payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	data, err := json.Marshal(&Packet{Type: msgType, Payload: raw})
	if err != nil {
		sm.logger.Error("failed to marshal broadcast packet", zap.Error(err))
		return
	}
	sm.BroadcastAll(data)
}

// Notify shows a short on-screen notification to one client.
func (sm *SessionManager) Notify(clientID int64, message string) {
	if s := sm.Get(clientID); s != nil {
		s.SendJSON("notify", map[string]string{"message": message})
	}
}

// SendEvent triggers a named client-side event with positional arguments.
func (sm *SessionManager) SendEvent(clientID int64, event string, args ...interface{}) {
	if s := sm.Get(clientID); s != nil {
		if args == nil {
			args = []interface{}{}
		}
		s.SendJSON("client_event", map[string]interface{}{"event": event, "args": args})
	}
}

// CloseAllSessions gracefully closes all connected sessions.
func (sm *SessionManager) CloseAllSessions() {
	sessions := sm.All()
	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	// Wait for all sessions to close (with timeout)
	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		if sm.Count() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
