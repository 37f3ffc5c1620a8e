package chat

import (
	"context"
	"sync"
	"time"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// MemoryStore keeps conversation state in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	closed   bool
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context) (*chat.Session, error) {
	session := newSession(now())

	s.mu.Lock()
	s.sessions[session.ID] = *session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return session, nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, apperror.SessionNotFound(id)
	}
	return &session, nil
}

func (s *MemoryStore) UpdateSessionStatus(_ context.Context, id string, status chat.Status) error {
	if err := validateStatus(status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return apperror.SessionNotFound(id)
	}
	session.Status = status
	session.UpdatedAt = now()
	s.sessions[id] = session
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	delete(s.messages, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AddMessage(_ context.Context, msg chat.Message) (*chat.Message, error) {
	prepared, err := prepareMessage(msg, "", now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(&prepared); err != nil {
		return nil, err
	}
	return &prepared, nil
}

func (s *MemoryStore) AddExchange(_ context.Context, user, assistant chat.Message) (*chat.Message, *chat.Message, error) {
	u, a, err := prepareExchange(user, assistant, now())
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[u.SessionID]; !ok {
		return nil, nil, apperror.SessionNotFound(u.SessionID)
	}
	// 会话已确认存在，两次追加不会失败
	_ = s.appendLocked(&u)
	_ = s.appendLocked(&a)
	return &u, &a, nil
}

// appendLocked 调用方需持有写锁。
func (s *MemoryStore) appendLocked(msg *chat.Message) error {
	session, ok := s.sessions[msg.SessionID]
	if !ok {
		return apperror.SessionNotFound(msg.SessionID)
	}
	msgs := s.messages[msg.SessionID]
	if len(msgs) > 0 {
		clampTimestamps(msgs[len(msgs)-1].Timestamp, msg)
	}
	s.messages[msg.SessionID] = append(msgs, *msg)
	session.UpdatedAt = touchTime(msg.Timestamp)
	s.sessions[msg.SessionID] = session
	return nil
}

func (s *MemoryStore) History(_ context.Context, id string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, apperror.SessionNotFound(id)
	}
	return recent(s.messages[id], limit), nil
}

func (s *MemoryStore) ExpireIdle(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, session := range s.sessions {
		if session.Status != chat.StatusActive || !session.UpdatedAt.Before(before) {
			continue
		}
		session.Status = chat.StatusExpired
		s.sessions[id] = session
		expired++
	}
	return expired, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*chat.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &chat.Stats{}
	for _, session := range s.sessions {
		stats.Count(session.Status, 1)
	}
	for _, msgs := range s.messages {
		stats.TotalMessages += len(msgs)
	}
	return stats, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return apperror.SessionStore("ping", errStoreClosed)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
