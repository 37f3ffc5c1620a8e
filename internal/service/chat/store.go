package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// Store persists sessions and their ordered message history.
//
// Implementations are safe for concurrent use. Writes to the same session are
// serialized, and every message write bumps the session's UpdatedAt.
type Store interface {
	CreateSession(ctx context.Context) (*chat.Session, error)
	GetSession(ctx context.Context, id string) (*chat.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status chat.Status) error
	// DeleteSession 删除会话及其消息，会话不存在时不报错。
	DeleteSession(ctx context.Context, id string) error

	AddMessage(ctx context.Context, msg chat.Message) (*chat.Message, error)
	// AddExchange 原子地写入一轮对话，要么两条都落库要么都不落库。
	AddExchange(ctx context.Context, user, assistant chat.Message) (*chat.Message, *chat.Message, error)
	// History 返回最近 limit 条消息（按时间正序），limit <= 0 表示全部。
	History(ctx context.Context, id string, limit int) ([]chat.Message, error)

	// ExpireIdle 把 updated_at 早于 before 的活跃会话标记为过期，返回数量。
	ExpireIdle(ctx context.Context, before time.Time) (int, error)
	Stats(ctx context.Context) (*chat.Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

func newSession(now time.Time) *chat.Session {
	return &chat.Session{
		ID:        uuid.NewString(),
		Status:    chat.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// prepareMessage 补齐 ID 和时间戳，并校验会话 ID 与角色。
func prepareMessage(msg chat.Message, sessionID string, now time.Time) (chat.Message, error) {
	if sessionID != "" {
		msg.SessionID = sessionID
	}
	if msg.SessionID == "" {
		return msg, apperror.InvalidRequest(apperror.CodeInvalidRequest, "message session id is required")
	}
	switch msg.Role {
	case chat.RoleUser, chat.RoleAssistant, chat.RoleSystem:
	default:
		return msg, apperror.InvalidRequest(apperror.CodeInvalidRequest, "unknown message role "+string(msg.Role))
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

// prepareExchange 保证助手消息的时间戳不早于用户消息。
func prepareExchange(user, assistant chat.Message, now time.Time) (chat.Message, chat.Message, error) {
	u, err := prepareMessage(user, user.SessionID, now)
	if err != nil {
		return u, assistant, err
	}
	a, err := prepareMessage(assistant, u.SessionID, now)
	if err != nil {
		return u, a, err
	}
	if a.Timestamp.Before(u.Timestamp) {
		a.Timestamp = u.Timestamp
	}
	return u, a, nil
}

func recent(msgs []chat.Message, limit int) []chat.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out
}

func validateStatus(status chat.Status) error {
	if !status.Valid() {
		return apperror.InvalidRequest(apperror.CodeInvalidRequest, "unknown session status "+string(status))
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// clampTimestamps 把消息时间戳抬到不早于 floor，并保持依次不递减。
// 墙钟回拨时新消息不会排到会话已有消息之前。
func clampTimestamps(floor time.Time, msgs ...*chat.Message) {
	for _, m := range msgs {
		if m.Timestamp.Before(floor) {
			m.Timestamp = floor
		}
		floor = m.Timestamp
	}
}

// touchTime 是消息写入后会话的 updated_at，不早于最后一条消息。
func touchTime(last time.Time) time.Time {
	t := now()
	if last.After(t) {
		return last
	}
	return t
}

var errStoreClosed = errors.New("store closed")
