package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// 乐观锁冲突时的最大重试次数
const redisTxRetries = 16

// RedisStore keeps sessions as JSON documents and messages as per-session lists.
//
// Key layout (all under the configured prefix):
//
//	session:<id>          会话 JSON
//	messages:<id>         按插入顺序的消息 JSON 列表
//	sessions:<status>     各状态的会话 ID 集合
//	sessions:idle         活跃会话按 updated_at（微秒）排序的有序集合
//	stats:messages        消息总数计数器
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "voicegw:"
	}
	return &RedisStore{client: client, keyPrefix: prefix, logger: logger.Named("redis-store")}, nil
}

func (s *RedisStore) sessionKey(id string) string  { return s.keyPrefix + "session:" + id }
func (s *RedisStore) messagesKey(id string) string { return s.keyPrefix + "messages:" + id }
func (s *RedisStore) idleKey() string               { return s.keyPrefix + "sessions:idle" }
func (s *RedisStore) counterKey() string            { return s.keyPrefix + "stats:messages" }

func (s *RedisStore) statusKey(status chat.Status) string {
	return s.keyPrefix + "sessions:" + string(status)
}

func idleScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (s *RedisStore) CreateSession(ctx context.Context) (*chat.Session, error) {
	session := newSession(now())
	data, err := json.Marshal(session)
	if err != nil {
		return nil, apperror.SessionStore("create session", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.ID), data, 0)
		pipe.SAdd(ctx, s.statusKey(session.Status), session.ID)
		pipe.ZAdd(ctx, s.idleKey(), redis.Z{Score: idleScore(session.UpdatedAt), Member: session.ID})
		return nil
	})
	if err != nil {
		return nil, apperror.SessionStore("create session", err)
	}
	return session, nil
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	session, err := s.loadSession(ctx, s.client, id)
	if err != nil {
		return nil, s.storeError("get session", err)
	}
	return session, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) loadSession(ctx context.Context, c getter, id string) (*chat.Session, error) {
	raw, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.SessionNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	var session chat.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

// mutateSession 在 WATCH 保护下读取会话，交给 fn 修改并追加命令，然后一次性提交。
// fn 返回 false 表示无需写入。
func (s *RedisStore) mutateSession(ctx context.Context, op, id string, fn func(tx *redis.Tx, session *chat.Session, pipe redis.Pipeliner) (bool, error)) (bool, error) {
	key := s.sessionKey(id)
	var changed bool

	txf := func(tx *redis.Tx) error {
		session, err := s.loadSession(ctx, tx, id)
		if err != nil {
			return err
		}
		before := session.Status

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			ok, err := fn(tx, session, pipe)
			if err != nil || !ok {
				return err
			}
			data, err := json.Marshal(session)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, data, 0)
			if session.Status != before {
				pipe.SRem(ctx, s.statusKey(before), id)
				pipe.SAdd(ctx, s.statusKey(session.Status), id)
			}
			if session.Status == chat.StatusActive {
				pipe.ZAdd(ctx, s.idleKey(), redis.Z{Score: idleScore(session.UpdatedAt), Member: id})
			} else {
				pipe.ZRem(ctx, s.idleKey(), id)
			}
			changed = true
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		changed = false
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, s.storeError(op, err)
		}
		return changed, nil
	}
	return false, apperror.SessionStore(op, redis.TxFailedErr)
}

func (s *RedisStore) UpdateSessionStatus(ctx context.Context, id string, status chat.Status) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	_, err := s.mutateSession(ctx, "update session status", id, func(_ *redis.Tx, session *chat.Session, _ redis.Pipeliner) (bool, error) {
		session.Status = status
		session.UpdatedAt = now()
		return true, nil
	})
	return err
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	key := s.sessionKey(id)
	txf := func(tx *redis.Tx) error {
		session, err := s.loadSession(ctx, tx, id)
		if apperror.Is(err, apperror.KindSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		count, err := tx.LLen(ctx, s.messagesKey(id)).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, s.messagesKey(id))
			pipe.SRem(ctx, s.statusKey(session.Status), id)
			pipe.ZRem(ctx, s.idleKey(), id)
			if count > 0 {
				pipe.DecrBy(ctx, s.counterKey(), count)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key, s.messagesKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return apperror.SessionStore("delete session", err)
		}
		return nil
	}
	return apperror.SessionStore("delete session", redis.TxFailedErr)
}

func (s *RedisStore) AddMessage(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	prepared, err := prepareMessage(msg, "", now())
	if err != nil {
		return nil, err
	}
	if err := s.push(ctx, &prepared); err != nil {
		return nil, err
	}
	return &prepared, nil
}

func (s *RedisStore) AddExchange(ctx context.Context, user, assistant chat.Message) (*chat.Message, *chat.Message, error) {
	u, a, err := prepareExchange(user, assistant, now())
	if err != nil {
		return nil, nil, err
	}
	if err := s.push(ctx, &u, &a); err != nil {
		return nil, nil, err
	}
	return &u, &a, nil
}

// push 在会话键的 WATCH 下追加消息，所有消息写入都经过这里，读到的末条消息不会过期。
func (s *RedisStore) push(ctx context.Context, msgs ...*chat.Message) error {
	sessionID := msgs[0].SessionID
	_, err := s.mutateSession(ctx, "add message", sessionID, func(tx *redis.Tx, session *chat.Session, pipe redis.Pipeliner) (bool, error) {
		raw, err := tx.LIndex(ctx, s.messagesKey(sessionID), -1).Result()
		switch {
		case err == nil:
			var last chat.Message
			if err := json.Unmarshal([]byte(raw), &last); err != nil {
				return false, err
			}
			clampTimestamps(last.Timestamp, msgs...)
		case !errors.Is(err, redis.Nil):
			return false, err
		}

		encoded := make([]any, 0, len(msgs))
		for _, m := range msgs {
			data, err := json.Marshal(m)
			if err != nil {
				return false, err
			}
			encoded = append(encoded, data)
		}
		pipe.RPush(ctx, s.messagesKey(sessionID), encoded...)
		pipe.IncrBy(ctx, s.counterKey(), int64(len(msgs)))
		session.UpdatedAt = touchTime(msgs[len(msgs)-1].Timestamp)
		return true, nil
	})
	return err
}

func (s *RedisStore) History(ctx context.Context, id string, limit int) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raws, err := s.client.LRange(ctx, s.messagesKey(id), start, -1).Result()
	if err != nil {
		return nil, apperror.SessionStore("load history", err)
	}

	out := make([]chat.Message, 0, len(raws))
	for _, raw := range raws {
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, apperror.SessionStore("decode message", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) ExpireIdle(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.idleKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, apperror.SessionStore("expire sessions", err)
	}

	expired := 0
	for _, id := range ids {
		changed, err := s.mutateSession(ctx, "expire session", id, func(_ *redis.Tx, session *chat.Session, _ redis.Pipeliner) (bool, error) {
			// 取到 ID 之后会话可能被写入过，需要在锁内复核
			if session.Status != chat.StatusActive || !session.UpdatedAt.Before(before) {
				return false, nil
			}
			session.Status = chat.StatusExpired
			return true, nil
		})
		if apperror.Is(err, apperror.KindSessionNotFound) {
			s.client.ZRem(ctx, s.idleKey(), id)
			continue
		}
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

func (s *RedisStore) Stats(ctx context.Context) (*chat.Stats, error) {
	statuses := []chat.Status{chat.StatusActive, chat.StatusCompleted, chat.StatusExpired}
	cards := make([]*redis.IntCmd, len(statuses))
	var total *redis.StringCmd

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, status := range statuses {
			cards[i] = pipe.SCard(ctx, s.statusKey(status))
		}
		total = pipe.Get(ctx, s.counterKey())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperror.SessionStore("session stats", err)
	}

	stats := &chat.Stats{}
	for i, status := range statuses {
		stats.Count(status, int(cards[i].Val()))
	}
	if n, err := total.Int(); err == nil {
		stats.TotalMessages = n
	}
	return stats, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperror.SessionStore("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) storeError(op string, err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.SessionStore(op, err)
}
