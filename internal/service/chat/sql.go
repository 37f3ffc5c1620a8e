package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

type sessionRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Status    string    `gorm:"size:16;index"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"index;autoUpdateTime:false"`
}

func (sessionRecord) TableName() string { return "voice_sessions" }

// messageRecord 以自增 Seq 作为主键，保证同一时间戳的消息不会乱序。
type messageRecord struct {
	Seq       uint64         `gorm:"primaryKey;autoIncrement"`
	ID        string         `gorm:"size:36;uniqueIndex"`
	SessionID string         `gorm:"size:36;index"`
	Role      string         `gorm:"size:16"`
	Content   string         `gorm:"type:text"`
	Timestamp time.Time
	ExtraData map[string]any `gorm:"type:text;serializer:json"`
}

func (messageRecord) TableName() string { return "voice_messages" }

func (r sessionRecord) toModel() *chat.Session {
	return &chat.Session{
		ID:        r.ID,
		Status:    chat.Status(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r messageRecord) toModel() chat.Message {
	return chat.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      chat.Role(r.Role),
		Content:   r.Content,
		Timestamp: r.Timestamp.UTC(),
		ExtraData: r.ExtraData,
	}
}

func messageToRecord(m chat.Message) *messageRecord {
	return &messageRecord{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ExtraData: m.ExtraData,
	}
}

// SQLStore persists conversations through gorm (sqlite or postgres).
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens a sqlite database. ":memory:" is supported for tests.
func OpenSQLite(dsn string, logger *zap.Logger) (*SQLStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite 写入本身是串行的；单连接同时保证 :memory: 库在连接间共享
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewSQLStore(db, logger)
}

// OpenPostgres opens a postgres database from a DSN.
func OpenPostgres(dsn string, logger *zap.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSQLStore(db, logger)
}

// NewSQLStore migrates the schema on db and wraps it.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&sessionRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate conversation schema: %w", err)
	}
	return &SQLStore{db: db, logger: logger.Named("sql-store")}, nil
}

func (s *SQLStore) CreateSession(ctx context.Context) (*chat.Session, error) {
	session := newSession(now())
	rec := sessionRecord{
		ID:        session.ID,
		Status:    string(session.Status),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, apperror.SessionStore("create session", err)
	}
	return session, nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.SessionNotFound(id)
	}
	if err != nil {
		return nil, apperror.SessionStore("get session", err)
	}
	return rec.toModel(), nil
}

func (s *SQLStore) UpdateSessionStatus(ctx context.Context, id string, status chat.Status) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&sessionRecord{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": now()})
	if res.Error != nil {
		return apperror.SessionStore("update session status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.SessionNotFound(id)
	}
	return nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&sessionRecord{}).Error
	})
	if err != nil {
		return apperror.SessionStore("delete session", err)
	}
	return nil
}

func (s *SQLStore) AddMessage(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	prepared, err := prepareMessage(msg, "", now())
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, &prepared); err != nil {
		return nil, err
	}
	return &prepared, nil
}

func (s *SQLStore) AddExchange(ctx context.Context, user, assistant chat.Message) (*chat.Message, *chat.Message, error) {
	u, a, err := prepareExchange(user, assistant, now())
	if err != nil {
		return nil, nil, err
	}
	if err := s.insert(ctx, &u, &a); err != nil {
		return nil, nil, err
	}
	return &u, &a, nil
}

// insert 在一个事务里先更新会话 updated_at（同时锁住该行），再按顺序写入消息。
func (s *SQLStore) insert(ctx context.Context, msgs ...*chat.Message) error {
	sessionID := msgs[0].SessionID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		touched := now()
		res := tx.Model(&sessionRecord{}).Where("id = ?", sessionID).Update("updated_at", touched)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.SessionNotFound(sessionID)
		}

		var last []messageRecord
		if err := tx.Where("session_id = ?", sessionID).Order("seq DESC").Limit(1).Find(&last).Error; err != nil {
			return err
		}
		if len(last) > 0 {
			clampTimestamps(last[0].Timestamp.UTC(), msgs...)
		}
		for _, m := range msgs {
			if err := tx.Create(messageToRecord(*m)).Error; err != nil {
				return err
			}
		}

		if newest := msgs[len(msgs)-1].Timestamp; newest.After(touched) {
			return tx.Model(&sessionRecord{}).Where("id = ?", sessionID).Update("updated_at", newest).Error
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.SessionStore("add message", err)
}

func (s *SQLStore) History(ctx context.Context, id string, limit int) ([]chat.Message, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("session_id = ?", id).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []messageRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, apperror.SessionStore("load history", err)
	}

	out := make([]chat.Message, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = rec.toModel()
	}
	return out, nil
}

func (s *SQLStore) ExpireIdle(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&sessionRecord{}).
		Where("status = ? AND updated_at < ?", string(chat.StatusActive), before.UTC()).
		Update("status", string(chat.StatusExpired))
	if res.Error != nil {
		return 0, apperror.SessionStore("expire sessions", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLStore) Stats(ctx context.Context) (*chat.Stats, error) {
	var rows []struct {
		Status string
		N      int
	}
	db := s.db.WithContext(ctx)
	if err := db.Model(&sessionRecord{}).Select("status, count(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, apperror.SessionStore("session stats", err)
	}
	var total int64
	if err := db.Model(&messageRecord{}).Count(&total).Error; err != nil {
		return nil, apperror.SessionStore("message stats", err)
	}

	stats := &chat.Stats{TotalMessages: int(total)}
	for _, row := range rows {
		stats.Count(chat.Status(row.Status), row.N)
	}
	return stats, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperror.SessionStore("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperror.SessionStore("ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
