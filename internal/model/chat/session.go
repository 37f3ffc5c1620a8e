package chat

import "time"

// Status 会话状态
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Valid 报告状态值是否合法。
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusExpired:
		return true
	default:
		return false
	}
}

// Session captures a conversation that outlives any single connection.
type Session struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats 按状态统计会话与消息数量。
type Stats struct {
	TotalSessions     int `json:"total_sessions"`
	ActiveSessions    int `json:"active_sessions"`
	CompletedSessions int `json:"completed_sessions"`
	ExpiredSessions   int `json:"expired_sessions"`
	TotalMessages     int `json:"total_messages"`
}

// Count 把一个会话计入对应状态。
func (s *Stats) Count(status Status, n int) {
	s.TotalSessions += n
	switch status {
	case StatusActive:
		s.ActiveSessions += n
	case StatusCompleted:
		s.CompletedSessions += n
	case StatusExpired:
		s.ExpiredSessions += n
	}
}
