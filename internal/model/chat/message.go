package chat

import "time"

// Role 消息发送方
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message persists individual turns; immutable once stored.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// Insights 会话的本地统计分析结果。
type Insights struct {
	TotalMessages                 int      `json:"total_messages"`
	UserMessages                  int      `json:"user_messages"`
	AssistantMessages             int      `json:"assistant_messages"`
	AverageUserMessageLength      float64  `json:"average_user_message_length"`
	AverageAssistantMessageLength float64  `json:"average_assistant_message_length"`
	ConversationDuration          *float64 `json:"conversation_duration"`
	Topics                        []string `json:"topics"`
}

// BuildInsights 从按时间排序的历史中计算统计信息。
func BuildInsights(history []Message) *Insights {
	out := &Insights{TotalMessages: len(history), Topics: []string{}}
	var userChars, assistantChars int
	for _, msg := range history {
		switch msg.Role {
		case RoleUser:
			out.UserMessages++
			userChars += len([]rune(msg.Content))
		case RoleAssistant:
			out.AssistantMessages++
			assistantChars += len([]rune(msg.Content))
		}
	}
	if out.UserMessages > 0 {
		out.AverageUserMessageLength = float64(userChars) / float64(out.UserMessages)
	}
	if out.AssistantMessages > 0 {
		out.AverageAssistantMessageLength = float64(assistantChars) / float64(out.AssistantMessages)
	}
	if len(history) > 0 {
		d := history[len(history)-1].Timestamp.Sub(history[0].Timestamp).Seconds()
		out.ConversationDuration = &d
	}
	return out
}
