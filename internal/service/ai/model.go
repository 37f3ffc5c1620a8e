package ai

import (
	"context"
	"errors"
	"strings"

	oai "github.com/openai/openai-go"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// Prompt is a provider-neutral chat request.
type Prompt struct {
	System  string
	History []chat.Message
	Query   string

	// 为零时使用模型配置的默认值
	Temperature float64
	MaxTokens   int
}

// Completion is a finished model answer.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// ChatModel generates assistant replies. Implementations must be safe for concurrent use.
type ChatModel interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (*Completion, error)
	// Stream 逐块回调 onChunk，返回完整结果；onChunk 出错时中止生成。
	Stream(ctx context.Context, p Prompt, onChunk func(string) error) (*Completion, error)
	Ping(ctx context.Context) error
}

var errThrottled = errors.New("model provider throttled the request")

// isThrottled 识别上游限流：OpenAI 兼容接口的 429，以及 Ark SDK 错误文本里的限流标记。
func isThrottled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errThrottled) {
		return true
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "status code: 429") ||
		strings.Contains(msg, "toomanyrequests") ||
		strings.Contains(msg, "ratelimitexceeded")
}
