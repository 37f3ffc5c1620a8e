package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// OpenAIModel talks to any OpenAI-compatible chat completions endpoint,
// including local inference servers such as Ollama.
type OpenAIModel struct {
	client      oai.Client
	model       string
	temperature float64
	maxTokens   int
}

// OpenAIOptions configures an OpenAIModel.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewOpenAIModel validates opts and builds the client.
func NewOpenAIModel(opts OpenAIOptions) (*OpenAIModel, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// 重试由调用方决定，这里只做一次请求
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}

	return &OpenAIModel{
		client:      oai.NewClient(reqOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

func (m *OpenAIModel) Name() string { return m.model }

func (m *OpenAIModel) Generate(ctx context.Context, p Prompt) (*Completion, error) {
	resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(p))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	name := resp.Model
	if name == "" {
		name = m.model
	}
	return &Completion{
		Text:       resp.Choices[0].Message.Content,
		Model:      name,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

func (m *OpenAIModel) Stream(ctx context.Context, p Prompt, onChunk func(string) error) (*Completion, error) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(p))
	defer stream.Close()

	var (
		text   strings.Builder
		tokens int
		name   = m.model
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			tokens = int(chunk.Usage.TotalTokens)
		}
		if chunk.Model != "" {
			name = chunk.Model
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		text.WriteString(delta)
		if err := onChunk(delta); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: stream completion: %w", err)
	}
	return &Completion{Text: text.String(), Model: name, TokensUsed: tokens}, nil
}

// Ping 列出模型，不产生生成费用。
func (m *OpenAIModel) Ping(ctx context.Context) error {
	if _, err := m.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai: list models: %w", err)
	}
	return nil
}

func (m *OpenAIModel) buildParams(p Prompt) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(p.History)+2)
	if p.System != "" {
		messages = append(messages, oai.SystemMessage(p.System))
	}
	for _, msg := range p.History {
		switch msg.Role {
		case chat.RoleUser:
			messages = append(messages, oai.UserMessage(msg.Content))
		case chat.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(msg.Content))
		case chat.RoleSystem:
			messages = append(messages, oai.SystemMessage(msg.Content))
		}
	}
	messages = append(messages, oai.UserMessage(p.Query))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.model),
		Messages: messages,
	}

	temperature := m.temperature
	if p.Temperature > 0 {
		temperature = p.Temperature
	}
	if temperature > 0 {
		params.Temperature = param.NewOpt(temperature)
	}
	maxTokens := m.maxTokens
	if p.MaxTokens > 0 {
		maxTokens = p.MaxTokens
	}
	// 本地推理服务普遍只认 max_tokens
	if maxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(maxTokens))
	}
	return params
}
