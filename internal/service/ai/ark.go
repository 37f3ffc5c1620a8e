package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// ArkModel runs prompts through an eino chain: chat template → ark chat model.
type ArkModel struct {
	name      string
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewArkModelFromConfig builds the ark chat model described by cfg.
func NewArkModelFromConfig(ctx context.Context, cfg config.AIConfig) (*ArkModel, error) {
	chatModel, err := cfg.NewArkChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewArkModel(ctx, cfg.ArkModel, chatModel)
}

// NewArkModel compiles the prompt chain around any eino chat model.
func NewArkModel(ctx context.Context, name string, chatModel model.BaseChatModel) (*ArkModel, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkModel{name: name, chatModel: chatModel, chain: runnable}, nil
}

func (m *ArkModel) Name() string { return m.name }

func (m *ArkModel) Generate(ctx context.Context, p Prompt) (*Completion, error) {
	resp, err := m.chain.Invoke(ctx, chainInput(p), m.callOptions(p)...)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	return &Completion{Text: resp.Content, Model: m.name, TokensUsed: totalTokens(resp)}, nil
}

func (m *ArkModel) Stream(ctx context.Context, p Prompt, onChunk func(string) error) (*Completion, error) {
	stream, err := m.chain.Stream(ctx, chainInput(p), m.callOptions(p)...)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	var (
		text   strings.Builder
		tokens int
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read AI stream: %w", err)
		}
		if n := totalTokens(chunk); n > 0 {
			tokens = n
		}
		if chunk.Content == "" {
			continue
		}
		text.WriteString(chunk.Content)
		if err := onChunk(chunk.Content); err != nil {
			return nil, err
		}
	}
	return &Completion{Text: text.String(), Model: m.name, TokensUsed: tokens}, nil
}

// Ping 发送一个只生成单个 token 的请求。
func (m *ArkModel) Ping(ctx context.Context) error {
	_, err := m.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	return err
}

func (m *ArkModel) callOptions(p Prompt) []compose.Option {
	var opts []model.Option
	if p.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(p.Temperature)))
	}
	if p.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(p.MaxTokens))
	}
	if len(opts) == 0 {
		return nil
	}
	return []compose.Option{compose.WithChatModelOption(opts...)}
}

func chainInput(p Prompt) map[string]any {
	return map[string]any{
		"system":  p.System,
		"history": schemaHistory(p.History),
		"query":   p.Query,
	}
}

func schemaHistory(messages []chat.Message) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}
	return history
}

func totalTokens(msg *schema.Message) int {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0
	}
	return msg.ResponseMeta.Usage.TotalTokens
}
