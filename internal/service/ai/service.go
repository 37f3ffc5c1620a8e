package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
)

// 本地推理服务不校验密钥，但客户端要求非空
const localAPIKey = "local"

// Reply is a persisted assistant answer.
type Reply struct {
	Text          string `json:"text"`
	MessageID     string `json:"message_id"`
	UserMessageID string `json:"user_message_id"`
	Model         string `json:"model"`
	TokensUsed    int    `json:"tokens_used"`
}

// Service generates replies through a ChatModel and records each exchange.
type Service struct {
	model   ChatModel
	store   chatservice.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewService wires a model to a conversation store.
func NewService(model ChatModel, store chatservice.Store, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{model: model, store: store, timeout: timeout, logger: logger.Named("ai")}
}

// NewModelFromConfig picks the ChatModel variant selected by cfg.Provider.
func NewModelFromConfig(ctx context.Context, cfg config.AIConfig) (ChatModel, error) {
	switch cfg.Provider {
	case config.AIProviderArk:
		return NewArkModelFromConfig(ctx, cfg)
	case config.AIProviderOpenAI:
		return NewOpenAIModel(OpenAIOptions{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case config.AIProviderLocal:
		return NewOpenAIModel(OpenAIOptions{
			APIKey:      localAPIKey,
			BaseURL:     cfg.LocalBaseURL,
			Model:       cfg.LocalModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

// ModelName 返回底层模型名称。
func (s *Service) ModelName() string {
	return s.model.Name()
}

// Generate answers text in the context of history and persists the exchange.
// Nothing is written when the model call fails.
func (s *Service) Generate(ctx context.Context, sessionID, text string, history []chat.Message) (*Reply, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	completion, err := s.model.Generate(ctx, Prompt{System: VoiceAssistantPrompt, History: history, Query: text})
	if err != nil {
		s.logger.Warn("generation failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, classify(err)
	}

	reply, err := s.persist(ctx, sessionID, text, completion, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("generated response",
		zap.String("session_id", sessionID),
		zap.String("model", reply.Model),
		zap.Int("length", len(reply.Text)),
		zap.Int("tokens_used", reply.TokensUsed))
	return reply, nil
}

// Stream behaves like Generate but forwards chunks to onChunk as they arrive.
func (s *Service) Stream(ctx context.Context, sessionID, text string, history []chat.Message, onChunk func(string) error) (*Reply, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	completion, err := s.model.Stream(ctx, Prompt{System: VoiceAssistantPrompt, History: history, Query: text}, onChunk)
	if err != nil {
		s.logger.Warn("streaming generation failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, classify(err)
	}
	return s.persist(ctx, sessionID, text, completion, map[string]any{"streaming": true})
}

func (s *Service) persist(ctx context.Context, sessionID, text string, completion *Completion, extra map[string]any) (*Reply, error) {
	extraData := map[string]any{
		"model":       completion.Model,
		"tokens_used": completion.TokensUsed,
	}
	for k, v := range extra {
		extraData[k] = v
	}

	user, assistant, err := s.store.AddExchange(ctx,
		chat.Message{SessionID: sessionID, Role: chat.RoleUser, Content: text},
		chat.Message{SessionID: sessionID, Role: chat.RoleAssistant, Content: completion.Text, ExtraData: extraData},
	)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Text:          assistant.Content,
		MessageID:     assistant.ID,
		UserMessageID: user.ID,
		Model:         completion.Model,
		TokensUsed:    completion.TokensUsed,
	}, nil
}

// Summarize asks the model for a short summary of the whole session.
func (s *Service) Summarize(ctx context.Context, sessionID string) (string, error) {
	history, err := s.store.History(ctx, sessionID, 0)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return NoConversationSummary, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	completion, err := s.model.Generate(ctx, Prompt{
		System:      SummaryPrompt,
		Query:       transcript(history),
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		s.logger.Warn("summary failed", zap.String("session_id", sessionID), zap.Error(err))
		return "", classify(err)
	}
	s.logger.Info("conversation summary generated",
		zap.String("session_id", sessionID),
		zap.Int("summary_length", len(completion.Text)))
	return strings.TrimSpace(completion.Text), nil
}

// Insights computes local statistics; no model call is made.
func (s *Service) Insights(ctx context.Context, sessionID string) (*chat.Insights, error) {
	history, err := s.store.History(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	return chat.BuildInsights(history), nil
}

// Check probes the model for health reporting.
func (s *Service) Check(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.model.Ping(ctx)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func classify(err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	if isThrottled(err) {
		return apperror.RateLimited("model provider rate limit exceeded", err)
	}
	return apperror.Wrap(apperror.KindGeneration, apperror.CodeGeneration, "failed to generate response", err)
}
