package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	chathandler "github.com/NicolasHurtado/Voice-gpt-agent/internal/handler/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/pkg/utils"
)

// SSE 事件名
const (
	EventStart = "start"
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Streamer generates a reply chunk by chunk and persists the exchange.
type Streamer interface {
	Stream(ctx context.Context, sessionID, text string, history []chat.Message, onChunk func(string) error) (*ai.Reply, error)
}

// SessionResolver 按 id 取会话，id 为空时新建
type SessionResolver interface {
	ResolveSession(ctx context.Context, id string) (*chat.Session, error)
}

// Handler manages streaming chat replies via Server-Sent Events
type Handler struct {
	streamer   Streamer
	sessions   SessionResolver
	store      chatservice.Store
	maxHistory int
	logger     *zap.Logger
}

// New creates a new stream handler
func New(streamer Streamer, sessions SessionResolver, store chatservice.Store, maxHistory int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Handler{
		streamer:   streamer,
		sessions:   sessions,
		store:      store,
		maxHistory: maxHistory,
		logger:     logger.Named("stream"),
	}
}

// RegisterRoutes 注册流式聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

// StreamResponse represents a streaming response payload
type StreamResponse struct {
	SessionID     string `json:"session_id,omitempty"`
	Content       string `json:"content,omitempty"`
	Message       string `json:"message,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	UserMessageID string `json:"user_message_id,omitempty"`
}

type streamRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// handleStream 校验请求与会话后切换为 SSE；此后的错误以 error 事件返回
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, apperror.CodeInternal, "streaming unsupported")
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, apperror.CodeInvalidRequest, "invalid request body")
		return
	}
	if err := chathandler.ValidateMessage(req.Message); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	ctx := r.Context()
	session, err := h.sessions.ResolveSession(ctx, req.SessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	history, err := h.store.History(ctx, session.ID, h.maxHistory)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, EventStart, StreamResponse{SessionID: session.ID}); err != nil {
		h.logger.Warn("client went away before streaming", zap.Error(err))
		return
	}

	reply, err := h.streamer.Stream(ctx, session.ID, req.Message, history, func(chunk string) error {
		if chunk == "" {
			return nil
		}
		return utils.SendSSEEvent(w, flusher, EventChunk, StreamResponse{Content: chunk})
	})
	if err != nil {
		h.logger.Warn("streaming reply failed", zap.String("session_id", session.ID), zap.Error(err))
		pub := apperror.Public(err)
		_ = utils.SendSSEEvent(w, flusher, EventError, utils.ErrorBody{Error: pub.Message, ErrorCode: pub.Code})
		return
	}

	if err := utils.SendSSEEvent(w, flusher, EventDone, StreamResponse{
		SessionID:     session.ID,
		Message:       reply.Text,
		MessageID:     reply.MessageID,
		UserMessageID: reply.UserMessageID,
	}); err != nil {
		h.logger.Warn("failed to send done event", zap.Error(err))
		return
	}
	h.logger.Info("streamed reply",
		zap.String("session_id", session.ID),
		zap.Int("length", len(reply.Text)))
}
