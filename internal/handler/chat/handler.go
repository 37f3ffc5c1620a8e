package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	speechhandler "github.com/NicolasHurtado/Voice-gpt-agent/internal/handler/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
	"github.com/NicolasHurtado/Voice-gpt-agent/pkg/utils"
)

// MaxMessageChars 单条聊天消息的字符上限
const MaxMessageChars = 2000

// Conversation 提供只读的会话分析
type Conversation interface {
	Summarize(ctx context.Context, sessionID string) (string, error)
	Insights(ctx context.Context, sessionID string) (*chat.Insights, error)
}

// ConnectionCounter 提供 WebSocket 连接统计
type ConnectionCounter interface {
	Stats() speechhandler.ConnectionStats
}

// Handler 会话与文本聊天的HTTP处理器
type Handler struct {
	store        chatservice.Store
	turns        *turn.Orchestrator
	conversation Conversation
	connections  ConnectionCounter
	logger       *zap.Logger
}

// New 创建聊天处理器；connections 可为空
func New(store chatservice.Store, turns *turn.Orchestrator, conversation Conversation, connections ConnectionCounter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:        store,
		turns:        turns,
		conversation: conversation,
		connections:  connections,
		logger:       logger.Named("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.handleGetSession)
		sr.Delete("/", h.handleDeleteSession)
		sr.Get("/summary", h.handleSummary)
		sr.Get("/insights", h.handleInsights)
	})
	r.Post("/chat", h.handleChat)
	r.Get("/stats", h.handleStats)
}

// SessionResponse 会话详情及完整历史
type SessionResponse struct {
	chat.Session
	Messages []chat.Message `json:"messages"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse 文本聊天回复
type ChatResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// StatsResponse 存储统计加上连接统计
type StatsResponse struct {
	chat.Stats
	WebSocket *speechhandler.ConnectionStats `json:"websocket,omitempty"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.CreateSession(r.Context())
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	h.logger.Info("session created", zap.String("session_id", session.ID))
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	history, err := h.store.History(r.Context(), sessionID, 0)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if history == nil {
		history = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, SessionResponse{Session: *session, Messages: history})
}

// handleDeleteSession 删除会话及其消息，重复删除同样成功
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.store.DeleteSession(r.Context(), sessionID); err != nil {
		utils.RespondAppError(w, err)
		return
	}
	h.logger.Info("session deleted", zap.String("session_id", sessionID))
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

// handleChat 文本聊天，不传 session_id 时新建会话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, apperror.CodeInvalidRequest, "invalid request body")
		return
	}
	if err := ValidateMessage(req.Message); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	result, err := h.turns.Run(r.Context(), turn.Input{SessionID: req.SessionID, Text: req.Message}, turn.Options{}, nil)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, ChatResponse{
		Message:   result.ReplyText,
		SessionID: result.SessionID,
		MessageID: result.ReplyMessageID,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.conversation.Summarize(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (h *Handler) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.conversation.Insights(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, insights)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	resp := StatsResponse{Stats: *stats}
	if h.connections != nil {
		ws := h.connections.Stats()
		resp.WebSocket = &ws
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// ValidateMessage 检查消息非空且不超过字符上限
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return apperror.InvalidRequest(apperror.CodeInvalidRequest, "message must not be empty")
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageChars {
		return apperror.InvalidRequest(apperror.CodeInvalidRequest,
			fmt.Sprintf("message has %d characters, limit is %d", n, MaxMessageChars))
	}
	return nil
}
