package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	speechhandler "github.com/NicolasHurtado/Voice-gpt-agent/internal/handler/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/testutil"
	"github.com/NicolasHurtado/Voice-gpt-agent/pkg/utils"
)

type staticCounter speechhandler.ConnectionStats

func (c staticCounter) Stats() speechhandler.ConnectionStats {
	return speechhandler.ConnectionStats(c)
}

type testEnv struct {
	router http.Handler
	store  chatservice.Store
	model  *testutil.EchoModel
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	store := chatservice.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	model := &testutil.EchoModel{}
	aiSvc := ai.NewService(model, store, time.Second, zap.NewNop())
	turns := turn.NewOrchestrator(turn.Deps{Store: store, Responder: aiSvc})
	handler := New(store, turns, aiSvc, staticCounter{ActiveConnections: 3, ActiveSessions: 1}, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return &testEnv{router: r, store: store, model: model}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSessionLifecycle(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sessionID := decode[map[string]string](t, rec)["session_id"]
	require.NotEmpty(t, sessionID)

	rec = env.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi", "session_id": sessionID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[SessionResponse](t, rec)
	assert.Equal(t, sessionID, session.ID)
	assert.Equal(t, chat.StatusActive, session.Status)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, chat.RoleUser, session.Messages[0].Role)
	assert.Equal(t, "hi", session.Messages[0].Content)
	assert.Equal(t, chat.RoleAssistant, session.Messages[1].Role)

	rec = env.do(t, http.MethodDelete, "/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Session deleted successfully", decode[map[string]string](t, rec)["message"])

	rec = env.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", string(decode[utils.ErrorBody](t, rec).ErrorCode))

	// 重复删除同样成功
	rec = env.do(t, http.MethodDelete, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSessionWithoutMessagesReturnsEmptyList(t *testing.T) {
	env := setupRouter(t)
	session, err := env.store.CreateSession(context.Background())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestChatCreatesSessionWhenMissing(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(t, http.MethodPost, "/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, "you said: hello", resp.Message)
	require.NotEmpty(t, resp.SessionID)

	history, err := env.store.History(context.Background(), resp.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, resp.MessageID, history[1].ID)
	assert.Equal(t, "echo", history[1].ExtraData["model"])
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed json", `{"message":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty message", map[string]string{"message": "   "}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"too long", map[string]string{"message": strings.Repeat("a", MaxMessageChars+1)}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown session", map[string]string{"message": "hi", "session_id": "nope"}, http.StatusNotFound, "SESSION_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t)
			rec := env.do(t, http.MethodPost, "/chat", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, string(decode[utils.ErrorBody](t, rec).ErrorCode))
			assert.Zero(t, env.model.Calls())
		})
	}

	env := setupRouter(t)
	rec := env.do(t, http.MethodPost, "/chat", map[string]string{"message": strings.Repeat("é", MaxMessageChars)})
	assert.Equal(t, http.StatusOK, rec.Code, "limit counts characters, not bytes")
}

func TestChatGenerationFailure(t *testing.T) {
	env := setupRouter(t)
	env.model.Err = errors.New("model offline")

	rec := env.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[utils.ErrorBody](t, rec)
	assert.Equal(t, "RESPONSE_GENERATION_ERROR", string(body.ErrorCode))
}

func TestSummaryAndInsights(t *testing.T) {
	env := setupRouter(t)
	session, err := env.store.CreateSession(context.Background())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/sessions/"+session.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ai.NoConversationSummary, decode[map[string]string](t, rec)["summary"])

	rec = env.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi there", "session_id": session.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+session.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(decode[map[string]string](t, rec)["summary"], "you said:"))

	rec = env.do(t, http.MethodGet, "/sessions/"+session.ID+"/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	insights := decode[chat.Insights](t, rec)
	assert.Equal(t, 2, insights.TotalMessages)
	assert.Equal(t, 1, insights.UserMessages)
	assert.Equal(t, 1, insights.AssistantMessages)
	assert.InDelta(t, 8, insights.AverageUserMessageLength, 1e-9)

	rec = env.do(t, http.MethodGet, "/sessions/missing/insights", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsIncludesConnections(t *testing.T) {
	env := setupRouter(t)
	env.do(t, http.MethodPost, "/chat", map[string]string{"message": "one"})
	env.do(t, http.MethodPost, "/sessions", nil)

	rec := env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 2, stats.TotalMessages)
	require.NotNil(t, stats.WebSocket)
	assert.Equal(t, 3, stats.WebSocket.ActiveConnections)
}
