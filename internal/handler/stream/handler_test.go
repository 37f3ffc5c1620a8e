package stream

import (
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

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/testutil"
)

type sseEvent struct {
	name string
	data map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data))
			}
		}
		events = append(events, ev)
	}
	return events
}

func setup(t *testing.T) (http.Handler, chatservice.Store, *testutil.EchoModel) {
	t.Helper()
	store := chatservice.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	model := &testutil.EchoModel{}

	r := chi.NewRouter()
	aiSvc := ai.NewService(model, store, time.Second, zap.NewNop())
	turns := turn.NewOrchestrator(turn.Deps{Store: store, Responder: aiSvc})
	New(aiSvc, turns, store, 4, nil).RegisterRoutes(r)
	return r, store, model
}

func post(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStreamSendsChunksThenDone(t *testing.T) {
	router, store, _ := setup(t)

	rec := post(router, `{"message":"hello world"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, EventStart, events[0].name)
	sessionID := events[0].data["session_id"].(string)
	require.NotEmpty(t, sessionID)

	var text strings.Builder
	for _, ev := range events[1 : len(events)-1] {
		assert.Equal(t, EventChunk, ev.name)
		text.WriteString(ev.data["content"].(string))
	}
	assert.Equal(t, "you said: hello world", text.String())

	done := events[len(events)-1]
	assert.Equal(t, EventDone, done.name)
	assert.Equal(t, sessionID, done.data["session_id"])
	assert.Equal(t, "you said: hello world", done.data["message"])

	history, err := store.History(context.Background(), sessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, done.data["user_message_id"], history[0].ID)
	assert.Equal(t, done.data["message_id"], history[1].ID)
	assert.Equal(t, true, history[1].ExtraData["streaming"])
}

func TestStreamRejectsBeforeSwitchingToSSE(t *testing.T) {
	router, _, model := setup(t)

	rec := post(router, `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")

	rec = post(router, `{"message":"hi","session_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_NOT_FOUND")

	assert.Zero(t, model.Calls())
}

func TestStreamFailureEmitsErrorEvent(t *testing.T) {
	router, store, model := setup(t)
	model.Err = errors.New("model offline")
	session, err := store.CreateSession(context.Background())
	require.NoError(t, err)

	rec := post(router, `{"message":"hi","session_id":"`+session.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].name)
	assert.Equal(t, "RESPONSE_GENERATION_ERROR", events[1].data["error_code"])

	history, err := store.History(context.Background(), session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history, "failed stream persists nothing")
}
