package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

func newOpenAITestModel(t *testing.T, handler http.HandlerFunc) *OpenAIModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewOpenAIModel(OpenAIOptions{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/v1/",
		Model:       "gpt-test",
		Temperature: 0.7,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	return m
}

func TestOpenAIGenerateSendsPromptAndReadsUsage(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test-0613",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hi!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	})

	out, err := m.Generate(context.Background(), Prompt{
		System:  "be brief",
		History: []chat.Message{{Role: chat.RoleUser, Content: "q1"}, {Role: chat.RoleAssistant, Content: "a1"}},
		Query:   "q2",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", out.Text)
	assert.Equal(t, "gpt-test-0613", out.Model)
	assert.Equal(t, 7, out.TokensUsed)

	body := <-bodies
	assert.Equal(t, "gpt-test", body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-9)
	assert.EqualValues(t, 500, body["max_tokens"])

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	roles := make([]string, 0, len(msgs))
	for _, raw := range msgs {
		roles = append(roles, raw.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestOpenAIPromptOverridesSampling(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"sum"},"finish_reason":"stop"}]}`))
	})

	_, err := m.Generate(context.Background(), Prompt{System: SummaryPrompt, Query: "x", Temperature: 0.3, MaxTokens: 200})
	require.NoError(t, err)
	body := <-bodies
	assert.InDelta(t, 0.3, body["temperature"], 1e-9)
	assert.EqualValues(t, 200, body["max_tokens"])
}

func TestOpenAIStreamCollectsChunks(t *testing.T) {
	m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-test\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var chunks []string
	out, err := m.Stream(context.Background(), Prompt{Query: "hi"}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", out.Text)
}

func TestOpenAIThrottleDetected(t *testing.T) {
	m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := m.Generate(context.Background(), Prompt{Query: "hi"})
	require.Error(t, err)
	assert.True(t, isThrottled(err))
}

func TestNewModelFromConfig(t *testing.T) {
	ctx := context.Background()

	m, err := NewModelFromConfig(ctx, config.AIConfig{Provider: config.AIProviderLocal, LocalBaseURL: "http://localhost:11434/v1", LocalModel: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", m.Name())

	_, err = NewModelFromConfig(ctx, config.AIConfig{Provider: config.AIProviderOpenAI, OpenAIModel: "gpt-4o-mini"})
	assert.Error(t, err, "openai requires a key")

	_, err = NewModelFromConfig(ctx, config.AIConfig{Provider: config.AIProviderArk})
	assert.Error(t, err, "ark requires credentials")

	_, err = NewModelFromConfig(ctx, config.AIConfig{Provider: "bard"})
	assert.Error(t, err)
}
