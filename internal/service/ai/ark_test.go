package ai

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// stubChatModel 是一个最小的 eino 聊天模型，记录收到的消息和选项。
type stubChatModel struct {
	inputs  chan []*schema.Message
	options chan *model.Options
	reply   *schema.Message
	chunks  []*schema.Message
}

func newStubChatModel() *stubChatModel {
	return &stubChatModel{
		inputs:  make(chan []*schema.Message, 4),
		options: make(chan *model.Options, 4),
	}
}

func (s *stubChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	s.inputs <- input
	s.options <- model.GetCommonOptions(&model.Options{}, opts...)
	return s.reply, nil
}

func (s *stubChatModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	s.inputs <- input
	s.options <- model.GetCommonOptions(&model.Options{}, opts...)
	return schema.StreamReaderFromArray(s.chunks), nil
}

func (s *stubChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestArkModelRendersChainPrompt(t *testing.T) {
	stub := newStubChatModel()
	stub.reply = &schema.Message{
		Role:         schema.Assistant,
		Content:      "你好！",
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{TotalTokens: 12}},
	}
	m, err := NewArkModel(context.Background(), "doubao-test", stub)
	require.NoError(t, err)

	out, err := m.Generate(context.Background(), Prompt{
		System:  "system {text} stays literal",
		History: []chat.Message{{Role: chat.RoleUser, Content: "q1"}, {Role: chat.RoleAssistant, Content: "a1"}},
		Query:   "q2 {braces}",
	})
	require.NoError(t, err)
	assert.Equal(t, "你好！", out.Text)
	assert.Equal(t, "doubao-test", out.Model)
	assert.Equal(t, 12, out.TokensUsed)

	input := <-stub.inputs
	require.Len(t, input, 4)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, "system {text} stays literal", input[0].Content)
	assert.Equal(t, schema.User, input[1].Role)
	assert.Equal(t, schema.Assistant, input[2].Role)
	assert.Equal(t, "q2 {braces}", input[3].Content)

	opts := <-stub.options
	assert.Nil(t, opts.Temperature)
}

func TestArkModelPassesSamplingOverrides(t *testing.T) {
	stub := newStubChatModel()
	stub.reply = &schema.Message{Role: schema.Assistant, Content: "summary"}
	m, err := NewArkModel(context.Background(), "doubao-test", stub)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), Prompt{System: SummaryPrompt, Query: "x", Temperature: 0.3, MaxTokens: 200})
	require.NoError(t, err)
	<-stub.inputs
	opts := <-stub.options
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.3, *opts.Temperature, 1e-6)
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, 200, *opts.MaxTokens)
}

func TestArkModelStream(t *testing.T) {
	stub := newStubChatModel()
	stub.chunks = []*schema.Message{
		{Role: schema.Assistant, Content: "你"},
		{Role: schema.Assistant, Content: ""},
		{Role: schema.Assistant, Content: "好", ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{TotalTokens: 3}}},
	}
	m, err := NewArkModel(context.Background(), "doubao-test", stub)
	require.NoError(t, err)

	var got []string
	out, err := m.Stream(context.Background(), Prompt{Query: "hi"}, func(c string) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"你", "好"}, got)
	assert.Equal(t, "你好", out.Text)
	assert.Equal(t, 3, out.TokensUsed)
}
