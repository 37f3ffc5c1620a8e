package testutil

import (
	"context"
	"strings"
	"sync"

	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
)

// EchoModel 是回显用户输入的 ai.ChatModel。
type EchoModel struct {
	Err error

	mu    sync.Mutex
	calls int
}

func (m *EchoModel) Name() string { return "echo" }

func (m *EchoModel) Generate(_ context.Context, p ai.Prompt) (*ai.Completion, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return &ai.Completion{Text: "you said: " + p.Query, Model: "echo", TokensUsed: len(p.Query)}, nil
}

// Stream 按空格切块回调。
func (m *EchoModel) Stream(ctx context.Context, p ai.Prompt, onChunk func(string) error) (*ai.Completion, error) {
	out, err := m.Generate(ctx, p)
	if err != nil {
		return nil, err
	}
	for _, chunk := range strings.SplitAfter(out.Text, " ") {
		if err := onChunk(chunk); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *EchoModel) Ping(context.Context) error { return m.Err }

// Calls 返回 Generate/Stream 的调用次数
func (m *EchoModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FakeSpeech 同时实现识别与合成端口，合成结果为 "mp3:" + 文本。
type FakeSpeech struct {
	Text          string
	TranscribeErr error
	SynthesizeErr error

	mu          sync.Mutex
	transcribed int
	synthesized int
}

func (f *FakeSpeech) Transcribe(_ context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error) {
	f.mu.Lock()
	f.transcribed++
	f.mu.Unlock()
	if f.TranscribeErr != nil {
		return nil, f.TranscribeErr
	}
	language := req.Language
	if language == "" {
		language = "en"
	}
	return &speechmodel.Transcript{Text: f.Text, Confidence: 0.9, Language: language}, nil
}

func (f *FakeSpeech) Synthesize(_ context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error) {
	f.mu.Lock()
	f.synthesized++
	f.mu.Unlock()
	if f.SynthesizeErr != nil {
		return nil, f.SynthesizeErr
	}
	return &speechmodel.SynthesisResult{
		Audio:       []byte("mp3:" + req.Text),
		Format:      "mp3",
		ContentType: "audio/mpeg",
		Voice:       req.Voice,
	}, nil
}

// Counts 返回识别与合成的调用次数
func (f *FakeSpeech) Counts() (transcribed, synthesized int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcribed, f.synthesized
}
