package speech

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/testutil"
)

type harness struct {
	store     chatservice.Store
	speech    *testutil.FakeSpeech
	model     *testutil.EchoModel
	validator *audio.Validator
	turns     *turn.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := chatservice.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:     store,
		speech:    &testutil.FakeSpeech{Text: "hello"},
		model:     &testutil.EchoModel{},
		validator: audio.NewValidator(config.Default().Audio),
	}
	h.turns = turn.NewOrchestrator(turn.Deps{
		Store:       store,
		Validator:   h.validator,
		Transcriber: h.speech,
		Synthesizer: h.speech,
		Responder:   ai.NewService(h.model, store, time.Second, zap.NewNop()),
	})
	return h
}
