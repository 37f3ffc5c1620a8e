package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusByKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"audio validation", AudioValidation(CodeFileTooLarge, "too big"), http.StatusBadRequest},
		{"session not found", SessionNotFound("abc"), http.StatusNotFound},
		{"rate limited", RateLimited("slow down", nil), http.StatusTooManyRequests},
		{"transcription", New(KindTranscription, CodeTranscription, "boom"), http.StatusBadGateway},
		{"store", SessionStore("add message", errors.New("disk")), http.StatusInternalServerError},
		{"unclassified", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", SessionNotFound("x")), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestClientErrorClass(t *testing.T) {
	assert.True(t, IsClientError(AudioValidation(CodeUnsupportedFormat, "flac")))
	assert.True(t, IsClientError(InvalidRequest(CodeInvalidRequest, "bad")))
	assert.False(t, IsClientError(New(KindGeneration, CodeGeneration, "llm down")))
	assert.False(t, IsClientError(errors.New("unknown")))
}

func TestPublicHidesUnclassifiedDetail(t *testing.T) {
	pub := Public(errors.New("dial tcp 10.0.0.3:5432: connection refused"))
	assert.Equal(t, CodeInternal, pub.Code)
	assert.Equal(t, "internal server error", pub.Message)
	assert.Empty(t, pub.Kind)
}

func TestPublicKeepsStageAndCode(t *testing.T) {
	err := New(KindSynthesis, CodeSynthesis, "tts failed").WithStage("synthesize")
	pub := Public(fmt.Errorf("turn: %w", err))

	assert.Equal(t, KindSynthesis, pub.Kind)
	assert.Equal(t, CodeSynthesis, pub.Code)
	assert.Equal(t, "synthesize: tts failed", pub.Message)
}

func TestWithStageCopies(t *testing.T) {
	base := New(KindGeneration, CodeGeneration, "x")
	staged := base.WithStage("generate")

	assert.Empty(t, base.Stage)
	assert.Equal(t, "generate", staged.Stage)
	assert.Contains(t, staged.Error(), "generate: GenerationError")
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("root")
	err := SessionStore("create session", cause)

	require.ErrorIs(t, err, cause)
	got, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindSessionStore, got.Kind)
}
