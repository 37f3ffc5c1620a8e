package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
)

type fakeBackend struct {
	transcript *speechmodel.Transcript
	audio      []byte
	err        error
	pingErr    error

	lastSynthesis *speechmodel.SynthesisRequest
	calls         int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Transcribe(_ context.Context, _ *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.transcript
	return &cp, nil
}

func (f *fakeBackend) Synthesize(_ context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error) {
	f.calls++
	f.lastSynthesis = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.SynthesisResult{Audio: f.audio}, nil
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

func newTestService(b *fakeBackend) *Service {
	return NewService(b, b, Options{DefaultVoice: "nova", DefaultLanguage: "en"}, nil)
}

func TestTranscribeFillsConfidenceAndLanguage(t *testing.T) {
	b := &fakeBackend{transcript: &speechmodel.Transcript{Text: "hello"}}
	svc := newTestService(b)

	out, err := svc.Transcribe(context.Background(), &speechmodel.TranscriptionRequest{
		Audio: []byte("not decodable"), Format: "wav", Language: "es",
	})
	require.NoError(t, err)
	assert.Equal(t, "es", out.Language, "request hint wins when backend omits language")
	// 音频无法解码：0.5 + 0.2 + 0.1
	assert.InDelta(t, 0.8, out.Confidence, 1e-9)

	out, err = svc.Transcribe(context.Background(), &speechmodel.TranscriptionRequest{Audio: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "en", out.Language)
}

func TestTranscribeClassifiesErrors(t *testing.T) {
	svc := newTestService(&fakeBackend{err: errors.New("connection reset")})
	_, err := svc.Transcribe(context.Background(), &speechmodel.TranscriptionRequest{Audio: []byte("x")})
	assert.True(t, apperror.Is(err, apperror.KindTranscription))

	svc = newTestService(&fakeBackend{err: fmt.Errorf("busy: %w", errThrottled)})
	_, err = svc.Transcribe(context.Background(), &speechmodel.TranscriptionRequest{Audio: []byte("x")})
	assert.True(t, apperror.Is(err, apperror.KindRateLimited))
}

func TestSynthesizeValidatesText(t *testing.T) {
	b := &fakeBackend{audio: []byte("mp3")}
	svc := newTestService(b)

	_, err := svc.Synthesize(context.Background(), &speechmodel.SynthesisRequest{Text: "  \n"})
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeEmptyText, appErr.Code)
	assert.Equal(t, apperror.KindSynthesis, appErr.Kind)

	_, err = svc.Synthesize(context.Background(), &speechmodel.SynthesisRequest{Text: strings.Repeat("a", MaxSynthesisChars+1)})
	appErr, ok = apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeTextTooLong, appErr.Code)

	assert.Zero(t, b.calls, "backend must not be called for invalid text")

	_, err = svc.Synthesize(context.Background(), &speechmodel.SynthesisRequest{Text: strings.Repeat("é", MaxSynthesisChars)})
	assert.NoError(t, err, "limit counts characters, not bytes")
}

func TestSynthesizeResolvesVoiceAndPreprocesses(t *testing.T) {
	b := &fakeBackend{audio: []byte("mp3")}
	svc := newTestService(b)

	out, err := svc.Synthesize(context.Background(), &speechmodel.SynthesisRequest{Text: "Ask the  AI", Voice: "robot"})
	require.NoError(t, err)
	assert.Equal(t, "nova", out.Voice)
	assert.Equal(t, "mp3", out.Format)
	assert.Equal(t, "audio/mpeg", out.ContentType)
	assert.Equal(t, "Ask the A.I.", b.lastSynthesis.Text)

	out, err = svc.Synthesize(context.Background(), &speechmodel.SynthesisRequest{Text: "hi", Voice: "ECHO"})
	require.NoError(t, err)
	assert.Equal(t, "echo", out.Voice)
}

func TestDefaultVoiceFallsBackWhenMisconfigured(t *testing.T) {
	svc := NewService(&fakeBackend{}, &fakeBackend{}, Options{DefaultVoice: "bogus"}, nil)
	assert.Equal(t, speechmodel.DefaultVoice, svc.DefaultVoice())
	assert.Equal(t, speechmodel.Voices, svc.Voices())
}

func TestCheck(t *testing.T) {
	assert.NoError(t, newTestService(&fakeBackend{}).Check(context.Background()))
	assert.Error(t, newTestService(&fakeBackend{pingErr: errors.New("down")}).Check(context.Background()))
}
