package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/testutil"
	"github.com/NicolasHurtado/Voice-gpt-agent/pkg/utils"
)

func newSpeechRouter(h *harness) http.Handler {
	r := chi.NewRouter()
	New(h.speech, h.validator, h.turns, nil).RegisterRoutes(r)
	return r
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("audio_file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func postMultipart(t *testing.T, router http.Handler, path, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, data, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) utils.ErrorBody {
	t.Helper()
	var body utils.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSpeechToTextFillsDurationFromAudio(t *testing.T) {
	h := newHarness(t)
	rec := postMultipart(t, newSpeechRouter(h), "/speech-to-text", "sample.wav", testutil.SpeechWAV(),
		map[string]string{"language": "es"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TranscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "es", resp.Language)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	require.NotNil(t, resp.Duration)
	assert.InDelta(t, 0.5, *resp.Duration, 1e-3)
}

func TestSpeechToTextRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		status   int
		code     string
	}{
		{"missing file", "", nil, http.StatusBadRequest, "NO_AUDIO_DATA"},
		{"unsupported format", "voice.ogg", []byte("OggS"), http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
		{"undecodable wav", "voice.wav", []byte("not a wav at all"), http.StatusBadRequest, "AUDIO_DECODE_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := postMultipart(t, newSpeechRouter(h), "/speech-to-text", tt.filename, tt.data, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, string(decodeError(t, rec).ErrorCode))

			transcribed, _ := h.speech.Counts()
			assert.Zero(t, transcribed)
		})
	}
}

func TestSpeechToTextHidesUnclassifiedErrors(t *testing.T) {
	h := newHarness(t)
	h.speech.TranscribeErr = errors.New("upstream exploded")

	rec := postMultipart(t, newSpeechRouter(h), "/speech-to-text", "sample.wav", testutil.SpeechWAV(), nil)
	// 未分类错误不暴露细节
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", string(body.ErrorCode))
	assert.NotContains(t, body.Error, "exploded")
}

func TestTextToSpeechReturnsAudioBytes(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/text-to-speech",
		strings.NewReader(`{"text":"hello there","voice":"nova"}`))
	rec := httptest.NewRecorder()
	newSpeechRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "speech.mp3")
	assert.Equal(t, "mp3:hello there", rec.Body.String())
}

func TestTextToSpeechInvalidBody(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/text-to-speech", strings.NewReader(`{"text":`))
	rec := httptest.NewRecorder()
	newSpeechRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", string(decodeError(t, rec).ErrorCode))
}

func TestVoiceInteractionRunsFullTurn(t *testing.T) {
	h := newHarness(t)
	rec := postMultipart(t, newSpeechRouter(h), "/voice-interaction", "sample.wav", testutil.SpeechWAV(),
		map[string]string{"voice": "nova"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp VoiceInteractionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "hello", resp.Transcription.Text)
	assert.Equal(t, "you said: hello", resp.ChatResponse.Message)
	assert.NotEmpty(t, resp.ChatResponse.SessionID)
	assert.NotEmpty(t, resp.ChatResponse.MessageID)
	require.NotNil(t, resp.AudioResponse)
	assert.Equal(t, "mp3", resp.AudioResponse.Format)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp3:you said: hello")), resp.AudioResponse.AudioData)
	assert.Nil(t, resp.AudioResponse.Duration)

	history, err := h.store.History(context.Background(), resp.ChatResponse.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, resp.ChatResponse.MessageID, history[1].ID)
}

func TestVoiceInteractionErrors(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		h := newHarness(t)
		rec := postMultipart(t, newSpeechRouter(h), "/voice-interaction", "sample.wav", testutil.SpeechWAV(),
			map[string]string{"session_id": "missing"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "SESSION_NOT_FOUND", string(decodeError(t, rec).ErrorCode))
	})

	t.Run("transcription failure", func(t *testing.T) {
		h := newHarness(t)
		h.speech.TranscribeErr = errors.New("asr down")
		rec := postMultipart(t, newSpeechRouter(h), "/voice-interaction", "sample.wav", testutil.SpeechWAV(), nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "TRANSCRIPTION_ERROR", string(decodeError(t, rec).ErrorCode))
		assert.Zero(t, h.model.Calls())
	})

	t.Run("generation failure", func(t *testing.T) {
		h := newHarness(t)
		h.model.Err = errors.New("model down")
		rec := postMultipart(t, newSpeechRouter(h), "/voice-interaction", "sample.wav", testutil.SpeechWAV(), nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "RESPONSE_GENERATION_ERROR", string(decodeError(t, rec).ErrorCode))
		_, synthesized := h.speech.Counts()
		assert.Zero(t, synthesized)
	})
}
