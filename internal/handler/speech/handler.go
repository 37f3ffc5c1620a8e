package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
	"github.com/NicolasHurtado/Voice-gpt-agent/pkg/utils"
)

// multipart 表单除文件外的额外开销
const formOverheadBytes = 1 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error)
	Synthesize(ctx context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	validator *audio.Validator
	turns     *turn.Orchestrator
	logger    *zap.Logger
}

// New 创建语音处理器
func New(speechSvc SpeechService, validator *audio.Validator, turns *turn.Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		speechSvc: speechSvc,
		validator: validator,
		turns:     turns,
		logger:    logger.Named("speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/speech-to-text", h.handleSpeechToText)
	r.Post("/text-to-speech", h.handleTextToSpeech)
	r.Post("/voice-interaction", h.handleVoiceInteraction)
}

// TranscriptionResponse 语音识别响应
type TranscriptionResponse struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Language   string   `json:"language"`
	Duration   *float64 `json:"duration"`
}

// ChatResponse 对话回复
type ChatResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// AudioResponse 合成音频，audio_data 为 base64
type AudioResponse struct {
	AudioData string   `json:"audio_data"`
	Format    string   `json:"format"`
	Duration  *float64 `json:"duration,omitempty"`
}

// VoiceInteractionResponse 完整语音交互的结果
type VoiceInteractionResponse struct {
	Transcription TranscriptionResponse `json:"transcription"`
	ChatResponse  ChatResponse          `json:"chat_response"`
	AudioResponse *AudioResponse        `json:"audio_response"`
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

type upload struct {
	data      []byte
	format    string
	language  string
	sessionID string
	voice     string
}

// readUpload 解析 multipart 表单中的 audio_file 及可选字段
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.validator.MaxBytes()+formOverheadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperror.AudioValidation(apperror.CodeFileTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", h.validator.MaxBytes()))
		}
		return nil, apperror.InvalidRequest(apperror.CodeInvalidRequest, "failed to parse multipart form")
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		return nil, apperror.InvalidRequest(apperror.CodeNoAudioData, "audio_file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperror.InvalidRequest(apperror.CodeInvalidRequest, "failed to read audio_file")
	}

	return &upload{
		data:      data,
		format:    audio.FormatFromFilename(header.Filename),
		language:  strings.TrimSpace(r.FormValue("language")),
		sessionID: strings.TrimSpace(r.FormValue("session_id")),
		voice:     strings.TrimSpace(r.FormValue("voice")),
	}, nil
}

// handleSpeechToText 处理语音转文本请求
func (h *Handler) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	info, err := h.validator.Validate(up.data, up.format)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	transcript, err := h.speechSvc.Transcribe(r.Context(), &speechmodel.TranscriptionRequest{
		SessionID: up.sessionID,
		Audio:     up.data,
		Format:    info.Format,
		Language:  up.language,
	})
	if err != nil {
		h.logger.Warn("speech-to-text failed", zap.Error(err))
		utils.RespondAppError(w, err)
		return
	}
	if transcript.Duration == nil && info.Duration != nil {
		secs := info.Duration.Seconds()
		transcript.Duration = &secs
	}

	utils.RespondJSON(w, http.StatusOK, toTranscriptionResponse(transcript))
}

// handleTextToSpeech 处理文本转语音请求，直接返回音频字节
func (h *Handler) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, apperror.CodeInvalidRequest, "invalid request body")
		return
	}

	result, err := h.speechSvc.Synthesize(r.Context(), &speechmodel.SynthesisRequest{
		Text:     req.Text,
		Voice:    req.Voice,
		Language: req.Language,
	})
	if err != nil {
		h.logger.Warn("text-to-speech failed", zap.Error(err))
		utils.RespondAppError(w, err)
		return
	}

	format := result.Format
	if format == "" {
		format = audio.FormatMP3
	}
	contentType := result.ContentType
	if contentType == "" {
		contentType = audio.ContentType(format)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Audio); err != nil {
		h.logger.Warn("failed to write audio response", zap.Error(err))
	}
}

// handleVoiceInteraction 完整语音交互：识别 → 回复 → 合成
func (h *Handler) handleVoiceInteraction(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	result, err := h.turns.Run(r.Context(), turn.Input{
		SessionID: up.sessionID,
		Audio:     &turn.AudioInput{Data: up.data, Format: up.format, Language: up.language},
	}, turn.Options{
		IncludeAudio: true,
		Voice:        up.voice,
		Language:     up.language,
	}, nil)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	resp := VoiceInteractionResponse{
		Transcription: toTranscriptionResponse(result.Transcript),
		ChatResponse: ChatResponse{
			Message:   result.ReplyText,
			SessionID: result.SessionID,
			MessageID: result.ReplyMessageID,
		},
	}
	if result.Audio != nil {
		resp.AudioResponse = &AudioResponse{
			AudioData: base64.StdEncoding.EncodeToString(result.Audio.Audio),
			Format:    result.Audio.Format,
			Duration:  result.Audio.Duration,
		}
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func toTranscriptionResponse(t *speechmodel.Transcript) TranscriptionResponse {
	if t == nil {
		return TranscriptionResponse{}
	}
	return TranscriptionResponse{
		Text:       t.Text,
		Confidence: t.Confidence,
		Language:   t.Language,
		Duration:   t.Duration,
	}
}
