package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
)

// OpenAIClient 使用 Whisper 做识别、使用 TTS 接口做合成。
type OpenAIClient struct {
	client       oai.Client
	whisperModel string
	ttsModel     string
	logger       *zap.Logger
}

// NewOpenAIClient 根据语音配置创建客户端。重试由调用方决定，这里关闭 SDK 自带重试。
func NewOpenAIClient(cfg config.SpeechConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, fmt.Errorf("openai speech: api key must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithMaxRetries(0),
	}
	if cfg.OpenAIBaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &OpenAIClient{
		client:       oai.NewClient(reqOpts...),
		whisperModel: cfg.WhisperModel,
		ttsModel:     cfg.TTSModel,
		logger:       logger.Named("openai-speech"),
	}, nil
}

// Name 实现 Transcriber / Synthesizer。
func (c *OpenAIClient) Name() string { return "openai" }

type verboseTranscription struct {
	Language string   `json:"language"`
	Duration *float64 `json:"duration"`
}

// Transcribe 调用 Whisper；置信度由上层估计。
func (c *OpenAIClient) Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error) {
	format := audio.NormalizeFormat(req.Format)
	if format == "" {
		format = audio.FormatWAV
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(req.Audio), "audio."+format, audio.ContentType(format)),
		Model:          oai.AudioModel(c.whisperModel),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	out := &speechmodel.Transcript{Text: strings.TrimSpace(resp.Text)}
	var verbose verboseTranscription
	if raw := resp.RawJSON(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &verbose); err != nil {
			c.logger.Debug("verbose transcription fields unavailable", zap.Error(err))
		}
	}
	out.Language = verbose.Language
	out.Duration = verbose.Duration
	return out, nil
}

// Synthesize 调用 TTS 接口，输出 mp3。接口不返回时长。
func (c *OpenAIClient) Synthesize(ctx context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error) {
	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(c.ttsModel),
		Voice:          oai.AudioSpeechNewParamsVoice(req.Voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if req.Speed > 0 {
		params.Speed = oai.Float(req.Speed)
	}

	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai speech body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai speech returned no audio")
	}

	return &speechmodel.SynthesisResult{
		Audio:       data,
		Format:      audio.FormatMP3,
		ContentType: audio.ContentType(audio.FormatMP3),
		Voice:       req.Voice,
		RequestID:   resp.Header.Get("x-request-id"),
	}, nil
}

// Ping 通过列出模型检查凭据与连通性。
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai models probe: %w", err)
	}
	return nil
}
