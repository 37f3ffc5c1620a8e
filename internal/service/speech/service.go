package speech

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
)

// Options 语音服务的默认值与超时。
type Options struct {
	DefaultVoice    string
	DefaultLanguage string
	Timeout         time.Duration
}

// Service 组合识别与合成后端，并负责置信度、声音解析与文本预处理。
type Service struct {
	transcriber Transcriber
	synthesizer Synthesizer
	opts        Options
	logger      *zap.Logger
}

// NewService 创建语音服务。
func NewService(t Transcriber, s Synthesizer, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !speechmodel.IsKnownVoice(opts.DefaultVoice) {
		opts.DefaultVoice = speechmodel.DefaultVoice
	}
	return &Service{
		transcriber: t,
		synthesizer: s,
		opts:        opts,
		logger:      logger.Named("speech"),
	}
}

// NewFromConfig 按 SPEECH_PROVIDER 选择后端。
func NewFromConfig(cfg config.SpeechConfig, logger *zap.Logger) (*Service, error) {
	opts := Options{
		DefaultVoice:    cfg.DefaultVoice,
		DefaultLanguage: cfg.DefaultLanguage,
		Timeout:         cfg.Timeout,
	}

	switch cfg.Provider {
	case config.SpeechProviderVolcengine:
		volc := speechmodel.VolcengineConfig{
			AppID:          cfg.AppID,
			AccessToken:    cfg.AccessToken,
			ConcurrentMode: cfg.ConcurrentMode,
			ASRLanguage:    cfg.ASRLanguage,
			TTSVoice:       cfg.TTSVoice,
			TTSLanguage:    cfg.TTSLanguage,
			Timeout:        cfg.Timeout,
		}
		if _, _, err := resolveCredentials(volc); err != nil {
			return nil, err
		}
		return NewService(NewVolcengineASR(volc, logger), NewVolcengineTTS(volc, logger), opts, logger), nil
	default:
		client, err := NewOpenAIClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewService(client, client, opts, logger), nil
	}
}

// Voices 返回可选声音。
func (s *Service) Voices() []string {
	return append([]string(nil), speechmodel.Voices...)
}

// DefaultVoice 返回默认声音。
func (s *Service) DefaultVoice() string {
	return s.opts.DefaultVoice
}

// ResolveVoice 未知或为空的声音回落到默认声音。
func (s *Service) ResolveVoice(voice string) string {
	v := strings.ToLower(strings.TrimSpace(voice))
	if speechmodel.IsKnownVoice(v) {
		return v
	}
	if v != "" {
		s.logger.Warn("unknown voice, using default", zap.String("voice", voice), zap.String("default", s.opts.DefaultVoice))
	}
	return s.opts.DefaultVoice
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// Transcribe 调用识别后端并估计置信度。
func (s *Service) Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	started := time.Now()
	out, err := s.transcriber.Transcribe(ctx, req)
	if err != nil {
		s.logger.Error("transcription failed", zap.String("backend", s.transcriber.Name()), zap.Error(err))
		return nil, classify(err, apperror.KindTranscription, apperror.CodeTranscription, "transcription failed")
	}

	out.Confidence = EstimateConfidence(out.Text, audio.Analyze(req.Audio, req.Format))
	if out.Language == "" {
		out.Language = strings.TrimSpace(req.Language)
	}
	if out.Language == "" {
		out.Language = s.opts.DefaultLanguage
	}

	s.logger.Info("transcription completed",
		zap.String("session_id", req.SessionID),
		zap.Int("audio_bytes", len(req.Audio)),
		zap.Int("text_length", utf8.RuneCountInString(out.Text)),
		zap.Float64("confidence", out.Confidence),
		zap.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

// Synthesize 校验文本、解析声音并调用合成后端。
func (s *Service) Synthesize(ctx context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperror.New(apperror.KindSynthesis, apperror.CodeEmptyText, "text to synthesize is empty")
	}
	if n := utf8.RuneCountInString(req.Text); n > MaxSynthesisChars {
		return nil, apperror.New(apperror.KindSynthesis, apperror.CodeTextTooLong,
			fmt.Sprintf("text has %d characters, limit is %d", n, MaxSynthesisChars))
	}

	call := *req
	call.Voice = s.ResolveVoice(req.Voice)
	call.Text = PreprocessText(req.Text)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.synthesizer.Synthesize(ctx, &call)
	if err != nil {
		s.logger.Error("synthesis failed", zap.String("backend", s.synthesizer.Name()), zap.Error(err))
		return nil, classify(err, apperror.KindSynthesis, apperror.CodeSynthesis, "speech synthesis failed")
	}

	out.Voice = call.Voice
	if out.Format == "" {
		out.Format = audio.FormatMP3
	}
	if out.ContentType == "" {
		out.ContentType = audio.ContentType(out.Format)
	}

	s.logger.Info("synthesis completed",
		zap.String("session_id", req.SessionID),
		zap.String("voice", call.Voice),
		zap.Int("audio_bytes", len(out.Audio)),
	)
	return out, nil
}

// Check 探测后端可用性；未实现 Pinger 的后端视为可用。
func (s *Service) Check(ctx context.Context) error {
	seen := map[any]bool{}
	for _, backend := range []any{s.transcriber, s.synthesizer} {
		if seen[backend] {
			continue
		}
		seen[backend] = true
		if p, ok := backend.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
