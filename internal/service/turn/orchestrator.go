package turn

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
)

// 阶段名，同时出现在错误的 Stage 字段里
const (
	StageSession    = "session"
	StageValidate   = "validate"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
)

// Transcriber is the transcription port as seen by a turn.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error)
}

// Synthesizer is the synthesis port as seen by a turn.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error)
}

// Responder generates and persists the assistant reply.
type Responder interface {
	Generate(ctx context.Context, sessionID, text string, history []chat.Message) (*ai.Reply, error)
}

// Observer receives per-stage timings. Optional.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

// AudioInput is one utterance to transcribe.
type AudioInput struct {
	Data     []byte
	Format   string
	Language string
}

// Input is either Audio or Text, addressed to SessionID (empty creates a session).
type Input struct {
	SessionID string
	Audio     *AudioInput
	Text      string
}

// Options controls what a turn produces.
type Options struct {
	IncludeAudio bool
	Voice        string
	Language     string
	Progress     bool
}

// Result is everything a finished turn produced.
type Result struct {
	SessionID      string
	Transcript     *speechmodel.Transcript
	ReplyText      string
	ReplyMessageID string
	Audio          *speechmodel.SynthesisResult
}

// Orchestrator runs turns: validate → transcribe → generate → synthesize.
type Orchestrator struct {
	store       chatservice.Store
	validator   *audio.Validator
	transcriber Transcriber
	synthesizer Synthesizer
	responder   Responder
	maxHistory  int
	observer    Observer
	logger      *zap.Logger
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Store       chatservice.Store
	Validator   *audio.Validator
	Transcriber Transcriber
	Synthesizer Synthesizer
	Responder   Responder
	MaxHistory  int
	Observer    Observer
	Logger      *zap.Logger
}

// NewOrchestrator builds an orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxHistory := deps.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Orchestrator{
		store:       deps.Store,
		validator:   deps.Validator,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		responder:   deps.Responder,
		maxHistory:  maxHistory,
		observer:    deps.Observer,
		logger:      logger.Named("turn"),
	}
}

// ResolveSession returns the session for id, creating one when id is empty.
func (o *Orchestrator) ResolveSession(ctx context.Context, id string) (*chat.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		session, err := o.store.CreateSession(ctx)
		if err != nil {
			return nil, err
		}
		o.logger.Info("session created", zap.String("session_id", session.ID))
		return session, nil
	}
	return o.store.GetSession(ctx, id)
}

// turnState 在各阶段之间传递。
type turnState struct {
	in     Input
	opts   Options
	result Result
	format string
	// 校验阶段测得的时长，识别后端未返回时长时使用
	measured *time.Duration
}

type stage struct {
	name  string
	start EventType
	done  EventType
	skip  func(*turnState) bool
	run   func(context.Context, *turnState) (map[string]any, error)
}

func (o *Orchestrator) stages() []stage {
	isText := func(st *turnState) bool { return st.in.Audio == nil }
	return []stage{
		{name: StageValidate, skip: isText, run: o.validate},
		{name: StageTranscribe, start: EventTranscriptionStarted, done: EventTranscriptionCompleted, skip: isText, run: o.transcribe},
		{name: StageGenerate, start: EventResponseGenerationStarted, done: EventTextResponse, run: o.generate},
		{
			name:  StageSynthesize,
			start: EventAudioGenerationStarted,
			done:  EventAudioResponse,
			skip:  func(st *turnState) bool { return !st.opts.IncludeAudio },
			run:   o.synthesize,
		},
	}
}

// Run executes one turn. The first failing stage aborts the rest; its error
// carries the stage name. Nothing is retried.
func (o *Orchestrator) Run(ctx context.Context, in Input, opts Options, emit Emitter) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	send := func(t EventType, data map[string]any) {
		if t == "" || (!opts.Progress && !t.isResult()) {
			return
		}
		emit(Event{Type: t, Data: data})
	}

	if in.Audio == nil && strings.TrimSpace(in.Text) == "" {
		return nil, apperror.InvalidRequest(apperror.CodeInvalidRequest, "text or audio is required")
	}

	session, err := o.ResolveSession(ctx, in.SessionID)
	if err != nil {
		return nil, withStage(err, StageSession, apperror.KindSessionStore, apperror.CodeSessionStore)
	}
	st := &turnState{in: in, opts: opts, result: Result{SessionID: session.ID}}

	for _, s := range o.stages() {
		if s.skip != nil && s.skip(st) {
			continue
		}
		send(s.start, nil)

		started := time.Now()
		data, err := s.run(ctx, st)
		if o.observer != nil {
			o.observer.ObserveStage(s.name, time.Since(started), err)
		}
		if err != nil {
			o.logger.Warn("turn stage failed",
				zap.String("session_id", session.ID),
				zap.String("stage", s.name),
				zap.Error(err))
			return nil, err
		}
		send(s.done, data)
	}

	send(EventInteractionCompleted, map[string]any{"session_id": session.ID})
	return &st.result, nil
}

func (o *Orchestrator) validate(_ context.Context, st *turnState) (map[string]any, error) {
	info, err := o.validator.Validate(st.in.Audio.Data, st.in.Audio.Format)
	if err != nil {
		return nil, withStage(err, StageValidate, apperror.KindAudioValidation, apperror.CodeAudioDecode)
	}
	st.format = info.Format
	st.measured = info.Duration
	return nil, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, st *turnState) (map[string]any, error) {
	language := st.opts.Language
	if language == "" {
		language = st.in.Audio.Language
	}
	transcript, err := o.transcriber.Transcribe(ctx, &speechmodel.TranscriptionRequest{
		SessionID: st.result.SessionID,
		Audio:     st.in.Audio.Data,
		Format:    st.format,
		Language:  language,
	})
	if err != nil {
		return nil, withStage(err, StageTranscribe, apperror.KindTranscription, apperror.CodeTranscription)
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return nil, apperror.New(apperror.KindTranscription, apperror.CodeTranscription, "no speech recognized").WithStage(StageTranscribe)
	}
	if transcript.Duration == nil && st.measured != nil {
		d := st.measured.Seconds()
		transcript.Duration = &d
	}
	st.result.Transcript = transcript
	return map[string]any{
		"text":       transcript.Text,
		"confidence": transcript.Confidence,
		"language":   transcript.Language,
	}, nil
}

func (o *Orchestrator) generate(ctx context.Context, st *turnState) (map[string]any, error) {
	text := st.in.Text
	if st.result.Transcript != nil {
		text = st.result.Transcript.Text
	}
	history, err := o.store.History(ctx, st.result.SessionID, o.maxHistory)
	if err != nil {
		return nil, withStage(err, StageGenerate, apperror.KindSessionStore, apperror.CodeSessionStore)
	}
	reply, err := o.responder.Generate(ctx, st.result.SessionID, text, history)
	if err != nil {
		return nil, withStage(err, StageGenerate, apperror.KindGeneration, apperror.CodeGeneration)
	}
	st.result.ReplyText = reply.Text
	st.result.ReplyMessageID = reply.MessageID
	return map[string]any{"text": reply.Text}, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, st *turnState) (map[string]any, error) {
	language := st.opts.Language
	if language == "" && st.result.Transcript != nil {
		language = st.result.Transcript.Language
	}
	out, err := o.synthesizer.Synthesize(ctx, &speechmodel.SynthesisRequest{
		SessionID: st.result.SessionID,
		Text:      st.result.ReplyText,
		Voice:     st.opts.Voice,
		Language:  language,
	})
	if err != nil {
		return nil, withStage(err, StageSynthesize, apperror.KindSynthesis, apperror.CodeSynthesis)
	}
	st.result.Audio = out

	data := map[string]any{
		"audio_data": base64.StdEncoding.EncodeToString(out.Audio),
		"format":     out.Format,
	}
	if out.Duration != nil {
		data["duration"] = *out.Duration
	}
	return data, nil
}

// withStage 给已分类的错误加上阶段名，未分类的按阶段默认类别包装。
func withStage(err error, stage string, kind apperror.Kind, code apperror.Code) error {
	if appErr, ok := apperror.As(err); ok {
		return appErr.WithStage(stage)
	}
	return apperror.Wrap(kind, code, stage+" failed", err).WithStage(stage)
}
