package turn

// EventType names a staged progress or result event.
type EventType string

const (
	EventTranscriptionStarted      EventType = "transcription_started"
	EventTranscriptionCompleted    EventType = "transcription_completed"
	EventResponseGenerationStarted EventType = "response_generation_started"
	EventTextResponse              EventType = "text_response"
	EventAudioGenerationStarted    EventType = "audio_generation_started"
	EventAudioResponse             EventType = "audio_response"
	EventInteractionCompleted      EventType = "interaction_completed"
)

// Event is emitted while a turn runs. Data is ready to be serialized as JSON.
type Event struct {
	Type EventType
	Data map[string]any
}

// Emitter receives events in order; it must not block for long.
type Emitter func(Event)

// 结果类事件总是发送，进度类事件仅在 Options.Progress 时发送。
func (t EventType) isResult() bool {
	return t == EventTextResponse || t == EventAudioResponse
}
