package speech

// TranscriptionRequest 语音识别请求
type TranscriptionRequest struct {
	SessionID string `json:"session_id"`
	Audio     []byte `json:"-"`
	Format    string `json:"format"`   // wav, mp3, m4a, webm, mp4
	Language  string `json:"language"` // 可选的语言提示
}

// SynthesisRequest 语音合成请求
type SynthesisRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Language  string  `json:"language"`
	Speed     float64 `json:"speed,omitempty"`
}
