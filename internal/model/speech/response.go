package speech

// Transcript 语音识别结果
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	// Duration 单位为秒，后端未返回时为 nil
	Duration  *float64 `json:"duration"`
	RequestID string   `json:"request_id,omitempty"`
}

// SynthesisResult 语音合成结果
type SynthesisResult struct {
	Audio       []byte `json:"-"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	Voice       string `json:"voice"`
	// Duration 单位为秒，仅在后端报告时存在
	Duration  *float64 `json:"duration,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}
