package speech

import "time"

// VolcengineConfig 火山引擎语音后端配置
type VolcengineConfig struct {
	AppID          string `json:"appId"`
	AccessToken    string `json:"accessToken"`
	ConcurrentMode bool   `json:"concurrentMode"` // ASR并发版（false为小时版）
	ASRLanguage    string `json:"asrLanguage"`
	TTSVoice       string `json:"ttsVoice"`
	TTSLanguage    string `json:"ttsLanguage"`

	// 以下端点可在测试中覆盖
	ASRURL string `json:"asrUrl,omitempty"`
	TTSURL string `json:"ttsUrl,omitempty"`

	Timeout time.Duration `json:"timeout"`
}
