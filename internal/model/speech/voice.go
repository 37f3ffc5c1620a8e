package speech

import "strings"

// DefaultVoice 未配置时使用的声音。
const DefaultVoice = "alloy"

// Voices 可选的声音集合。
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// IsKnownVoice 报告声音是否在枚举集合中。
func IsKnownVoice(voice string) bool {
	voice = strings.ToLower(strings.TrimSpace(voice))
	for _, v := range Voices {
		if v == voice {
			return true
		}
	}
	return false
}
