package speech

import (
	"strings"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
)

var uncertaintyMarkers = []string{"[inaudible]", "[unclear]", "..."}

// EstimateConfidence 由文本与音频能量特征估计识别置信度，结果落在 [0, 1]。
func EstimateConfidence(text string, features audio.Features) float64 {
	if !features.Known {
		features = audio.UnknownFeatures()
	}

	score := 0.5
	if strings.TrimSpace(text) != "" {
		score += 0.2
	}

	lower := strings.ToLower(text)
	uncertain := false
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			uncertain = true
			break
		}
	}
	if !uncertain {
		score += 0.1
	}

	if features.RMSEnergy > 0.01 {
		score += 0.1
	}
	if features.SilenceRatio < 0.5 {
		score += 0.1
	}

	return min(max(score, 0), 1)
}
