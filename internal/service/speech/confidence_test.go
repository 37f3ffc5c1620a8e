package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
)

func TestEstimateConfidence(t *testing.T) {
	loud := audio.Features{RMSEnergy: 0.2, SilenceRatio: 0.1, Known: true}
	quiet := audio.Features{RMSEnergy: 0.001, SilenceRatio: 0.9, Known: true}

	tests := []struct {
		name     string
		text     string
		features audio.Features
		want     float64
	}{
		{"clear speech", "hello there", loud, 1.0},
		{"empty text", "   ", loud, 0.8},
		{"inaudible marker", "hello [Inaudible] there", loud, 0.9},
		{"ellipsis", "well...", loud, 0.9},
		{"quiet audio", "hello", quiet, 0.8},
		{"unknown features", "hello", audio.UnknownFeatures(), 0.8},
		{"nothing at all", "", quiet, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateConfidence(tt.text, tt.features), 1e-9)
		})
	}
}

func TestEstimateConfidenceIgnoresFeaturesMarkedUnknown(t *testing.T) {
	// Known=false 时即便数值看起来正常也按未知处理
	f := audio.Features{RMSEnergy: 0.5, SilenceRatio: 0}
	assert.InDelta(t, 0.8, EstimateConfidence("hi", f), 1e-9)
}

func TestEstimateConfidenceBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		f := audio.Features{
			RMSEnergy:    rapid.Float64Range(-1, 2).Draw(t, "rms"),
			SilenceRatio: rapid.Float64Range(-1, 2).Draw(t, "silence"),
			Known:        rapid.Bool().Draw(t, "known"),
		}
		got := EstimateConfidence(text, f)
		if got < 0 || got > 1 {
			t.Fatalf("confidence %v out of [0,1]", got)
		}
		if got < 0.5 {
			t.Fatalf("confidence %v below base score", got)
		}
	})
}
