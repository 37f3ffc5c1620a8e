package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreprocessText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello    world \n again ", "hello world again"},
		{"Hi.How are you?Fine,thanks", "Hi. How are you? Fine, thanks"},
		{"Pi is 3.14", "Pi is 3.14"},
		{"The AI uses an API.", "The A.I. uses an A.P.I."},
		{"Send JSON, not XML", "Send J.S.O.N., not X.M.L."},
		{"RAMP and SQLite stay", "RAMP and SQLite stay"},
		{"GPU", "G.P.U."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PreprocessText(tt.in), "input %q", tt.in)
	}
}
