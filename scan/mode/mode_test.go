package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  []Mode
	}{
		{"+i", []Mode{{ModeChar: 'i', Type: Add}}},
		{"-i", []Mode{{ModeChar: 'i', Type: Remove}}},
		{"+ab-c", []Mode{
			{ModeChar: 'a', Type: Add},
			{ModeChar: 'b', Type: Add},
			{ModeChar: 'c', Type: Remove},
		}},
		{"b", []Mode{{ModeChar: 'b', Type: List}}},
		{"+o-v+k", []Mode{
			{ModeChar: 'o', Type: Add},
			{ModeChar: 'v', Type: Remove},
			{ModeChar: 'k', Type: Add},
		}},
		{"", []Mode{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse([]byte(tt.input)))
		})
	}
}
