package wild

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		mask, s string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*!*@*.edu", "alice!al@cs.state.edu", true},
		{"*!*@*.edu", "alice!al@example.com", false},
		{"alice", "alice", true},
		{"alice", "alicia", false},
		{"*ircd*", "my-ircd-host", true},
		{"192.168.*", "192.168.0.14", true},
		{"\\*weird", "*weird", true},
		{"\\*weird", "xweird", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.mask, tt.s), "Match(%q, %q)", tt.mask, tt.s)
	}
}
