package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldRFC1459(t *testing.T) {
	assert.Equal(t, "nick", foldRFC1459("NICK"))
	assert.Equal(t, "{brace}", foldRFC1459("[Brace]"))
	assert.Equal(t, "pipe|slash", foldRFC1459("pipe\\slash"))
	assert.Equal(t, "caret^", foldRFC1459("caret~"))
}

func TestFoldASCII(t *testing.T) {
	assert.Equal(t, "nick", foldASCII("NICK"))
	// ascii mapping leaves the bracket family alone
	assert.Equal(t, "[x]", foldASCII("[X]"))
}

func TestFoldFor(t *testing.T) {
	assert.Equal(t, "{x}", foldFor("rfc1459")("[X]"))
	assert.Equal(t, "[x]", foldFor("ascii")("[X]"))
}
