package client

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/mitchr/braid/scan/mode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	c, err := New(local, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(); remote.Close() })
	return c, remote
}

func TestWriteQueuesUntilFlush(t *testing.T) {
	c, remote := pipePair(t)

	_, err := c.WriteString("PING :hub")
	require.NoError(t, err)
	assert.True(t, c.PendingOutput())

	done := make(chan string)
	go func() {
		b, _ := bufio.NewReader(remote).ReadString('\n')
		done <- b
	}()

	require.NoError(t, c.Flush())
	assert.Equal(t, "PING :hub\r\n", <-done)
	assert.False(t, c.PendingOutput())
}

func TestReadLine(t *testing.T) {
	c, remote := pipePair(t)

	go remote.Write([]byte("NICK alice\r\nUSER al 0 * :Alice\r\n"))

	l, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "NICK alice\r\n", string(l))

	l, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "USER al 0 * :Alice\r\n", string(l))
}

func TestReadLineOverflow(t *testing.T) {
	c, remote := pipePair(t)

	// a line longer than the 512 limit but below the buffer cap
	go remote.Write([]byte(strings.Repeat("a", 600) + "\r\n"))

	_, err := c.ReadLine()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestWriteAfterClose(t *testing.T) {
	c, _ := pipePair(t)
	c.Close()

	_, err := c.WriteString("anything")
	assert.ErrorIs(t, err, ErrDead)
	// closing twice is a no-op
	assert.NoError(t, c.Close())
}

func TestApplyUserMode(t *testing.T) {
	var m Mode

	m, ok := ApplyUserMode(m, mode.Mode{ModeChar: 'i', Type: mode.Add})
	assert.True(t, ok)
	assert.True(t, m.Is(Invisible))

	// op cannot be self-granted
	m, ok = ApplyUserMode(m, mode.Mode{ModeChar: 'o', Type: mode.Add})
	assert.False(t, ok)
	assert.False(t, m.Is(Op))

	m, ok = ApplyUserMode(m, mode.Mode{ModeChar: 'i', Type: mode.Remove})
	assert.True(t, ok)
	assert.False(t, m.Is(Invisible))

	_, ok = ApplyUserMode(m, mode.Mode{ModeChar: 'z', Type: mode.Add})
	assert.False(t, ok)
}

func TestModeString(t *testing.T) {
	m := Invisible | Wallops | Op
	assert.Equal(t, "iow", m.String())
}
