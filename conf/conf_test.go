package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `
network = "BraidNet"
disabled_commands = ["SUMMON"]

[server]
name = "hub.example.org"
description = "main hub"
sid = "042"

[[listener]]
addr = ":6667"
role = "clients"

[[listener]]
addr = ":7000"
role = "servers"

[[link]]
name = "leaf.example.org"
addr = "10.0.0.2:7000"
sendpass = "outgoing"
recvpass = "incoming"
autoconnect = "5m"
timeout = "30s"
hidden = true

[[oper]]
name = "admin"
pass = "$2a$10$notarealhash"
type = "NetAdmin"

[[listlimit]]
glob = "#big*"
max = 200

[[listlimit]]
glob = "*"
max = 60
`

func TestLoad(t *testing.T) {
	c, err := LoadString(doc)
	require.NoError(t, err)

	assert.Equal(t, "BraidNet", c.Network)
	assert.Equal(t, "hub.example.org", c.Server.Name)
	assert.Equal(t, "042", c.Server.SID)
	assert.Len(t, c.Listeners, 2)
	assert.Equal(t, "servers", c.Listeners[1].Role)

	l, ok := c.FindLink("LEAF.example.org")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, l.AutoConnect.Duration)
	assert.True(t, l.Hidden)

	o, ok := c.FindOper("admin")
	require.True(t, ok)
	assert.Equal(t, "NetAdmin", o.Type)

	assert.True(t, c.CommandDisabled("summon"))
	assert.False(t, c.CommandDisabled("JOIN"))

	assert.Equal(t, 200, c.ListMax("#bigchannel"))
	assert.Equal(t, 60, c.ListMax("#other"))

	// defaults survive decoding
	assert.Equal(t, "rfc1459", c.CaseMapping)
	assert.Equal(t, int64(600), c.MaxTSDelta)
	assert.Equal(t, 4, c.ModesPerLine)
}

func TestValidation(t *testing.T) {
	_, err := LoadString(`[server]` + "\n" + `name = "x"`)
	assert.ErrorIs(t, err, ErrNoListeners)

	_, err = LoadString(`
[server]
name = "x"
sid = "ZZZ"
[[listener]]
addr = ":6667"
role = "clients"
`)
	assert.Error(t, err, "sid must start with a digit")

	_, err = LoadString(`
[server]
name = "x"
[[listener]]
addr = ":6667"
role = "webscale"
`)
	assert.Error(t, err, "unknown listener role")
}

func TestDeriveSID(t *testing.T) {
	sid := DeriveSID("hub.example.org", "main hub")
	assert.Len(t, sid, 3)
	// stable across calls
	assert.Equal(t, sid, DeriveSID("hub.example.org", "main hub"))
	assert.NotEqual(t, sid, DeriveSID("leaf.example.org", "main hub"))
}
