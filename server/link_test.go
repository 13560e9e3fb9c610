package server

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/conf"
	"github.com/mitchr/braid/scan/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkConf() conf.Link {
	return conf.Link{
		Name:     "leaf.test",
		Addr:     "127.0.0.1:0",
		SendPass: "out",
		RecvPass: "in",
	}
}

// newHandshakingLink builds an inbound link still in WAIT_AUTH_1.
func newHandshakingLink(t *testing.T, s *Server) (*Link, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	c, err := client.New(fc, nil)
	require.NoError(t, err)
	l := &Link{s: s, c: c, state: linkWaitAuth1, inbound: true,
		ourChallenge: "test-challenge", theirCapab: make(map[string]string)}
	s.links[l] = struct{}{}
	return l, fc
}

func TestInboundHandshake(t *testing.T) {
	s := testServer(t)
	s.conf.Links = []conf.Link{linkConf()}
	l, fc := newHandshakingLink(t, s)

	l.handleLine(msg.New("", "", "", "CAPAB", []string{"START", protoVersion}, false))
	l.handleLine(msg.New("", "", "", "CAPAB", []string{"CAPABILITIES", "CASEMAPPING=rfc1459 CHALLENGE=peer-chal"}, true))
	l.handleLine(msg.New("", "", "", "CAPAB", []string{"END"}, false))
	require.Equal(t, linkWaitAuth1, l.state)

	// SERVER with the plaintext recv password flips us to WAIT_AUTH_2
	// and draws our own SERVER line
	l.handleLine(msg.New("", "", "", "SERVER", []string{"leaf.test", "in", "0", "100", "a leaf"}, true))
	require.Equal(t, linkWaitAuth2, l.state)
	assert.Contains(t, fc.String(), "SERVER hub.test AUTH:")

	n, ok := s.FindSID("100")
	require.True(t, ok)
	assert.True(t, n.Bursting)

	// their BURST completes the handshake and draws ours
	l.handleLine(msg.New("100", "", "", "BURST", []string{fmt.Sprintf("%d", time.Now().Unix())}, false))
	assert.Equal(t, linkConnected, l.state)
	out := fc.String()
	assert.Contains(t, out, "BURST")
	assert.Contains(t, out, "ENDBURST")

	l.handleLine(msg.New("100", "", "", "ENDBURST", nil, false))
	assert.False(t, n.Bursting)
}

func TestHandshakeBadPassword(t *testing.T) {
	s := testServer(t)
	s.conf.Links = []conf.Link{linkConf()}
	l, fc := newHandshakingLink(t, s)

	l.handleLine(msg.New("", "", "", "SERVER", []string{"leaf.test", "wrong", "0", "100", "a leaf"}, true))
	assert.Contains(t, fc.String(), "ERROR :Invalid credentials")
	_, live := s.links[l]
	assert.False(t, live)
}

func TestHandshakeUnknownServer(t *testing.T) {
	s := testServer(t)
	l, fc := newHandshakingLink(t, s)

	l.handleLine(msg.New("", "", "", "SERVER", []string{"stranger.test", "in", "0", "100", "who"}, true))
	assert.Contains(t, fc.String(), "ERROR :Server not configured here")
}

func TestProtocolVersionMismatch(t *testing.T) {
	s := testServer(t)
	l, fc := newHandshakingLink(t, s)

	l.handleLine(msg.New("", "", "", "CAPAB", []string{"START", "9999"}, false))
	assert.Contains(t, fc.String(), "ERROR :Protocol version mismatch")
}

func TestCasemappingMismatchDropsLink(t *testing.T) {
	s := testServer(t)
	l, fc := newHandshakingLink(t, s)

	l.handleLine(msg.New("", "", "", "CAPAB", []string{"START", protoVersion}, false))
	l.handleLine(msg.New("", "", "", "CAPAB", []string{"CAPABILITIES", "CASEMAPPING=ascii"}, true))
	l.handleLine(msg.New("", "", "", "CAPAB", []string{"END"}, false))
	assert.Contains(t, fc.String(), "ERROR :Casemapping mismatch")
}

func TestBurstTSSkewFatal(t *testing.T) {
	s := testServer(t)
	s.conf.Links = []conf.Link{linkConf()}
	l, fc := newHandshakingLink(t, s)

	l.handleLine(msg.New("", "", "", "SERVER", []string{"leaf.test", "in", "0", "100", "a leaf"}, true))
	require.Equal(t, linkWaitAuth2, l.state)

	skewed := time.Now().Unix() - s.conf.MaxTSDelta - 60
	l.handleLine(msg.New("100", "", "", "BURST", []string{fmt.Sprintf("%d", skewed)}, false))

	assert.Contains(t, fc.String(), "exceeds limit")
	_, live := s.links[l]
	assert.False(t, live)
}

func TestChallengeRoundTrip(t *testing.T) {
	// both directions of the HMAC agree on the same pass+challenge
	digest := hmacPass("sekrit", "chal")
	l := &Link{ourChallenge: "chal", conf: &conf.Link{RecvPass: "sekrit"}}
	assert.True(t, l.checkPass("AUTH:"+digest))
	assert.False(t, l.checkPass("AUTH:bogus"))
	assert.True(t, (&Link{conf: &conf.Link{RecvPass: "plain"}}).checkPass("plain"))
}

func TestBurstContents(t *testing.T) {
	s := testServer(t)

	u := addLocalUser(t, s, "alice", 100)
	u.OperType = "NetAdmin"
	ch := channel.New("#go", 400)
	ch.Topic = "welcome"
	ch.TopicSetBy = "alice"
	ch.TopicSetAt = 450
	ch.Key = "sekrit"
	ch.Limit = 10
	ch.Bans = []channel.ListEntry{{Mask: "*!*@bad", SetBy: "alice", SetAt: 401}}
	s.setChannel(ch)
	s.addMember(ch, u, channel.Op)

	l, fc := newTestLink(t, s, "leaf.test", "100")
	l.sendBurst()
	out := fc.String()

	// ordering: BURST, then content, ENDBURST last
	require.True(t, strings.HasPrefix(out, ":042 BURST "))
	assert.True(t, strings.HasSuffix(out, ":042 ENDBURST\r\n"))

	assert.Contains(t, out, "VERSION :"+Version)
	assert.Contains(t, out, fmt.Sprintf("UID %s 100 alice", u.UID))
	assert.Contains(t, out, ":"+u.UID+" OPERTYPE NetAdmin")
	assert.Contains(t, out, "FJOIN #go 400 :o,"+u.UID)
	// the key rides the burst, parameters in letter order
	assert.Contains(t, out, "FMODE #go 400 +kl sekrit 10")
	assert.Contains(t, out, "FMODE #go 400 +b *!*@bad")
	assert.Contains(t, out, "FTOPIC #go 450 alice :welcome")
}

func TestUnknownVerbDropsLink(t *testing.T) {
	s := testServer(t)
	l, fc := newTestLink(t, s, "leaf.test", "100")

	l.handleLine(msg.New("100", "", "", "BOGUS", nil, false))
	assert.Contains(t, fc.String(), "ERROR :Protocol violation: unknown command BOGUS")
	_, live := s.links[l]
	assert.False(t, live)
}
