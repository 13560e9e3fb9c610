package server

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/conf"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records everything written to it; reads block forever so
// the client's reader goroutine stays out of the way.
type fakeConn struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (f *fakeConn) Read(p []byte) (int, error) { select {} }
func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Write(p)
}
func (f *fakeConn) Close() error { return nil }
func (f *fakeConn) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}
func (f *fakeConn) LocalAddr() net.Addr                { return fakeAddr{} }
func (f *fakeConn) RemoteAddr() net.Addr               { return fakeAddr{} }
func (f *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:1" }

const testConf = `
network = "TestNet"
[server]
name = "hub.test"
description = "test hub"
sid = "042"
[[listener]]
addr = "127.0.0.1:0"
role = "clients"
`

func testServer(t *testing.T) *Server {
	t.Helper()
	c, err := conf.LoadString(testConf)
	require.NoError(t, err)
	s, err := New(c)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.closeListeners()
		s.xlines.close()
	})
	return s
}

// newTestLink hangs a connected peer with the given SID off the root
// and gives back the buffer its outbound lines land in.
func newTestLink(t *testing.T, s *Server, name, sid string) (*Link, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	c, err := client.New(fc, nil)
	require.NoError(t, err)

	l := &Link{s: s, c: c, state: linkConnected, theirCapab: make(map[string]string),
		theirName: name, theirSID: sid}
	n := &Node{Name: name, Desc: name, SID: sid, Link: l}
	s.root.addChild(n)
	s.addServerNode(n)
	l.node = n
	s.links[l] = struct{}{}
	return l, fc
}

// addLocalUser plants a registered local user without a real socket.
func addLocalUser(t *testing.T, s *Server, nick string, ts int64) *user.User {
	t.Helper()
	fc := &fakeConn{}
	c, err := client.New(fc, nil)
	require.NoError(t, err)
	c.State = client.StateAll
	c.Nick = nick

	u := user.New(s.nextUID())
	u.Local = c
	u.Nick = nick
	u.Ident = nick
	u.Host = "localhost"
	u.DisplayedHost = "localhost"
	u.IP = "127.0.0.1"
	u.TS = ts
	u.Signon = ts
	s.uids[u.UID] = u
	s.nicks[s.fold(nick)] = u
	return u
}

func uidLine(sid, uid string, ts int64, nick string) *msg.Message {
	return msg.New(sid, "", "", "UID", []string{
		uid, fmt.Sprintf("%d", ts), nick, "remote.host", "remote.host",
		nick, "10.0.0.9", fmt.Sprintf("%d", ts), "+i", "Remote User"}, true)
}

func TestNickCollisionLocalWins(t *testing.T) {
	s := testServer(t)
	l, fc := newTestLink(t, s, "leaf.test", "100")

	local := addLocalUser(t, s, "alice", 100)
	sUID(s, l, uidLine("100", "100AAAAAA", 200, "alice"))

	// the remote copy got a KILL back along the link and was not
	// introduced
	assert.Contains(t, fc.String(), "KILL 100AAAAAA :Nickname collision")
	_, ok := s.getUserByUID("100AAAAAA")
	assert.False(t, ok)

	// local alice is untouched
	got, ok := s.getUser("alice")
	require.True(t, ok)
	assert.Same(t, local, got)
	assert.Equal(t, int64(100), got.TS)
}

func TestNickCollisionRemoteWins(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "leaf.test", "100")

	local := addLocalUser(t, s, "alice", 100)
	sUID(s, l, uidLine("100", "100AAAAAA", 50, "alice"))

	// local copy quit, remote accepted under the nick
	_, stillThere := s.getUserByUID(local.UID)
	assert.False(t, stillThere)
	got, ok := s.getUser("alice")
	require.True(t, ok)
	assert.Equal(t, "100AAAAAA", got.UID)
	assert.Equal(t, int64(50), got.TS)
}

func TestNickCollisionEqualTSKillsBoth(t *testing.T) {
	s := testServer(t)
	l, fc := newTestLink(t, s, "leaf.test", "100")

	local := addLocalUser(t, s, "alice", 100)
	sUID(s, l, uidLine("100", "100AAAAAA", 100, "alice"))

	assert.Contains(t, fc.String(), "KILL 100AAAAAA :Nickname collision")
	_, localThere := s.getUserByUID(local.UID)
	assert.False(t, localThere)
	_, remoteThere := s.getUserByUID("100AAAAAA")
	assert.False(t, remoteThere)
	_, nickThere := s.getUser("alice")
	assert.False(t, nickThere)
}

func TestSameUIDDropsLink(t *testing.T) {
	s := testServer(t)
	l, fc := newTestLink(t, s, "leaf.test", "100")

	sUID(s, l, uidLine("100", "100AAAAAA", 100, "bob"))
	require.Contains(t, s.uids, "100AAAAAA")

	// the same UID arriving again is a protocol violation, not a
	// collision: the link drops
	sUID(s, l, uidLine("100", "100AAAAAA", 200, "carol"))
	assert.Contains(t, fc.String(), "ERROR :UID 100AAAAAA already in use")
	_, live := s.links[l]
	assert.False(t, live)
}

func TestChannelMergeWeLose(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "leaf.test", "100")
	_, fc2 := newTestLink(t, s, "other.test", "200")

	u1 := addLocalUser(t, s, "u1", 90)
	u2 := addLocalUser(t, s, "u2", 91)
	ch := channel.New("#a", 500)
	s.setChannel(ch)
	s.addMember(ch, u1, channel.Op)
	s.addMember(ch, u2, channel.Voice)

	sUID(s, l, uidLine("100", "100AAAAAA", 80, "peeru1"))
	sFJOIN(s, l, msg.New("100", "", "", "FJOIN", []string{"#a", "300", ",100AAAAAA"}, true))

	// TS dropped to the remote's, every local prefix stripped
	assert.Equal(t, int64(300), ch.TS)
	m1, _ := ch.GetMember(u1.UID)
	m2, _ := ch.GetMember(u2.UID)
	assert.Zero(t, m1.Prefix)
	assert.Zero(t, m2.Prefix)

	// the newcomer is a plain member
	pm, ok := ch.GetMember("100AAAAAA")
	require.True(t, ok)
	assert.Zero(t, pm.Prefix)

	// the losing side documents the strip toward third parties
	assert.Contains(t, fc2.String(), "FMODE #a 300")
}

func TestChannelMergeEqualTS(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "leaf.test", "100")

	u1 := addLocalUser(t, s, "u1", 90)
	ch := channel.New("#a", 500)
	s.setChannel(ch)
	s.addMember(ch, u1, channel.Op)

	sUID(s, l, uidLine("100", "100AAAAAA", 80, "peeru1"))
	sFJOIN(s, l, msg.New("100", "", "", "FJOIN", []string{"#a", "500", "o,100AAAAAA"}, true))

	assert.Equal(t, int64(500), ch.TS)
	m1, _ := ch.GetMember(u1.UID)
	assert.True(t, m1.Is(channel.Op), "local op survives an equal-TS merge")
	pm, ok := ch.GetMember("100AAAAAA")
	require.True(t, ok)
	assert.True(t, pm.Is(channel.Op), "remote op honoured on equal TS")
}

func TestChannelMergeWeWin(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "leaf.test", "100")

	u1 := addLocalUser(t, s, "u1", 90)
	ch := channel.New("#a", 300)
	s.setChannel(ch)
	s.addMember(ch, u1, channel.Op)

	sUID(s, l, uidLine("100", "100AAAAAA", 80, "peeru1"))
	sFJOIN(s, l, msg.New("100", "", "", "FJOIN", []string{"#a", "500", "o,100AAAAAA"}, true))

	// our TS and prefixes stand; the newcomer arrives stripped
	assert.Equal(t, int64(300), ch.TS)
	m1, _ := ch.GetMember(u1.UID)
	assert.True(t, m1.Is(channel.Op))
	pm, ok := ch.GetMember("100AAAAAA")
	require.True(t, ok)
	assert.Zero(t, pm.Prefix)
}

func TestTSMonotonicOnLoser(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "leaf.test", "100")

	ch := channel.New("#a", 500)
	s.setChannel(ch)

	sFJOIN(s, l, msg.New("100", "", "", "FJOIN", []string{"#a", "400", ""}, true))
	assert.Equal(t, int64(400), ch.TS)
	// a later, younger view cannot raise it back
	sFJOIN(s, l, msg.New("100", "", "", "FJOIN", []string{"#a", "450", ""}, true))
	assert.Equal(t, int64(400), ch.TS)
}

func TestFMODEBounce(t *testing.T) {
	s := testServer(t)
	l, fc := newTestLink(t, s, "leaf.test", "100")

	ch := channel.New("#a", 300)
	ch.Moderated = false
	s.setChannel(ch)

	// a mode change stamped younger than the channel bounces
	sFMODE(s, l, msg.New("100", "", "", "FMODE", []string{"#a", "500", "+m"}, false))
	assert.False(t, ch.Moderated, "stale FMODE must not apply")
	assert.Contains(t, fc.String(), "FMODE #a 300", "bounce carries our TS")
}

func TestFMODELowerTSHonoured(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "leaf.test", "100")

	ch := channel.New("#a", 300)
	s.setChannel(ch)

	sFMODE(s, l, msg.New("100", "", "", "FMODE", []string{"#a", "200", "+mn"}, false))
	assert.True(t, ch.Moderated)
	assert.True(t, ch.NoExternal)
	assert.Equal(t, int64(200), ch.TS, "lower FMODE TS is recorded")
}

func TestNetsplitQuits(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "leaf.test", "100")

	// a grandchild server behind the leaf
	sSERVER(s, l, msg.New("100", "", "", "SERVER", []string{"deep.test", "*", "2", "300", "far away"}, true))

	local := addLocalUser(t, s, "stay", 50)
	sUID(s, l, uidLine("100", "100AAAAAA", 80, "r1"))
	sUID(s, l, uidLine("300", "300AAAAAA", 81, "r2"))

	ch := channel.New("#a", 100)
	s.setChannel(ch)
	s.addMember(ch, local, channel.Op)
	r1, _ := s.getUserByUID("100AAAAAA")
	r2, _ := s.getUserByUID("300AAAAAA")
	s.addMember(ch, r1, 0)
	s.addMember(ch, r2, 0)

	s.squitLink(l, "Broken pipe")

	// both remote users are gone with no dangling membership
	_, ok := s.getUserByUID("100AAAAAA")
	assert.False(t, ok)
	_, ok = s.getUserByUID("300AAAAAA")
	assert.False(t, ok)
	assert.Equal(t, 1, ch.Len())

	// the whole subtree left the hashes
	_, ok = s.FindSID("100")
	assert.False(t, ok)
	_, ok = s.FindSID("300")
	assert.False(t, ok)

	// quitting a departed user again is a no-op
	s.quitUserLocalOnly(r2, "again")
	assert.Equal(t, 1, ch.Len())
}
