package server

import (
	"testing"

	"github.com/mitchr/braid/scan/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestRoute(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "child.test", "100")
	_ = l

	// child.test -> grand.test -> great.test
	sSERVER(s, l, msg.New("100", "", "", "SERVER", []string{"grand.test", "*", "2", "200", "grand"}, true))
	sSERVER(s, l, msg.New("200", "", "", "SERVER", []string{"great.test", "*", "3", "300", "great"}, true))

	child, ok := s.FindServer("child.test")
	require.True(t, ok)

	// every server in the branch routes through the direct child
	for _, name := range []string{"child.test", "grand.test", "great.test"} {
		r, ok := s.BestRouteTo(name)
		require.True(t, ok, name)
		assert.Same(t, child, r, name)
	}

	// the local server has no route
	r, ok := s.BestRouteTo("hub.test")
	require.True(t, ok)
	assert.Nil(t, r)

	// route == self iff parent == root
	assert.Same(t, child, child.Route())
	grand, _ := s.FindServer("grand.test")
	assert.Equal(t, 2, grand.Hops)
	assert.Same(t, child, grand.Route())
}

func TestOneToAllButSender(t *testing.T) {
	s := testServer(t)
	l1, fc1 := newTestLink(t, s, "a.test", "100")
	_, fc2 := newTestLink(t, s, "b.test", "200")

	s.oneToAllButSender(msg.New(s.sid, "", "", "PING", []string{s.sid}, false), l1)

	assert.NotContains(t, fc1.String(), "PING", "sender's branch is omitted")
	assert.Contains(t, fc2.String(), "PING")
}

func TestChannelBranchDedupe(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "a.test", "100")

	// two remote users behind the same branch
	sUID(s, l, uidLine("100", "100AAAAAA", 10, "r1"))
	sUID(s, l, uidLine("100", "100AAAAAB", 11, "r2"))
	sFJOIN(s, l, msg.New("100", "", "", "FJOIN", []string{"#a", "100", ",100AAAAAA ,100AAAAAB"}, true))

	branches := s.channelBranches("#a", 0, nil)
	assert.Len(t, branches, 1, "one line per branch no matter the member count")

	branches = s.channelBranches("#a", 0, l)
	assert.Empty(t, branches, "omitting the only branch leaves nothing")
}

func TestSubtreeLeavesLast(t *testing.T) {
	s := testServer(t)
	l, _ := newTestLink(t, s, "a.test", "100")
	sSERVER(s, l, msg.New("100", "", "", "SERVER", []string{"b.test", "*", "2", "200", "b"}, true))

	a, _ := s.FindSID("100")
	sub := a.Subtree()
	require.Len(t, sub, 2)
	assert.Equal(t, "100", sub[0].SID)
	assert.Equal(t, "200", sub[1].SID)
}
