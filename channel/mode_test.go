package channel

import (
	"testing"

	"github.com/mitchr/braid/scan/mode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySimpleAndParametric(t *testing.T) {
	ch := New("#go", 100)

	require.NoError(t, ch.ApplyMode(mode.Mode{ModeChar: 'i', Type: mode.Add}, "hub", 100, 0))
	assert.True(t, ch.Invite)

	require.NoError(t, ch.ApplyMode(mode.Mode{ModeChar: 'l', Type: mode.Add, Param: "25"}, "hub", 100, 0))
	assert.Equal(t, 25, ch.Limit)

	require.NoError(t, ch.ApplyMode(mode.Mode{ModeChar: 'k', Type: mode.Add, Param: "sekrit"}, "hub", 100, 0))
	assert.Equal(t, "sekrit", ch.Key)

	err := ch.ApplyMode(mode.Mode{ModeChar: 'k', Type: mode.Add, Param: "has space"}, "hub", 100, 0)
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, ch.ApplyMode(mode.Mode{ModeChar: 'i', Type: mode.Remove}, "hub", 100, 0))
	assert.False(t, ch.Invite)

	err = ch.ApplyMode(mode.Mode{ModeChar: 'z', Type: mode.Add}, "hub", 100, 0)
	assert.ErrorIs(t, err, ErrUnknownMode)

	err = ch.ApplyMode(mode.Mode{ModeChar: 'k', Type: mode.Add}, "hub", 100, 0)
	assert.ErrorIs(t, err, ErrNeedMoreParams)
}

func TestListModes(t *testing.T) {
	ch := New("#go", 100)

	set := func(mask string) error {
		return ch.ApplyMode(mode.Mode{ModeChar: 'b', Type: mode.Add, Param: mask}, "alice", 500, 2)
	}

	require.NoError(t, set("*!*@spam.example"))
	require.NoError(t, set("*!*@worse.example"))
	require.Len(t, ch.Bans, 2)
	assert.Equal(t, "alice", ch.Bans[0].SetBy)
	assert.Equal(t, int64(500), ch.Bans[0].SetAt)

	// duplicates are refused without error
	require.NoError(t, set("*!*@SPAM.example"))
	assert.Len(t, ch.Bans, 2)

	// bounded by the per-glob limit
	assert.ErrorIs(t, set("*!*@third.example"), ErrListFull)

	require.NoError(t, ch.ApplyMode(mode.Mode{ModeChar: 'b', Type: mode.Remove, Param: "*!*@spam.example"}, "alice", 501, 2))
	require.Len(t, ch.Bans, 1)
	assert.Equal(t, "*!*@worse.example", ch.Bans[0].Mask)
}

func TestMergeList(t *testing.T) {
	ch := New("#go", 100)
	ch.Bans = []ListEntry{{Mask: "*!*@a", SetBy: "x", SetAt: 1}}

	ch.MergeList('b', []ListEntry{
		{Mask: "*!*@A", SetBy: "y", SetAt: 2}, // dup, case-insensitive
		{Mask: "*!*@b", SetBy: "y", SetAt: 3},
	}, 0)

	require.Len(t, ch.Bans, 2)
	assert.Equal(t, "*!*@b", ch.Bans[1].Mask)
}

func TestPopulateModeParams(t *testing.T) {
	modes := mode.Parse([]byte("+okb"))
	PopulateModeParams(modes, []string{"aliceUID", "hunter2", "*!*@x"})

	assert.Equal(t, "aliceUID", modes[0].Param)
	assert.Equal(t, "hunter2", modes[1].Param)
	assert.Equal(t, "*!*@x", modes[2].Param)

	// -l takes no parameter
	modes = mode.Parse([]byte("-l+k"))
	PopulateModeParams(modes, []string{"newkey"})
	assert.Equal(t, "", modes[0].Param)
	assert.Equal(t, "newkey", modes[1].Param)
}

func TestStack(t *testing.T) {
	lines := Stack([]Change{
		{Char: 'o', Add: true, Param: "u1"},
		{Char: 'v', Add: true, Param: "u2"},
		{Char: 'i', Add: true},
		{Char: 'b', Add: false, Param: "*!*@x"},
	}, 4)
	require.Len(t, lines, 1)
	assert.Equal(t, "+ovi-b u1 u2 *!*@x", lines[0])

	// parameter-bearing changes roll over to a new line at the cap
	lines = Stack([]Change{
		{Char: 'b', Add: true, Param: "m1"},
		{Char: 'b', Add: true, Param: "m2"},
		{Char: 'b', Add: true, Param: "m3"},
	}, 2)
	require.Len(t, lines, 2)
	assert.Equal(t, "+bb m1 m2", lines[0])
	assert.Equal(t, "+b m3", lines[1])
}

func TestClearStatus(t *testing.T) {
	ch := New("#go", 100)
	u1 := testUser("042AAAAAA", "u1")
	u2 := testUser("042AAAAAB", "u2")
	ch.SetMember(&Member{User: u1, Prefix: Op})
	ch.SetMember(&Member{User: u2, Prefix: Voice | Halfop})

	letters, uids := ch.ClearStatus()
	assert.Len(t, letters, 3)
	assert.Len(t, uids, 3)
	for _, m := range ch.Members {
		assert.Zero(t, m.Prefix)
	}
}

func TestPrefixRanks(t *testing.T) {
	assert.Equal(t, "~@", (Founder | Op).Symbols())
	assert.Equal(t, "@", Op.HighestSymbol())
	assert.True(t, (&Member{Prefix: Op}).HasRankOf(Halfop))
	assert.False(t, (&Member{Prefix: Voice}).HasRankOf(Op))
	assert.Equal(t, Op|Voice, PrefixFromLetters("ov"))
}
