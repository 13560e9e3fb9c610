package channel

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mitchr/braid/scan/wild"
	"github.com/mitchr/braid/user"
)

// ListEntry is one mask on a ban/except/invex list, with attribution.
type ListEntry struct {
	Mask  string
	SetBy string
	SetAt int64
}

type Channel struct {
	// includes the leading '#'; compared under the server casemap
	Name string
	// creation age; the collision tie-breaker
	TS int64

	Topic      string
	TopicSetBy string
	TopicSetAt int64

	Limit int // 0 = unlimited
	Key   string

	Invite     bool
	Moderated  bool
	Secret     bool
	Protected  bool // +t: topic restricted to ops
	NoExternal bool

	Bans    []ListEntry
	Excepts []ListEntry
	Invexes []ListEntry

	// folded nicks handed an INVITE; consumed on join
	Invited map[string]struct{}

	// key is the member's UID
	Members map[string]*Member

	// module-owned metadata, propagated with METADATA
	Ext map[string]string
}

func New(name string, ts int64) *Channel {
	return &Channel{
		Name:    name,
		TS:      ts,
		Invited: make(map[string]struct{}),
		Members: make(map[string]*Member),
		Ext:     make(map[string]string),
	}
}

func (c *Channel) String() string { return c.Name }

func (c *Channel) Len() int { return len(c.Members) }

func (c *Channel) GetMember(uid string) (*Member, bool) {
	m, ok := c.Members[uid]
	return m, ok
}

func (c *Channel) SetMember(m *Member) {
	c.Members[m.UID] = m
}

func (c *Channel) DeleteMember(uid string) {
	delete(c.Members, uid)
}

func (c *Channel) ForAllMembersExcept(except *user.User, f func(m *Member)) {
	for _, v := range c.Members {
		if v.User == except {
			continue
		}
		f(v)
	}
}

// ClearStatus strips every prefix bit from every member and gives back
// the removals, one (letter, uid) pair per stripped bit. The TS merge
// emits these as documenting FMODEs when this side loses.
func (c *Channel) ClearStatus() (letters []byte, uids []string) {
	for _, m := range c.Members {
		for _, v := range prefixOrder {
			if m.Prefix&v.mask != 0 {
				letters = append(letters, v.letter)
				uids = append(uids, m.UID)
			}
		}
		m.Prefix = 0
	}
	return
}

// Modes renders the channel's current simple and parametric modes for
// RPL_CHANNELMODEIS. The key value is never shared.
func (c *Channel) Modes() (modestr string, params []string) {
	modestr = "+"
	if c.Invite {
		modestr += "i"
	}
	if c.Key != "" {
		modestr += "k"
	}
	if c.Limit > 0 {
		modestr += "l"
		params = append(params, strconv.Itoa(c.Limit))
	}
	if c.Moderated {
		modestr += "m"
	}
	if c.NoExternal {
		modestr += "n"
	}
	if c.Secret {
		modestr += "s"
	}
	if c.Protected {
		modestr += "t"
	}
	return
}

var (
	ErrKeyMissing   = errors.New("bad channel key")
	ErrLimitReached = errors.New("channel is full")
	ErrNotInvited   = errors.New("invite only")
	ErrBanned       = errors.New("banned")
)

func matchesList(l []ListEntry, masks ...string) bool {
	for _, e := range l {
		for _, m := range masks {
			if wild.Match(strings.ToLower(e.Mask), strings.ToLower(m)) {
				return true
			}
		}
	}
	return false
}

// Admit checks the join gates in order: key, limit, invite (softened
// by the invex list and outstanding INVITEs), then ban minus except.
// It does not insert the member; the caller owns membership so that
// both sides of the user/channel index move together.
func (ch *Channel) Admit(u *user.User, key string, foldedNick string) error {
	if ch.Key != "" && ch.Key != key {
		return ErrKeyMissing
	}
	if ch.Limit > 0 && ch.Len() >= ch.Limit {
		return ErrLimitReached
	}

	if ch.Invite {
		if _, ok := ch.Invited[foldedNick]; ok {
			delete(ch.Invited, foldedNick)
			return nil
		}
		if matchesList(ch.Invexes, u.String(), u.Mask()) {
			return nil
		}
		return ErrNotInvited
	}

	if matchesList(ch.Bans, u.String(), u.Mask()) {
		if matchesList(ch.Excepts, u.String(), u.Mask()) {
			return nil
		}
		return ErrBanned
	}
	return nil
}

// IsBanQuieted reports whether a non-member user is currently banned;
// used to refuse external PRIVMSGs from banned users.
func (ch *Channel) IsBanQuieted(u *user.User) bool {
	return matchesList(ch.Bans, u.String(), u.Mask()) &&
		!matchesList(ch.Excepts, u.String(), u.Mask())
}

// writes to every local member; remote members are reached by the
// server's branch routing, not here
func (c *Channel) WriteToLocal(line string, except *user.User) {
	for _, v := range c.Members {
		if v.User == except || !v.IsLocal() {
			continue
		}
		v.Local.WriteString(line)
		v.Local.Flush()
	}
}
