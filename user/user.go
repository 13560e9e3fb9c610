// Package user holds the network-wide user record. A user may live on
// this server (Local is its connection) or anywhere else in the tree
// (Local is nil and traffic to it is routed by SID prefix).
package user

import (
	"fmt"

	"github.com/mitchr/braid/client"
)

type User struct {
	// never reused; first three characters are the introducing
	// server's SID
	UID  string
	Nick string
	// the moment the nick was assumed; collision tie-breaker
	TS int64

	Ident         string
	Host          string
	DisplayedHost string
	Gecos         string
	IP            string
	Signon        int64

	Mode client.Mode
	// letters this oper has subscribed to, empty for non-opers
	Snomask  string
	OperType string
	AwayMsg  string

	// connection for local users, nil for remote ones
	Local *client.Client

	// names of channels this user belongs to; the member map on the
	// channel side is the authority, this is the back-index
	Channels map[string]struct{}

	// module-owned metadata, propagated with METADATA
	Ext map[string]string
}

func New(uid string) *User {
	return &User{
		UID:      uid,
		Channels: make(map[string]struct{}),
		Ext:      make(map[string]string),
	}
}

func (u *User) SID() string {
	if len(u.UID) < 3 {
		return ""
	}
	return u.UID[:3]
}

func (u *User) IsLocal() bool { return u.Local != nil }

func (u *User) Is(m client.Mode) bool { return u.Mode.Is(m) }

func (u *User) IsOper() bool { return u.Is(client.Op) || u.Is(client.LocalOp) }

// String is the nick!user@host prefix seen by clients.
func (u *User) String() string {
	return fmt.Sprintf("%s!%s@%s", u.Nick, u.Ident, u.DisplayedHost)
}

// Mask is what ban masks and x-lines match against.
func (u *User) Mask() string {
	return fmt.Sprintf("%s!%s@%s", u.Nick, u.Ident, u.Host)
}

func (u *User) IdentHost() string {
	return fmt.Sprintf("%s@%s", u.Ident, u.Host)
}
