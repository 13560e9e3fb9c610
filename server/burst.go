package server

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/user"
)

// uidLineFor renders a user introduction:
//
//	:<sid> UID <uid> <ts> <nick> <host> <dhost> <ident> <ip> <signon> +<modes> :<gecos>
func (s *Server) uidLineFor(u *user.User) *msg.Message {
	return msg.New(u.SID(), "", "", "UID", []string{
		u.UID,
		fmt.Sprintf("%d", u.TS),
		u.Nick,
		u.Host,
		u.DisplayedHost,
		u.Ident,
		u.IP,
		fmt.Sprintf("%d", u.Signon),
		"+" + u.Mode.String(),
		u.Gecos,
	}, true)
}

// fjoinLinesFor encodes a channel's membership, split across lines
// when the member list would overrun the wire limit.
func (s *Server) fjoinLinesFor(ch *channel.Channel) []*msg.Message {
	members := make([]string, 0, len(ch.Members))
	for _, m := range ch.Members {
		members = append(members, m.Prefix.Letters()+","+m.UID)
	}
	// determinism helps the tests and costs nothing real
	sort.Strings(members)

	var out []*msg.Message
	const perLine = 20
	for len(members) > 0 {
		n := len(members)
		if n > perLine {
			n = perLine
		}
		out = append(out, msg.New(s.sid, "", "", "FJOIN",
			[]string{ch.Name, fmt.Sprintf("%d", ch.TS), strings.Join(members[:n], " ")}, true))
		members = members[n:]
	}
	return out
}

// sendBurst replays everything we know: servers, users, channels with
// their modes and lists, topics, metadata, bracketed by BURST and
// ENDBURST.
func (l *Link) sendBurst() {
	s := l.s
	now := time.Now().Unix()

	l.WriteMessage(msg.New(s.sid, "", "", "BURST", []string{fmt.Sprintf("%d", now)}, false))
	l.WriteMessage(msg.New(s.sid, "", "", "VERSION", []string{Version}, true))

	// every server but ourselves and the peer, parents before
	// children so the receiving side can hang each node as it arrives
	for _, n := range s.root.Subtree() {
		if n == s.root || n == l.node {
			continue
		}
		parent := n.Parent
		l.WriteMessage(msg.New(parent.SID, "", "", "SERVER",
			[]string{n.Name, "*", fmt.Sprintf("%d", n.Hops), n.SID, n.Desc}, true))
		if n.Version != "" {
			l.WriteMessage(msg.New(n.SID, "", "", "VERSION", []string{n.Version}, true))
		}
	}

	for _, u := range s.uids {
		l.WriteMessage(s.uidLineFor(u))
		if u.OperType != "" {
			l.WriteMessage(msg.New(u.UID, "", "", "OPERTYPE", []string{u.OperType}, false))
		}
		if u.AwayMsg != "" {
			l.WriteMessage(msg.New(u.UID, "", "", "AWAY", []string{u.AwayMsg}, true))
		}
		for k, v := range u.Ext {
			l.WriteMessage(msg.New(s.sid, "", "", "METADATA", []string{u.UID, k, v}, true))
		}
	}

	for _, ch := range s.channels {
		for _, fj := range s.fjoinLinesFor(ch) {
			l.WriteMessage(fj)
		}

		// simple and parametric modes in one FMODE; the key does ride
		// the wire here, unlike in client listings
		modestr, params := burstModes(ch)
		if modestr != "+" {
			fparams := append([]string{ch.Name, fmt.Sprintf("%d", ch.TS), modestr}, params...)
			l.WriteMessage(msg.New(s.sid, "", "", "FMODE", fparams, false))
		}

		for _, letter := range []byte{'b', 'e', 'I'} {
			var changes []channel.Change
			for _, e := range ch.ListEntries(letter) {
				changes = append(changes, channel.Change{Char: letter, Add: true, Param: e.Mask})
			}
			for _, line := range channel.Stack(changes, s.conf.ModesPerLine) {
				parts := strings.SplitN(line, " ", 2)
				fparams := []string{ch.Name, fmt.Sprintf("%d", ch.TS), parts[0]}
				if len(parts) > 1 {
					fparams = append(fparams, strings.Split(parts[1], " ")...)
				}
				l.WriteMessage(msg.New(s.sid, "", "", "FMODE", fparams, false))
			}
		}

		if ch.Topic != "" {
			l.WriteMessage(msg.New(s.sid, "", "", "FTOPIC",
				[]string{ch.Name, fmt.Sprintf("%d", ch.TopicSetAt), ch.TopicSetBy, ch.Topic}, true))
		}
		for k, v := range ch.Ext {
			l.WriteMessage(msg.New(s.sid, "", "", "METADATA", []string{ch.Name, k, v}, true))
		}
	}

	l.WriteMessage(msg.New(s.sid, "", "", "ENDBURST", nil, false))
}

// burstModes renders channel modes with parameters in letter order,
// so the receiver's positional pull lines up.
func burstModes(ch *channel.Channel) (string, []string) {
	modestr := "+"
	var params []string
	if ch.Invite {
		modestr += "i"
	}
	if ch.Key != "" {
		modestr += "k"
		params = append(params, ch.Key)
	}
	if ch.Limit > 0 {
		modestr += "l"
		params = append(params, fmt.Sprintf("%d", ch.Limit))
	}
	if ch.Moderated {
		modestr += "m"
	}
	if ch.NoExternal {
		modestr += "n"
	}
	if ch.Secret {
		modestr += "s"
	}
	if ch.Protected {
		modestr += "t"
	}
	return modestr, params
}
