package server

import (
	"fmt"
	"strings"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/scan/mode"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/user"
)

// The timestamp rules: when two sides of the network disagree about
// who owns a nick or what a channel looks like, the older TS wins.
// The younger side gives way, and both ends apply the same rule, so
// the network converges without a referee.

// sUID introduces a remote user:
//
//	:<sid> UID <uid> <ts> <nick> <host> <dhost> <ident> <ip> <signon> +<modes> :<gecos>
func sUID(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 10 {
		s.squitLink(l, "Malformed UID")
		return
	}
	uid, nick := m.Params[0], m.Params[2]
	ts := parseInt(m.Params[1])

	// two users under one UID is not a collision, it is a broken peer
	if _, dup := s.getUserByUID(uid); dup {
		s.squitLink(l, "UID "+uid+" already in use")
		return
	}

	if existing, ok := s.getUser(nick); ok {
		if !s.resolveNickCollision(existing, uid, ts, l) {
			return // remote copy killed; nothing to introduce
		}
	}

	u := user.New(uid)
	u.TS = ts
	u.Nick = nick
	u.Host = m.Params[3]
	u.DisplayedHost = m.Params[4]
	u.Ident = m.Params[5]
	u.IP = m.Params[6]
	u.Signon = parseInt(m.Params[7])
	u.Mode = client.ParseModeString(strings.TrimPrefix(m.Params[8], "+"))
	u.Gecos = m.Params[9]

	s.uids[uid] = u
	s.nicks[s.fold(nick)] = u
	s.metrics.setUsers(s.localUserCount(), len(s.uids))

	s.oneToAllButSender(m, l)
}

// resolveNickCollision applies the kill matrix for a remote user
// claiming an existing nick. Reports whether the remote copy
// survives. The local TS only ever moves by the local user dying, so
// the loser's TS never increases.
func (s *Server) resolveNickCollision(local *user.User, remoteUID string, remoteTS int64, l *Link) bool {
	const reason = "Nickname collision"

	switch {
	case local.TS < remoteTS:
		// we hold the older claim; the remote copy dies. The kill
		// goes back along the introducing link only.
		l.WriteMessage(msg.New(s.sid, "", "", "KILL", []string{remoteUID, reason}, true))
		s.snotice('k', "Nick collision on %s: killed remote %s", local.Nick, remoteUID)
		return false

	case local.TS > remoteTS:
		// the remote claim is older; our copy dies everywhere
		s.killUser(local, reason, nil)
		s.snotice('k', "Nick collision on %s: killed local copy", local.Nick)
		return true

	default:
		// identical age: both die
		l.WriteMessage(msg.New(s.sid, "", "", "KILL", []string{remoteUID, reason}, true))
		s.killUser(local, reason, nil)
		s.snotice('k', "Nick collision on %s: killed both", local.Nick)
		return false
	}
}

// killUser removes a user with a KILL broadcast so every server drops
// the same record.
func (s *Server) killUser(u *user.User, reason string, omit *Link) {
	s.oneToAllButSender(msg.New(s.sid, "", "", "KILL", []string{u.UID, reason}, true), omit)
	if u.IsLocal() {
		u.Local.WriteMessage(msg.New(s.name, "", "", "KILL", []string{u.Nick, reason}, true))
	}
	s.quitUserLocalOnly(u, reason)
}

// sNICK is a remote nick change: :<uid> NICK <newnick> <ts>
func sNICK(s *Server, l *Link, m *msg.Message) {
	u, ok := s.sourceUser(m)
	if !ok || len(m.Params) < 1 {
		return
	}
	nick := m.Params[0]
	ts := u.TS
	if len(m.Params) > 1 {
		ts = parseInt(m.Params[1])
	}

	if existing, clash := s.getUser(nick); clash && existing != u {
		if !s.resolveNickCollision(existing, u.UID, ts, l) {
			// the changer lost; we already sent the KILL back, so our
			// record of it goes too
			s.quitUserLocalOnly(u, "Nickname collision")
			return
		}
	}
	s.changeNick(u, nick, ts, l)
}

// sFJOIN merges a remote view of a channel:
//
//	:<sid> FJOIN <chan> <ts> :<prefixes,uid> <prefixes,uid> ...
func sFJOIN(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 3 {
		s.squitLink(l, "Malformed FJOIN")
		return
	}
	name := m.Params[0]
	remoteTS := parseInt(m.Params[1])

	ch, existed := s.getChannel(name)
	if !existed {
		ch = channel.New(name, remoteTS)
		s.setChannel(ch)
	}

	keepRemotePrefixes := true
	switch {
	case remoteTS < ch.TS:
		// we lose: adopt the older TS, strip every local status, and
		// tell the world what got stripped so mid-path servers need
		// not re-derive the rule
		ch.TS = remoteTS
		letters, uids := ch.ClearStatus()
		var local, wire []channel.Change
		for i := range letters {
			mem, _ := ch.GetMember(uids[i])
			nickParam := uids[i]
			if mem != nil {
				nickParam = mem.Nick
			}
			local = append(local, channel.Change{Char: letters[i], Add: false, Param: nickParam})
			wire = append(wire, channel.Change{Char: letters[i], Add: false, Param: uids[i]})
		}
		s.broadcastModeChange(ch, s.name, "", "", local)
		s.propagateFMODE(ch, s.sid, wire, l)

	case remoteTS > ch.TS:
		// we win: members still come aboard, stripped bare; the peer
		// applies the same table on its side
		keepRemotePrefixes = false
	}

	for _, entry := range strings.Fields(m.Params[2]) {
		i := strings.IndexByte(entry, ',')
		if i < 0 {
			continue
		}
		prefixes, uid := entry[:i], entry[i+1:]

		u, ok := s.getUserByUID(uid)
		if !ok {
			// likely a collision victim we already killed
			continue
		}

		var p channel.Prefix
		if keepRemotePrefixes {
			p = channel.PrefixFromLetters(prefixes)
		}

		if mem, already := ch.GetMember(uid); already {
			// equal-TS merge unions the prefix bits per member
			mem.Prefix |= p
			continue
		}
		s.addMember(ch, u, p)
		ch.WriteToLocal(msg.New(u.Nick, u.Ident, u.DisplayedHost, "JOIN", []string{ch.Name}, false).String(), u)

		// local clients see granted status as server MODE lines
		if p != 0 {
			var local []channel.Change
			for _, letter := range []byte(p.Letters()) {
				local = append(local, channel.Change{Char: letter, Add: true, Param: u.Nick})
			}
			s.broadcastModeChange(ch, s.name, "", "", local)
		}
	}

	// forward with our (possibly lowered) TS; losing prefixes do not
	// travel past us
	out := msg.New(m.Nick, "", "", "FJOIN",
		[]string{ch.Name, fmt.Sprintf("%d", ch.TS), m.Params[2]}, true)
	if !keepRemotePrefixes {
		out.Params[2] = stripPrefixes(m.Params[2])
	}
	s.oneToAllButSender(out, l)
}

func stripPrefixes(members string) string {
	fields := strings.Fields(members)
	for i, f := range fields {
		if j := strings.IndexByte(f, ','); j >= 0 {
			fields[i] = "," + f[j+1:]
		}
	}
	return strings.Join(fields, " ")
}

// sFMODE merges a remote mode change, for channels gated by TS:
//
//	:<src> FMODE <target> <ts> <modestring> [params...]
func sFMODE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 3 {
		s.squitLink(l, "Malformed FMODE")
		return
	}
	target := m.Params[0]

	if !strings.HasPrefix(target, "#") {
		// user mode change rides through un-gated
		if u, ok := s.getUserByUID(target); ok {
			for _, v := range mode.Parse([]byte(m.Params[2])) {
				u.Mode, _ = client.ApplyUserMode(u.Mode, v)
			}
			s.oneToAllButSender(m, l)
		}
		return
	}

	ch, ok := s.getChannel(target)
	if !ok {
		return
	}
	remoteTS := parseInt(m.Params[1])

	if remoteTS > ch.TS {
		// the sender is behind; bounce our authoritative state back
		// so it can self-correct
		s.bounceFMODE(l, ch, m)
		return
	}
	if remoteTS < ch.TS {
		// the whole change is honoured and we adopt the older TS
		ch.TS = remoteTS
	}

	modes := mode.Parse([]byte(m.Params[2]))
	channel.PopulateModeParams(modes, m.Params[3:])

	var local []channel.Change
	now := remoteTS
	for _, v := range modes {
		add := v.Type == mode.Add
		if p, isStatus := channel.StatusModeLetter(v.ModeChar); isStatus {
			if err := ch.ApplyStatus(v.Param, p, add); err != nil {
				continue
			}
			nickParam := v.Param
			if mem, ok := ch.GetMember(v.Param); ok {
				nickParam = mem.Nick
			}
			local = append(local, channel.Change{Char: v.ModeChar, Add: add, Param: nickParam})
			continue
		}
		if err := ch.ApplyMode(v, m.Nick, now, 0); err != nil {
			continue
		}
		c := channel.Change{Char: v.ModeChar, Add: add, Param: v.Param}
		if !add && !channel.Consumes(v.ModeChar, false) {
			c.Param = ""
		}
		local = append(local, c)
	}

	s.broadcastModeChange(ch, s.name, "", "", local)
	s.oneToAllButSender(m, l)
}

// bounceFMODE reverses a stale mode change back at its sender with
// our lower TS and our current values for the conflicting letters.
func (s *Server) bounceFMODE(l *Link, ch *channel.Channel, m *msg.Message) {
	modes := mode.Parse([]byte(m.Params[2]))
	channel.PopulateModeParams(modes, m.Params[3:])

	var reversed []channel.Change
	for _, v := range modes {
		add := v.Type == mode.Add
		if _, isStatus := channel.StatusModeLetter(v.ModeChar); isStatus {
			reversed = append(reversed, channel.Change{Char: v.ModeChar, Add: !add, Param: v.Param})
			continue
		}
		if isSet, param, ok := ch.ModeValue(v.ModeChar); ok {
			// answer with our current value, whatever they sent
			reversed = append(reversed, channel.Change{Char: v.ModeChar, Add: isSet, Param: param})
			continue
		}
		reversed = append(reversed, channel.Change{Char: v.ModeChar, Add: !add, Param: v.Param})
	}

	for _, line := range channel.Stack(reversed, s.conf.ModesPerLine) {
		parts := strings.SplitN(line, " ", 2)
		params := []string{ch.Name, fmt.Sprintf("%d", ch.TS), parts[0]}
		if len(parts) > 1 {
			params = append(params, strings.Split(parts[1], " ")...)
		}
		l.WriteMessage(msg.New(s.sid, "", "", "FMODE", params, false))
	}
}

// sFTOPIC applies a remote topic: :<src> FTOPIC <chan> <ts> <setter> :<topic>
func sFTOPIC(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 4 {
		return
	}
	ch, ok := s.getChannel(m.Params[0])
	if !ok {
		return
	}
	ts := parseInt(m.Params[1])
	// an older topic never overwrites a newer one
	if ch.Topic != "" && ts < ch.TopicSetAt {
		return
	}
	ch.Topic = m.Params[3]
	ch.TopicSetBy = m.Params[2]
	ch.TopicSetAt = ts

	ch.WriteToLocal(msg.New(m.Params[2], "", "", "TOPIC", []string{ch.Name, ch.Topic}, true).String(), nil)
	s.oneToAllButSender(m, l)
}
