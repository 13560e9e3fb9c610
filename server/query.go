package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/scan/mode"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/scan/wild"
	"github.com/mitchr/braid/user"
)

func MODE(s *Server, u *user.User, m *msg.Message) {
	if len(m.Params) == 0 {
		s.reply(u, RPL_UMODEIS, u.Mode)
		return
	}

	target := m.Params[0]
	if !strings.HasPrefix(target, "#") {
		s.userMode(u, m)
		return
	}

	ch, ok := s.getChannel(target)
	if !ok {
		s.reply(u, ERR_NOSUCHCHANNEL, target)
		return
	}

	if len(m.Params) == 1 {
		modestr, params := ch.Modes()
		sep := ""
		if len(params) != 0 {
			sep = " "
		}
		s.reply(u, RPL_CHANNELMODEIS, ch, modestr, sep+strings.Join(params, " "))
		s.reply(u, RPL_CREATIONTIME, ch, ch.TS)
		return
	}

	modes := mode.Parse([]byte(m.Params[1]))
	channel.PopulateModeParams(modes, m.Params[2:])

	// bare list letters are listings, not changes
	var changes []mode.Mode
	for _, v := range modes {
		if channel.IsListMode(v.ModeChar) && v.Param == "" {
			s.sendModeList(u, ch, v.ModeChar)
			continue
		}
		changes = append(changes, v)
	}
	if len(changes) == 0 {
		return
	}

	self, in := ch.GetMember(u.UID)
	if !in || !self.HasRankOf(channel.Halfop) {
		s.reply(u, ERR_CHANOPRIVSNEEDED, ch)
		return
	}

	applied, wire := s.applyChannelModes(u, ch, changes)
	s.broadcastModeChange(ch, u.Nick, u.Ident, u.DisplayedHost, applied)
	s.propagateFMODE(ch, u.UID, wire, nil)
}

// applyChannelModes runs parsed changes against a channel, answering
// numerics for the ones that fail. It gives back the client-facing
// changes (nick parameters) and the wire-facing ones (UID parameters).
func (s *Server) applyChannelModes(u *user.User, ch *channel.Channel, modes []mode.Mode) (applied, wire []channel.Change) {
	now := time.Now().Unix()
	for _, v := range modes {
		add := v.Type == mode.Add

		if p, isStatus := channel.StatusModeLetter(v.ModeChar); isStatus {
			if v.Param == "" {
				s.reply(u, ERR_NEEDMOREPARAMS, "MODE")
				continue
			}
			target, ok := s.getUser(v.Param)
			if !ok {
				s.reply(u, ERR_NOSUCHNICK, v.Param)
				continue
			}
			if err := ch.ApplyStatus(target.UID, p, add); err != nil {
				s.reply(u, ERR_USERNOTINCHANNEL, target.Nick, ch)
				continue
			}
			applied = append(applied, channel.Change{Char: v.ModeChar, Add: add, Param: target.Nick})
			wire = append(wire, channel.Change{Char: v.ModeChar, Add: add, Param: target.UID})
			continue
		}

		err := ch.ApplyMode(v, u.Nick, now, s.conf.ListMax(ch.Name))
		switch {
		case err == nil:
			c := channel.Change{Char: v.ModeChar, Add: add, Param: v.Param}
			// -l carries no parameter on the wire; -k keeps its key
			if !add && !channel.Consumes(v.ModeChar, false) {
				c.Param = ""
			}
			applied = append(applied, c)
			wire = append(wire, c)
		case errors.Is(err, channel.ErrNeedMoreParams):
			s.reply(u, ERR_NEEDMOREPARAMS, "MODE")
		case errors.Is(err, channel.ErrUnknownMode):
			s.reply(u, ERR_UNKNOWNMODE, v.ModeChar, ch)
		case errors.Is(err, channel.ErrListFull):
			// full lists fail silently toward the wire; the local
			// setter sees nothing happen
		case errors.Is(err, channel.ErrInvalidKey):
			s.reply(u, ERR_UMODEUNKNOWNFLAG)
		}
	}
	return applied, wire
}

func (s *Server) broadcastModeChange(ch *channel.Channel, nick, ident, host string, applied []channel.Change) {
	for _, line := range channel.Stack(applied, s.conf.ModesPerLine) {
		parts := strings.SplitN(line, " ", 2)
		params := []string{ch.Name, parts[0]}
		if len(parts) > 1 {
			params = append(params, strings.Split(parts[1], " ")...)
		}
		s.sendToChannel(ch, msg.New(nick, ident, host, "MODE", params, false), nil, nil, 0)
	}
}

func (s *Server) propagateFMODE(ch *channel.Channel, source string, wire []channel.Change, omit *Link) {
	for _, line := range channel.Stack(wire, s.conf.ModesPerLine) {
		parts := strings.SplitN(line, " ", 2)
		params := []string{ch.Name, fmt.Sprintf("%d", ch.TS), parts[0]}
		if len(parts) > 1 {
			params = append(params, strings.Split(parts[1], " ")...)
		}
		s.oneToAllButSender(msg.New(source, "", "", "FMODE", params, false), omit)
	}
}

func (s *Server) sendModeList(u *user.User, ch *channel.Channel, letter byte) {
	for _, e := range ch.ListEntries(letter) {
		s.reply(u, RPL_BANLIST, ch, e.Mask, e.SetBy, e.SetAt)
	}
	s.reply(u, RPL_ENDOFBANLIST, ch)
}

func (s *Server) userMode(u *user.User, m *msg.Message) {
	target, ok := s.getUser(m.Params[0])
	if !ok {
		s.reply(u, ERR_NOSUCHNICK, m.Params[0])
		return
	}
	if target != u {
		s.reply(u, ERR_USERSDONTMATCH)
		return
	}
	if len(m.Params) == 1 {
		s.reply(u, RPL_UMODEIS, u.Mode)
		return
	}

	applied := ""
	for _, v := range mode.Parse([]byte(m.Params[1])) {
		next, ok := client.ApplyUserMode(u.Mode, v)
		if !ok {
			s.reply(u, ERR_UMODEUNKNOWNFLAG)
			continue
		}
		u.Mode = next
		applied += v.String()

		if v.ModeChar == 's' {
			if u.Mode.Is(client.ServerNotice) {
				if u.Snomask == "" {
					u.Snomask = defaultSnomask
				}
				s.reply(u, RPL_SNOMASK, u.Snomask)
			} else {
				u.Snomask = ""
			}
		}
	}
	if applied != "" {
		fmt.Fprintf(u.Local, ":%s MODE %s %s", s.name, u.Nick, applied)
		s.oneToMany(msg.New(u.UID, "", "", "FMODE", []string{u.UID, fmt.Sprintf("%d", u.TS), applied}, false))
	}
}

func NAMES(s *Server, u *user.User, m *msg.Message) {
	if len(m.Params) == 0 {
		s.reply(u, RPL_ENDOFNAMES, "*")
		return
	}

	for _, name := range strings.Split(m.Params[0], ",") {
		ch, ok := s.getChannel(name)
		if !ok {
			s.reply(u, RPL_ENDOFNAMES, name)
			continue
		}
		_, in := ch.GetMember(u.UID)
		if ch.Secret && !in {
			s.reply(u, RPL_ENDOFNAMES, name)
			continue
		}

		sym := "="
		if ch.Secret {
			sym = "@"
		}
		var names []string
		for _, mem := range ch.Members {
			if mem.User.Is(client.Invisible) && !in {
				continue
			}
			names = append(names, mem.Prefix.HighestSymbol()+mem.Nick)
		}
		sort.Strings(names)
		s.reply(u, RPL_NAMREPLY, sym, ch, strings.Join(names, " "))
		s.reply(u, RPL_ENDOFNAMES, name)
	}
}

func LIST(s *Server, u *user.User, m *msg.Message) {
	s.reply(u, RPL_LISTSTART)
	if len(m.Params) == 0 {
		for _, ch := range s.channels {
			if !ch.Secret {
				s.reply(u, RPL_LIST, ch, ch.Len(), ch.Topic)
			}
		}
	} else {
		for _, name := range strings.Split(m.Params[0], ",") {
			if ch, ok := s.getChannel(name); ok && !ch.Secret {
				s.reply(u, RPL_LIST, ch, ch.Len(), ch.Topic)
			}
		}
	}
	s.reply(u, RPL_LISTEND)
}

func MOTD(s *Server, u *user.User, m *msg.Message) {
	if len(s.conf.MOTD) == 0 {
		s.reply(u, ERR_NOMOTD)
		return
	}
	s.reply(u, RPL_MOTDSTART, s.name)
	for _, v := range s.conf.MOTD {
		s.reply(u, RPL_MOTD, v)
	}
	s.reply(u, RPL_ENDOFMOTD)
}

func LUSERS(s *Server, u *user.User, m *msg.Message) {
	invis, ops := 0, 0
	for _, v := range s.uids {
		if v.Is(client.Invisible) {
			invis++
		}
		if v.IsOper() {
			ops++
		}
	}
	servers := len(s.serversBySID)
	local := s.localUserCount()

	s.reply(u, RPL_LUSERCLIENT, len(s.uids)-invis, invis, servers)
	s.reply(u, RPL_LUSEROP, ops)
	s.reply(u, RPL_LUSERUNKNOWN, s.unknowns)
	s.reply(u, RPL_LUSERCHANNELS, len(s.channels))
	s.reply(u, RPL_LUSERME, local, len(s.root.Children))
	s.reply(u, RPL_LOCALUSERS, local)
	s.reply(u, RPL_GLOBALUSERS, len(s.uids))
}

func TIME(s *Server, u *user.User, m *msg.Message) {
	s.reply(u, RPL_TIME, s.name, time.Now().Format(time.UnixDate))
}

func VERSION(s *Server, u *user.User, m *msg.Message) {
	s.reply(u, RPL_VERSION, Version, s.name, "braid IRC daemon")
}

func ADMIN(s *Server, u *user.User, m *msg.Message) {
	s.reply(u, RPL_ADMINME, s.name)
	s.reply(u, RPL_ADMINLOC1, s.conf.Server.Description)
	s.reply(u, RPL_ADMINEMAIL, s.conf.Network)
}

func STATS(s *Server, u *user.User, m *msg.Message) {
	switch m.Params[0] {
	case "u":
		s.reply(u, RPL_STATSUPTIME, time.Since(s.created).Round(time.Second))
	case "o":
		for _, o := range s.conf.Opers {
			s.reply(u, RPL_STATSOLINE, "*", o.Name, o.Type)
		}
	case "k", "g", "z", "q":
		s.statsXLines(u, m.Params[0])
	case "m":
		for _, line := range s.metrics.commandCounts() {
			s.reply(u, RPL_INFO, line)
		}
	}
	fmt.Fprintf(u.Local, ":%s 219 %s %s :End of /STATS report", s.name, u.Nick, m.Params[0])
}

func LINKS(s *Server, u *user.User, m *msg.Message) {
	for _, n := range s.root.Subtree() {
		if n.Hidden && !u.IsOper() {
			continue
		}
		parent := s.name
		if n.Parent != nil {
			parent = n.Parent.Name
		}
		s.reply(u, RPL_LINKS, n.Name, parent, n.Hops, n.Desc)
	}
	s.reply(u, RPL_ENDOFLINKS)
}

func MAP(s *Server, u *user.User, m *msg.Message) {
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		if n.Hidden && !u.IsOper() {
			return
		}
		indent := strings.Repeat("  ", depth)
		s.reply(u, RPL_MAP, fmt.Sprintf("%s%s [%s] (%d users)", indent, n.Name, n.SID, s.userCountOn(n)))
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(s.root, 0)
	s.reply(u, RPL_MAPEND)
}

func (s *Server) userCountOn(n *Node) int {
	count := 0
	for _, v := range s.uids {
		if v.SID() == n.SID {
			count++
		}
	}
	return count
}

func WHO(s *Server, u *user.User, m *msg.Message) {
	mask := "*"
	if len(m.Params) > 0 && m.Params[0] != "0" {
		mask = s.fold(m.Params[0])
	}

	if ch, ok := s.getChannel(mask); ok {
		for _, mem := range ch.Members {
			s.reply(u, RPL_WHOREPLY, ch, mem.Ident, mem.DisplayedHost, s.serverOf(mem.User), mem.Nick,
				whoFlagsForMember(mem), s.hopsTo(mem.User), mem.Gecos)
		}
		s.reply(u, RPL_ENDOFWHO, mask)
		return
	}

	onlyOps := len(m.Params) > 1 && m.Params[1] == "o"
	for _, v := range s.uids {
		if onlyOps && !v.IsOper() {
			continue
		}
		if v.Is(client.Invisible) && !s.haveChanInCommon(u, v) && v != u {
			continue
		}
		if !wild.Match(mask, s.fold(v.Nick)) {
			continue
		}
		s.reply(u, RPL_WHOREPLY, "*", v.Ident, v.DisplayedHost, s.serverOf(v), v.Nick,
			whoFlagsForUser(v), s.hopsTo(v), v.Gecos)
	}
	s.reply(u, RPL_ENDOFWHO, mask)
}

func (s *Server) hopsTo(v *user.User) int {
	if n, ok := s.FindSID(v.SID()); ok {
		return n.Hops
	}
	return 0
}

func whoFlagsForUser(v *user.User) string {
	flags := "H"
	if v.Is(client.Away) {
		flags = "G"
	}
	if v.IsOper() {
		flags += "*"
	}
	return flags
}

func whoFlagsForMember(m *channel.Member) string {
	return whoFlagsForUser(m.User) + m.Prefix.HighestSymbol()
}

func (s *Server) haveChanInCommon(a, b *user.User) bool {
	for name := range a.Channels {
		if _, ok := b.Channels[name]; ok {
			return true
		}
	}
	return false
}

func (s *Server) serverOf(v *user.User) string {
	if n, ok := s.FindSID(v.SID()); ok {
		return n.Name
	}
	return s.name
}

func WHOIS(s *Server, u *user.User, m *msg.Message) {
	if len(m.Params) < 1 {
		return
	}

	for _, mask := range strings.Split(s.fold(m.Params[0]), ",") {
		for _, v := range s.uids {
			if !wild.Match(mask, s.fold(v.Nick)) {
				continue
			}
			s.reply(u, RPL_WHOISUSER, v.Nick, v.Ident, v.DisplayedHost, v.Gecos)
			s.reply(u, RPL_WHOISSERVER, v.Nick, s.serverOf(v), s.conf.Server.Description)
			if v.IsOper() {
				s.reply(u, RPL_WHOISOPERATOR, v.Nick, v.OperType)
			}
			if v.IsLocal() {
				s.reply(u, RPL_WHOISIDLE, v.Nick, int64(time.Since(v.Local.Idle).Seconds()), v.Signon)
			}

			var chans []string
			for name := range v.Channels {
				ch, ok := s.getChannel(name)
				if !ok {
					continue
				}
				_, senderIn := ch.GetMember(u.UID)
				if (ch.Secret || v.Is(client.Invisible)) && !senderIn {
					continue
				}
				mem, _ := ch.GetMember(v.UID)
				chans = append(chans, mem.Prefix.HighestSymbol()+ch.Name)
			}
			if len(chans) > 0 {
				sort.Strings(chans)
				s.reply(u, RPL_WHOISCHANNELS, v.Nick, strings.Join(chans, " "))
			}
		}
	}
	s.reply(u, RPL_ENDOFWHOIS, m.Params[0])
}

func WHOWAS(s *Server, u *user.User, m *msg.Message) {
	for _, nick := range strings.Split(m.Params[0], ",") {
		entries := s.whowas.find(s.fold(nick), s.fold)
		if len(entries) == 0 {
			s.reply(u, ERR_WASNOSUCHNICK, nick)
			continue
		}
		for _, e := range entries {
			s.reply(u, RPL_WHOWASUSER, e.nick, e.ident, e.host, e.gecos)
		}
	}
	s.reply(u, RPL_ENDOFWHOWAS, m.Params[0])
}

func USERHOST(s *Server, u *user.User, m *msg.Message) {
	var out []string
	for i, nick := range m.Params {
		if i == 5 {
			break
		}
		v, ok := s.getUser(nick)
		if !ok {
			continue
		}
		entry := v.Nick
		if v.IsOper() {
			entry += "*"
		}
		entry += "="
		if v.Is(client.Away) {
			entry += "-"
		} else {
			entry += "+"
		}
		entry += v.Ident + "@" + v.DisplayedHost
		out = append(out, entry)
	}
	s.reply(u, RPL_USERHOST, strings.Join(out, " "))
}

func ISON(s *Server, u *user.User, m *msg.Message) {
	var on []string
	for _, nick := range m.Params {
		if v, ok := s.getUser(nick); ok {
			on = append(on, v.Nick)
		}
	}
	s.reply(u, RPL_ISON, strings.Join(on, " "))
}

func (s *Server) isupportTokens() []string {
	supported := []string{
		"NETWORK=" + s.conf.Network,
		"CASEMAPPING=" + s.conf.CaseMapping,
		"CHANTYPES=#",
		"CHANMODES=beI,k,l,imnst",
		"PREFIX=(qaohv)~&@%+",
		"STATUSMSG=@+",
		fmt.Sprintf("MODES=%d", s.conf.ModesPerLine),
		"NICKLEN=30",
		"CHANNELLEN=64",
		"TOPICLEN=307",
		"KICKLEN=255",
		"AWAYLEN=200",
	}

	// keep each 005 under a conservative width
	var lines []string
	line := supported[0]
	for _, tok := range supported[1:] {
		if len(line)+len(tok)+1 > 200 {
			lines = append(lines, line)
			line = tok
			continue
		}
		line += " " + tok
	}
	return append(lines, line)
}
