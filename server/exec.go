package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/conf"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/user"
	"golang.org/x/crypto/bcrypt"
)

type executor func(*Server, *user.User, *msg.Message)

type cmdFlag uint8

const (
	// runnable before registration completes
	preReg cmdFlag = 1 << iota
	operOnly
)

type command struct {
	handler   executor
	minParams int
	flags     cmdFlag
}

var commands = map[string]command{
	// registration
	"PASS": {PASS, 1, preReg},
	"NICK": {NICK, 0, preReg},
	"USER": {USER, 4, preReg},
	"OPER": {OPER, 2, 0},
	"QUIT": {QUIT, 0, preReg},

	// channel operations
	"JOIN":   {JOIN, 1, 0},
	"PART":   {PART, 1, 0},
	"TOPIC":  {TOPIC, 1, 0},
	"NAMES":  {NAMES, 0, 0},
	"LIST":   {LIST, 0, 0},
	"INVITE": {INVITE, 2, 0},
	"KICK":   {KICK, 2, 0},
	"MODE":   {MODE, 0, 0},

	// server queries
	"MOTD":    {MOTD, 0, 0},
	"LUSERS":  {LUSERS, 0, 0},
	"TIME":    {TIME, 0, 0},
	"VERSION": {VERSION, 0, 0},
	"ADMIN":   {ADMIN, 0, 0},
	"STATS":   {STATS, 1, 0},
	"LINKS":   {LINKS, 0, 0},
	"MAP":     {MAP, 0, 0},

	// user queries
	"WHO":      {WHO, 0, 0},
	"WHOIS":    {WHOIS, 0, 0},
	"WHOWAS":   {WHOWAS, 1, 0},
	"USERHOST": {USERHOST, 1, 0},
	"ISON":     {ISON, 1, 0},

	// communication
	"PRIVMSG": {PRIVMSG, 0, 0},
	"NOTICE":  {NOTICE, 0, 0},
	"WALLOPS": {WALLOPS, 1, operOnly},
	"AWAY":    {AWAY, 0, 0},

	// miscellaneous
	"PING":    {PING, 0, preReg},
	"PONG":    {PONG, 0, preReg},
	"REHASH":  {REHASH, 0, operOnly},
	"KILL":    {KILL, 2, operOnly},
	"CONNECT": {CONNECT, 1, operOnly},
	"SQUIT":   {SQUIT, 2, operOnly},
	"SUMMON":  {SUMMON, 0, 0},
	"USERS":   {USERS, 0, 0},
}

// A PreCommandHook may suppress a command by returning false; hooks
// run in registration order.
type PreCommandHook func(s *Server, u *user.User, m *msg.Message) bool

type PostCommandHook func(s *Server, u *user.User, m *msg.Message)

func (s *Server) RegisterPreCommandHook(h PreCommandHook)   { s.preHooks = append(s.preHooks, h) }
func (s *Server) RegisterPostCommandHook(h PostCommandHook) { s.postHooks = append(s.postHooks, h) }

func (s *Server) executeMessage(m *msg.Message, u *user.User) {
	c := u.Local
	defer c.Flush()

	s.metrics.countLine("client")
	s.metrics.countCommand(m.Command)

	cmd, ok := commands[m.Command]
	if !ok {
		s.reply(u, ERR_UNKNOWNCOMMAND, m.Command)
		return
	}
	if s.conf.CommandDisabled(m.Command) {
		s.reply(u, ERR_UNKNOWNCOMMAND, m.Command)
		return
	}
	if c.State != client.StateAll && cmd.flags&preReg == 0 {
		s.reply(u, ERR_NOTREGISTERED)
		return
	}
	if cmd.flags&operOnly != 0 && !u.IsOper() {
		s.reply(u, ERR_NOPRIVILEGES)
		return
	}
	if len(m.Params) < cmd.minParams {
		s.reply(u, ERR_NEEDMOREPARAMS, m.Command)
		return
	}

	// the hook chain runs over a snapshot so a hook may deregister
	// itself mid-fire
	for _, h := range append([]PreCommandHook{}, s.preHooks...) {
		if !h(s, u, m) {
			return
		}
	}

	c.Idle = time.Now()
	cmd.handler(s, u, m)

	for _, h := range append([]PostCommandHook{}, s.postHooks...) {
		h(s, u, m)
	}
}

// loopCall expands a comma-list in params[idx], re-invoking h once per
// element. Reports true when it expanded, so the outer call returns.
func (s *Server) loopCall(h executor, u *user.User, m *msg.Message, idx int) bool {
	if idx >= len(m.Params) || !strings.Contains(m.Params[idx], ",") {
		return false
	}
	for _, v := range strings.Split(m.Params[idx], ",") {
		if v == "" {
			continue
		}
		dup := *m
		dup.Params = append([]string{}, m.Params...)
		dup.Params[idx] = v
		h(s, u, &dup)
	}
	return true
}

func PASS(s *Server, u *user.User, m *msg.Message) {
	if u.Local.State == client.StateAll {
		s.reply(u, ERR_ALREADYREGISTRED)
		return
	}
	u.Local.PassAttempt = m.Params[0]
}

func nickIsValid(nick string) bool {
	if nick == "" || len(nick) > 30 {
		return false
	}
	// cannot begin with a digit, '-', or a channel/prefix sigil
	first := nick[0]
	if (first >= '0' && first <= '9') || strings.IndexByte("-#&~@%+:", first) != -1 {
		return false
	}
	return !strings.ContainsAny(nick, " ,*?!@.")
}

func NICK(s *Server, u *user.User, m *msg.Message) {
	if len(m.Params) < 1 {
		s.reply(u, ERR_NONICKNAMEGIVEN)
		return
	}
	nick := m.Params[0]
	if !nickIsValid(nick) {
		s.reply(u, ERR_ERRONEUSNICKNAME, nick)
		return
	}

	if other, ok := s.getUser(nick); ok && other != u {
		s.reply(u, ERR_NICKNAMEINUSE, nick)
		return
	}

	c := u.Local
	if c.State == client.StateAll {
		s.changeNick(u, nick, time.Now().Unix(), nil)
		return
	}

	c.Nick = nick
	if c.State == client.StateUser {
		s.endRegistration(u)
	} else {
		c.State = client.StateNick
	}
}

// changeNick rehashes the user under its new name, tells every
// interested local client exactly once, and propagates. Used by both
// the client command and the s2s NICK verb.
func (s *Server) changeNick(u *user.User, nick string, ts int64, omit *Link) {
	line := msg.New(u.Nick, u.Ident, u.DisplayedHost, "NICK", []string{nick}, true).String()

	delete(s.nicks, s.fold(u.Nick))
	u.Nick = nick
	u.TS = ts
	s.nicks[s.fold(nick)] = u

	informed := make(map[string]struct{})
	if u.IsLocal() {
		u.Local.Nick = nick
		u.Local.WriteString(line)
		u.Local.Flush()
		informed[u.UID] = struct{}{}
	}
	for name := range u.Channels {
		ch, ok := s.getChannel(name)
		if !ok {
			continue
		}
		for _, mem := range ch.Members {
			if !mem.IsLocal() {
				continue
			}
			if _, dup := informed[mem.UID]; dup {
				continue
			}
			informed[mem.UID] = struct{}{}
			mem.Local.WriteString(line)
			mem.Local.Flush()
		}
	}

	s.oneToAllButSender(msg.New(u.UID, "", "", "NICK", []string{nick, fmt.Sprintf("%d", ts)}, false), omit)

	// a nick change may walk into a Q-line
	if u.IsLocal() {
		s.applyXLines(u)
	}
}

func USER(s *Server, u *user.User, m *msg.Message) {
	c := u.Local
	if c.State == client.StateAll {
		s.reply(u, ERR_ALREADYREGISTRED)
		return
	}

	c.Ident = m.Params[0]
	c.Realname = m.Params[3]

	if c.State == client.StateNick {
		s.endRegistration(u)
	} else {
		c.State = client.StateUser
	}
}

func (s *Server) endRegistration(u *user.User) {
	c := u.Local
	if c.Nick == "" || c.Ident == "" {
		return
	}

	if s.conf.Password != "" {
		if bcrypt.CompareHashAndPassword([]byte(s.conf.Password), []byte(c.PassAttempt)) != nil {
			s.reply(u, ERR_PASSWDMISMATCH)
			s.errorOut(c, "Closing link: "+s.name+" (Bad Password)")
			return
		}
	}

	now := time.Now().Unix()
	c.State = client.StateAll
	u.Nick = c.Nick
	u.Ident = c.Ident
	u.Gecos = c.Realname
	u.TS = now
	u.Signon = now

	s.nicks[s.fold(u.Nick)] = u
	s.uids[u.UID] = u
	s.unknowns--
	if n := s.localUserCount(); n > s.maxSeen {
		s.maxSeen = n
	}
	s.metrics.setUsers(s.localUserCount(), len(s.uids))

	// a fresh registration may match a G/K/Q-line
	if s.applyXLines(u) {
		return
	}

	s.reply(u, RPL_WELCOME, s.conf.Network, u)
	s.reply(u, RPL_YOURHOST, s.name, Version)
	s.reply(u, RPL_CREATED, s.created.Format(time.ANSIC))
	s.reply(u, RPL_MYINFO, s.name, Version, "iowsx", "beIiklmnst")
	for _, sup := range s.isupportTokens() {
		s.reply(u, RPL_ISUPPORT, sup)
	}

	LUSERS(s, u, nil)
	MOTD(s, u, nil)

	// the rest of the network hears about this user now
	s.oneToMany(s.uidLineFor(u))
	s.snotice('c', "Client connecting: %s (%s) [%s]", u.Nick, u.IdentHost(), u.IP)
}

// errorOut closes an unregistered or rejected connection with an
// ERROR line.
func (s *Server) errorOut(c *client.Client, text string) {
	s.loop.Cull(c, func() {
		fmt.Fprintf(c, "ERROR :%s", text)
		c.Flush()
		c.Close()
		if c.State != client.StateAll {
			s.unknowns--
		}
	})
}

func OPER(s *Server, u *user.User, m *msg.Message) {
	name, pass := m.Params[0], m.Params[1]

	o, ok := s.conf.FindOper(name)
	if !ok {
		s.reply(u, ERR_NOOPERHOST)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(o.Pass), []byte(pass)) != nil {
		s.reply(u, ERR_PASSWDMISMATCH)
		return
	}

	u.Mode |= client.Op | client.ServerNotice
	u.OperType = o.Type
	u.Snomask = defaultSnomask

	s.reply(u, RPL_YOUREOPER)
	fmt.Fprintf(u.Local, ":%s MODE %s +os", s.name, u.Nick)
	s.oneToMany(msg.New(u.UID, "", "", "OPERTYPE", []string{o.Type}, false))
	s.snotice('o', "%s (%s) is now an IRC operator of type %s", u.Nick, u.IdentHost(), o.Type)
}

func QUIT(s *Server, u *user.User, m *msg.Message) {
	reason := "Client quit"
	if len(m.Params) > 0 {
		reason = "Quit: " + m.Params[0]
	}
	if u.Local.State != client.StateAll {
		s.teardownUnknown(u, reason)
		return
	}
	s.quitUser(u, reason, nil)
}

func JOIN(s *Server, u *user.User, m *msg.Message) {
	// "JOIN 0" parts every channel
	if m.Params[0] == "0" {
		for name := range u.Channels {
			PART(s, u, msg.New("", "", "", "PART", []string{name}, false))
		}
		return
	}
	if s.loopCall(JOIN, u, m, 0) {
		return
	}

	name := m.Params[0]
	var key string
	if len(m.Params) >= 2 {
		key = m.Params[1]
	}

	if len(name) < 2 || name[0] != '#' || len(name) > 64 || strings.ContainsAny(name[1:], " ,\x07") {
		s.reply(u, ERR_NOSUCHCHANNEL, name)
		return
	}

	if ch, ok := s.getChannel(name); ok {
		if _, in := ch.GetMember(u.UID); in {
			return
		}
		if err := ch.Admit(u, key, s.fold(u.Nick)); err != nil {
			switch err {
			case channel.ErrKeyMissing:
				s.reply(u, ERR_BADCHANNELKEY, ch)
			case channel.ErrLimitReached:
				s.reply(u, ERR_CHANNELISFULL, ch)
			case channel.ErrNotInvited:
				s.reply(u, ERR_INVITEONLYCHAN, ch)
			case channel.ErrBanned:
				s.reply(u, ERR_BANNEDFROMCHAN, ch)
			}
			return
		}
		s.addMember(ch, u, 0)
		s.sendToChannel(ch, msg.New(u.Nick, u.Ident, u.DisplayedHost, "JOIN", []string{ch.Name}, false), nil, nil, 0)
		s.oneToMany(msg.New(s.sid, "", "", "FJOIN",
			[]string{ch.Name, fmt.Sprintf("%d", ch.TS), "," + u.UID}, true))
		if ch.Topic != "" {
			s.sendTopic(u, ch)
		}
		NAMES(s, u, msg.New("", "", "", "NAMES", []string{ch.Name}, false))
		return
	}

	// brand-new channel; the creator walks in with ops, and with the
	// founder bit too when the policy is on
	ch := channel.New(name, time.Now().Unix())
	prefix := channel.Op
	if s.conf.FounderOnCreate {
		prefix |= channel.Founder
	}
	s.setChannel(ch)
	s.addMember(ch, u, prefix)

	fmt.Fprintf(u.Local, ":%s JOIN %s", u, ch.Name)
	s.oneToMany(msg.New(s.sid, "", "", "FJOIN",
		[]string{ch.Name, fmt.Sprintf("%d", ch.TS), prefix.Letters() + "," + u.UID}, true))
	NAMES(s, u, msg.New("", "", "", "NAMES", []string{ch.Name}, false))
}

func PART(s *Server, u *user.User, m *msg.Message) {
	if s.loopCall(PART, u, m, 0) {
		return
	}

	ch, ok := s.getChannel(m.Params[0])
	if !ok {
		s.reply(u, ERR_NOSUCHCHANNEL, m.Params[0])
		return
	}
	if _, in := ch.GetMember(u.UID); !in {
		s.reply(u, ERR_NOTONCHANNEL, ch)
		return
	}

	params := []string{ch.Name}
	trailing := false
	if len(m.Params) > 1 {
		params = append(params, m.Params[1])
		trailing = true
	}
	s.sendToChannel(ch, msg.New(u.Nick, u.Ident, u.DisplayedHost, "PART", params, trailing), nil, nil, 0)

	s.removeMember(ch, u)

	out := msg.New(u.UID, "", "", "PART", params, trailing)
	s.oneToMany(out)
}

func TOPIC(s *Server, u *user.User, m *msg.Message) {
	ch, ok := s.getChannel(m.Params[0])
	if !ok {
		s.reply(u, ERR_NOSUCHCHANNEL, m.Params[0])
		return
	}
	mem, in := ch.GetMember(u.UID)
	if !in {
		s.reply(u, ERR_NOTONCHANNEL, ch)
		return
	}

	if len(m.Params) < 2 {
		s.sendTopic(u, ch)
		return
	}

	if ch.Protected && !mem.HasRankOf(channel.Halfop) {
		s.reply(u, ERR_CHANOPRIVSNEEDED, ch)
		return
	}

	ch.Topic = m.Params[1]
	ch.TopicSetBy = u.Nick
	ch.TopicSetAt = time.Now().Unix()

	s.sendToChannel(ch, msg.New(u.Nick, u.Ident, u.DisplayedHost, "TOPIC", []string{ch.Name, ch.Topic}, true), nil, nil, 0)
	s.oneToMany(msg.New(u.UID, "", "", "FTOPIC",
		[]string{ch.Name, fmt.Sprintf("%d", ch.TopicSetAt), ch.TopicSetBy, ch.Topic}, true))
}

func (s *Server) sendTopic(u *user.User, ch *channel.Channel) {
	if ch.Topic == "" {
		s.reply(u, RPL_NOTOPIC, ch)
		return
	}
	s.reply(u, RPL_TOPIC, ch, ch.Topic)
	s.reply(u, RPL_TOPICWHOTIME, ch, ch.TopicSetBy, ch.TopicSetAt)
}

func INVITE(s *Server, u *user.User, m *msg.Message) {
	nick, chName := m.Params[0], m.Params[1]

	ch, ok := s.getChannel(chName)
	if !ok {
		s.reply(u, ERR_NOSUCHCHANNEL, chName)
		return
	}
	sender, in := ch.GetMember(u.UID)
	if !in {
		s.reply(u, ERR_NOTONCHANNEL, ch)
		return
	}
	if ch.Invite && !sender.HasRankOf(channel.Halfop) {
		s.reply(u, ERR_CHANOPRIVSNEEDED, ch)
		return
	}
	target, ok := s.getUser(nick)
	if !ok {
		s.reply(u, ERR_NOSUCHNICK, nick)
		return
	}
	if _, already := ch.GetMember(target.UID); already {
		s.reply(u, ERR_USERONCHANNEL, nick, ch)
		return
	}

	ch.Invited[s.fold(target.Nick)] = struct{}{}
	s.sendToUser(target, msg.New(u.Nick, u.Ident, u.DisplayedHost, "INVITE", []string{target.Nick, ch.Name}, false))
	s.reply(u, RPL_INVITING, ch, nick)
}

func KICK(s *Server, u *user.User, m *msg.Message) {
	comment := u.Nick
	if len(m.Params) >= 3 {
		comment = m.Params[2]
	}

	chans := strings.Split(m.Params[0], ",")
	users := strings.Split(m.Params[1], ",")
	// either one channel with many targets, or the lists pair up
	if len(chans) != 1 && len(chans) != len(users) {
		s.reply(u, ERR_NEEDMOREPARAMS, "KICK")
		return
	}

	for i, chName := range chans {
		ch, ok := s.getChannel(chName)
		if !ok {
			s.reply(u, ERR_NOSUCHCHANNEL, chName)
			return
		}
		self, in := ch.GetMember(u.UID)
		if !in {
			s.reply(u, ERR_NOTONCHANNEL, ch)
			return
		}
		if !self.HasRankOf(channel.Halfop) {
			s.reply(u, ERR_CHANOPRIVSNEEDED, ch)
			return
		}

		if len(chans) != 1 {
			s.kickMember(u, ch, users[i], comment)
		} else {
			for _, nick := range users {
				s.kickMember(u, ch, nick, comment)
			}
		}
	}
}

func (s *Server) kickMember(u *user.User, ch *channel.Channel, nick, comment string) {
	target, ok := s.getUser(nick)
	if !ok {
		s.reply(u, ERR_USERNOTINCHANNEL, nick, ch)
		return
	}
	victim, in := ch.GetMember(target.UID)
	if !in {
		s.reply(u, ERR_USERNOTINCHANNEL, nick, ch)
		return
	}
	// rank shields: you cannot kick above yourself
	if self, _ := ch.GetMember(u.UID); self != nil && victim.Prefix.Rank() > self.Prefix.Rank() {
		s.reply(u, ERR_CHANOPRIVSNEEDED, ch)
		return
	}

	s.sendToChannel(ch, msg.New(u.Nick, u.Ident, u.DisplayedHost, "KICK", []string{ch.Name, target.Nick, comment}, true), nil, nil, 0)
	s.removeMember(ch, target)
	s.oneToMany(msg.New(u.UID, "", "", "KICK", []string{ch.Name, target.UID, comment}, true))
}

func PRIVMSG(s *Server, u *user.User, m *msg.Message) { s.communicate(m, u, "PRIVMSG") }
func NOTICE(s *Server, u *user.User, m *msg.Message)  { s.communicate(m, u, "NOTICE") }

func (s *Server) communicate(m *msg.Message, u *user.User, kind string) {
	// NOTICE never generates replies, even for errors
	quiet := kind == "NOTICE"

	if len(m.Params) == 0 {
		if !quiet {
			s.reply(u, ERR_NORECIPIENT, kind)
		}
		return
	}
	if len(m.Params) < 2 || m.Params[1] == "" {
		if !quiet {
			s.reply(u, ERR_NOTEXTTOSEND)
		}
		return
	}

	text := m.Params[1]
	for _, target := range strings.Split(m.Params[0], ",") {
		// a status-prefixed target (@#chan, +#chan) reaches only
		// members at or above that rank
		minRank := 0
		bare := target
		if len(target) > 1 {
			switch target[0] {
			case '@':
				minRank, bare = channel.Op.Rank(), target[1:]
			case '+':
				minRank, bare = channel.Voice.Rank(), target[1:]
			}
		}

		if strings.HasPrefix(bare, "#") {
			ch, ok := s.getChannel(bare)
			if !ok {
				if !quiet {
					s.reply(u, ERR_NOSUCHCHANNEL, bare)
				}
				continue
			}
			self, in := ch.GetMember(u.UID)
			if !in && (ch.NoExternal || ch.IsBanQuieted(u)) {
				if !quiet {
					s.reply(u, ERR_CANNOTSENDTOCHAN, ch)
				}
				continue
			}
			if in && ch.Moderated && self.Prefix.Rank() == 0 {
				if !quiet {
					s.reply(u, ERR_CANNOTSENDTOCHAN, ch)
				}
				continue
			}

			out := msg.New(u.Nick, u.Ident, u.DisplayedHost, kind, []string{target, text}, true)
			s.sendToChannel(ch, out, u, nil, minRank)
			// the wire copy carries the UID prefix and follows only
			// branches with recipients
			wire := msg.New(u.UID, "", "", kind, []string{target, text}, true)
			for _, l := range s.channelBranches(ch.Name, minRank, nil) {
				l.WriteMessage(wire)
			}
			continue
		}

		targetUser, ok := s.getUser(bare)
		if !ok {
			if !quiet {
				s.reply(u, ERR_NOSUCHNICK, bare)
			}
			continue
		}
		if targetUser.Is(client.Away) && !quiet {
			s.reply(u, RPL_AWAY, targetUser.Nick, targetUser.AwayMsg)
		}
		if targetUser.IsLocal() {
			targetUser.Local.WriteMessage(msg.New(u.Nick, u.Ident, u.DisplayedHost, kind, []string{targetUser.Nick, text}, true))
			targetUser.Local.Flush()
		} else {
			s.oneToOne(msg.New(u.UID, "", "", kind, []string{targetUser.UID, text}, true), targetUser.SID())
		}
	}
}

func AWAY(s *Server, u *user.User, m *msg.Message) {
	if len(m.Params) == 0 {
		u.AwayMsg = ""
		u.Mode &^= client.Away
		s.reply(u, RPL_UNAWAY)
	} else {
		u.AwayMsg = m.Params[0]
		u.Mode |= client.Away
		s.reply(u, RPL_NOWAWAY)
	}
	s.oneToMany(msg.New(u.UID, "", "", "AWAY", []string{u.AwayMsg}, true))
}

func WALLOPS(s *Server, u *user.User, m *msg.Message) {
	text := m.Params[0]
	for _, v := range s.uids {
		if v.IsLocal() && v.Is(client.Wallops) {
			v.Local.WriteMessage(msg.New(u.Nick, u.Ident, u.DisplayedHost, "WALLOPS", []string{text}, true))
			v.Local.Flush()
		}
	}
	s.oneToMany(msg.New(u.UID, "", "", "WALLOPS", []string{text}, true))
}

func PING(s *Server, u *user.User, m *msg.Message) {
	token := s.name
	if len(m.Params) > 0 {
		token = m.Params[0]
	}
	fmt.Fprintf(u.Local, ":%s PONG %s :%s", s.name, s.name, token)
}

func PONG(s *Server, u *user.User, m *msg.Message) {
	u.Local.ExpectingPONG = false
}

func KILL(s *Server, u *user.User, m *msg.Message) {
	if s.loopCall(KILL, u, m, 0) {
		return
	}

	target, ok := s.resolveTarget(m.Params[0])
	if !ok {
		if _, isServer := s.FindServer(m.Params[0]); isServer {
			s.reply(u, ERR_CANTKILLSERVER)
			return
		}
		s.reply(u, ERR_NOSUCHNICK, m.Params[0])
		return
	}

	reason := fmt.Sprintf("Killed (%s (%s))", u.Nick, m.Params[1])
	s.snotice('k', "%s killed %s (%s)", u.Nick, target.Nick, m.Params[1])

	// the whole network needs to see a KILL so the victim cannot
	// straddle a race on one branch
	s.oneToMany(msg.New(u.UID, "", "", "KILL", []string{target.UID, reason}, true))
	if target.IsLocal() {
		target.Local.WriteMessage(msg.New(u.Nick, u.Ident, u.DisplayedHost, "KILL", []string{target.Nick, reason}, true))
	}
	s.quitUser(target, reason, nil)
}

func REHASH(s *Server, u *user.User, m *msg.Message) {
	// identity is pinned at boot; everything else re-reads
	fresh, err := conf.Load(s.conf.Path())
	if err != nil {
		s.snotice('o', "REHASH by %s failed: %v", u.Nick, err)
		return
	}
	fresh.Server = s.conf.Server
	s.conf = fresh
	s.reply(u, RPL_REHASHING, s.conf.Path())
	s.snotice('o', "%s rehashed the configuration", u.Nick)
}

func CONNECT(s *Server, u *user.User, m *msg.Message) {
	lc, ok := s.conf.FindLink(m.Params[0])
	if !ok {
		s.reply(u, ERR_NOSUCHSERVER, m.Params[0])
		return
	}
	if _, linked := s.FindServer(lc.Name); linked {
		s.snotice('l', "CONNECT %s from %s: already linked", lc.Name, u.Nick)
		return
	}
	s.snotice('l', "%s issued CONNECT %s", u.Nick, lc.Name)
	s.connectLink(lc)
}

func SQUIT(s *Server, u *user.User, m *msg.Message) {
	n, ok := s.FindServer(m.Params[0])
	if !ok || n.IsRoot() {
		s.reply(u, ERR_NOSUCHSERVER, m.Params[0])
		return
	}
	if n.Link != nil {
		s.snotice('l', "%s issued SQUIT %s (%s)", u.Nick, n.Name, m.Params[1])
		s.squitLink(n.Link, m.Params[1])
		return
	}
	// not our link; ask the server that owns it
	s.oneToOne(msg.New(u.UID, "", "", "RSQUIT", []string{n.Name, m.Params[1]}, true), n.SID)
}

func SUMMON(s *Server, u *user.User, m *msg.Message) {
	s.reply(u, ERR_SUMMONDISABLED)
}

func USERS(s *Server, u *user.User, m *msg.Message) {
	s.reply(u, ERR_USERSDISABLED)
}

const defaultSnomask = "cdklox"
