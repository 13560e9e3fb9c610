package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/user"
)

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

type linkExecutor func(*Server, *Link, *msg.Message)

var linkCommands = map[string]linkExecutor{
	"SERVER":   sSERVER,
	"BURST":    func(s *Server, l *Link, m *msg.Message) { l.handleBurst(m) },
	"ENDBURST": sENDBURST,
	"VERSION":  sVERSION,
	"PING":     sPING,
	"PONG":     sPONG,
	"ERROR":    sERROR,
	"SQUIT":    sSQUIT,
	"RSQUIT":   sRSQUIT,

	"UID":      sUID,
	"NICK":     sNICK,
	"QUIT":     sQUIT,
	"KILL":     sKILL,
	"OPERTYPE": sOPERTYPE,
	"AWAY":     sAWAY,
	"FHOST":    sFHOST,
	"FNAME":    sFNAME,

	"FJOIN":  sFJOIN,
	"FMODE":  sFMODE,
	"FTOPIC": sFTOPIC,
	"PART":   sPART,
	"KICK":   sKICK,
	"INVITE": sINVITE,

	"PRIVMSG": sPRIVMSG,
	"NOTICE":  sPRIVMSG,

	"METADATA":   sMETADATA,
	"ADDLINE":    sADDLINE,
	"DELLINE":    sDELLINE,
	"WALLOPS":    sWALLOPS,
	"SNONOTICE":  sSNONOTICE,
	"OPERNOTICE": sOPERNOTICE,
	"MODENOTICE": sMODENOTICE,
	"ENCAP":      sENCAP,
	"IDLE":       sIDLE,
	"PUSH":       sPUSH,
	"SVSNICK":    sSVSNICK,
	"SVSJOIN":    sSVSJOIN,
}

// handleLine is the per-link dispatcher. Before CONNECTED only the
// handshake verbs are legal; anything else is a protocol violation
// and drops the link, per the server-input error policy.
func (l *Link) handleLine(m *msg.Message) {
	if l.state != linkConnected {
		switch m.Command {
		case "CAPAB":
			l.handleCapab(m)
		case "SERVER":
			l.handleServer(m)
		case "BURST":
			l.handleBurst(m)
		case "ERROR":
			sERROR(l.s, l, m)
		default:
			l.s.squitLink(l, "Protocol violation: "+m.Command+" before registration")
		}
		return
	}

	h, ok := linkCommands[m.Command]
	if !ok {
		l.s.squitLink(l, "Protocol violation: unknown command "+m.Command)
		return
	}
	h(l.s, l, m)
}

// sourceUser resolves the line's prefix to a user record.
func (s *Server) sourceUser(m *msg.Message) (*user.User, bool) {
	return s.getUserByUID(m.Nick)
}

// sSERVER introduces a server further down the peer's branch. The
// prefix names its parent.
func sSERVER(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 5 {
		s.squitLink(l, "Malformed SERVER introduction")
		return
	}
	name, sid, desc := m.Params[0], m.Params[3], m.Params[4]

	parent, ok := s.FindSID(m.Nick)
	if !ok {
		parent = l.node
	}
	if _, dup := s.FindSID(sid); dup {
		s.squitLink(l, "SID "+sid+" already in use")
		return
	}

	n := &Node{Name: name, Desc: desc, SID: sid}
	parent.addChild(n)
	s.addServerNode(n)

	s.oneToAllButSender(msg.New(parent.SID, "", "", "SERVER",
		[]string{name, "*", fmt.Sprintf("%d", n.Hops), sid, desc}, true), l)
}

func sENDBURST(s *Server, l *Link, m *msg.Message) {
	n, ok := s.FindSID(m.Nick)
	if !ok {
		n = l.node
	}
	n.Bursting = false
	if n == l.node {
		s.snotice('l', "Burst from %s complete (%d users, %d channels known)",
			n.Name, len(s.uids), len(s.channels))
	}
	s.oneToAllButSender(m, l)
}

func sVERSION(s *Server, l *Link, m *msg.Message) {
	if n, ok := s.FindSID(m.Nick); ok && len(m.Params) > 0 {
		n.Version = m.Params[0]
	}
	s.oneToAllButSender(m, l)
}

func sPING(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) >= 2 && m.Params[1] != s.sid {
		s.oneToOne(m, m.Params[1])
		return
	}
	src := m.Nick
	l.WriteMessage(msg.New(s.sid, "", "", "PONG", []string{s.sid, src}, false))
}

func sPONG(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) >= 2 && m.Params[1] != s.sid {
		s.oneToOne(m, m.Params[1])
		return
	}
	if n, ok := s.FindSID(m.Nick); ok {
		n.PingOutstanding = false
	}
}

func sERROR(s *Server, l *Link, m *msg.Message) {
	reason := "ERROR from peer"
	if len(m.Params) > 0 {
		reason = "ERROR: " + m.Params[0]
	}
	s.squitLink(l, reason)
}

func sSQUIT(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 1 {
		return
	}
	n, ok := s.FindSID(m.Params[0])
	if !ok {
		if n, ok = s.FindServer(m.Params[0]); !ok {
			return
		}
	}
	if n.IsRoot() {
		s.squitLink(l, "SQUIT names this server")
		return
	}
	reason := ""
	if len(m.Params) > 1 {
		reason = m.Params[1]
	}

	if n.Link != nil {
		s.squitLink(n.Link, reason)
		return
	}

	lost := s.splitServer(n)
	s.oneToAllButSender(m, l)
	s.snotice('l', "Server %s delinked remotely: %s (%d users lost)", n.Name, reason, lost)
}

func sRSQUIT(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 1 {
		return
	}
	n, ok := s.FindServer(m.Params[0])
	if !ok {
		return
	}
	reason := "RSQUIT"
	if len(m.Params) > 1 {
		reason = m.Params[1]
	}
	if n.Link != nil {
		s.squitLink(n.Link, reason)
		return
	}
	s.oneToOne(m, n.SID)
}

func sQUIT(s *Server, l *Link, m *msg.Message) {
	u, ok := s.sourceUser(m)
	if !ok {
		return
	}
	reason := ""
	if len(m.Params) > 0 {
		reason = m.Params[0]
	}
	s.quitUser(u, reason, l)
}

func sKILL(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 1 {
		return
	}
	reason := "Killed"
	if len(m.Params) > 1 {
		reason = m.Params[1]
	}
	s.oneToAllButSender(m, l)

	target, ok := s.getUserByUID(m.Params[0])
	if !ok {
		return
	}
	if target.IsLocal() {
		killer := m.Nick
		if ku, ok := s.sourceUser(m); ok {
			killer = ku.Nick
		}
		target.Local.WriteMessage(msg.New(killer, "", "", "KILL", []string{target.Nick, reason}, true))
	}
	s.quitUserLocalOnly(target, reason)
}

func sOPERTYPE(s *Server, l *Link, m *msg.Message) {
	u, ok := s.sourceUser(m)
	if !ok || len(m.Params) < 1 {
		return
	}
	u.Mode |= client.Op
	u.OperType = m.Params[0]
	s.oneToAllButSender(m, l)
}

func sAWAY(s *Server, l *Link, m *msg.Message) {
	u, ok := s.sourceUser(m)
	if !ok {
		return
	}
	if len(m.Params) == 0 || m.Params[0] == "" {
		u.AwayMsg = ""
		u.Mode &^= client.Away
	} else {
		u.AwayMsg = m.Params[0]
		u.Mode |= client.Away
	}
	s.oneToAllButSender(m, l)
}

func sFHOST(s *Server, l *Link, m *msg.Message) {
	u, ok := s.sourceUser(m)
	if !ok || len(m.Params) < 1 {
		return
	}
	u.DisplayedHost = m.Params[0]
	s.oneToAllButSender(m, l)
}

func sFNAME(s *Server, l *Link, m *msg.Message) {
	u, ok := s.sourceUser(m)
	if !ok || len(m.Params) < 1 {
		return
	}
	u.Gecos = m.Params[0]
	s.oneToAllButSender(m, l)
}

func sPART(s *Server, l *Link, m *msg.Message) {
	u, ok := s.sourceUser(m)
	if !ok || len(m.Params) < 1 {
		return
	}
	ch, ok := s.getChannel(m.Params[0])
	if !ok {
		return
	}

	params := []string{ch.Name}
	trailing := false
	if len(m.Params) > 1 {
		params = append(params, m.Params[1])
		trailing = true
	}
	ch.WriteToLocal(msg.New(u.Nick, u.Ident, u.DisplayedHost, "PART", params, trailing).String(), nil)
	s.removeMember(ch, u)
	s.oneToAllButSender(m, l)
}

func sKICK(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	ch, ok := s.getChannel(m.Params[0])
	if !ok {
		return
	}
	target, ok := s.getUserByUID(m.Params[1])
	if !ok {
		return
	}
	comment := target.Nick
	if len(m.Params) > 2 {
		comment = m.Params[2]
	}

	kicker := m.Nick
	kickerIdent, kickerHost := "", ""
	if ku, ok := s.sourceUser(m); ok {
		kicker, kickerIdent, kickerHost = ku.Nick, ku.Ident, ku.DisplayedHost
	}
	ch.WriteToLocal(msg.New(kicker, kickerIdent, kickerHost, "KICK",
		[]string{ch.Name, target.Nick, comment}, true).String(), nil)
	s.removeMember(ch, target)
	s.oneToAllButSender(m, l)
}

func sINVITE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	target, ok := s.getUserByUID(m.Params[0])
	if !ok {
		return
	}
	ch, chOk := s.getChannel(m.Params[1])
	if chOk {
		ch.Invited[s.fold(target.Nick)] = struct{}{}
	}
	if target.IsLocal() {
		inviter := m.Nick
		inviterIdent, inviterHost := "", ""
		if iu, ok := s.sourceUser(m); ok {
			inviter, inviterIdent, inviterHost = iu.Nick, iu.Ident, iu.DisplayedHost
		}
		target.Local.WriteMessage(msg.New(inviter, inviterIdent, inviterHost, "INVITE",
			[]string{target.Nick, m.Params[1]}, false))
		target.Local.Flush()
		return
	}
	s.oneToOne(m, target.SID())
}

// sPRIVMSG covers NOTICE too; the command field rides along.
func sPRIVMSG(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	target, text := m.Params[0], m.Params[1]

	srcNick, srcIdent, srcHost := m.Nick, "", ""
	if su, ok := s.sourceUser(m); ok {
		srcNick, srcIdent, srcHost = su.Nick, su.Ident, su.DisplayedHost
	}

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
			return
		}
		var except *user.User
		if su, ok := s.sourceUser(m); ok {
			except = su
		}
		local := msg.New(srcNick, srcIdent, srcHost, m.Command, []string{target, text}, true)
		line := local.String()
		for _, mem := range ch.Members {
			if mem.User == except || !mem.IsLocal() {
				continue
			}
			if minRank > 0 && mem.Prefix.Rank() < minRank {
				continue
			}
			mem.Local.WriteString(line)
			mem.Local.Flush()
		}
		for _, branch := range s.channelBranches(ch.Name, minRank, l) {
			branch.WriteMessage(m)
		}
		return
	}

	tu, ok := s.getUserByUID(bare)
	if !ok {
		return
	}
	if tu.IsLocal() {
		tu.Local.WriteMessage(msg.New(srcNick, srcIdent, srcHost, m.Command, []string{tu.Nick, text}, true))
		tu.Local.Flush()
		return
	}
	s.oneToOne(m, tu.SID())
}

func sMETADATA(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 3 {
		return
	}
	target, key, value := m.Params[0], m.Params[1], m.Params[2]
	switch {
	case target == "*":
		// global metadata has no owner object; modules subscribe
	case strings.HasPrefix(target, "#"):
		if ch, ok := s.getChannel(target); ok {
			ch.Ext[key] = value
		}
	default:
		if u, ok := s.getUserByUID(target); ok {
			u.Ext[key] = value
		}
	}
	s.oneToAllButSender(m, l)
}

func sADDLINE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 6 {
		return
	}
	kind := m.Params[0]
	if kind == "" {
		return
	}
	s.addXLine(&XLine{
		Kind:     kind[0],
		Mask:     m.Params[1],
		SetBy:    m.Params[2],
		SetAt:    parseInt(m.Params[3]),
		Duration: parseInt(m.Params[4]),
		Reason:   m.Params[5],
	}, l)
}

func sDELLINE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 || m.Params[0] == "" {
		return
	}
	if s.xlines.remove(m.Params[0][0], m.Params[1]) {
		s.snotice('x', "%s removed %c-line %s", m.Nick, m.Params[0][0], m.Params[1])
		s.oneToAllButSender(m, l)
	}
}

func sWALLOPS(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 1 {
		return
	}
	srcNick, srcIdent, srcHost := m.Nick, "", ""
	if su, ok := s.sourceUser(m); ok {
		srcNick, srcIdent, srcHost = su.Nick, su.Ident, su.DisplayedHost
	}
	for _, v := range s.uids {
		if v.IsLocal() && v.Is(client.Wallops) {
			v.Local.WriteMessage(msg.New(srcNick, srcIdent, srcHost, "WALLOPS", []string{m.Params[0]}, true))
			v.Local.Flush()
		}
	}
	s.oneToAllButSender(m, l)
}

func sSNONOTICE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 || m.Params[0] == "" {
		return
	}
	s.snotice(m.Params[0][0], "%s", m.Params[1])
	s.oneToAllButSender(m, l)
}

func sOPERNOTICE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 1 {
		return
	}
	s.snotice('o', "%s", m.Params[0])
	s.oneToAllButSender(m, l)
}

func sMODENOTICE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	want := client.ParseModeString(m.Params[0])
	for _, v := range s.uids {
		if v.IsLocal() && v.Mode&want != 0 {
			v.Local.WriteMessage(msg.New(s.name, "", "", "NOTICE", []string{v.Nick, m.Params[1]}, true))
			v.Local.Flush()
		}
	}
	s.oneToAllButSender(m, l)
}

// sENCAP routes an encapsulated command toward the servers its mask
// names; we unwrap nothing ourselves.
func sENCAP(s *Server, l *Link, m *msg.Message) {
	s.oneToAllButSender(m, l)
}

func sIDLE(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 1 {
		return
	}
	target, ok := s.getUserByUID(m.Params[0])
	if !ok {
		return
	}
	if !target.IsLocal() {
		s.oneToOne(m, target.SID())
		return
	}
	// a bare IDLE is the query; answer with signon and idle seconds
	if len(m.Params) == 1 && len(m.Nick) >= 3 {
		idle := int64(time.Since(target.Local.Idle).Seconds())
		s.oneToOne(msg.New(target.UID, "", "", "IDLE",
			[]string{m.Nick, fmt.Sprintf("%d", target.Signon), fmt.Sprintf("%d", idle)}, false), m.Nick[:3])
	}
}

func sPUSH(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	target, ok := s.getUserByUID(m.Params[0])
	if !ok {
		return
	}
	if target.IsLocal() {
		target.Local.WriteString(m.Params[1])
		target.Local.Flush()
		return
	}
	s.oneToOne(m, target.SID())
}

func sSVSNICK(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	target, ok := s.getUserByUID(m.Params[0])
	if !ok {
		return
	}
	if !target.IsLocal() {
		s.oneToOne(m, target.SID())
		return
	}
	ts := parseInt(m.Params[len(m.Params)-1])
	if ts == 0 {
		ts = target.TS
	}
	if _, taken := s.getUser(m.Params[1]); !taken {
		s.changeNick(target, m.Params[1], ts, nil)
	}
}

func sSVSJOIN(s *Server, l *Link, m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	target, ok := s.getUserByUID(m.Params[0])
	if !ok {
		return
	}
	if !target.IsLocal() {
		s.oneToOne(m, target.SID())
		return
	}
	JOIN(s, target, msg.New("", "", "", "JOIN", []string{m.Params[1]}, false))
}
