package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/conf"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/user"
)

// wire protocol generation; peers must agree exactly
const protoVersion = "1205"

type linkState int

const (
	linkConnecting linkState = iota
	linkWaitAuth1
	linkWaitAuth2
	linkConnected
)

// Link is one server-to-server socket, from dial or accept through
// CAPAB, SERVER, and burst.
type Link struct {
	s *Server
	c *client.Client

	state   linkState
	inbound bool

	// the block this link authenticated against; for inbound links it
	// resolves when the SERVER line names the peer
	conf *conf.Link

	// our challenge rides out in CAPAB; the peer HMACs its password
	// with it. theirs we use the same way.
	ourChallenge   string
	theirChallenge string

	theirProto string
	theirCapab map[string]string

	theirName, theirSID, theirDesc string

	node    *Node
	hsTimer *Timer
}

func (l *Link) WriteMessage(m *msg.Message) {
	l.c.WriteMessage(m)
	l.c.Flush()
}

func (l *Link) writeRaw(format string, f ...interface{}) {
	fmt.Fprintf(l.c, format, f...)
	l.c.Flush()
}

func (l *Link) sendError(text string) {
	l.writeRaw("ERROR :%s", text)
}

func (l *Link) close() {
	if l.hsTimer != nil {
		l.hsTimer.Cancel()
	}
	l.c.Close()
	delete(l.s.links, l)
	l.s.metrics.setLinks(len(l.s.links))
}

func (l *Link) String() string {
	if l.theirName != "" {
		return l.theirName
	}
	return l.c.RemoteAddr().String()
}

// connectLink dials an outbound link. The dial happens off the loop;
// everything after lands back on it.
func (s *Server) connectLink(lc *conf.Link) {
	timeout := lc.Timeout.Duration
	if timeout == 0 {
		timeout = s.conf.HandshakeTimeout.Duration
	}

	go func() {
		conn, err := net.DialTimeout("tcp", lc.Addr, timeout)
		s.loop.Post(func() {
			if err != nil {
				s.snotice('l', "Connect to %s failed: %v", lc.Name, err)
				// the failover link picks up where this one could not
				if lc.Failover != "" {
					if next, ok := s.conf.FindLink(lc.Failover); ok {
						s.connectLink(next)
					}
				}
				return
			}
			hook, herr := client.LookupTransport(lc.Transport)
			if herr != nil {
				conn.Close()
				return
			}
			c, cerr := client.New(conn, hook)
			if cerr != nil {
				s.snotice('l', "Transport handshake with %s failed: %v", lc.Name, cerr)
				return
			}
			l := s.newLink(c, false)
			l.conf = lc
			l.sendCapab()
		})
	}()
}

// acceptLink upgrades an accepted connection on a servers listener.
func (s *Server) acceptLink(c *client.Client) {
	l := s.newLink(c, true)
	l.sendCapab()
}

func (s *Server) newLink(c *client.Client, inbound bool) *Link {
	l := &Link{
		s:            s,
		c:            c,
		state:        linkWaitAuth1,
		inbound:      inbound,
		ourChallenge: uuid.NewString(),
		theirCapab:   make(map[string]string),
	}
	s.links[l] = struct{}{}
	s.metrics.setLinks(len(s.links))

	l.hsTimer = s.loop.Schedule(s.conf.HandshakeTimeout.Duration, func() {
		if l.state != linkConnected {
			l.sendError("Handshake timed out")
			l.close()
		}
	})

	go l.readLines()
	return l
}

func (l *Link) readLines() {
	for {
		line, err := l.c.ReadLine()
		if err != nil {
			l.s.loop.Post(func() {
				if _, live := l.s.links[l]; live {
					l.s.squitLink(l, "Read error: "+err.Error())
				}
			})
			return
		}
		m, err := msg.Parse(line)
		if err != nil {
			// malformed server input is fatal, unlike client input
			l.s.loop.Post(func() {
				if _, live := l.s.links[l]; live {
					l.s.squitLink(l, "Protocol violation: unparseable line")
				}
			})
			return
		}
		l.s.loop.Post(func() {
			if _, live := l.s.links[l]; live {
				l.s.metrics.countLine("server")
				l.handleLine(m)
			}
		})
	}
}

func (l *Link) sendCapab() {
	s := l.s
	l.writeRaw("CAPAB START %s", protoVersion)
	l.writeRaw("CAPAB MODULES :")
	l.writeRaw("CAPAB CAPABILITIES :CASEMAPPING=%s PREFIX=(qaohv)~&@%%+ CHANMODES=beI,k,l,imnst CHALLENGE=%s",
		s.conf.CaseMapping, l.ourChallenge)
	l.writeRaw("CAPAB END")
}

// sendServerLine introduces ourselves; the password is HMAC-SHA256 of
// the configured sendpass keyed on the peer's challenge, or plaintext
// when the peer offered none.
func (l *Link) sendServerLine() {
	pass := l.conf.SendPass
	if l.theirChallenge != "" {
		pass = "AUTH:" + hmacPass(l.conf.SendPass, l.theirChallenge)
	}
	l.writeRaw("SERVER %s %s 0 %s :%s", l.s.name, pass, l.s.sid, l.s.conf.Server.Description)
}

func hmacPass(pass, challenge string) string {
	mac := hmac.New(sha256.New, []byte(pass))
	mac.Write([]byte(challenge))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (l *Link) checkPass(given string) bool {
	want := l.conf.RecvPass
	if strings.HasPrefix(given, "AUTH:") {
		return hmac.Equal([]byte(given[5:]), []byte(hmacPass(want, l.ourChallenge)))
	}
	return given == want
}

// handleCapab digests one CAPAB line; a mismatch is fatal.
func (l *Link) handleCapab(m *msg.Message) {
	if len(m.Params) == 0 {
		return
	}
	switch m.Params[0] {
	case "START":
		if len(m.Params) > 1 {
			l.theirProto = m.Params[1]
		}
		if l.theirProto != protoVersion {
			l.sendError("Protocol version mismatch (" + l.theirProto + " != " + protoVersion + ")")
			l.close()
		}
	case "MODULES":
		// no module exchange yet; anything the peer lists is tolerated
	case "CAPABILITIES":
		if len(m.Params) > 1 {
			for _, kv := range strings.Fields(m.Params[1]) {
				if i := strings.IndexByte(kv, '='); i > 0 {
					l.theirCapab[kv[:i]] = kv[i+1:]
				}
			}
		}
		if ch, ok := l.theirCapab["CHALLENGE"]; ok {
			l.theirChallenge = ch
		}
	case "END":
		if cm, ok := l.theirCapab["CASEMAPPING"]; ok && cm != l.s.conf.CaseMapping {
			l.sendError("Casemapping mismatch (" + cm + " != " + l.s.conf.CaseMapping + ")")
			l.close()
			return
		}
		// the dialing side introduces itself once the capability
		// exchange clears
		if !l.inbound {
			l.sendServerLine()
		}
	}
}

// handleServer digests the peer's SERVER line during the handshake.
func (l *Link) handleServer(m *msg.Message) {
	if len(m.Params) < 5 {
		l.sendError("Malformed SERVER")
		l.close()
		return
	}
	name, pass, sid, desc := m.Params[0], m.Params[1], m.Params[3], m.Params[4]

	if l.conf == nil {
		lc, ok := l.s.conf.FindLink(name)
		if !ok {
			l.sendError("Server not configured here")
			l.close()
			return
		}
		l.conf = lc
	} else if !strings.EqualFold(l.conf.Name, name) {
		l.sendError("Server name does not match link block")
		l.close()
		return
	}

	if !l.checkPass(pass) {
		l.s.snotice('l', "Link %s failed authentication", name)
		l.sendError("Invalid credentials")
		l.close()
		return
	}
	if _, dup := l.s.FindSID(sid); dup {
		l.sendError("SID " + sid + " already in use")
		l.close()
		return
	}

	l.theirName, l.theirSID, l.theirDesc = name, sid, desc

	node := &Node{Name: name, Desc: desc, SID: sid, Link: l, Hidden: l.conf.Hidden, Bursting: true}
	l.s.root.addChild(node)
	l.s.addServerNode(node)
	l.node = node

	if l.inbound {
		// reply in kind and wait for their burst
		l.sendServerLine()
		l.state = linkWaitAuth2
	} else {
		// their SERVER answers ours; our burst goes first
		l.state = linkConnected
		l.finishHandshake()
		l.sendBurst()
	}
}

// handleBurst checks the peer's clock and, on the accepting side,
// answers with our own burst.
func (l *Link) handleBurst(m *msg.Message) {
	if len(m.Params) > 0 {
		theirTime := parseInt(m.Params[0])
		delta := time.Now().Unix() - theirTime
		if delta < 0 {
			delta = -delta
		}
		if delta > l.s.conf.MaxTSDelta {
			l.sendError(fmt.Sprintf("Timestamp delta %ds exceeds limit", delta))
			l.s.squitLink(l, "Clock skew too large")
			return
		}
		if delta > 30 {
			l.s.snotice('l', "Link %s clock skew is %ds; tolerated", l, delta)
		}
	}

	if l.state == linkWaitAuth2 {
		l.state = linkConnected
		l.finishHandshake()
		l.sendBurst()
	}
}

func (l *Link) finishHandshake() {
	if l.hsTimer != nil {
		l.hsTimer.Cancel()
		l.hsTimer = nil
	}
	l.s.snoticeRemote('l', "Link established with %s[%s]", l.theirName, l.theirSID)

	// the rest of the network hears about the new branch
	l.s.oneToAllButSender(msg.New(l.s.sid, "", "", "SERVER",
		[]string{l.theirName, "*", "1", l.theirSID, l.theirDesc}, true), l)
}

// squitLink tears down a directly connected link and everything
// behind it.
func (s *Server) squitLink(l *Link, reason string) {
	l.sendError(reason)

	node := l.node
	l.close()

	if node == nil {
		s.snotice('l', "Connection %s closed before registering: %s", l, reason)
		return
	}

	lost := s.splitServer(node)
	s.oneToAllButSender(msg.New(s.sid, "", "", "SQUIT", []string{node.SID, reason}, true), l)
	s.snoticeRemote('l', "Server %s delinked: %s (%d users lost)", node.Name, reason, lost)
}

// splitServer removes n's whole subtree: every user on those servers
// quits locally, then the nodes unhook. Gives back the user count
// lost.
func (s *Server) splitServer(n *Node) int {
	subtree := n.Subtree()
	gone := make(map[string]struct{}, len(subtree))
	for _, v := range subtree {
		gone[v.SID] = struct{}{}
	}

	// netsplit quit reason names the two ends of the broken link
	parentName := s.name
	if n.Parent != nil {
		parentName = n.Parent.Name
	}
	quitReason := parentName + " " + n.Name

	lost := 0
	for _, u := range s.uids {
		if _, isLost := gone[u.SID()]; !isLost {
			continue
		}
		lost++
		// peers on the surviving side work this out themselves from
		// the SQUIT, so nothing propagates here
		s.quitUserLocalOnly(u, quitReason)
	}

	// leaves first
	for i := len(subtree) - 1; i >= 0; i-- {
		v := subtree[i]
		if v.Parent != nil {
			v.Parent.removeChild(v)
		}
		s.removeServerNode(v)
	}
	return lost
}

// quitUserLocalOnly is the netsplit variant of quitUser: membership
// purge and local QUIT fanout with no propagation.
func (s *Server) quitUserLocalOnly(u *user.User, reason string) {
	if _, ok := s.uids[u.UID]; !ok {
		return
	}
	delete(s.uids, u.UID)
	delete(s.nicks, s.fold(u.Nick))

	line := msg.New(u.Nick, u.Ident, u.DisplayedHost, "QUIT", []string{reason}, true).String()
	informed := make(map[string]struct{})
	for name := range u.Channels {
		ch, ok := s.getChannel(name)
		if !ok {
			continue
		}
		ch.DeleteMember(u.UID)
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
		if ch.Len() == 0 {
			s.deleteChannel(name)
		}
	}
	u.Channels = make(map[string]struct{})
	s.whowas.push(u)
	s.metrics.setUsers(s.localUserCount(), len(s.uids))
}
