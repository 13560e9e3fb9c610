package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mitchr/braid/channel"
	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/conf"
	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/user"
)

const Version = "braid-1.0"

type Server struct {
	conf *conf.Config
	// identity, copied out of conf so a rehash cannot move us
	name string
	sid  string

	created time.Time
	loop    *loop
	fold    foldFunc

	listeners []net.Listener

	// registries; only the loop goroutine touches these
	nicks    map[string]*user.User
	uids     map[string]*user.User
	channels map[string]*channel.Channel

	root          *Node
	serversByName map[string]*Node
	serversBySID  map[string]*Node
	links         map[*Link]struct{}

	xlines  *XLines
	whowas  *whowasStack
	metrics *metrics

	// connections that have not reached StateAll yet
	unknowns int
	maxSeen  int

	uidRotor []byte

	preHooks  []PreCommandHook
	postHooks []PostCommandHook

	wg      sync.WaitGroup
	closing bool
}

func New(c *conf.Config) (*Server, error) {
	s := &Server{
		conf:          c,
		name:          c.Server.Name,
		sid:           c.Server.SID,
		created:       time.Now(),
		loop:          newLoop(),
		fold:          foldFor(c.CaseMapping),
		nicks:         make(map[string]*user.User),
		uids:          make(map[string]*user.User),
		channels:      make(map[string]*channel.Channel),
		serversByName: make(map[string]*Node),
		serversBySID:  make(map[string]*Node),
		links:         make(map[*Link]struct{}),
		whowas:        newWhowasStack(256),
		metrics:       newMetrics(),
		uidRotor:      []byte("AAAAAA"),
	}

	s.root = &Node{Name: s.name, Desc: c.Server.Description, SID: s.sid, Version: Version}
	s.addServerNode(s.root)

	xl, err := openXLines(c.XLineDB)
	if err != nil {
		return nil, err
	}
	s.xlines = xl

	now := time.Now().Unix()
	for _, d := range c.XLines {
		if d.Kind == "" {
			continue
		}
		s.xlines.add(&XLine{
			Kind:     d.Kind[0],
			Mask:     d.Mask,
			SetBy:    s.name,
			SetAt:    now,
			Duration: int64(d.Duration.Duration / time.Second),
			Reason:   d.Reason,
		})
	}

	// transports must resolve and listeners must bind before anything
	// else starts
	for _, l := range c.Listeners {
		if _, err := client.LookupTransport(l.Transport); err != nil {
			return nil, err
		}
		ln, err := net.Listen("tcp", l.Addr)
		if err != nil {
			s.closeListeners()
			return nil, err
		}
		s.listeners = append(s.listeners, ln)
	}
	return s, nil
}

// Addr is the bound address of the first listener; tests dial it.
func (s *Server) Addr() string {
	if len(s.listeners) == 0 {
		return ""
	}
	return s.listeners[0].Addr().String()
}

// Serve starts accepting and blocks until Close.
func (s *Server) Serve() error {
	for i, lc := range s.conf.Listeners {
		ln := s.listeners[i]
		hook, _ := client.LookupTransport(lc.Transport)
		role := lc.Role
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				go s.handleConn(conn, role, hook)
			}
		}()
	}

	if s.conf.PidFile != "" {
		if err := os.WriteFile(s.conf.PidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
			log.Println("pidfile:", err)
		}
	}

	s.metrics.serve(s.conf.MetricsAddr)
	s.startTimers()

	s.loop.run()
	return nil
}

func (s *Server) startTimers() {
	s.loop.ScheduleRepeating(s.conf.PingInterval.Duration, s.pingRound)
	s.loop.ScheduleRepeating(time.Hour, func() { s.xlines.purgeExpired(time.Now().Unix()) })

	for i := range s.conf.Links {
		lc := &s.conf.Links[i]
		if lc.AutoConnect.Duration > 0 {
			lc := lc
			s.loop.ScheduleRepeating(lc.AutoConnect.Duration, func() {
				if _, linked := s.FindServer(lc.Name); !linked {
					s.connectLink(lc)
				}
			})
		}
	}
}

// Close tears the daemon down; every cleanup runs unconditionally,
// leaves first.
func (s *Server) Close() {
	done := make(chan struct{})
	s.loop.Post(func() {
		defer close(done)
		if s.closing {
			return
		}
		s.closing = true

		for l := range s.links {
			l.sendError("Server shutting down")
			l.close()
		}
		for _, u := range s.uids {
			if u.IsLocal() {
				s.quitUser(u, "Server shutting down", nil)
			}
		}
	})
	<-done

	s.closeListeners()
	s.loop.stop()
	s.xlines.close()
	if s.conf.PidFile != "" {
		os.Remove(s.conf.PidFile)
	}
	s.wg.Wait()
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		ln.Close()
	}
}

func (s *Server) handleConn(conn net.Conn, role string, hook client.TransportHook) {
	c, err := client.New(conn, hook)
	if err != nil {
		log.Println("transport:", err)
		return
	}

	if role == "servers" {
		s.loop.Post(func() { s.acceptLink(c) })
		return
	}

	s.loop.Post(func() { s.acceptClient(c) })
}

func (s *Server) acceptClient(c *client.Client) {
	// Z-lines match on bare IP before any protocol exchange
	if x, ok := s.xlines.matchZ(c.IP(), time.Now().Unix()); ok {
		fmt.Fprintf(c, "ERROR :Closing link: (Z-lined: %s)", x.Reason)
		c.Flush()
		c.Close()
		return
	}

	u := user.New(s.nextUID())
	u.Local = c
	u.Host = c.Hostname()
	u.DisplayedHost = u.Host
	u.IP = c.IP()
	s.unknowns++

	// a small window to register before being kicked off
	regTimer := s.loop.Schedule(s.conf.RegTimeout.Duration, func() {
		if c.State != client.StateAll {
			s.teardownUnknown(u, "Registration timeout")
		}
	})

	go s.readLines(u, regTimer)
}

// readLines is the per-connection pump: every parsed line becomes a
// closure on the loop.
func (s *Server) readLines(u *user.User, regTimer *Timer) {
	c := u.Local
	for {
		line, err := c.ReadLine()
		if err != nil {
			reason := "Connection closed"
			if err == client.ErrOverflow {
				reason = "Input buffer overflow"
			}
			s.loop.Post(func() {
				if c.State == client.StateAll {
					s.quitUser(u, reason, nil)
				} else {
					s.teardownUnknown(u, reason)
				}
			})
			return
		}

		m, err := msg.Parse(line)
		if err != nil {
			// empty or malformed client lines are dropped quietly
			continue
		}
		s.loop.Post(func() {
			s.executeMessage(m, u)
			if c.State == client.StateAll && regTimer != nil {
				regTimer.Cancel()
				regTimer = nil
			}
		})
	}
}

// teardownUnknown disposes of a connection that never registered.
// Safe to call twice; the cull key dedupes.
func (s *Server) teardownUnknown(u *user.User, reason string) {
	c := u.Local
	s.loop.Cull(c, func() {
		fmt.Fprintf(c, "ERROR :Closing link: (%s)", reason)
		c.Flush()
		c.Close()
		s.unknowns--
	})
}

// quitUser is the single exit path for a registered user: membership
// purge, hash removal, whowas, peer propagation, socket cull. Calling
// it twice is a no-op.
func (s *Server) quitUser(u *user.User, reason string, omit *Link) {
	if _, ok := s.uids[u.UID]; !ok {
		return
	}
	delete(s.uids, u.UID)
	delete(s.nicks, s.fold(u.Nick))

	// every local client sharing a channel hears the QUIT once
	quitLine := msg.New(u.Nick, u.Ident, u.DisplayedHost, "QUIT", []string{reason}, true).String()
	informed := make(map[string]struct{})
	for name := range u.Channels {
		ch, ok := s.getChannel(name)
		if !ok {
			continue
		}
		ch.DeleteMember(u.UID)
		for _, m := range ch.Members {
			if !m.IsLocal() {
				continue
			}
			if _, dup := informed[m.UID]; dup {
				continue
			}
			informed[m.UID] = struct{}{}
			m.Local.WriteString(quitLine)
			m.Local.Flush()
		}
		if ch.Len() == 0 {
			s.deleteChannel(name)
		}
	}
	u.Channels = make(map[string]struct{})

	s.whowas.push(u)

	out := msg.New(u.UID, "", "", "QUIT", []string{reason}, true)
	s.oneToAllButSender(out, omit)

	if u.IsLocal() {
		c := u.Local
		s.loop.Cull(c, func() {
			fmt.Fprintf(c, "ERROR :Closing link: %s (%s)", u.Nick, reason)
			c.Flush()
			c.Close()
		})
	}
	s.metrics.setUsers(s.localUserCount(), len(s.uids))
}

// registry access

func (s *Server) getUser(nick string) (*user.User, bool) {
	u, ok := s.nicks[s.fold(nick)]
	return u, ok
}

func (s *Server) getUserByUID(uid string) (*user.User, bool) {
	u, ok := s.uids[uid]
	return u, ok
}

// resolveTarget accepts either form; s2s lines carry UIDs where
// clients type nicks.
func (s *Server) resolveTarget(t string) (*user.User, bool) {
	if u, ok := s.getUserByUID(t); ok {
		return u, true
	}
	return s.getUser(t)
}

func (s *Server) getChannel(name string) (*channel.Channel, bool) {
	ch, ok := s.channels[s.fold(name)]
	return ch, ok
}

func (s *Server) setChannel(ch *channel.Channel) {
	s.channels[s.fold(ch.Name)] = ch
	s.metrics.setChannels(len(s.channels))
}

func (s *Server) deleteChannel(name string) {
	delete(s.channels, s.fold(name))
	s.metrics.setChannels(len(s.channels))
}

func (s *Server) localUserCount() int {
	n := 0
	for _, u := range s.uids {
		if u.IsLocal() {
			n++
		}
	}
	return n
}

// nextUID hands out SID+AAAAAA, SID+AAAAAB, ... The rotor never goes
// backwards, so a UID is never reused within a run.
func (s *Server) nextUID() string {
	uid := s.sid + string(s.uidRotor)
	for i := len(s.uidRotor) - 1; i >= 0; i-- {
		if s.uidRotor[i] < 'Z' {
			s.uidRotor[i]++
			break
		}
		s.uidRotor[i] = 'A'
	}
	return uid
}

// sendToUser delivers to a local client or routes toward the user's
// server.
func (s *Server) sendToUser(u *user.User, m *msg.Message) {
	if u.IsLocal() {
		u.Local.WriteMessage(m)
		u.Local.Flush()
		return
	}
	s.oneToOne(m, u.SID())
}

// sendToChannel writes the client-form line to local members only;
// callers send their own UID-prefixed wire form to peers.
func (s *Server) sendToChannel(ch *channel.Channel, m *msg.Message, except *user.User, omit *Link, minRank int) {
	line := m.String()
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
}

// membership mutations keep the two-sided index in step

func (s *Server) addMember(ch *channel.Channel, u *user.User, p channel.Prefix) {
	ch.SetMember(&channel.Member{User: u, Prefix: p})
	u.Channels[s.fold(ch.Name)] = struct{}{}
}

func (s *Server) removeMember(ch *channel.Channel, u *user.User) {
	ch.DeleteMember(u.UID)
	delete(u.Channels, s.fold(ch.Name))
	if ch.Len() == 0 {
		s.deleteChannel(ch.Name)
	}
}

func (s *Server) pingRound() {
	now := time.Now().Unix()

	// client liveness
	for _, u := range s.uids {
		if !u.IsLocal() {
			continue
		}
		c := u.Local
		if c.ExpectingPONG {
			s.quitUser(u, "Ping timeout", nil)
			continue
		}
		c.ExpectingPONG = true
		fmt.Fprintf(c, "PING :%s", s.name)
		c.Flush()
	}

	// link liveness
	for l := range s.links {
		if l.state != linkConnected {
			continue
		}
		n := l.node
		if n.PingOutstanding && now-n.LastPingSent > int64(s.conf.PingTimeout.Duration/time.Second) {
			s.squitLink(l, "Ping timeout")
			continue
		}
		if !n.PingOutstanding {
			n.PingOutstanding = true
			n.LastPingSent = now
			l.WriteMessage(msg.New(s.sid, "", "", "PING", []string{s.sid, n.SID}, false))
		}
	}
}
