package server

import (
	"github.com/mitchr/braid/scan/msg"
)

// Node is one server in the spanning tree. The root is this daemon;
// children hang off the node they were introduced through. Only
// children of the root have a Link.
type Node struct {
	Name    string
	Desc    string
	SID     string
	Version string

	Parent   *Node
	Children []*Node

	// the directly-connected socket for adjacent servers, nil
	// otherwise
	Link *Link

	Hops     int
	Hidden   bool
	Bursting bool

	LastPingSent    int64
	PingOutstanding bool
}

func (n *Node) IsRoot() bool { return n.Parent == nil }

// Route is the child-of-root on the path from the root to n; nil for
// the root itself. Route() == n exactly when n hangs directly off the
// root.
func (n *Node) Route() *Node {
	if n.IsRoot() {
		return nil
	}
	for !n.Parent.IsRoot() {
		n = n.Parent
	}
	return n
}

// Subtree collects n and every descendant, leaves last.
func (n *Node) Subtree() []*Node {
	out := []*Node{n}
	for _, c := range n.Children {
		out = append(out, c.Subtree()...)
	}
	return out
}

func (n *Node) addChild(c *Node) {
	c.Parent = n
	c.Hops = n.Hops + 1
	n.Children = append(n.Children, c)
}

func (n *Node) removeChild(c *Node) {
	for i, v := range n.Children {
		if v == c {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return
		}
	}
}

// registration of a node into the hashes; the caller has already hung
// it on its parent
func (s *Server) addServerNode(n *Node) {
	s.serversByName[s.fold(n.Name)] = n
	s.serversBySID[n.SID] = n
}

func (s *Server) removeServerNode(n *Node) {
	delete(s.serversByName, s.fold(n.Name))
	delete(s.serversBySID, n.SID)
}

// FindServer resolves a server name; the root resolves too.
func (s *Server) FindServer(name string) (*Node, bool) {
	n, ok := s.serversByName[s.fold(name)]
	return n, ok
}

func (s *Server) FindSID(sid string) (*Node, bool) {
	n, ok := s.serversBySID[sid]
	return n, ok
}

// BestRouteTo gives the direct peer whose subtree contains name; nil
// when name is this server.
func (s *Server) BestRouteTo(name string) (*Node, bool) {
	n, ok := s.FindServer(name)
	if !ok {
		return nil, false
	}
	return n.Route(), true
}

// oneToOne routes a line toward a single server, identified by SID.
func (s *Server) oneToOne(m *msg.Message, targetSID string) {
	n, ok := s.FindSID(targetSID)
	if !ok || n.IsRoot() {
		return
	}
	if r := n.Route(); r != nil && r.Link != nil {
		r.Link.WriteMessage(m)
	}
}

// oneToMany sends to every directly connected peer.
func (s *Server) oneToMany(m *msg.Message) {
	s.oneToAllButSender(m, nil)
}

// oneToAllButSender sends to every direct peer except the one the
// line arrived on, so a broadcast never folds back into its own
// subtree.
func (s *Server) oneToAllButSender(m *msg.Message, omit *Link) {
	for _, c := range s.root.Children {
		if c.Link == nil || c.Link == omit {
			continue
		}
		c.Link.WriteMessage(m)
	}
}

// channelBranches computes the set of direct peers that carry at
// least one member of ch, membership optionally filtered by a minimum
// status rank. Each branch is counted once no matter how many members
// sit behind it.
func (s *Server) channelBranches(chName string, minRank int, omit *Link) []*Link {
	ch, ok := s.getChannel(chName)
	if !ok {
		return nil
	}

	seen := make(map[*Link]struct{})
	var out []*Link
	for _, m := range ch.Members {
		if m.IsLocal() {
			continue
		}
		if minRank > 0 && m.Prefix.Rank() < minRank {
			continue
		}
		n, ok := s.FindSID(m.SID())
		if !ok {
			continue
		}
		r := n.Route()
		if r == nil || r.Link == nil || r.Link == omit {
			continue
		}
		if _, dup := seen[r.Link]; dup {
			continue
		}
		seen[r.Link] = struct{}{}
		out = append(out, r.Link)
	}
	return out
}
