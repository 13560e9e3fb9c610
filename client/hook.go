package client

import (
	"fmt"
	"net"
)

// A TransportHook interposes on the raw byte stream of a connection,
// typically to speak TLS. Wrap must complete any handshake before
// returning; the daemon treats the returned conn as ready for
// protocol data.
type TransportHook interface {
	Name() string
	Wrap(net.Conn) (net.Conn, error)
}

var transports = map[string]TransportHook{}

// RegisterTransport installs a hook under its name. Registration
// happens at load time, before any listener binds.
func RegisterTransport(h TransportHook) {
	transports[h.Name()] = h
}

// LookupTransport resolves a hook name from a listener or link block.
// The empty name is the plaintext transport.
func LookupTransport(name string) (TransportHook, error) {
	if name == "" {
		return nil, nil
	}
	h, ok := transports[name]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q", name)
	}
	return h, nil
}
