package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mitchr/braid/scan/msg"
)

const (
	// longest accepted line, terminator included
	MaxLineLen = 512
	// input accumulator cap; a line still unterminated at this point
	// closes the connection
	maxInput = 8192
)

var (
	ErrOverflow = errors.New("input buffer overflow")
	ErrDead     = errors.New("connection already closed")
)

// RegState tracks how far a new connection has come through NICK/USER.
type RegState uint8

const (
	StateNone RegState = iota
	StateUser
	StateNick
	StateAll
)

// Client wraps one TCP connection: a capped line reader on the input
// side and a queued writer on the output side. Both local users and
// server links sit on top of one of these.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	outLock sync.Mutex
	out     [][]byte

	closeOnce sync.Once
	dead      error

	// registration scratch, canonicalized into a user record once the
	// connection reaches StateAll
	State       RegState
	Nick        string
	Ident       string
	Realname    string
	PassAttempt string

	Idle          time.Time
	ExpectingPONG bool
}

// New wraps conn, routing it through hook first when one is given.
// The hook performs its own handshake inside Wrap; the connection is
// not usable for protocol data until Wrap returns.
func New(conn net.Conn, hook TransportHook) (*Client, error) {
	if hook != nil {
		wrapped, err := hook.Wrap(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = wrapped
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, maxInput),
		Idle:   time.Now(),
	}, nil
}

// ReadLine blocks until a full line arrives. A line that outgrows the
// input buffer gives back ErrOverflow; the caller closes the
// connection.
func (c *Client) ReadLine() ([]byte, error) {
	b, err := c.reader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, ErrOverflow
	}
	if err != nil {
		return nil, err
	}
	if len(b) > MaxLineLen {
		return nil, ErrOverflow
	}
	// ReadSlice's buffer is only valid until the next read
	line := make([]byte, len(b))
	copy(line, b)
	return line, nil
}

// Write queues b as a single line, terminator appended. The bytes do
// not leave the process until Flush. Implements io.Writer so handlers
// can fmt.Fprintf straight at a client.
func (c *Client) Write(b []byte) (int, error) {
	c.outLock.Lock()
	defer c.outLock.Unlock()
	if c.dead != nil {
		return 0, c.dead
	}
	line := make([]byte, 0, len(b)+2)
	line = append(line, b...)
	line = append(line, '\r', '\n')
	c.out = append(c.out, line)
	return len(b), nil
}

func (c *Client) WriteString(s string) (int, error) { return c.Write([]byte(s)) }

func (c *Client) WriteMessage(m *msg.Message) {
	c.WriteString(m.String())
}

// Flush drains the output queue. On a short or failed write the
// remainder stays queued and the error is recorded; all later writes
// fail fast with it.
func (c *Client) Flush() error {
	c.outLock.Lock()
	defer c.outLock.Unlock()
	if c.dead != nil {
		return c.dead
	}

	for len(c.out) > 0 {
		n, err := c.conn.Write(c.out[0])
		if err != nil {
			if n > 0 && n < len(c.out[0]) {
				// splice the unwritten remainder back onto the head
				c.out[0] = c.out[0][n:]
			}
			c.dead = err
			return err
		}
		c.out = c.out[1:]
	}
	c.out = nil
	return nil
}

// PendingOutput reports whether Flush still has work to do.
func (c *Client) PendingOutput() bool {
	c.outLock.Lock()
	defer c.outLock.Unlock()
	return len(c.out) > 0
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.outLock.Lock()
		if c.dead == nil {
			c.dead = ErrDead
		}
		c.outLock.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// IP gives back the bare address, port stripped.
func (c *Client) IP() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

// Hostname is the displayed connecting host; the resolver is an
// external collaborator, so this is the IP until something rewrites it.
func (c *Client) Hostname() string { return c.IP() }

func (c *Client) String() string {
	if c.Nick == "" {
		return "*"
	}
	if c.Ident != "" {
		return fmt.Sprintf("%s!%s@%s", c.Nick, c.Ident, c.Hostname())
	}
	return c.Nick
}
