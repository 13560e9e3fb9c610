package msg

import "fmt"

// Message represents a single irc line. The source is split into
// nick!user@host when the prefix carries one; a bare prefix (a server
// name, SID, or UID on a server link) lands in Nick alone.
type Message struct {
	Nick, User, Host string
	Command          string
	Params           []string
	// true if a trailing lexeme was found, even if trailing itself is
	// blank; a blank trailing is significant for TOPIC
	trailingSet bool
}

func New(nick, user, host, command string, params []string, trailing bool) *Message {
	return &Message{
		Nick:        nick,
		User:        user,
		Host:        host,
		Command:     command,
		Params:      params,
		trailingSet: trailing,
	}
}

// Source gives back the composite prefix without the leading colon.
func (m Message) Source() string {
	if m.User != "" {
		return fmt.Sprintf("%s!%s@%s", m.Nick, m.User, m.Host)
	} else if m.Host != "" {
		return fmt.Sprintf("%s@%s", m.Nick, m.Host)
	}
	return m.Nick
}

func (m Message) String() string {
	var prefix string
	if m.Nick != "" {
		prefix = ":" + m.Source() + " "
	}

	var params string
	for i, v := range m.Params {
		if i == len(m.Params)-1 && m.trailingSet {
			v = ":" + v
		}
		params += " " + v
	}

	return prefix + m.Command + params
}

// Bytes gives back the line with its crlf terminator attached.
func (m Message) Bytes() []byte {
	return append([]byte(m.String()), '\r', '\n')
}

// SetTrailing marks the final parameter as a trailing parameter so
// that String emits it behind a colon. Needed whenever the last param
// may contain spaces or be empty.
func (m *Message) SetTrailing() *Message {
	m.trailingSet = true
	return m
}

func (m Message) HasTrailing() bool { return m.trailingSet }
