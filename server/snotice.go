package server

import (
	"fmt"
	"strings"

	"github.com/mitchr/braid/client"
	"github.com/mitchr/braid/scan/msg"
)

// snotice letters:
//
//	c  client connects
//	d  debug
//	k  kills
//	l  link events
//	o  oper events
//	x  x-line activity
//
// Local opers hear the letters in their snomask. MODE +s gives an empty
// snomask every letter above and -s clears it; single letters cannot be
// picked.
func (s *Server) snotice(letter byte, format string, f ...interface{}) {
	text := fmt.Sprintf("*** %s", fmt.Sprintf(format, f...))
	for _, u := range s.uids {
		if !u.IsLocal() || !u.Is(client.ServerNotice) {
			continue
		}
		if !strings.ContainsRune(u.Snomask, rune(letter)) {
			continue
		}
		u.Local.WriteMessage(msg.New(s.name, "", "", "NOTICE", []string{u.Nick, text}, true))
		u.Local.Flush()
	}
}

// snoticeRemote additionally fans the notice out to peers as
// SNONOTICE, so the whole network's opers see it.
func (s *Server) snoticeRemote(letter byte, format string, f ...interface{}) {
	s.snotice(letter, format, f...)
	text := fmt.Sprintf(format, f...)
	s.oneToMany(msg.New(s.sid, "", "", "SNONOTICE", []string{string(letter), text}, true))
}
