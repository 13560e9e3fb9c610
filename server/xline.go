package server

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mitchr/braid/scan/msg"
	"github.com/mitchr/braid/scan/wild"
	"github.com/mitchr/braid/user"
	_ "modernc.org/sqlite"
)

// XLine is one network or local ban.
//
//	G  user@host, network wide
//	K  user@host, this server only
//	Z  bare IP, checked before registration
//	Q  nickname
//	E  user@host exemption from G and K
type XLine struct {
	Kind     byte
	Mask     string
	SetBy    string
	SetAt    int64
	Duration int64 // seconds; 0 is permanent
	Reason   string
}

func (x *XLine) expired(now int64) bool {
	return x.Duration > 0 && x.SetAt+x.Duration <= now
}

func (x *XLine) String() string {
	return fmt.Sprintf("%c-line %s", x.Kind, x.Mask)
}

// XLines keeps the five lists and, when a database path is
// configured, mirrors them into sqlite so bans survive a restart.
type XLines struct {
	lines map[byte][]*XLine
	db    *sql.DB
}

func openXLines(path string) (*XLines, error) {
	x := &XLines{lines: make(map[byte][]*XLine)}
	if path == "" {
		return x, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS xline(
		kind TEXT,
		mask TEXT,
		setby TEXT,
		setat INTEGER,
		duration INTEGER,
		reason TEXT,
		PRIMARY KEY(kind, mask)
	);`); err != nil {
		db.Close()
		return nil, err
	}
	x.db = db

	rows, err := db.Query("SELECT kind, mask, setby, setat, duration, reason FROM xline")
	if err != nil {
		db.Close()
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		l := &XLine{}
		if err := rows.Scan(&kind, &l.Mask, &l.SetBy, &l.SetAt, &l.Duration, &l.Reason); err != nil {
			continue
		}
		if kind != "" {
			l.Kind = kind[0]
			x.lines[l.Kind] = append(x.lines[l.Kind], l)
		}
	}
	return x, rows.Err()
}

func (x *XLines) close() {
	if x.db != nil {
		x.db.Close()
	}
}

// add installs l, replacing any line of the same kind and mask.
func (x *XLines) add(l *XLine) {
	x.remove(l.Kind, l.Mask)
	x.lines[l.Kind] = append(x.lines[l.Kind], l)
	if x.db != nil {
		x.db.Exec("INSERT OR REPLACE INTO xline VALUES(?, ?, ?, ?, ?, ?)",
			string(l.Kind), l.Mask, l.SetBy, l.SetAt, l.Duration, l.Reason)
	}
}

func (x *XLines) remove(kind byte, mask string) bool {
	l := x.lines[kind]
	for i, v := range l {
		if strings.EqualFold(v.Mask, mask) {
			x.lines[kind] = append(l[:i], l[i+1:]...)
			if x.db != nil {
				x.db.Exec("DELETE FROM xline WHERE kind = ? AND mask = ?", string(kind), mask)
			}
			return true
		}
	}
	return false
}

func (x *XLines) all(kind byte) []*XLine { return x.lines[kind] }

// match scans one list; expiry is lazy, checked as lines are walked.
func (x *XLines) match(kind byte, now int64, against ...string) (*XLine, bool) {
	live := x.lines[kind][:0]
	var hit *XLine
	for _, l := range x.lines[kind] {
		if l.expired(now) {
			if x.db != nil {
				x.db.Exec("DELETE FROM xline WHERE kind = ? AND mask = ?", string(l.Kind), l.Mask)
			}
			continue
		}
		live = append(live, l)
		if hit != nil {
			continue
		}
		for _, a := range against {
			if wild.Match(strings.ToLower(l.Mask), strings.ToLower(a)) {
				hit = l
				break
			}
		}
	}
	x.lines[kind] = live
	return hit, hit != nil
}

func (x *XLines) matchZ(ip string, now int64) (*XLine, bool) {
	return x.match('Z', now, ip)
}

// matchUser tests G and K against user@host, honouring E exemptions.
func (x *XLines) matchUser(u *user.User, now int64) (*XLine, bool) {
	if _, exempt := x.match('E', now, u.IdentHost()); exempt {
		return nil, false
	}
	if l, ok := x.match('G', now, u.IdentHost()); ok {
		return l, true
	}
	return x.match('K', now, u.IdentHost())
}

func (x *XLines) matchQ(nick string, now int64) (*XLine, bool) {
	return x.match('Q', now, nick)
}

func (x *XLines) purgeExpired(now int64) {
	for kind := range x.lines {
		x.match(kind, now)
	}
}

// applyXLines tests a local user on registration completion and nick
// change; a hit quits the user. Reports whether the user was removed.
func (s *Server) applyXLines(u *user.User) bool {
	now := time.Now().Unix()

	l, ok := s.xlines.matchQ(u.Nick, now)
	if !ok {
		l, ok = s.xlines.matchUser(u, now)
	}
	if !ok {
		return false
	}

	reason := l.Reason
	if reason == "" {
		reason = "Banned"
	}
	s.snotice('x', "%s matched %s: %s", u.Mask(), l, reason)
	s.reply(u, ERR_YOUREBANNEDCREEP, reason)
	s.quitUser(u, reason, nil)
	return true
}

// addXLine installs a line and, for the network-scoped kinds,
// propagates it.
func (s *Server) addXLine(l *XLine, omit *Link) {
	s.xlines.add(l)
	s.snotice('x', "%s added %s (%s)", l.SetBy, l, l.Reason)

	switch l.Kind {
	case 'G', 'Z', 'Q':
		s.oneToAllButSender(msg.New(s.sid, "", "", "ADDLINE",
			[]string{string(l.Kind), l.Mask, l.SetBy,
				fmt.Sprintf("%d", l.SetAt), fmt.Sprintf("%d", l.Duration), l.Reason}, true), omit)
	}

	// sweep current users; a fresh line may hit someone online
	if l.Kind != 'E' {
		for _, u := range s.uids {
			if u.IsLocal() {
				s.applyXLines(u)
			}
		}
	}
}

func (s *Server) statsXLines(u *user.User, letter string) {
	kind := strings.ToUpper(letter)[0]
	for _, l := range s.xlines.all(kind) {
		s.reply(u, RPL_INFO, fmt.Sprintf("%c %s %d %d :%s", l.Kind, l.Mask, l.SetAt, l.Duration, l.Reason))
	}
}
