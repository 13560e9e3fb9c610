package server

import "github.com/mitchr/braid/user"

type whowasEntry struct {
	nick, ident, host, gecos string
}

// whowasStack remembers the last max departed users, newest first.
type whowasStack struct {
	entries []whowasEntry
	max     int
}

func newWhowasStack(max int) *whowasStack {
	return &whowasStack{max: max}
}

func (w *whowasStack) push(u *user.User) {
	if u.Nick == "" {
		return
	}
	e := whowasEntry{nick: u.Nick, ident: u.Ident, host: u.DisplayedHost, gecos: u.Gecos}
	w.entries = append([]whowasEntry{e}, w.entries...)
	if len(w.entries) > w.max {
		w.entries = w.entries[:w.max]
	}
}

func (w *whowasStack) find(foldedNick string, fold foldFunc) []whowasEntry {
	var out []whowasEntry
	for _, e := range w.entries {
		if fold(e.nick) == foldedNick {
			out = append(out, e)
		}
	}
	return out
}
