package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchr/braid/scan/mode"
)

type ModeKind int

const (
	// on/off flag
	Simple ModeKind = iota
	// carries a value (key, limit)
	Parametric
	// mask list with attribution (ban/except/invex)
	List
	// decorates a member, not the channel
	Status
)

// a modeFunc modifies a channel's mode. add is true when the change
// arrived with '+'.
type modeFunc func(ch *Channel, param string, add bool) error

type handler struct {
	kind ModeKind
	// addConsumes is true if '+modeChar' takes a parameter, same for
	// remConsumes and '-modeChar'
	addConsumes, remConsumes bool
	apply                    modeFunc
	// current value, for answering a newer-TS FMODE with ours
	get func(ch *Channel) (isSet bool, param string)
	// which list a list mode appends to
	list func(ch *Channel) *[]ListEntry
}

var (
	ErrNeedMoreParams = errors.New("missing mode parameter")
	ErrUnknownMode    = errors.New("unknown mode")
	ErrNotInChan      = errors.New("target not in channel")
	ErrInvalidKey     = errors.New("malformed key")
	ErrListFull       = errors.New("list is full")
)

var channelLetter = map[byte]handler{
	'b': {kind: List, addConsumes: true, remConsumes: true,
		list: func(ch *Channel) *[]ListEntry { return &ch.Bans }},
	'e': {kind: List, addConsumes: true, remConsumes: true,
		list: func(ch *Channel) *[]ListEntry { return &ch.Excepts }},
	'I': {kind: List, addConsumes: true, remConsumes: true,
		list: func(ch *Channel) *[]ListEntry { return &ch.Invexes }},

	'k': {kind: Parametric, addConsumes: true, remConsumes: true,
		apply: func(ch *Channel, param string, add bool) error {
			if add {
				if !keyIsValid(param) {
					return ErrInvalidKey
				}
				ch.Key = param
			} else {
				ch.Key = ""
			}
			return nil
		},
		get: func(ch *Channel) (bool, string) { return ch.Key != "", ch.Key }},

	'l': {kind: Parametric, addConsumes: true,
		apply: func(ch *Channel, param string, add bool) error {
			if add {
				n, err := strconv.Atoi(param)
				if err != nil || n < 1 {
					return fmt.Errorf("%w: bad limit %q", ErrNeedMoreParams, param)
				}
				ch.Limit = n
			} else {
				ch.Limit = 0
			}
			return nil
		},
		get: func(ch *Channel) (bool, string) { return ch.Limit > 0, strconv.Itoa(ch.Limit) }},

	'i': simple(func(ch *Channel) *bool { return &ch.Invite }),
	'm': simple(func(ch *Channel) *bool { return &ch.Moderated }),
	'n': simple(func(ch *Channel) *bool { return &ch.NoExternal }),
	's': simple(func(ch *Channel) *bool { return &ch.Secret }),
	't': simple(func(ch *Channel) *bool { return &ch.Protected }),
}

func simple(field func(ch *Channel) *bool) handler {
	return handler{
		kind:  Simple,
		apply: func(ch *Channel, _ string, add bool) error { *field(ch) = add; return nil },
		get:   func(ch *Channel) (bool, string) { return *field(ch), "" },
	}
}

// status modes live in their own table; their "parameter" is a member,
// which the caller resolves to a UID first
var memberLetter = map[byte]Prefix{
	'q': Founder,
	'a': Admin,
	'o': Op,
	'h': Halfop,
	'v': Voice,
}

// StatusModeLetter resolves a mode char to its prefix bit.
func StatusModeLetter(c byte) (Prefix, bool) {
	p, ok := memberLetter[c]
	return p, ok
}

// KnownLetter reports whether c is any channel or status mode.
func KnownLetter(c byte) bool {
	if _, ok := channelLetter[c]; ok {
		return true
	}
	_, ok := memberLetter[c]
	return ok
}

// Consumes reports whether the letter pulls a positional parameter for
// the given direction. Status modes always do.
func Consumes(c byte, adding bool) bool {
	if _, ok := memberLetter[c]; ok {
		return true
	}
	h, ok := channelLetter[c]
	if !ok {
		return false
	}
	if adding {
		return h.addConsumes
	}
	return h.remConsumes
}

// IsListMode reports whether c keeps a mask list.
func IsListMode(c byte) bool {
	h, ok := channelLetter[c]
	return ok && h.kind == List
}

// ModeValue reports whether a parametric or simple mode is currently
// set and its canonical parameter; used when bouncing a newer-TS FMODE.
func (ch *Channel) ModeValue(c byte) (isSet bool, param string, ok bool) {
	h, found := channelLetter[c]
	if !found || h.get == nil {
		return false, "", false
	}
	isSet, param = h.get(ch)
	return isSet, param, true
}

// ListEntries gives back the named list; nil for non-list letters.
func (ch *Channel) ListEntries(c byte) []ListEntry {
	h, ok := channelLetter[c]
	if !ok || h.kind != List {
		return nil
	}
	return *h.list(ch)
}

// ApplyMode applies one parsed change to the channel. It does not
// check the source's privileges; the command layer does that. setter
// and now attribute list entries; listMax bounds list growth (0 =
// unbounded).
func (ch *Channel) ApplyMode(m mode.Mode, setter string, now int64, listMax int) error {
	h, ok := channelLetter[m.ModeChar]
	if !ok {
		if _, isStatus := memberLetter[m.ModeChar]; isStatus {
			// resolved by the caller via ApplyStatus
			return ErrNotInChan
		}
		return fmt.Errorf("%w: %c", ErrUnknownMode, m.ModeChar)
	}

	add := m.Type == mode.Add
	if Consumes(m.ModeChar, add) && m.Param == "" {
		return fmt.Errorf("%w: %s", ErrNeedMoreParams, m)
	}

	if h.kind == List {
		return ch.applyList(h, m, setter, now, listMax)
	}
	return h.apply(ch, m.Param, add)
}

func (ch *Channel) applyList(h handler, m mode.Mode, setter string, now int64, listMax int) error {
	l := h.list(ch)
	if m.Type == mode.Add {
		for _, e := range *l {
			if strings.EqualFold(e.Mask, m.Param) {
				// refuse duplicates silently
				return nil
			}
		}
		if listMax > 0 && len(*l) >= listMax {
			return fmt.Errorf("%w: %c", ErrListFull, m.ModeChar)
		}
		*l = append(*l, ListEntry{Mask: m.Param, SetBy: setter, SetAt: now})
		return nil
	}

	for i, e := range *l {
		if strings.EqualFold(e.Mask, m.Param) {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return nil
		}
	}
	return nil
}

// MergeList unions a remote list into ours, skipping masks already
// present. The FMODE handlers do not call it; they apply list changes
// one by one through ApplyMode.
func (ch *Channel) MergeList(c byte, entries []ListEntry, listMax int) {
	h, ok := channelLetter[c]
	if !ok || h.kind != List {
		return
	}
	l := h.list(ch)
outer:
	for _, e := range entries {
		for _, have := range *l {
			if strings.EqualFold(have.Mask, e.Mask) {
				continue outer
			}
		}
		if listMax > 0 && len(*l) >= listMax {
			return
		}
		*l = append(*l, e)
	}
}

// ApplyStatus grants or removes a prefix bit on a member.
func (ch *Channel) ApplyStatus(uid string, p Prefix, add bool) error {
	m, ok := ch.GetMember(uid)
	if !ok {
		return ErrNotInChan
	}
	if add {
		m.Prefix |= p
	} else {
		m.Prefix &^= p
	}
	return nil
}

func keyIsValid(key string) bool {
	return key != "" && !strings.ContainsAny(key, "\000\r\n\t\v ") && len(key) < 23
}

// PopulateModeParams associates positional params with parsed modes in
// index order, so "MODE #test +ok alice password" pairs 'o' with
// 'alice' and 'k' with 'password'. Letters that take no argument and
// unknown letters are skipped.
func PopulateModeParams(modes []mode.Mode, params []string) {
	pos := 0
	for i, m := range modes {
		if pos > len(params)-1 {
			return
		}
		if !KnownLetter(m.ModeChar) {
			continue
		}
		if Consumes(m.ModeChar, m.Type == mode.Add) {
			modes[i].Param = params[pos]
			pos++
		}
	}
}

// A Change is one applied mode, ready for wire formatting.
type Change struct {
	Char  byte
	Add   bool
	Param string
}

// Stack canonicalises applied changes into modestring+params lines,
// combining like-signed runs and emitting at most maxParams
// parameter-bearing changes per line.
func Stack(changes []Change, maxParams int) []string {
	if len(changes) == 0 {
		return nil
	}
	if maxParams < 1 {
		maxParams = len(changes)
	}

	var lines []string
	var modes strings.Builder
	var params []string
	var lastAdd *bool
	nparams := 0

	flush := func() {
		if modes.Len() == 0 {
			return
		}
		line := modes.String()
		if len(params) > 0 {
			line += " " + strings.Join(params, " ")
		}
		lines = append(lines, line)
		modes.Reset()
		params = nil
		lastAdd = nil
		nparams = 0
	}

	for _, c := range changes {
		if c.Param != "" && nparams == maxParams {
			flush()
		}
		if lastAdd == nil || *lastAdd != c.Add {
			if c.Add {
				modes.WriteByte('+')
			} else {
				modes.WriteByte('-')
			}
			add := c.Add
			lastAdd = &add
		}
		modes.WriteByte(c.Char)
		if c.Param != "" {
			params = append(params, c.Param)
			nparams++
		}
	}
	flush()
	return lines
}
