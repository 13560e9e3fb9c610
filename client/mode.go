package client

import (
	"github.com/mitchr/braid/scan/mode"
)

type Mode uint32

// Modes are represented as bit masks
const (
	Invisible Mode = 1 << iota
	Wallops
	Op
	LocalOp
	// away is set through AWAY, never through MODE
	Away
	// receives snotices; which letters is tracked separately
	ServerNotice
	Hidden
)

var letter = map[byte]Mode{
	'i': Invisible,
	'w': Wallops,
	'o': Op,
	'O': LocalOp,
	'a': Away,
	's': ServerNotice,
	'x': Hidden,
}

func (m Mode) String() string {
	s := ""
	for _, v := range letterOrdered {
		if m&v.mask != 0 {
			s += string(v.char)
		}
	}
	return s
}

// stable iteration order for mode strings
var letterOrdered = []struct {
	char byte
	mask Mode
}{
	{'a', Away},
	{'i', Invisible},
	{'o', Op},
	{'O', LocalOp},
	{'s', ServerNotice},
	{'w', Wallops},
	{'x', Hidden},
}

// ParseModeString folds a "+iw"-style string into a bitmap; unknown
// letters are skipped. Used when peers introduce users in a burst.
func ParseModeString(s string) Mode {
	var m Mode
	for i := 0; i < len(s); i++ {
		if v, ok := letter[s[i]]; ok {
			m |= v
		}
	}
	return m
}

// ApplyUserMode mutates the bitmap for one parsed change. The bool
// reports whether the letter was a known user mode. Op and LocalOp
// cannot be granted this way; OPER is the only door in.
func ApplyUserMode(m Mode, chg mode.Mode) (Mode, bool) {
	mask, ok := letter[chg.ModeChar]
	if !ok {
		return m, false
	}
	if chg.Type == mode.Add {
		if mask == Op || mask == LocalOp {
			return m, false
		}
		return m | mask, true
	}
	return m &^ mask, true
}

func (m Mode) Is(mask Mode) bool { return m&mask == mask }
