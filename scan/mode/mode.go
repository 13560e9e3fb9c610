package mode

import (
	"github.com/mitchr/braid/scan"
)

const (
	plus scan.TokenType = iota
	minus
	modechar
)

func lexMode(r rune) scan.Token {
	switch {
	case r == '+':
		return scan.Token{TokenType: plus, Value: r}
	case r == '-':
		return scan.Token{TokenType: minus, Value: r}
	case scan.IsLetter(r):
		return scan.Token{TokenType: modechar, Value: r}
	}
	return scan.EOFToken
}

type Type int

const (
	Add Type = iota
	Remove
	// a bare letter with no +/- verb; used by clients asking for a
	// listing, like 'MODE #chan b'
	List
)

type Mode struct {
	ModeChar byte
	Type     Type
	// parameter consumed positionally, if the mode takes one
	Param string
}

func (m Mode) String() string {
	var s string
	if m.Type == Add {
		s = "+"
	} else if m.Type == Remove {
		s = "-"
	}
	return s + string(m.ModeChar)
}

// Parse splits a modestring like "+ab-c" into its individual mode
// changes. A verb applies to every letter that follows it until the
// next verb.
func Parse(b []byte) []Mode {
	p := &scan.Parser{Tokens: scan.Lex(b, lexMode)}
	m := []Mode{}

	for {
		r := p.Peek()
		if r == scan.EOFToken {
			return m
		}
		chars, op := modeset(p)
		for _, v := range chars {
			m = append(m, Mode{ModeChar: v, Type: op})
		}
	}
}

// modeset = (plus / minus) *(modechar) / modechar *(modechar)
func modeset(p *scan.Parser) ([]byte, Type) {
	set := []byte{}
	verb := p.Next()
	if verb.TokenType == modechar {
		set = append(set, byte(verb.Value))
	}

	for {
		t := p.Peek()
		if t == scan.EOFToken || t.TokenType != modechar {
			break
		}
		set = append(set, byte(p.Next().Value))
	}
	return set, toType(verb.TokenType)
}

func toType(s scan.TokenType) Type {
	if s == plus {
		return Add
	} else if s == minus {
		return Remove
	}
	return List
}
