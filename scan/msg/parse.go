package msg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchr/braid/scan"
)

const (
	colon scan.TokenType = iota
	space
	cr
	lf
	exclam
	at
	text
)

var (
	ErrParse = errors.New("parse error")
	ErrEmpty = errors.New("empty message")
)

func lexMsg(r rune) scan.Token {
	switch r {
	case ':':
		return scan.Token{TokenType: colon, Value: r}
	case ' ':
		return scan.Token{TokenType: space, Value: r}
	case '\r':
		return scan.Token{TokenType: cr, Value: r}
	case '\n':
		return scan.Token{TokenType: lf, Value: r}
	case '!':
		return scan.Token{TokenType: exclam, Value: r}
	case '@':
		return scan.Token{TokenType: at, Value: r}
	case 0:
		return scan.EOFToken
	}
	return scan.Token{TokenType: text, Value: r}
}

// Parse consumes a single line:
//
//	[":" source SPACE] command [params] crlf
//
// Either terminator alone is accepted; a line of nothing but
// terminators gives back ErrEmpty.
func Parse(b []byte) (*Message, error) {
	p := &scan.Parser{Tokens: scan.Lex(b, lexMsg)}
	m := &Message{}

	// strip leading terminators so that clients separating lines with
	// "\r\n\r\n" do not produce phantom empty messages
	for t := p.Peek().TokenType; t == cr || t == lf; t = p.Peek().TokenType {
		p.Next()
	}
	if p.Peek() == scan.EOFToken {
		return nil, ErrEmpty
	}

	if p.Peek().TokenType == colon {
		p.Next() // consume ':'
		m.Nick, m.User, m.Host = source(p)
		if !p.Expect(space) {
			return nil, fmt.Errorf("%w: no space after source", ErrParse)
		}
	}

	m.Command = command(p)
	if m.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrParse)
	}
	m.Params, m.trailingSet = params(p)

	// accept cr, lf, or crlf
	switch p.Next().TokenType {
	case cr:
		// an lf may follow; scan.EOFToken if it doesn't
		p.Next()
	case lf:
	case scan.EOF:
		return nil, fmt.Errorf("%w: unterminated line", ErrParse)
	}

	return m, nil
}

// nickname [ [ "!" user ] "@" host ]
func source(p *scan.Parser) (nick, user, host string) {
	var b strings.Builder

	for t := p.Peek().TokenType; t != space && t != exclam && t != at && t != scan.EOF; t = p.Peek().TokenType {
		b.WriteRune(p.Next().Value)
	}
	nick = b.String()
	b.Reset()

	if p.Peek().TokenType == exclam {
		p.Next() // consume '!'
		for t := p.Peek().TokenType; t != space && t != at && t != scan.EOF; t = p.Peek().TokenType {
			b.WriteRune(p.Next().Value)
		}
		user = b.String()
		b.Reset()
	}

	if p.Peek().TokenType == at {
		p.Next() // consume '@'
		for t := p.Peek().TokenType; t != space && t != scan.EOF; t = p.Peek().TokenType {
			b.WriteRune(p.Next().Value)
		}
		host = b.String()
	}

	return
}

// 1*letter / 3digit
func command(p *scan.Parser) string {
	var c strings.Builder
	for scan.IsLetter(p.Peek().Value) || scan.IsDigit(p.Peek().Value) {
		c.WriteRune(p.Next().Value)
	}
	return strings.ToUpper(c.String())
}

// *( SPACE middle ) [ SPACE ":" trailing ]
func params(p *scan.Parser) (m []string, trailingSet bool) {
	for {
		if p.Peek().TokenType != space {
			return
		}
		p.Next() // consume space

		switch p.Peek().TokenType {
		case colon:
			p.Next() // consume ':'
			m = append(m, trailing(p))
			trailingSet = true
			return // trailing has to be at the end, so we're done
		case cr, lf, scan.EOF:
			return
		default:
			m = append(m, middle(p))
		}
	}
}

// nospcrlfcl *( ":" / nospcrlfcl )
func middle(p *scan.Parser) string {
	var m strings.Builder
	for {
		switch t := p.Peek().TokenType; t {
		case space, cr, lf, scan.EOF:
			return m.String()
		default:
			m.WriteRune(p.Next().Value)
		}
	}
}

// *( ":" / " " / nospcrlfcl )
func trailing(p *scan.Parser) string {
	var m strings.Builder
	for {
		switch t := p.Peek().TokenType; t {
		case cr, lf, scan.EOF:
			return m.String()
		default:
			m.WriteRune(p.Next().Value)
		}
	}
}
