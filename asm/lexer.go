package asm

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/slotvm/vm"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokSemi
	tokComma
	tokAmp
	tokLBrace
	tokRBrace
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer turns source bytes into tokens. A name/number token is any
// non-empty run of bytes not in the delimiter set; '{' and '}' are reserved
// as the delimiters of a FUNC body.
type lexer struct {
	src []byte
	pos int
}

func newLexer(src []byte) *lexer { return &lexer{src: src} }

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &vm.ParseError{Offset: pos, Msg: fmt.Sprintf(format, args...)}
}

func isDelim(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '"', ';', '&', ',', '{', '}':
		return true
	default:
		return false
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	switch l.src[l.pos] {
	case ';':
		l.pos++
		return token{kind: tokSemi, pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, pos: start}, nil
	case '&':
		l.pos++
		return token{kind: tokAmp, pos: start}, nil
	case '{':
		l.pos++
		return token{kind: tokLBrace, pos: start}, nil
	case '}':
		l.pos++
		return token{kind: tokRBrace, pos: start}, nil
	case '"':
		return l.lexString()
	default:
		return l.lexWord()
	}
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string literal")
		}
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		}
		if c == '\\' {
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, l.errorf(start, "unterminated escape sequence")
			}
			switch e := l.src[l.pos]; e {
			case '\\', '/', '"':
				sb.WriteByte(e)
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			default:
				return token{}, l.errorf(l.pos, "invalid escape sequence '\\%c'", e)
			}
			l.pos++
			continue
		}
		sb.WriteByte(c)
		l.pos++
	}
}

func (l *lexer) lexWord() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && !isDelim(l.src[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		return token{}, l.errorf(start, "unexpected character %q", l.src[start])
	}
	return token{kind: tokWord, text: string(l.src[start:l.pos]), pos: start}, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
