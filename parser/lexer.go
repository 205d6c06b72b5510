package parser

import (
	"strings"

	"github.com/frank-ceva/nem/diag"
)

// Lexer produces the token sequence for one source file, terminated by an
// EOF sentinel. Lexical errors are reported through the collector and the
// lexer continues from the next plausible character.
type Lexer struct {
	file string
	src  string
	col  *diag.Collector

	pos  int
	line int
	lcol int
}

// NewLexer returns a lexer over src, attributing locations to file.
func NewLexer(file, src string, col *diag.Collector) *Lexer {
	return &Lexer{file: file, src: src, col: col, line: 1, lcol: 1}
}

// Tokens scans the whole input.
func Tokens(file, src string, col *diag.Collector) []Token {
	lx := NewLexer(file, src, col)
	var toks []Token
	for {
		t := lx.Next()
		toks = append(toks, t)
		if t.Kind == EOF {
			return toks
		}
	}
}

func (lx *Lexer) here() diag.Location {
	return diag.Location{File: lx.file, Line: lx.line, Col: lx.lcol,
		EndLine: lx.line, EndCol: lx.lcol}
}

func (lx *Lexer) peek() byte {
	if lx.pos >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos]
}

func (lx *Lexer) peekAt(n int) byte {
	if lx.pos+n >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+n]
}

func (lx *Lexer) advance() byte {
	c := lx.src[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.lcol = 1
	} else {
		lx.lcol++
	}
	return c
}

func (lx *Lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.src) {
		c := lx.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			lx.advance()
		case c == '#':
			for lx.pos < len(lx.src) && lx.peek() != '\n' {
				lx.advance()
			}
		default:
			return
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool { return isIdentStart(c) || isDigit(c) }

// Next scans one token.
func (lx *Lexer) Next() Token {
	lx.skipSpaceAndComments()
	start := lx.here()
	if lx.pos >= len(lx.src) {
		return Token{Kind: EOF, Location: start}
	}

	c := lx.peek()
	switch {
	case isIdentStart(c):
		return lx.scanIdent(start)
	case isDigit(c):
		return lx.scanNumber(start)
	case c == '"':
		return lx.scanString(start)
	}

	lx.advance()
	end := lx.here()
	loc := diag.Span(start, end)
	single := map[byte]Kind{
		'(': LParen, ')': RParen, '[': LBrack, ']': RBrack,
		'{': LBrace, '}': RBrace, '<': Lt, '>': Gt,
		'+': Plus, '-': Minus, '*': Star, '/': Slash,
		'=': Assign, '@': At, ':': Colon, ',': Comma,
	}
	if c == '.' {
		if lx.peek() == '.' {
			lx.advance()
			return Token{Kind: DotDot, Lexeme: "..", Location: diag.Span(start, lx.here())}
		}
		return Token{Kind: Dot, Lexeme: ".", Location: loc}
	}
	if k, ok := single[c]; ok {
		return Token{Kind: k, Lexeme: string(c), Location: loc}
	}

	lx.col.Errorf(loc, "illegal character %q", string(c))
	return lx.Next()
}

func (lx *Lexer) scanIdent(start diag.Location) Token {
	from := lx.pos
	for lx.pos < len(lx.src) && isIdentCont(lx.peek()) {
		lx.advance()
	}
	word := lx.src[from:lx.pos]

	// Compound keywords: transfer.async, store.sync, opcode.mandatory, ...
	if tails, ok := compoundTails[word]; ok && lx.peek() == '.' {
		for _, tail := range tails {
			rest := lx.src[lx.pos:]
			if strings.HasPrefix(rest, "."+tail) &&
				(len(rest) == len(tail)+1 || !isIdentCont(rest[len(tail)+1])) {
				for i := 0; i <= len(tail); i++ {
					lx.advance()
				}
				return Token{Kind: Keyword, Lexeme: word + "." + tail,
					Location: diag.Span(start, lx.here())}
			}
		}
	}

	loc := diag.Span(start, lx.here())
	if keywords[word] {
		return Token{Kind: Keyword, Lexeme: word, Location: loc}
	}
	return Token{Kind: Ident, Lexeme: word, Location: loc}
}

func (lx *Lexer) scanNumber(start diag.Location) Token {
	from := lx.pos
	for lx.pos < len(lx.src) && isDigit(lx.peek()) {
		lx.advance()
	}
	// A '.' followed by a digit starts a fractional part; '..' belongs to a
	// range and stays untouched.
	isFloat := false
	if lx.peek() == '.' && isDigit(lx.peekAt(1)) {
		isFloat = true
		lx.advance()
		for lx.pos < len(lx.src) && isDigit(lx.peek()) {
			lx.advance()
		}
	}
	if c := lx.peek(); isFloat && (c == 'e' || c == 'E') {
		save := lx.pos
		lx.advance()
		if lx.peek() == '+' || lx.peek() == '-' {
			lx.advance()
		}
		if isDigit(lx.peek()) {
			for lx.pos < len(lx.src) && isDigit(lx.peek()) {
				lx.advance()
			}
		} else {
			// Not an exponent after all; rewind is safe because no newline
			// can appear inside a number.
			lx.lcol -= lx.pos - save
			lx.pos = save
		}
	}
	word := lx.src[from:lx.pos]
	loc := diag.Span(start, lx.here())
	if isFloat {
		return Token{Kind: Float, Lexeme: word, Location: loc}
	}
	return Token{Kind: Int, Lexeme: word, Location: loc}
}

func (lx *Lexer) scanString(start diag.Location) Token {
	lx.advance() // opening quote
	var b strings.Builder
	for {
		if lx.pos >= len(lx.src) || lx.peek() == '\n' {
			lx.col.Errorf(diag.Span(start, lx.here()), "unterminated string literal")
			return Token{Kind: String, Lexeme: b.String(), Location: diag.Span(start, lx.here())}
		}
		c := lx.advance()
		if c == '"' {
			return Token{Kind: String, Lexeme: b.String(), Location: diag.Span(start, lx.here())}
		}
		if c == '\\' {
			if lx.pos >= len(lx.src) {
				continue
			}
			e := lx.advance()
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				lx.col.Errorf(lx.here(), "unknown escape sequence \\%s", string(e))
			}
			continue
		}
		b.WriteByte(c)
	}
}
