// Package parser turns NEM source text into tokens and an immutable syntax
// tree. One grammar covers both program documents and device-configuration
// documents.
package parser

import (
	"fmt"

	"github.com/frank-ceva/nem/diag"
)

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	Int
	Float
	String
	Keyword

	LParen
	RParen
	LBrack
	RBrack
	LBrace
	RBrace
	Lt
	Gt
	Plus
	Minus
	Star
	Slash
	Assign
	At
	Dot
	DotDot
	Colon
	Comma
)

var kindNames = map[Kind]string{
	EOF: "end of input", Ident: "identifier", Int: "integer", Float: "float",
	String: "string", Keyword: "keyword",
	LParen: "'('", RParen: "')'", LBrack: "'['", RBrack: "']'",
	LBrace: "'{'", RBrace: "'}'", Lt: "'<'", Gt: "'>'",
	Plus: "'+'", Minus: "'-'", Star: "'*'", Slash: "'/'",
	Assign: "'='", At: "'@'", Dot: "'.'", DotDot: "'..'",
	Colon: "':'", Comma: "','",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Token carries kind, exact lexeme, and source location.
type Token struct {
	Kind     Kind
	Lexeme   string
	Location diag.Location
}

// IsKw reports whether the token is the named keyword.
func (t Token) IsKw(name string) bool {
	return t.Kind == Keyword && t.Lexeme == name
}

func (t Token) String() string {
	switch t.Kind {
	case Ident, Int, Float, Keyword:
		return fmt.Sprintf("%q", t.Lexeme)
	case String:
		return fmt.Sprintf("string %q", t.Lexeme)
	case EOF:
		return "end of input"
	}
	return t.Kind.String()
}

// keywords is the fixed alphabet of simple keywords. Compound keywords
// (transfer.async and friends) are assembled by the lexer from the heads in
// compoundTails; a head on its own is an identifier.
var keywords = map[string]bool{
	"include": true, "device": true, "extends": true, "program": true,
	"const": true, "buffer": true, "let": true, "region": true,
	"loop": true, "in": true, "out": true, "attrs": true, "deps": true,
	"wait": true, "mod": true, "true": true, "false": true,
	"async": true, "sync": true, "size": true, "align": true,
	"type": true, "shape": true, "layout": true, "quant": true,
	"l1": true, "l2": true, "l3": true,
	"spec_version": true, "topology": true, "engines": true,
	"l2_size_bytes": true, "l1_size_bytes": true,
	"device_units": true, "per_engine": true, "unit_characteristics": true,
	"family": true, "operand": true, "attr": true, "variant": true,
	"must": true, "may": true, "absent": true, "required": true,
	"quantized": true,
}

// compoundTails lists, per compound head, the tails that fuse into a single
// keyword token (e.g. "transfer" + "." + "async" -> "transfer.async").
var compoundTails = map[string][]string{
	"transfer": {"async", "sync"},
	"store":    {"async", "sync"},
	"opcode":   {"mandatory", "extended"},
}
