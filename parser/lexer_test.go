package parser

import (
	"testing"

	"github.com/frank-ceva/nem/diag"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestLexBasicTokens(t *testing.T) {
	var col diag.Collector
	toks := Tokens("t.nem", `const N = 4 * (2 + 1) mod 3`, &col)
	if col.HasErrors() {
		t.Fatalf("unexpected lex errors: %v", col.Diagnostics())
	}
	want := []Kind{Keyword, Ident, Assign, Int, Star, LParen, Int, Plus, Int,
		RParen, Keyword, Int, EOF}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("token count = %d, want %d: %v", len(got), len(want), toks)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLexCompoundKeywords(t *testing.T) {
	var col diag.Collector
	cases := map[string]string{
		"transfer.async":  "transfer.async",
		"transfer.sync":   "transfer.sync",
		"store.async":     "store.async",
		"opcode.mandatory": "opcode.mandatory",
		"opcode.extended": "opcode.extended",
	}
	for src, lexeme := range cases {
		toks := Tokens("t.nem", src, &col)
		if toks[0].Kind != Keyword || toks[0].Lexeme != lexeme {
			t.Errorf("lex(%q) = %v, want compound keyword %q", src, toks[0], lexeme)
		}
	}
	// transfer followed by an unrelated suffix stays a plain identifier.
	toks := Tokens("t.nem", "transfer.foo", &col)
	if toks[0].Lexeme != "transfer" || toks[1].Kind != Dot {
		t.Errorf("transfer.foo lexed as %v %v, want identifier + dot", toks[0], toks[1])
	}
}

func TestLexRangeVsFloat(t *testing.T) {
	var col diag.Collector
	toks := Tokens("t.nem", "[0..7] 1.5 2.5e-3", &col)
	if col.HasErrors() {
		t.Fatalf("unexpected lex errors: %v", col.Diagnostics())
	}
	want := []Kind{LBrack, Int, DotDot, Int, RBrack, Float, Float, EOF}
	got := kinds(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %s, want %s (all: %v)", i, got[i], want[i], toks)
		}
	}
	if toks[5].Lexeme != "1.5" || toks[6].Lexeme != "2.5e-3" {
		t.Errorf("float lexemes = %q, %q", toks[5].Lexeme, toks[6].Lexeme)
	}
}

func TestLexComments(t *testing.T) {
	var col diag.Collector
	toks := Tokens("t.nem", "const # trailing words\nbuffer", &col)
	want := []Kind{Keyword, Keyword, EOF}
	got := kinds(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
	if toks[1].Location.Line != 2 {
		t.Errorf("second token line = %d, want 2", toks[1].Location.Line)
	}
}

func TestLexStringEscapes(t *testing.T) {
	var col diag.Collector
	toks := Tokens("t.nem", `"a\nb\"c"`, &col)
	if col.HasErrors() {
		t.Fatalf("unexpected lex errors: %v", col.Diagnostics())
	}
	if toks[0].Kind != String || toks[0].Lexeme != "a\nb\"c" {
		t.Errorf("string = %q", toks[0].Lexeme)
	}
}

func TestLexUnterminatedStringContinues(t *testing.T) {
	var col diag.Collector
	toks := Tokens("t.nem", "\"open\nconst", &col)
	if !col.HasErrors() {
		t.Fatal("expected an unterminated-string error")
	}
	// Lexing continues with the next line.
	if toks[1].Kind != Keyword || toks[1].Lexeme != "const" {
		t.Errorf("token after error = %v, want const", toks[1])
	}
}

func TestLexIllegalCharacterContinues(t *testing.T) {
	var col diag.Collector
	toks := Tokens("t.nem", "a $ b", &col)
	if col.ErrorCount() != 1 {
		t.Fatalf("error count = %d, want 1", col.ErrorCount())
	}
	if len(toks) != 3 { // a, b, EOF
		t.Errorf("tokens = %v", toks)
	}
}

func TestLexLocations(t *testing.T) {
	var col diag.Collector
	toks := Tokens("f.nem", "ab\n  cd", &col)
	if l := toks[0].Location; l.Line != 1 || l.Col != 1 || l.EndCol != 3 {
		t.Errorf("first token location = %+v", l)
	}
	if l := toks[1].Location; l.Line != 2 || l.Col != 3 || l.File != "f.nem" {
		t.Errorf("second token location = %+v", l)
	}
}
