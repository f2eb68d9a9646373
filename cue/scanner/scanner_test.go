// Copyright 2026 The coffeepy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scanner

import (
	"testing"

	"github.com/go-quicktest/qt"

	"coffeepy.dev/coffeepy/cue/token"
)

// kinds extracts the token.Token kind of each scanned token, dropping the
// trailing EOF so callers can compare against a concise expected kind list.
func kinds(t *testing.T, toks []Token) []token.Token {
	t.Helper()
	if len(toks) == 0 || toks[len(toks)-1].Kind != token.EOF {
		t.Fatalf("want token stream to end in EOF, got %v", toks)
	}
	ks := make([]token.Token, len(toks)-1)
	for i, tok := range toks[:len(toks)-1] {
		ks[i] = tok.Kind
	}
	return ks
}

func TestLexIndentOutdentBalance(t *testing.T) {
	src := "a = 1\nif a\n  b = 2\n  c = 3\nd = 4\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	depth := 0
	for _, tok := range toks {
		switch tok.Kind {
		case token.INDENT:
			depth++
		case token.OUTDENT:
			depth--
			if depth < 0 {
				t.Fatalf("OUTDENT without matching INDENT at %s", tok.Pos)
			}
		}
	}
	if depth != 0 {
		t.Fatalf("unbalanced INDENT/OUTDENT: final depth %d, want 0", depth)
	}

	got := kinds(t, toks)
	want := []token.Token{
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
		token.IF, token.IDENT, token.NEWLINE,
		token.INDENT,
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
		token.OUTDENT,
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d tokens %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (full stream %v)", i, got[i], want[i], got)
		}
	}
}

func TestLexNestedIndentUnwindsAtEOF(t *testing.T) {
	// No trailing newline: the final OUTDENTs must still be synthesized by
	// scanIndent's EOF-unwind branch rather than left dangling.
	src := "if a\n  if b\n    c = 1"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	got := kinds(t, toks)
	want := []token.Token{
		token.IF, token.IDENT, token.NEWLINE,
		token.INDENT,
		token.IF, token.IDENT, token.NEWLINE,
		token.INDENT,
		token.IDENT, token.EQ, token.NUMBER,
		token.OUTDENT, token.OUTDENT,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d tokens %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (full stream %v)", i, got[i], want[i], got)
		}
	}
}

func TestLexBlankAndCommentLinesDoNotAffectIndent(t *testing.T) {
	src := "if a\n  b = 1\n\n  # a comment on its own line\n  c = 2\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	nIndent, nOutdent := 0, 0
	for _, tok := range toks {
		switch tok.Kind {
		case token.INDENT:
			nIndent++
		case token.OUTDENT:
			nOutdent++
		}
	}
	if nIndent != 1 || nOutdent != 1 {
		t.Fatalf("blank/comment-only lines must not open or close a block: got %d INDENT, %d OUTDENT", nIndent, nOutdent)
	}
}

func TestLexInconsistentIndentIsError(t *testing.T) {
	// The block opens at column 2; dedenting to column 1, which is not on
	// the indent stack, must be reported rather than silently accepted.
	src := "if a\n  b = 1\n c = 2\n"
	_, err := Lex("t.coffee", src)
	if err == nil {
		t.Fatal("want an inconsistent-indentation error")
	}
	if !isInconsistentIndentErr(err) {
		t.Fatalf("got %v, want an inconsistent indentation error", err)
	}
}

func isInconsistentIndentErr(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Message == "inconsistent indentation"
}

func TestLexTabsCountAsTabWidthColumns(t *testing.T) {
	// A single tab (tabWidth == 4) indents as far as four spaces, so mixing
	// "one tab" and "four spaces" across sibling lines must not be treated
	// as an indent/outdent — both measure to column 4.
	src := "if a\n\tb = 1\n    c = 2\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	got := kinds(t, toks)
	want := []token.Token{
		token.IF, token.IDENT, token.NEWLINE,
		token.INDENT,
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
		token.OUTDENT,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d tokens %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (full stream %v)", i, got[i], want[i], got)
		}
	}
}

func TestLexBlockStringDedent(t *testing.T) {
	src := "x = \"\"\"\n    first\n      second\n    third\n    \"\"\"\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	var lit string
	for _, tok := range toks {
		if tok.Kind == token.STRING {
			lit = tok.Literal.(string)
		}
	}
	want := "first\n  second\nthird"
	if lit != want {
		t.Fatalf("block string dedent: got %q, want %q", lit, want)
	}
}

func TestLexBlockStringDedentIgnoresBlankLines(t *testing.T) {
	// A blank line inside the block has no indentation of its own and must
	// not pull the common-indent minimum down to zero.
	src := "x = \"\"\"\n    one\n\n    two\n    \"\"\"\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	var lit string
	for _, tok := range toks {
		if tok.Kind == token.STRING {
			lit = tok.Literal.(string)
		}
	}
	want := "one\n\ntwo"
	if lit != want {
		t.Fatalf("block string dedent: got %q, want %q", lit, want)
	}
}

func TestLexRegexAfterOperandIsDivision(t *testing.T) {
	// "a" is an operand-ending identifier, so the '/' that follows starts
	// division, not a regex literal.
	src := "a / b\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	got := kinds(t, toks)
	want := []token.Token{token.IDENT, token.SLASH, token.IDENT, token.NEWLINE}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d tokens %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (full stream %v)", i, got[i], want[i], got)
		}
	}
}

func TestLexRegexAtStartOfExprIsRegex(t *testing.T) {
	// After "=", no operand has been emitted, so a leading '/' starts a
	// regex literal rather than division.
	src := "r = /ab+c/gi\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	var lit *Regex
	for _, tok := range toks {
		if tok.Kind == token.REGEX {
			lit = tok.Literal.(*Regex)
		}
	}
	if lit == nil {
		t.Fatal("want a REGEX token, found none")
	}
	qt.Assert(t, qt.Equals(lit.Pattern, "ab+c"))
	qt.Assert(t, qt.Equals(lit.Flags, "gi"))
}

func TestLexHeregexIgnoresWhitespaceAndComments(t *testing.T) {
	src := "r = ///\n  ab+   # a trailing comment\n  c\n///i\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	var lit *Regex
	for _, tok := range toks {
		if tok.Kind == token.REGEX {
			lit = tok.Literal.(*Regex)
		}
	}
	if lit == nil {
		t.Fatal("want a REGEX token, found none")
	}
	qt.Assert(t, qt.Equals(lit.Pattern, "ab+c"))
	qt.Assert(t, qt.Equals(lit.Flags, "i"))
}

func TestLexHeregexVsDivisionChainDisambiguation(t *testing.T) {
	// A '/' only starts a regex or heregex when the scanner does not expect
	// division; here each '/' follows an operand ("n", then "2"), so the
	// line is a division chain instead.
	src := "n = 6\nn / 2 / 3\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	for _, tok := range toks {
		if tok.Kind == token.REGEX {
			t.Fatalf("want no REGEX token in a division chain, got one at %s", tok.Pos)
		}
	}
}

func TestLexStringEscapes(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"newline", `"a\nb"`, "a\nb"},
		{"tab", `"a\tb"`, "a\tb"},
		{"quote", `"a\"b"`, `a"b`},
		{"hex", `"\x41"`, "A"},
		{"plainChar", `"A"`, "A"},
		{"unicodeBrace", `"\u{1F600}"`, "\U0001F600"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			toks, err := Lex("t.coffee", tc.src+"\n")
			qt.Assert(t, qt.IsNil(err))
			if len(toks) < 1 || toks[0].Kind != token.STRING {
				t.Fatalf("want a leading STRING token, got %v", toks)
			}
			qt.Assert(t, qt.Equals(toks[0].Literal.(string), tc.want))
		})
	}
}

func TestLexUnterminatedStringIsError(t *testing.T) {
	_, err := Lex("t.coffee", `"abc`)
	if err == nil {
		t.Fatal("want an unterminated-string-literal error")
	}
}

func TestLexNewlineInSingleLineStringIsError(t *testing.T) {
	_, err := Lex("t.coffee", "\"abc\ndef\"")
	if err == nil {
		t.Fatal("want a newline-in-single-line-string error")
	}
}

func TestLexNumberLiterals(t *testing.T) {
	cases := []struct {
		src    string
		isInt  bool
		intVal int64
		fltVal float64
	}{
		{"42", true, 42, 0},
		{"1_000_000", true, 1000000, 0},
		{"3.14", false, 0, 3.14},
		{"0.5", false, 0, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			toks, err := Lex("t.coffee", tc.src+"\n")
			qt.Assert(t, qt.IsNil(err))
			if len(toks) < 1 || toks[0].Kind != token.NUMBER {
				t.Fatalf("want a leading NUMBER token, got %v", toks)
			}
			if tc.isInt {
				qt.Assert(t, qt.Equals(toks[0].Literal.(int64), tc.intVal))
			} else {
				qt.Assert(t, qt.Equals(toks[0].Literal.(float64), tc.fltVal))
			}
		})
	}
}

func TestLexTrueFalseAliases(t *testing.T) {
	cases := []struct {
		src  string
		kind token.Token
		val  bool
	}{
		{"yes", token.TRUE, true},
		{"on", token.TRUE, true},
		{"no", token.FALSE, false},
		{"off", token.FALSE, false},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			toks, err := Lex("t.coffee", tc.src+"\n")
			qt.Assert(t, qt.IsNil(err))
			if len(toks) < 1 || toks[0].Kind != tc.kind {
				t.Fatalf("got %v, want leading token %s", toks, tc.kind)
			}
			qt.Assert(t, qt.Equals(toks[0].Literal.(bool), tc.val))
		})
	}
}

func TestLexCRLFNormalization(t *testing.T) {
	src := "a = 1\r\nb = 2\r\n"
	toks, err := Lex("t.coffee", src)
	qt.Assert(t, qt.IsNil(err))

	got := kinds(t, toks)
	want := []token.Token{
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
		token.IDENT, token.EQ, token.NUMBER, token.NEWLINE,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d tokens %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %s, want %s (full stream %v)", i, got[i], want[i], got)
		}
	}
}

func TestLexUnexpectedCharacterIsError(t *testing.T) {
	_, err := Lex("t.coffee", "a = 1 ~ 2\n")
	if err == nil {
		t.Fatal("want an unexpected-character error")
	}
}
