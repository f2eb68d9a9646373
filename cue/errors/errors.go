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

// Package errors defines the coffeepy error taxonomy: lexical, parse, and
// runtime errors, all implementing a common Error interface, plus a List
// aggregate and caret-style source rendering for diagnostics.
package errors

import (
	"fmt"
	"io"
	"strings"

	"github.com/mpvl/unique"

	"coffeepy.dev/coffeepy/cue/token"
)

// Error is the interface implemented by every coffeepy diagnostic.
type Error interface {
	error
	// Position returns the source location of the error, or the zero
	// Position if none is known.
	Position() token.Position
	// Msg returns the unformatted message and its arguments, for
	// consumers that want to localize or otherwise re-render it.
	Msg() (format string, args []interface{})
}

// LexError reports malformed tokens, inconsistent indentation, or
// unterminated literals.
type LexError struct {
	Message string
	Pos     token.Position
}

func (e *LexError) Error() string               { return e.Message }
func (e *LexError) Position() token.Position     { return e.Pos }
func (e *LexError) Msg() (string, []interface{}) { return e.Message, nil }

// ParseError reports a syntax violation, an invalid assignment target, or
// keyword misuse.
type ParseError struct {
	Message string
	Pos     token.Position
}

func (e *ParseError) Error() string               { return e.Message }
func (e *ParseError) Position() token.Position     { return e.Pos }
func (e *ParseError) Msg() (string, []interface{}) { return e.Message, nil }

// RuntimeError reports an evaluation-time failure: undefined identifier,
// non-callable invocation, missing attribute/index, destructuring
// mismatch, unsupported operator, return/break/continue out of context, or
// an uncaught throw. When Source is non-empty and Pos is valid, Print
// renders a caret under the offending column.
type RuntimeError struct {
	Message string
	Pos     token.Position // zero Position if unknown
	Source  string         // full source text, for caret rendering; may be empty
	// Thrown holds the original user value for an uncaught `throw`, so a
	// catching frame further up (or the top-level reporter) can inspect
	// it instead of only its string form.
	Thrown interface{}
}

func (e *RuntimeError) Error() string               { return e.Message }
func (e *RuntimeError) Position() token.Position     { return e.Pos }
func (e *RuntimeError) Msg() (string, []interface{}) { return e.Message, nil }

// HostError wraps an error raised by the Host and is reported as a
// RuntimeError carrying the host's message.
func HostError(pos token.Position, err error) *RuntimeError {
	return &RuntimeError{Message: "host error: " + err.Error(), Pos: pos}
}

// List aggregates zero or more Errors, the way a batch of diagnostics is
// collected before being reported together.
type List []Error

func (l *List) Add(err Error) {
	if err == nil {
		return
	}
	*l = append(*l, err)
}

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
	}
}

// Dedup removes exact duplicate messages at the same position, using
// mpvl/unique the way the wider corpus deduplicates sorted slices.
func (l *List) Dedup() {
	s := *l
	if len(s) < 2 {
		return
	}
	sortable := errList(s)
	unique.Sort(&sortable)
	*l = List(sortable)
}

type errList []Error

func (e *errList) Truncate(n int) { *e = (*e)[:n] }

func (e errList) Len() int      { return len(e) }
func (e errList) Swap(i, j int) { e[i], e[j] = e[j], e[i] }
func (e errList) Less(i, j int) bool {
	pi, pj := e[i].Position(), e[j].Position()
	if pi.Line != pj.Line {
		return pi.Line < pj.Line
	}
	if pi.Column != pj.Column {
		return pi.Column < pj.Column
	}
	return e[i].Error() < e[j].Error()
}
func (e errList) Equal(i, j int) bool {
	return e[i].Position() == e[j].Position() && e[i].Error() == e[j].Error()
}

// Print writes a formatted rendering of err to w: the message, its source
// position if known, and a caret pointing at the offending column when a
// RuntimeError carries source text.
func Print(w io.Writer, err error) {
	switch e := err.(type) {
	case List:
		for _, sub := range e {
			Print(w, sub)
		}
	case Error:
		printOne(w, e)
	default:
		fmt.Fprintf(w, "%v\n", err)
	}
}

func printOne(w io.Writer, e Error) {
	pos := e.Position()
	if pos.IsValid() {
		fmt.Fprintf(w, "%s: %s\n", pos, e.Error())
	} else {
		fmt.Fprintf(w, "%s\n", e.Error())
	}
	rt, ok := e.(*RuntimeError)
	if !ok || rt.Source == "" || !pos.IsValid() {
		return
	}
	lines := strings.Split(rt.Source, "\n")
	if pos.Line-1 >= len(lines) || pos.Line-1 < 0 {
		return
	}
	line := lines[pos.Line-1]
	fmt.Fprintf(w, "    %s\n", line)
	col := pos.Column
	if col < 1 {
		col = 1
	}
	if col > len(line)+1 {
		col = len(line) + 1
	}
	fmt.Fprintf(w, "    %s^\n", strings.Repeat(" ", col-1))
}

// Details renders err the way Print does and returns it as a string.
func Details(err error) string {
	var b strings.Builder
	Print(&b, err)
	return b.String()
}
