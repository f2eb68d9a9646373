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

package parser

import (
	"testing"

	"github.com/go-quicktest/qt"

	"coffeepy.dev/coffeepy/cue/ast"
	cerrors "coffeepy.dev/coffeepy/cue/errors"
	"coffeepy.dev/coffeepy/cue/token"
)

func TestParseLiteralsAndBinary(t *testing.T) {
	prog, err := Parse("<test>", "1 + 2 * 3")
	qt.Assert(t, qt.IsNil(err))
	if len(prog.Stmts) != 1 {
		t.Fatalf("want 1 statement, got %d", len(prog.Stmts))
	}

	es, ok := prog.Stmts[0].(*ast.ExprStmt)
	if !ok {
		t.Fatalf("want *ast.ExprStmt, got %T", prog.Stmts[0])
	}

	bin, ok := es.X.(*ast.BinaryExpr)
	if !ok {
		t.Fatalf("want *ast.BinaryExpr, got %T", es.X)
	}
	qt.Assert(t, qt.Equals(bin.Op, token.PLUS))

	lhs, ok := bin.X.(*ast.Literal)
	if !ok {
		t.Fatalf("want *ast.Literal, got %T", bin.X)
	}
	qt.Assert(t, qt.Equals(lhs.Kind, token.NUMBER))

	// "*" binds tighter than "+", so the right operand of the top-level "+"
	// is itself a BinaryExpr, not a literal.
	if _, ok := bin.Y.(*ast.BinaryExpr); !ok {
		t.Fatalf("want nested *ast.BinaryExpr on the right, got %T", bin.Y)
	}
}

func TestParseAssignment(t *testing.T) {
	prog, err := Parse("<test>", "x = 5")
	qt.Assert(t, qt.IsNil(err))

	as, ok := prog.Stmts[0].(*ast.AssignStmt)
	if !ok {
		t.Fatalf("want *ast.AssignStmt, got %T", prog.Stmts[0])
	}
	id, ok := as.Target.(*ast.Identifier)
	if !ok {
		t.Fatalf("want *ast.Identifier target, got %T", as.Target)
	}
	qt.Assert(t, qt.Equals(id.Name, "x"))
}

func TestParseArrayDestructureWithSplat(t *testing.T) {
	prog, err := Parse("<test>", "[first, middle..., last] = arr")
	qt.Assert(t, qt.IsNil(err))

	as, ok := prog.Stmts[0].(*ast.AssignStmt)
	if !ok {
		t.Fatalf("want *ast.AssignStmt, got %T", prog.Stmts[0])
	}
	pat, ok := as.Target.(*ast.ArrayDestructure)
	if !ok {
		t.Fatalf("want *ast.ArrayDestructure target, got %T", as.Target)
	}
	if len(pat.Elems) != 3 {
		t.Fatalf("want 3 destructure elems, got %d", len(pat.Elems))
	}
	qt.Assert(t, qt.Equals(pat.Elems[0].IsSplat, false))
	qt.Assert(t, qt.Equals(pat.Elems[1].IsSplat, true))
	qt.Assert(t, qt.Equals(pat.Elems[2].IsSplat, false))
	qt.Assert(t, qt.Equals(pat.SplatIndex, 1))
}

func TestParseRangeLiteral(t *testing.T) {
	cases := []struct {
		desc      string
		src       string
		exclusive bool
	}{
		{"inclusive", "1..5", false},
		{"exclusive", "1...5", true},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			prog, err := Parse("<test>", tc.src)
			qt.Assert(t, qt.IsNil(err))
			es := prog.Stmts[0].(*ast.ExprStmt)
			rl, ok := es.X.(*ast.RangeLit)
			if !ok {
				t.Fatalf("want *ast.RangeLit, got %T", es.X)
			}
			qt.Assert(t, qt.Equals(rl.Exclusive, tc.exclusive))
		})
	}
}

func TestParseFunctionLitBoundAndInline(t *testing.T) {
	prog, err := Parse("<test>", "f = (x) => x + 1")
	qt.Assert(t, qt.IsNil(err))
	as := prog.Stmts[0].(*ast.AssignStmt)
	fn, ok := as.Value.(*ast.FunctionLit)
	if !ok {
		t.Fatalf("want *ast.FunctionLit, got %T", as.Value)
	}
	qt.Assert(t, qt.Equals(fn.Bound, true))
	if len(fn.Params) != 1 {
		t.Fatalf("want 1 param, got %d", len(fn.Params))
	}
	qt.Assert(t, qt.Equals(fn.Params[0].Name, "x"))
}

func TestParseFunctionLitIndentedBlockBody(t *testing.T) {
	src := "f = ->\n  x = 1\n  x + 1\n"
	prog, err := Parse("<test>", src)
	qt.Assert(t, qt.IsNil(err))
	as := prog.Stmts[0].(*ast.AssignStmt)
	fn, ok := as.Value.(*ast.FunctionLit)
	if !ok {
		t.Fatalf("want *ast.FunctionLit, got %T", as.Value)
	}
	qt.Assert(t, qt.Equals(fn.Bound, false))
	if len(fn.Body.Stmts) != 2 {
		t.Fatalf("want 2 body statements, got %d", len(fn.Body.Stmts))
	}
}

func TestParseClassDecl(t *testing.T) {
	src := "class Dog extends Animal\n  speak: -> \"woof\"\n"
	prog, err := Parse("<test>", src)
	qt.Assert(t, qt.IsNil(err))
	cd, ok := prog.Stmts[0].(*ast.ClassDecl)
	if !ok {
		t.Fatalf("want *ast.ClassDecl, got %T", prog.Stmts[0])
	}
	qt.Assert(t, qt.Equals(cd.Name, "Dog"))
	parentID, ok := cd.Parent.(*ast.Identifier)
	if !ok {
		t.Fatalf("want *ast.Identifier parent, got %T", cd.Parent)
	}
	qt.Assert(t, qt.Equals(parentID.Name, "Animal"))
	if len(cd.Members) != 1 {
		t.Fatalf("want 1 member, got %d", len(cd.Members))
	}
	qt.Assert(t, qt.Equals(cd.Members[0].Name, "speak"))
}

func TestParseTryCatchFinally(t *testing.T) {
	src := "try\n  throw \"x\"\ncatch e\n  1\nfinally\n  2\n"
	prog, err := Parse("<test>", src)
	qt.Assert(t, qt.IsNil(err))
	ts, ok := prog.Stmts[0].(*ast.TryStmt)
	if !ok {
		t.Fatalf("want *ast.TryStmt, got %T", prog.Stmts[0])
	}
	qt.Assert(t, qt.Equals(ts.HasCatch, true))
	qt.Assert(t, qt.Equals(ts.CatchVar, "e"))
	qt.Assert(t, qt.Equals(ts.HasFinally, true))
}

func TestParseComprehension(t *testing.T) {
	prog, err := Parse("<test>", "[x * 2 for x in xs when x > 1]")
	qt.Assert(t, qt.IsNil(err))
	es := prog.Stmts[0].(*ast.ExprStmt)
	comp, ok := es.X.(*ast.Comprehension)
	if !ok {
		t.Fatalf("want *ast.Comprehension, got %T", es.X)
	}
	qt.Assert(t, qt.Equals(comp.VarName, "x"))
	if comp.Filter == nil {
		t.Fatal("want non-nil Filter for a \"when\" clause")
	}
}

func TestParseChainedComparison(t *testing.T) {
	prog, err := Parse("<test>", "1 < x < 10")
	qt.Assert(t, qt.IsNil(err))
	es := prog.Stmts[0].(*ast.ExprStmt)
	cc, ok := es.X.(*ast.ChainedComparison)
	if !ok {
		t.Fatalf("want *ast.ChainedComparison, got %T", es.X)
	}
	if len(cc.Operands) != 3 {
		t.Fatalf("want 3 operands, got %d", len(cc.Operands))
	}
	if len(cc.Ops) != 2 {
		t.Fatalf("want 2 ops, got %d", len(cc.Ops))
	}
}

func TestParseErrorReportsPosition(t *testing.T) {
	_, err := Parse("<test>", "x = ")
	if err == nil {
		t.Fatal("want a parse error for a dangling assignment")
	}
	list, ok := err.(cerrors.List)
	if !ok || len(list) == 0 {
		t.Fatalf("want a non-empty errors.List, got %T", err)
	}
	pos := list[0].Position()
	qt.Assert(t, qt.Equals(pos.Line, 1))
	qt.Assert(t, qt.Equals(pos.Column, 5))
}

func TestParseInterpolatedString(t *testing.T) {
	prog, err := Parse("<test>", `"hello, #{name}!"`)
	qt.Assert(t, qt.IsNil(err))
	es := prog.Stmts[0].(*ast.ExprStmt)
	if _, ok := es.X.(*ast.InterpolatedString); !ok {
		t.Fatalf("want *ast.InterpolatedString, got %T", es.X)
	}
}
