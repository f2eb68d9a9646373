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

// Package eval implements the tree-walking evaluator: it walks the AST
// produced by cue/parser, managing call frames, classes, instances, and
// the non-local control-flow signals (return/break/continue/throw) that
// unwind through it. See SPEC_FULL.md §4.3 for the semantics this package
// implements.
package eval

import (
	"fmt"
	"strings"

	"coffeepy.dev/coffeepy/cue/ast"
	cerrors "coffeepy.dev/coffeepy/cue/errors"
	"coffeepy.dev/coffeepy/cue/token"
	"coffeepy.dev/coffeepy/internal/core/env"
	"coffeepy.dev/coffeepy/internal/core/value"
	"coffeepy.dev/coffeepy/internal/host"
)

// Evaluator walks a parsed program against a root Environment, reaching
// outside the language core through a Host capability.
type Evaluator struct {
	Host     host.Host
	Source   string // full source text, threaded into RuntimeError for caret rendering
	Filename string
}

// New constructs an Evaluator backed by h.
func New(h host.Host) *Evaluator {
	return &Evaluator{Host: h}
}

// Run executes prog's top-level statements in rootEnv and returns the
// value of the last one, or an *errors.RuntimeError if a signal escapes
// to program top (per §3's "return/break/continue outside valid context"
// invariant) or an uncaught throw reaches here.
func (ev *Evaluator) Run(prog *ast.Program, rootEnv *env.Environment) (value.Value, error) {
	v, err := ev.execStmts(rootEnv, prog.Stmts)
	if err != nil {
		return nil, ev.finalize(err)
	}
	return v, nil
}

func (ev *Evaluator) finalize(err error) error {
	switch s := err.(type) {
	case *ctrlReturn:
		return &cerrors.RuntimeError{Message: "'return' used outside a function", Source: ev.Source}
	case *ctrlBreak:
		return &cerrors.RuntimeError{Message: "'break' used outside a loop", Source: ev.Source}
	case *ctrlContinue:
		return &cerrors.RuntimeError{Message: "'continue' used outside a loop", Source: ev.Source}
	case *ctrlThrow:
		return &cerrors.RuntimeError{
			Message: "uncaught throw: " + ev.displayConcat(s.Value),
			Pos:     s.Pos,
			Source:  ev.Source,
			Thrown:  s.Value,
		}
	default:
		return err
	}
}

func (ev *Evaluator) runtimeErr(pos token.Position, format string, args ...interface{}) error {
	return &cerrors.RuntimeError{Message: fmt.Sprintf(format, args...), Pos: pos, Source: ev.Source}
}

// ----------------------------------------------------------------------
// Control-flow signals. Each is an error so it unwinds through ordinary Go
// error returns; execStmts/evalExpr propagate them unexamined, and the
// frame that owns the corresponding dynamic context (function call, loop,
// try) catches its own kind and lets the rest through.

type ctrlReturn struct{ Value value.Value }

func (*ctrlReturn) Error() string { return "return used outside function" }

type ctrlBreak struct{}

func (*ctrlBreak) Error() string { return "break used outside loop" }

type ctrlContinue struct{}

func (*ctrlContinue) Error() string { return "continue used outside loop" }

type ctrlThrow struct {
	Value value.Value
	Pos   token.Position
}

func (c *ctrlThrow) Error() string { return "uncaught throw" }

// ----------------------------------------------------------------------
// Statement execution

func (ev *Evaluator) execStmts(e *env.Environment, stmts []ast.Stmt) (value.Value, error) {
	var result value.Value = value.Null{}
	for _, s := range stmts {
		v, err := ev.execStmt(e, s)
		if err != nil {
			return nil, err
		}
		result = v
	}
	return result, nil
}

func (ev *Evaluator) execStmt(e *env.Environment, stmt ast.Stmt) (value.Value, error) {
	switch s := stmt.(type) {
	case *ast.ImportStmt:
		return ev.execImportStmt(e, s)
	case *ast.FromImportStmt:
		return ev.execFromImportStmt(e, s)
	case *ast.AssignStmt:
		v, err := ev.evalExpr(e, s.Value)
		if err != nil {
			return nil, err
		}
		if err := ev.assignPattern(e, s.Target, v); err != nil {
			return nil, err
		}
		return v, nil
	case *ast.MultiAssignStmt:
		v, err := ev.evalExpr(e, s.Value)
		if err != nil {
			return nil, err
		}
		for _, t := range s.Targets {
			if err := ev.assignPattern(e, t, v); err != nil {
				return nil, err
			}
		}
		return v, nil
	case *ast.AugAssignStmt:
		return ev.execAugAssign(e, s)
	case *ast.ExistentialAssignStmt:
		return ev.execExistentialAssign(e, s)
	case *ast.LogicalAssignStmt:
		return ev.execLogicalAssign(e, s)
	case *ast.UpdateStmt:
		return ev.execUpdate(e, s)
	case *ast.ReturnStmt:
		var val value.Value = value.Null{}
		if s.Value != nil {
			v, err := ev.evalExpr(e, s.Value)
			if err != nil {
				return nil, err
			}
			val = v
		}
		return nil, &ctrlReturn{Value: val}
	case *ast.WhileStmt:
		return ev.execWhile(e, s)
	case *ast.ForInStmt:
		return ev.execForIn(e, s)
	case *ast.ForOfStmt:
		return ev.execForOf(e, s)
	case *ast.BreakStmt:
		return nil, &ctrlBreak{}
	case *ast.ContinueStmt:
		return nil, &ctrlContinue{}
	case *ast.ThrowStmt:
		v, err := ev.evalExpr(e, s.Value)
		if err != nil {
			return nil, err
		}
		return nil, &ctrlThrow{Value: v, Pos: s.Position}
	case *ast.TryStmt:
		return ev.execTry(e, s)
	case *ast.ClassDecl:
		return ev.execClassDecl(e, s)
	case *ast.ExprStmt:
		return ev.evalExpr(e, s.X)
	default:
		return nil, ev.runtimeErr(stmt.Pos(), "unsupported statement node %T", stmt)
	}
}

func (ev *Evaluator) execImportStmt(e *env.Environment, s *ast.ImportStmt) (value.Value, error) {
	for _, item := range s.Items {
		mv, err := ev.Host.ImportModule(item.Name)
		if err != nil {
			return nil, cerrors.HostError(s.Position, err)
		}
		name := item.Alias
		if name == "" {
			name = item.Name
		}
		e.Assign(name, mv)
	}
	return value.Null{}, nil
}

func (ev *Evaluator) execFromImportStmt(e *env.Environment, s *ast.FromImportStmt) (value.Value, error) {
	mv, err := ev.Host.ImportModule(s.Module)
	if err != nil {
		return nil, cerrors.HostError(s.Position, err)
	}
	for _, nm := range s.Names {
		v, ok := ev.Host.GetAttr(mv, nm.Name)
		if !ok {
			return nil, ev.runtimeErr(s.Position, "module %q has no member %q", s.Module, nm.Name)
		}
		name := nm.Alias
		if name == "" {
			name = nm.Name
		}
		e.Assign(name, v)
	}
	return value.Null{}, nil
}

func baseOpFor(op token.Token) token.Token {
	switch op {
	case token.PLUS_EQ:
		return token.PLUS
	case token.MINUS_EQ:
		return token.MINUS
	case token.STAR_EQ:
		return token.STAR
	case token.SLASH_EQ:
		return token.SLASH
	case token.PERCENT_EQ:
		return token.PERCENT
	default:
		return token.ILLEGAL
	}
}

func (ev *Evaluator) execAugAssign(e *env.Environment, s *ast.AugAssignStmt) (value.Value, error) {
	cur, err := ev.evalExpr(e, s.Target)
	if err != nil {
		return nil, err
	}
	rhs, err := ev.evalExpr(e, s.Value)
	if err != nil {
		return nil, err
	}
	nv, err := ev.applyBinaryOp(baseOpFor(s.Op), cur, rhs, s.Position)
	if err != nil {
		return nil, err
	}
	if err := ev.assignPattern(e, s.Target, nv); err != nil {
		return nil, err
	}
	return nv, nil
}

// isNullish reports whether v is coffeepy's null, used by "?=" and "?".
func isNullish(v value.Value) bool {
	_, ok := v.(value.Null)
	return ok
}

func (ev *Evaluator) execExistentialAssign(e *env.Environment, s *ast.ExistentialAssignStmt) (value.Value, error) {
	cur, err := ev.evalExpr(e, s.Target)
	unreadable := err != nil
	if unreadable || isNullish(cur) || isUndefined(cur) {
		v, err := ev.evalExpr(e, s.Value)
		if err != nil {
			return nil, err
		}
		if err := ev.assignPattern(e, s.Target, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return cur, nil
}

func isUndefined(v value.Value) bool {
	_, ok := v.(value.Undefined)
	return ok
}

func (ev *Evaluator) execLogicalAssign(e *env.Environment, s *ast.LogicalAssignStmt) (value.Value, error) {
	cur, err := ev.evalExpr(e, s.Target)
	if err != nil {
		cur = value.Undefined{}
	}
	switch s.Op {
	case token.OROR:
		if cur.Truthy() {
			return cur, nil
		}
	case token.ANDAND:
		if !cur.Truthy() {
			return cur, nil
		}
	}
	v, err := ev.evalExpr(e, s.Value)
	if err != nil {
		return nil, err
	}
	if err := ev.assignPattern(e, s.Target, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (ev *Evaluator) execUpdate(e *env.Environment, s *ast.UpdateStmt) (value.Value, error) {
	cur, err := ev.evalExpr(e, s.Target)
	if err != nil {
		return nil, err
	}
	n, ok := cur.(value.Number)
	if !ok {
		return nil, ev.runtimeErr(s.Position, "'%s' requires a number", s.Op)
	}
	delta := value.NewInt(1)
	if s.Op == token.MINUSMINUS {
		delta = value.NewInt(-1)
	}
	nv, err := value.Arith('+', n, delta)
	if err != nil {
		return nil, ev.runtimeErr(s.Position, "%s", err)
	}
	if err := ev.assignPattern(e, s.Target, nv); err != nil {
		return nil, err
	}
	if s.Prefix {
		return nv, nil
	}
	return n, nil
}

func (ev *Evaluator) execWhile(e *env.Environment, s *ast.WhileStmt) (value.Value, error) {
	for {
		cv, err := ev.evalExpr(e, s.Cond)
		if err != nil {
			return nil, err
		}
		if !cv.Truthy() {
			break
		}
		_, err = ev.execStmts(e, s.Body)
		if err != nil {
			if _, ok := err.(*ctrlBreak); ok {
				break
			}
			if _, ok := err.(*ctrlContinue); ok {
				continue
			}
			return nil, err
		}
	}
	return value.Null{}, nil
}

func (ev *Evaluator) execForIn(e *env.Environment, s *ast.ForInStmt) (value.Value, error) {
	iv, err := ev.evalExpr(e, s.Iter)
	if err != nil {
		return nil, err
	}
	items, err := ev.Host.Iterate(iv)
	if err != nil {
		return nil, cerrors.HostError(s.Position, err)
	}
	for _, it := range items {
		e.Assign(s.VarName, it)
		_, err := ev.execStmts(e, s.Body)
		if err != nil {
			if _, ok := err.(*ctrlBreak); ok {
				break
			}
			if _, ok := err.(*ctrlContinue); ok {
				continue
			}
			return nil, err
		}
	}
	return value.Null{}, nil
}

func (ev *Evaluator) execForOf(e *env.Environment, s *ast.ForOfStmt) (value.Value, error) {
	iv, err := ev.evalExpr(e, s.Iter)
	if err != nil {
		return nil, err
	}
	m, ok := iv.(*value.Map)
	if !ok {
		return nil, ev.runtimeErr(s.Position, "'for...of' requires a mapping")
	}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		e.Assign(s.KeyVar, value.String(k))
		if s.ValueVar != "" {
			e.Assign(s.ValueVar, v)
		}
		_, err := ev.execStmts(e, s.Body)
		if err != nil {
			if _, ok := err.(*ctrlBreak); ok {
				break
			}
			if _, ok := err.(*ctrlContinue); ok {
				continue
			}
			return nil, err
		}
	}
	return value.Null{}, nil
}

func (ev *Evaluator) execTry(e *env.Environment, s *ast.TryStmt) (value.Value, error) {
	v, err := ev.execStmts(e, s.TryBody)
	if err != nil {
		if th, ok := err.(*ctrlThrow); ok && s.HasCatch {
			if s.CatchVar != "" {
				e.Define(s.CatchVar, th.Value)
			}
			v, err = ev.execStmts(e, s.CatchBody)
		}
	}
	if s.HasFinally {
		if _, ferr := ev.execStmts(e, s.FinallyBody); ferr != nil {
			return nil, ferr
		}
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (ev *Evaluator) execClassDecl(e *env.Environment, s *ast.ClassDecl) (value.Value, error) {
	var parent *value.Class
	if s.Parent != nil {
		pv, err := ev.evalExpr(e, s.Parent)
		if err != nil {
			return nil, err
		}
		pc, ok := pv.(*value.Class)
		if !ok {
			return nil, ev.runtimeErr(s.Position, "'extends' target is not a class: %s", pv.String())
		}
		parent = pc
	}
	members := make(map[string]value.Value, len(s.Members))
	cls := &value.Class{Name: s.Name, Parent: parent, Members: members}
	e.Assign(s.Name, cls)
	for _, m := range s.Members {
		v, err := ev.evalExpr(e, m.Value)
		if err != nil {
			return nil, err
		}
		if fn, ok := v.(*value.Function); ok && fn.Name == "" {
			fn.Name = m.Name
		}
		members[m.Name] = v
	}
	return cls, nil
}

// ----------------------------------------------------------------------
// Assignment targets

func (ev *Evaluator) assignPattern(e *env.Environment, target ast.Expr, val value.Value) error {
	switch t := target.(type) {
	case *ast.Identifier:
		e.Assign(t.Name, val)
		return nil
	case *ast.GetAttr:
		xv, err := ev.evalExpr(e, t.X)
		if err != nil {
			return err
		}
		switch xt := xv.(type) {
		case *value.Instance:
			xt.Fields.Set(t.Name, val)
			return nil
		case *value.Map:
			xt.Set(t.Name, val)
			return nil
		default:
			return ev.runtimeErr(t.Position, "cannot assign attribute %q on %s", t.Name, xv.String())
		}
	case *ast.IndexExpr:
		xv, err := ev.evalExpr(e, t.X)
		if err != nil {
			return err
		}
		iv, err := ev.evalExpr(e, t.Index)
		if err != nil {
			return err
		}
		if err := ev.Host.SetItem(xv, iv, val); err != nil {
			return cerrors.HostError(t.Position, err)
		}
		return nil
	case *ast.ArrayDestructure:
		return ev.assignArrayDestructure(e, t, val)
	case *ast.ObjectDestructure:
		return ev.assignObjectDestructure(e, t, val)
	default:
		return ev.runtimeErr(target.Pos(), "invalid assignment target")
	}
}

// assignArrayDestructure implements §8 invariant 5: targets before the
// splat bind the first k values, targets after bind the trailing values,
// and the splat itself absorbs whatever remains in the middle (possibly
// empty); missing values bind null.
func (ev *Evaluator) assignArrayDestructure(e *env.Environment, t *ast.ArrayDestructure, val value.Value) error {
	items, err := ev.Host.Iterate(val)
	if err != nil {
		return cerrors.HostError(t.Position, err)
	}
	n := len(t.Elems)
	if t.SplatIndex < 0 {
		for i, elem := range t.Elems {
			var v value.Value = value.Null{}
			if i < len(items) {
				v = items[i]
			}
			if err := ev.assignPattern(e, elem.Target, v); err != nil {
				return err
			}
		}
		return nil
	}
	before := t.SplatIndex
	after := n - 1 - before
	for i := 0; i < before; i++ {
		var v value.Value = value.Null{}
		if i < len(items) {
			v = items[i]
		}
		if err := ev.assignPattern(e, t.Elems[i].Target, v); err != nil {
			return err
		}
	}
	midCount := len(items) - before - after
	if midCount < 0 {
		midCount = 0
	}
	var mid []value.Value
	if before < len(items) {
		end := before + midCount
		if end > len(items) {
			end = len(items)
		}
		mid = append([]value.Value{}, items[before:end]...)
	}
	if err := ev.assignPattern(e, t.Elems[t.SplatIndex].Target, value.NewList(mid...)); err != nil {
		return err
	}
	for j := 0; j < after; j++ {
		idx := before + midCount + j
		var v value.Value = value.Null{}
		if idx < len(items) {
			v = items[idx]
		}
		if err := ev.assignPattern(e, t.Elems[t.SplatIndex+1+j].Target, v); err != nil {
			return err
		}
	}
	return nil
}

func (ev *Evaluator) assignObjectDestructure(e *env.Environment, t *ast.ObjectDestructure, val value.Value) error {
	for _, p := range t.Props {
		name := p.Alias
		if name == "" {
			name = p.Key
		}
		v, ok := ev.Host.GetAttr(val, p.Key)
		if !ok {
			if p.Default == nil {
				return ev.runtimeErr(t.Position, "destructuring mismatch: missing key %q", p.Key)
			}
			dv, err := ev.evalExpr(e, p.Default)
			if err != nil {
				return err
			}
			v = dv
		}
		e.Assign(name, v)
	}
	return nil
}

// ----------------------------------------------------------------------
// Expression evaluation

func (ev *Evaluator) evalExpr(e *env.Environment, expr ast.Expr) (value.Value, error) {
	switch x := expr.(type) {
	case *ast.Literal:
		return ev.evalLiteral(x)
	case *ast.Identifier:
		return ev.evalIdentifier(e, x)
	case *ast.This:
		v, ok := e.Get("this")
		if !ok {
			return nil, ev.runtimeErr(x.Position, "'this' is not defined in this context")
		}
		return v, nil
	case *ast.Super:
		v, ok := e.Get("super")
		if !ok {
			return nil, ev.runtimeErr(x.Position, "'super' is not defined in this context")
		}
		return v, nil
	case *ast.UnaryExpr:
		return ev.evalUnary(e, x)
	case *ast.BinaryExpr:
		return ev.evalBinary(e, x)
	case *ast.ChainedComparison:
		return ev.evalChainedComparison(e, x)
	case *ast.IfExpr:
		return ev.evalIf(e, x)
	case *ast.BlockExpr:
		return ev.execStmts(e, x.Stmts)
	case *ast.CallExpr:
		return ev.evalCall(e, x)
	case *ast.NewExpr:
		return ev.evalNew(e, x)
	case *ast.FunctionLit:
		return ev.evalFunctionLit(e, x)
	case *ast.GetAttr:
		return ev.evalGetAttr(e, x)
	case *ast.SafeAccess:
		return ev.evalSafeAccess(e, x)
	case *ast.ProtoAccess:
		return ev.evalProtoAccess(e, x)
	case *ast.IndexExpr:
		return ev.evalIndexExpr(e, x)
	case *ast.SliceExpr:
		return ev.evalSlice(e, x)
	case *ast.ArrayLit:
		return ev.evalArrayLit(e, x)
	case *ast.ObjectLit:
		return ev.evalObjectLit(e, x)
	case *ast.RangeLit:
		return ev.evalRange(e, x)
	case *ast.Existential:
		return ev.evalExistential(e, x)
	case *ast.Splat:
		return nil, ev.runtimeErr(x.Position, "'...' spread used outside a call or array literal")
	case *ast.InterpolatedString:
		return ev.evalInterpolated(e, x)
	case *ast.InExpr:
		return ev.evalIn(e, x)
	case *ast.OfExpr:
		return ev.evalOf(e, x)
	case *ast.Comprehension:
		return ev.evalComprehension(e, x)
	case *ast.ObjectComprehension:
		return ev.evalObjectComprehension(e, x)
	case *ast.Switch:
		return ev.evalSwitch(e, x)
	case *ast.Do:
		return ev.evalDo(e, x)
	case *ast.YieldExpr:
		return nil, ev.runtimeErr(x.Position, "yield used outside generator")
	case *ast.ArrayDestructure, *ast.ObjectDestructure:
		return nil, ev.runtimeErr(expr.Pos(), "destructuring pattern used as a value")
	default:
		return nil, ev.runtimeErr(expr.Pos(), "unsupported expression node %T", expr)
	}
}

func (ev *Evaluator) evalLiteral(l *ast.Literal) (value.Value, error) {
	switch l.Kind {
	case token.NUMBER:
		switch v := l.Value.(type) {
		case int64:
			return value.NewInt(v), nil
		case float64:
			return value.NewFloat(v), nil
		default:
			return nil, ev.runtimeErr(l.Position, "malformed number literal")
		}
	case token.STRING:
		s, _ := l.Value.(string)
		return value.String(s), nil
	case token.TRUE:
		return value.Bool(true), nil
	case token.FALSE:
		return value.Bool(false), nil
	case token.NULL:
		return value.Null{}, nil
	case token.UNDEFINED:
		return value.Undefined{}, nil
	case token.REGEX:
		return value.Host{Value: l.Value}, nil
	default:
		return nil, ev.runtimeErr(l.Position, "unsupported literal kind %s", l.Kind)
	}
}

func (ev *Evaluator) evalIdentifier(e *env.Environment, id *ast.Identifier) (value.Value, error) {
	if v, ok := e.Get(id.Name); ok {
		return v, nil
	}
	if v, ok := ev.Host.LookupBuiltin(id.Name); ok {
		return v, nil
	}
	return nil, ev.runtimeErr(id.Position, "undefined identifier %q", id.Name)
}

func (ev *Evaluator) displayConcat(v value.Value) string {
	if s, ok := v.(value.String); ok {
		return string(s)
	}
	return v.String()
}

func (ev *Evaluator) evalUnary(e *env.Environment, u *ast.UnaryExpr) (value.Value, error) {
	xv, err := ev.evalExpr(e, u.X)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case token.NOT:
		return value.Bool(!xv.Truthy()), nil
	case token.MINUS:
		n, ok := xv.(value.Number)
		if !ok {
			return nil, ev.runtimeErr(u.Position, "unary '-' requires a number")
		}
		r, err := value.Arith('-', value.NewInt(0), n)
		if err != nil {
			return nil, ev.runtimeErr(u.Position, "%s", err)
		}
		return r, nil
	case token.PLUS:
		if _, ok := xv.(value.Number); !ok {
			return nil, ev.runtimeErr(u.Position, "unary '+' requires a number")
		}
		return xv, nil
	default:
		return nil, ev.runtimeErr(u.Position, "unsupported unary operator %s", u.Op)
	}
}

func (ev *Evaluator) evalBinary(e *env.Environment, b *ast.BinaryExpr) (value.Value, error) {
	switch b.Op {
	case token.OR, token.OROR:
		lv, err := ev.evalExpr(e, b.X)
		if err != nil {
			return nil, err
		}
		if lv.Truthy() {
			return lv, nil
		}
		return ev.evalExpr(e, b.Y)
	case token.AND, token.ANDAND:
		lv, err := ev.evalExpr(e, b.X)
		if err != nil {
			return nil, err
		}
		if !lv.Truthy() {
			return lv, nil
		}
		return ev.evalExpr(e, b.Y)
	default:
		lv, err := ev.evalExpr(e, b.X)
		if err != nil {
			return nil, err
		}
		rv, err := ev.evalExpr(e, b.Y)
		if err != nil {
			return nil, err
		}
		return ev.applyBinaryOp(b.Op, lv, rv, b.Position)
	}
}

func (ev *Evaluator) applyBinaryOp(op token.Token, a, b value.Value, pos token.Position) (value.Value, error) {
	switch op {
	case token.PLUS:
		an, aok := a.(value.Number)
		bn, bok := b.(value.Number)
		if aok && bok {
			r, err := value.Arith('+', an, bn)
			if err != nil {
				return nil, ev.runtimeErr(pos, "%s", err)
			}
			return r, nil
		}
		return value.String(ev.displayConcat(a) + ev.displayConcat(b)), nil
	case token.MINUS, token.STAR, token.SLASH, token.PERCENT, token.STARSTAR:
		an, aok := a.(value.Number)
		bn, bok := b.(value.Number)
		if !aok || !bok {
			return nil, ev.runtimeErr(pos, "operator %s requires numbers", op)
		}
		var code byte
		switch op {
		case token.MINUS:
			code = '-'
		case token.STAR:
			code = '*'
		case token.SLASH:
			code = '/'
		case token.PERCENT:
			code = '%'
		case token.STARSTAR:
			code = '^'
		}
		r, err := value.Arith(code, an, bn)
		if err != nil {
			return nil, ev.runtimeErr(pos, "%s", err)
		}
		return r, nil
	case token.LT, token.LTE, token.GT, token.GTE:
		return ev.compareOp(op, a, b, pos)
	case token.EQEQ:
		return value.Bool(value.Equal(a, b)), nil
	case token.NEQ:
		return value.Bool(!value.Equal(a, b)), nil
	default:
		return nil, ev.runtimeErr(pos, "unsupported operator %s", op)
	}
}

func (ev *Evaluator) compareOp(op token.Token, a, b value.Value, pos token.Position) (value.Value, error) {
	var cmp int
	switch av := a.(type) {
	case value.Number:
		bn, ok := b.(value.Number)
		if !ok {
			return nil, ev.runtimeErr(pos, "cannot compare a number with a non-number")
		}
		cmp = value.Cmp(av, bn)
	case value.String:
		bs, ok := b.(value.String)
		if !ok {
			return nil, ev.runtimeErr(pos, "cannot compare a string with a non-string")
		}
		cmp = strings.Compare(string(av), string(bs))
	default:
		return nil, ev.runtimeErr(pos, "values are not comparable")
	}
	switch op {
	case token.LT:
		return value.Bool(cmp < 0), nil
	case token.LTE:
		return value.Bool(cmp <= 0), nil
	case token.GT:
		return value.Bool(cmp > 0), nil
	case token.GTE:
		return value.Bool(cmp >= 0), nil
	default:
		return nil, ev.runtimeErr(pos, "unsupported comparison operator %s", op)
	}
}

// evalChainedComparison evaluates each operand exactly once and folds
// adjacent pairs with short-circuit conjunction, per §8 invariant 7.
func (ev *Evaluator) evalChainedComparison(e *env.Environment, c *ast.ChainedComparison) (value.Value, error) {
	vals := make([]value.Value, len(c.Operands))
	for i, opnd := range c.Operands {
		v, err := ev.evalExpr(e, opnd)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	for i, op := range c.Ops {
		res, err := ev.compareOp(op, vals[i], vals[i+1], c.Position)
		if err != nil {
			return nil, err
		}
		if !bool(res.(value.Bool)) {
			return value.Bool(false), nil
		}
	}
	return value.Bool(true), nil
}

func (ev *Evaluator) evalIf(e *env.Environment, i *ast.IfExpr) (value.Value, error) {
	cv, err := ev.evalExpr(e, i.Cond)
	if err != nil {
		return nil, err
	}
	if cv.Truthy() {
		return ev.evalExpr(e, i.Then)
	}
	if i.Else != nil {
		return ev.evalExpr(e, i.Else)
	}
	return value.Null{}, nil
}

func (ev *Evaluator) evalArgs(e *env.Environment, exprs []ast.Expr) ([]value.Value, error) {
	var out []value.Value
	for _, a := range exprs {
		if sp, ok := a.(*ast.Splat); ok {
			v, err := ev.evalExpr(e, sp.Value)
			if err != nil {
				return nil, err
			}
			items, iterErr := ev.Host.Iterate(v)
			if iterErr != nil {
				out = append(out, v)
			} else {
				out = append(out, items...)
			}
			continue
		}
		v, err := ev.evalExpr(e, a)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ev *Evaluator) evalKwargs(e *env.Environment, kws []ast.KeywordArg) (map[string]value.Value, error) {
	if len(kws) == 0 {
		return nil, nil
	}
	out := make(map[string]value.Value, len(kws))
	for _, k := range kws {
		v, err := ev.evalExpr(e, k.Value)
		if err != nil {
			return nil, err
		}
		out[k.Name] = v
	}
	return out, nil
}

func (ev *Evaluator) evalCall(e *env.Environment, c *ast.CallExpr) (value.Value, error) {
	calleeV, err := ev.evalExpr(e, c.Callee)
	if err != nil {
		return nil, err
	}
	args, err := ev.evalArgs(e, c.Args)
	if err != nil {
		return nil, err
	}
	kwargs, err := ev.evalKwargs(e, c.Kwargs)
	if err != nil {
		return nil, err
	}
	return ev.call(calleeV, args, kwargs, c.Position)
}

func (ev *Evaluator) call(callee value.Value, args []value.Value, kwargs map[string]value.Value, pos token.Position) (value.Value, error) {
	switch fn := callee.(type) {
	case *value.Function:
		return ev.invokeFunction(fn, args, kwargs, pos)
	case *value.BoundMethod:
		return ev.invokeBoundMethod(fn, args, kwargs, pos)
	case *value.Class:
		return nil, ev.runtimeErr(pos, "class %s is not callable; use 'new'", fn.Name)
	default:
		if ev.Host.IsCallable(callee) {
			v, err := ev.Host.Call(callee, args, kwargs)
			if err != nil {
				return nil, cerrors.HostError(pos, err)
			}
			return v, nil
		}
		return nil, ev.runtimeErr(pos, "value is not callable: %s", callee.String())
	}
}

// bindParams binds positional args, keyword overrides, lazily-evaluated
// defaults, a trailing splat collector, and @this-shorthand auto-assign
// into callEnv, per §4.3 "Calls".
func (ev *Evaluator) bindParams(callEnv *env.Environment, params []ast.Param, args []value.Value, kwargs map[string]value.Value, pos token.Position) error {
	splatIdx := -1
	for i, p := range params {
		if p.Splat {
			splatIdx = i
			break
		}
	}
	nonSplatCount := len(params)
	if splatIdx >= 0 {
		nonSplatCount = splatIdx
	}
	ai := 0
	for i := 0; i < nonSplatCount; i++ {
		p := params[i]
		var v value.Value
		if kw, ok := kwargs[p.Name]; ok {
			v = kw
		} else if ai < len(args) {
			v = args[ai]
			ai++
		} else if p.Default != nil {
			dv, err := ev.evalExpr(callEnv, p.Default)
			if err != nil {
				return err
			}
			v = dv
		} else {
			v = value.Undefined{}
		}
		callEnv.Define(p.Name, v)
		if p.AtThis {
			thisV, ok := callEnv.Get("this")
			if !ok {
				return ev.runtimeErr(pos, "'@%s' requires 'this' to be bound", p.Name)
			}
			inst, ok := thisV.(*value.Instance)
			if !ok {
				return ev.runtimeErr(pos, "'@%s' requires 'this' to be an instance", p.Name)
			}
			inst.Fields.Set(p.Name, v)
		}
	}
	if splatIdx >= 0 {
		p := params[splatIdx]
		var rest []value.Value
		if ai < len(args) {
			rest = append(rest, args[ai:]...)
		}
		callEnv.Define(p.Name, value.NewList(rest...))
	}
	return nil
}

func (ev *Evaluator) runFunctionBody(callEnv *env.Environment, params []ast.Param, body *ast.BlockExpr, args []value.Value, kwargs map[string]value.Value, pos token.Position) (value.Value, error) {
	if err := ev.bindParams(callEnv, params, args, kwargs, pos); err != nil {
		return nil, err
	}
	v, err := ev.execStmts(callEnv, body.Stmts)
	if err != nil {
		if ret, ok := err.(*ctrlReturn); ok {
			return ret.Value, nil
		}
		return nil, err
	}
	return v, nil
}

func (ev *Evaluator) invokeFunction(fn *value.Function, args []value.Value, kwargs map[string]value.Value, pos token.Position) (value.Value, error) {
	parent := fn.Env.(*env.Environment)
	callEnv := parent.NewChild()
	if fn.Bound && fn.HasBoundThis {
		callEnv.Define("this", fn.BoundThis)
	}
	return ev.runFunctionBody(callEnv, fn.Params, fn.Body, args, kwargs, pos)
}

// invokeBoundMethod binds "this" to the receiving instance and "super" to
// the instance's class's parent, so that a bare "super" expression inside
// the method body resolves to the parent class for explicit member access.
func (ev *Evaluator) invokeBoundMethod(bm *value.BoundMethod, args []value.Value, kwargs map[string]value.Value, pos token.Position) (value.Value, error) {
	parent := bm.Func.Env.(*env.Environment)
	callEnv := parent.NewChild()
	callEnv.Define("this", bm.Instance)
	if bm.Instance.Class.Parent != nil {
		callEnv.Define("super", bm.Instance.Class.Parent)
	} else {
		callEnv.Define("super", value.Null{})
	}
	return ev.runFunctionBody(callEnv, bm.Func.Params, bm.Func.Body, args, kwargs, pos)
}

func (ev *Evaluator) evalNew(e *env.Environment, n *ast.NewExpr) (value.Value, error) {
	cv, err := ev.evalExpr(e, n.Class)
	if err != nil {
		return nil, err
	}
	cls, ok := cv.(*value.Class)
	if !ok {
		return nil, ev.runtimeErr(n.Position, "'new' target is not a class: %s", cv.String())
	}
	inst := value.NewInstance(cls)
	args, err := ev.evalArgs(e, n.Args)
	if err != nil {
		return nil, err
	}
	kwargs, err := ev.evalKwargs(e, n.Kwargs)
	if err != nil {
		return nil, err
	}
	if ctor, ok := cls.FindMethod("constructor"); ok {
		if fn, ok := ctor.(*value.Function); ok {
			bm := &value.BoundMethod{Instance: inst, Func: fn}
			if _, err := ev.invokeBoundMethod(bm, args, kwargs, n.Position); err != nil {
				return nil, err
			}
		}
	}
	return inst, nil
}

func (ev *Evaluator) evalFunctionLit(e *env.Environment, f *ast.FunctionLit) (value.Value, error) {
	fn := &value.Function{Params: f.Params, Body: f.Body, Env: e, Bound: f.Bound}
	if f.Bound {
		if tv, ok := e.Get("this"); ok {
			fn.BoundThis = tv
			fn.HasBoundThis = true
		}
	}
	return fn, nil
}

func (ev *Evaluator) evalGetAttr(e *env.Environment, g *ast.GetAttr) (value.Value, error) {
	xv, err := ev.evalExpr(e, g.X)
	if err != nil {
		return nil, err
	}
	v, ok := ev.Host.GetAttr(xv, g.Name)
	if !ok {
		return nil, ev.runtimeErr(g.Position, "no attribute %q on %s", g.Name, xv.String())
	}
	return v, nil
}

func (ev *Evaluator) evalSafeAccess(e *env.Environment, s *ast.SafeAccess) (value.Value, error) {
	xv, err := ev.evalExpr(e, s.X)
	if err != nil {
		return nil, err
	}
	if isNullish(xv) || isUndefined(xv) {
		return value.Null{}, nil
	}
	v, ok := ev.Host.GetAttr(xv, s.Name)
	if !ok {
		return value.Null{}, nil
	}
	return v, nil
}

// evalProtoAccess resolves "A::m" (or bare "::m" against this's class) to
// an unbound method reference, per §9's open question on ProtoAccess.
func (ev *Evaluator) evalProtoAccess(e *env.Environment, p *ast.ProtoAccess) (value.Value, error) {
	var cls *value.Class
	if p.X != nil {
		xv, err := ev.evalExpr(e, p.X)
		if err != nil {
			return nil, err
		}
		switch t := xv.(type) {
		case *value.Class:
			cls = t
		case *value.Instance:
			cls = t.Class
		default:
			return nil, ev.runtimeErr(p.Position, "'::' target is not a class or instance")
		}
	} else {
		thisV, ok := e.Get("this")
		if !ok {
			return nil, ev.runtimeErr(p.Position, "bare '::%s' requires 'this' in scope", p.Name)
		}
		inst, ok := thisV.(*value.Instance)
		if !ok {
			return nil, ev.runtimeErr(p.Position, "bare '::%s' requires 'this' to be an instance", p.Name)
		}
		cls = inst.Class
	}
	m, ok := cls.FindMethod(p.Name)
	if !ok {
		return nil, ev.runtimeErr(p.Position, "no method %q on class %s", p.Name, cls.Name)
	}
	return m, nil
}

func (ev *Evaluator) evalIndexExpr(e *env.Environment, ix *ast.IndexExpr) (value.Value, error) {
	xv, err := ev.evalExpr(e, ix.X)
	if err != nil {
		return nil, err
	}
	iv, err := ev.evalExpr(e, ix.Index)
	if err != nil {
		return nil, err
	}
	v, err := ev.Host.GetItem(xv, iv)
	if err != nil {
		return nil, cerrors.HostError(ix.Position, err)
	}
	return v, nil
}

func (ev *Evaluator) toIndex(v value.Value, n int, pos token.Position) (int, error) {
	num, ok := v.(value.Number)
	if !ok {
		return 0, ev.runtimeErr(pos, "slice bound must be a number")
	}
	i, _ := num.D.Int64()
	idx := int(i)
	if idx < 0 {
		idx += n
	}
	return idx, nil
}

// evalSlice implements target[start..end] (inclusive) and target[start...end]
// (exclusive) on lists and strings; either bound may be omitted.
func (ev *Evaluator) evalSlice(e *env.Environment, s *ast.SliceExpr) (value.Value, error) {
	xv, err := ev.evalExpr(e, s.X)
	if err != nil {
		return nil, err
	}
	var items []value.Value
	var runes []rune
	isString := false
	switch t := xv.(type) {
	case *value.List:
		items = t.Items
	case value.String:
		runes = []rune(string(t))
		isString = true
	default:
		return nil, ev.runtimeErr(s.Position, "value does not support slicing: %s", xv.String())
	}
	n := len(items)
	if isString {
		n = len(runes)
	}
	start := 0
	if s.Start != nil {
		sv, err := ev.evalExpr(e, s.Start)
		if err != nil {
			return nil, err
		}
		start, err = ev.toIndex(sv, n, s.Position)
		if err != nil {
			return nil, err
		}
	}
	end := n - 1
	if s.End != nil {
		evv, err := ev.evalExpr(e, s.End)
		if err != nil {
			return nil, err
		}
		end, err = ev.toIndex(evv, n, s.Position)
		if err != nil {
			return nil, err
		}
	}
	if s.Exclusive {
		end--
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if isString {
		if end < start {
			return value.String(""), nil
		}
		return value.String(string(runes[start : end+1])), nil
	}
	if end < start {
		return value.NewList(), nil
	}
	out := append([]value.Value{}, items[start:end+1]...)
	return value.NewList(out...), nil
}

func (ev *Evaluator) evalArrayLit(e *env.Environment, a *ast.ArrayLit) (value.Value, error) {
	items, err := ev.evalArgs(e, a.Items)
	if err != nil {
		return nil, err
	}
	return value.NewList(items...), nil
}

func (ev *Evaluator) evalObjectLit(e *env.Environment, o *ast.ObjectLit) (value.Value, error) {
	m := value.NewMap()
	for _, pr := range o.Pairs {
		kv, err := ev.evalExpr(e, pr.Key)
		if err != nil {
			return nil, err
		}
		ks, ok := kv.(value.String)
		if !ok {
			return nil, ev.runtimeErr(pr.Key.Pos(), "object key must be a string")
		}
		vv, err := ev.evalExpr(e, pr.Value)
		if err != nil {
			return nil, err
		}
		m.Set(string(ks), vv)
	}
	return m, nil
}

// evalRange materializes a..b / a...b (optional "by step") per §4.3's
// "Range expansion" and the length formula in §8 invariant 6. Integer
// bounds and step stay exact; non-integer bounds fall back to float64
// stepping (documented in DESIGN.md).
func (ev *Evaluator) evalRange(e *env.Environment, r *ast.RangeLit) (value.Value, error) {
	sv, err := ev.evalExpr(e, r.Start)
	if err != nil {
		return nil, err
	}
	evv, err := ev.evalExpr(e, r.End)
	if err != nil {
		return nil, err
	}
	sn, ok1 := sv.(value.Number)
	en, ok2 := evv.(value.Number)
	if !ok1 || !ok2 {
		return nil, ev.runtimeErr(r.Position, "range bounds must be numbers")
	}
	step := value.NewInt(1)
	if value.Cmp(sn, en) > 0 {
		step = value.NewInt(-1)
	}
	if r.Step != nil {
		stv, err := ev.evalExpr(e, r.Step)
		if err != nil {
			return nil, err
		}
		sn2, ok := stv.(value.Number)
		if !ok {
			return nil, ev.runtimeErr(r.Position, "range step must be a number")
		}
		step = sn2
	}
	if step.D.Sign() == 0 {
		return nil, ev.runtimeErr(r.Position, "range step must not be zero")
	}
	if sn.IsInt() && en.IsInt() && step.IsInt() {
		lo, _ := sn.D.Int64()
		hi, _ := en.D.Int64()
		st, _ := step.D.Int64()
		var items []value.Value
		if st > 0 {
			end := hi
			if r.Exclusive {
				end--
			}
			for v := lo; v <= end; v += st {
				items = append(items, value.NewInt(v))
			}
		} else {
			end := hi
			if r.Exclusive {
				end++
			}
			for v := lo; v >= end; v += st {
				items = append(items, value.NewInt(v))
			}
		}
		return value.NewList(items...), nil
	}
	lo, _ := sn.D.Float64()
	hi, _ := en.D.Float64()
	st, _ := step.D.Float64()
	var items []value.Value
	const eps = 1e-9
	if st > 0 {
		for v := lo; (r.Exclusive && v < hi) || (!r.Exclusive && v <= hi+eps); v += st {
			items = append(items, value.NewFloat(v))
		}
	} else {
		for v := lo; (r.Exclusive && v > hi) || (!r.Exclusive && v >= hi-eps); v += st {
			items = append(items, value.NewFloat(v))
		}
	}
	return value.NewList(items...), nil
}

func (ev *Evaluator) evalExistential(e *env.Environment, x *ast.Existential) (value.Value, error) {
	lv, err := ev.evalExpr(e, x.Left)
	if err != nil {
		return nil, err
	}
	if !isNullish(lv) {
		return lv, nil
	}
	return ev.evalExpr(e, x.Right)
}

func (ev *Evaluator) evalInterpolated(e *env.Environment, s *ast.InterpolatedString) (value.Value, error) {
	var b strings.Builder
	for _, part := range s.Parts {
		if lit, ok := part.(*ast.Literal); ok && lit.Kind == token.STRING {
			str, _ := lit.Value.(string)
			b.WriteString(str)
			continue
		}
		v, err := ev.evalExpr(e, part)
		if err != nil {
			return nil, err
		}
		b.WriteString(ev.displayConcat(v))
	}
	return value.String(b.String()), nil
}

func (ev *Evaluator) evalIn(e *env.Environment, x *ast.InExpr) (value.Value, error) {
	vv, err := ev.evalExpr(e, x.Value)
	if err != nil {
		return nil, err
	}
	cv, err := ev.evalExpr(e, x.Container)
	if err != nil {
		return nil, err
	}
	switch c := cv.(type) {
	case *value.List:
		for _, it := range c.Items {
			if value.Equal(it, vv) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case value.String:
		s, ok := vv.(value.String)
		if !ok {
			return value.Bool(false), nil
		}
		return value.Bool(strings.Contains(string(c), string(s))), nil
	default:
		return nil, ev.runtimeErr(x.Position, "'in' requires a sequence or string")
	}
}

func (ev *Evaluator) evalOf(e *env.Environment, x *ast.OfExpr) (value.Value, error) {
	kv, err := ev.evalExpr(e, x.Key)
	if err != nil {
		return nil, err
	}
	cv, err := ev.evalExpr(e, x.Container)
	if err != nil {
		return nil, err
	}
	m, ok := cv.(*value.Map)
	if !ok {
		return nil, ev.runtimeErr(x.Position, "'of' requires a mapping")
	}
	ks, ok := kv.(value.String)
	if !ok {
		return value.Bool(false), nil
	}
	_, found := m.Get(string(ks))
	return value.Bool(found), nil
}

func (ev *Evaluator) evalComprehension(e *env.Environment, c *ast.Comprehension) (value.Value, error) {
	iv, err := ev.evalExpr(e, c.Iter)
	if err != nil {
		return nil, err
	}
	items, err := ev.Host.Iterate(iv)
	if err != nil {
		return nil, cerrors.HostError(c.Position, err)
	}
	var out []value.Value
	for _, it := range items {
		e.Assign(c.VarName, it)
		if c.Filter != nil {
			fv, err := ev.evalExpr(e, c.Filter)
			if err != nil {
				return nil, err
			}
			if !fv.Truthy() {
				continue
			}
		}
		bv, err := ev.evalExpr(e, c.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, bv)
	}
	return value.NewList(out...), nil
}

func (ev *Evaluator) evalObjectComprehension(e *env.Environment, c *ast.ObjectComprehension) (value.Value, error) {
	iv, err := ev.evalExpr(e, c.Iter)
	if err != nil {
		return nil, err
	}
	m, ok := iv.(*value.Map)
	if !ok {
		return nil, ev.runtimeErr(c.Position, "object comprehension requires a mapping")
	}
	out := value.NewMap()
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		e.Assign(c.KeyVar, value.String(k))
		if c.ValueVar != "" {
			e.Assign(c.ValueVar, v)
		}
		if c.Filter != nil {
			fv, err := ev.evalExpr(e, c.Filter)
			if err != nil {
				return nil, err
			}
			if !fv.Truthy() {
				continue
			}
		}
		kv, err := ev.evalExpr(e, c.KeyExpr)
		if err != nil {
			return nil, err
		}
		vv, err := ev.evalExpr(e, c.ValExpr)
		if err != nil {
			return nil, err
		}
		ks, ok := kv.(value.String)
		if !ok {
			return nil, ev.runtimeErr(c.Position, "object comprehension key must be a string")
		}
		out.Set(string(ks), vv)
	}
	return out, nil
}

func (ev *Evaluator) evalSwitch(e *env.Environment, s *ast.Switch) (value.Value, error) {
	if s.Subject != nil {
		sv, err := ev.evalExpr(e, s.Subject)
		if err != nil {
			return nil, err
		}
		for _, cs := range s.Cases {
			for _, cond := range cs.Conds {
				cv, err := ev.evalExpr(e, cond)
				if err != nil {
					return nil, err
				}
				if value.Equal(sv, cv) {
					return ev.evalExpr(e, cs.Body)
				}
			}
		}
	} else {
		for _, cs := range s.Cases {
			for _, cond := range cs.Conds {
				cv, err := ev.evalExpr(e, cond)
				if err != nil {
					return nil, err
				}
				if cv.Truthy() {
					return ev.evalExpr(e, cs.Body)
				}
			}
		}
	}
	if s.Default != nil {
		return ev.evalExpr(e, s.Default)
	}
	return value.Null{}, nil
}

// evalDo evaluates Body and, if the result is callable, immediately
// invokes it with no arguments — the `do -> ...` immediately-invoked
// function idiom.
func (ev *Evaluator) evalDo(e *env.Environment, d *ast.Do) (value.Value, error) {
	bv, err := ev.evalExpr(e, d.Body)
	if err != nil {
		return nil, err
	}
	switch bv.(type) {
	case *value.Function, *value.BoundMethod:
		return ev.call(bv, nil, nil, d.Position)
	default:
		if ev.Host.IsCallable(bv) {
			return ev.call(bv, nil, nil, d.Position)
		}
		return bv, nil
	}
}
