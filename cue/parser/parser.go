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

// Package parser implements a recursive-descent parser over the token
// stream produced by the scanner, building the AST declared in cue/ast.
// Precedence is handled by explicit climbing (see the parseOr..parsePower
// chain); indentation significance is fully encoded by the NEWLINE,
// INDENT, and OUTDENT tokens the scanner already produced.
package parser

import (
	"fmt"
	"strings"

	"coffeepy.dev/coffeepy/cue/ast"
	cerrors "coffeepy.dev/coffeepy/cue/errors"
	"coffeepy.dev/coffeepy/cue/scanner"
	"coffeepy.dev/coffeepy/cue/token"
)

// Parse lexes and parses src in its entirety, returning the program's AST
// or an error: a *errors.LexError when lexing fails, otherwise an
// errors.List of the parse diagnostics collected along the way.
func Parse(filename, src string) (prog *ast.Program, err error) {
	toks, lexErr := scanner.Lex(filename, src)
	if lexErr != nil {
		if le, ok := lexErr.(*scanner.Error); ok {
			return nil, &cerrors.LexError{Message: le.Message, Pos: le.Pos}
		}
		return nil, lexErr
	}
	p := &parser{toks: toks}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); ok {
				err = p.errs
				prog = nil
				return
			}
			panic(r)
		}
	}()
	prog = p.parseProgram()
	if len(p.errs) > 0 {
		return nil, p.errs
	}
	return prog, nil
}

// bailout unwinds the recursive descent on the first parse error, the way
// the teacher's parser aborts rather than attempting broad recovery.
type bailout struct{}

type parser struct {
	toks []scanner.Token
	pos  int
	errs cerrors.List
}

func (p *parser) cur() scanner.Token { return p.toks[p.pos] }

func (p *parser) look(n int) scanner.Token {
	i := p.pos + n
	if i >= len(p.toks) {
		i = len(p.toks) - 1
	}
	return p.toks[i]
}

func (p *parser) advance() scanner.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) fail(pos token.Position, msg string) {
	p.errs.Add(&cerrors.ParseError{Message: msg, Pos: pos})
	panic(bailout{})
}

func (p *parser) errorf(pos token.Position, format string, args ...interface{}) {
	p.fail(pos, fmt.Sprintf(format, args...))
}

func (p *parser) expect(k token.Token) scanner.Token {
	if p.cur().Kind != k {
		p.errorf(p.cur().Pos, "expected %s, found %s %q", k, p.cur().Kind, p.cur().Lexeme)
	}
	return p.advance()
}

func (p *parser) skipStmtSeparators() {
	for p.cur().Kind == token.NEWLINE || p.cur().Kind == token.SEMICOLON {
		p.advance()
	}
}

// ----------------------------------------------------------------------
// Program / statements

func (p *parser) parseProgram() *ast.Program {
	var stmts []ast.Stmt
	p.skipStmtSeparators()
	for p.cur().Kind != token.EOF {
		stmts = append(stmts, p.parseStatement())
		p.skipStmtSeparators()
	}
	return &ast.Program{Stmts: stmts}
}

func (p *parser) parseIndentedStmts() []ast.Stmt {
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	var stmts []ast.Stmt
	p.skipStmtSeparators()
	for p.cur().Kind != token.OUTDENT && p.cur().Kind != token.EOF {
		stmts = append(stmts, p.parseStatement())
		p.skipStmtSeparators()
	}
	p.expect(token.OUTDENT)
	return stmts
}

func (p *parser) parseBlock() *ast.BlockExpr {
	pos := p.cur().Pos
	stmts := p.parseIndentedStmts()
	return &ast.BlockExpr{Position: pos, Stmts: stmts}
}

// atBareStatementEnd reports whether the current token can only mean "this
// statement carries no value", used to decide whether return/throw have a
// trailing expression.
func (p *parser) atBareStatementEnd() bool {
	switch p.cur().Kind {
	case token.NEWLINE, token.SEMICOLON, token.OUTDENT, token.EOF:
		return true
	default:
		return false
	}
}

func (p *parser) parseStatement() ast.Stmt {
	var stmt ast.Stmt
	switch p.cur().Kind {
	case token.IMPORT:
		stmt = p.parseImportStmt()
	case token.FROM:
		stmt = p.parseFromImportStmt()
	case token.CLASS:
		stmt = p.parseClassDecl()
	case token.WHILE, token.UNTIL:
		stmt = p.parseWhileStmt()
	case token.FOR:
		stmt = p.parseForStmt()
	case token.BREAK:
		pos := p.advance().Pos
		stmt = &ast.BreakStmt{Position: pos}
	case token.CONTINUE:
		pos := p.advance().Pos
		stmt = &ast.ContinueStmt{Position: pos}
	case token.RETURN:
		pos := p.advance().Pos
		var val ast.Expr
		if !p.atBareStatementEnd() {
			val = p.parseExpr()
		}
		stmt = &ast.ReturnStmt{Position: pos, Value: val}
	case token.THROW:
		pos := p.advance().Pos
		val := p.parseExpr()
		stmt = &ast.ThrowStmt{Position: pos, Value: val}
	case token.TRY:
		stmt = p.parseTryStmt()
	default:
		stmt = p.parseSimpleStatement()
	}
	return p.applyPostfixModifier(stmt)
}

// applyPostfixModifier wraps stmt in a conditional when it is immediately
// followed by a trailing "if COND" / "unless COND" modifier.
func (p *parser) applyPostfixModifier(stmt ast.Stmt) ast.Stmt {
	if p.cur().Kind != token.IF && p.cur().Kind != token.UNLESS {
		return stmt
	}
	neg := p.cur().Kind == token.UNLESS
	pos := p.cur().Pos
	p.advance()
	cond := p.parseOr()
	if neg {
		cond = &ast.UnaryExpr{Position: pos, Op: token.NOT, X: cond}
	}
	return &ast.ExprStmt{
		Position: stmt.Pos(),
		X: &ast.IfExpr{
			Position: pos,
			Cond:     cond,
			Then:     &ast.BlockExpr{Position: stmt.Pos(), Stmts: []ast.Stmt{stmt}},
		},
	}
}

func (p *parser) parseImportStmt() ast.Stmt {
	pos := p.advance().Pos
	var items []ast.ImportItem
	for {
		name := p.expect(token.IDENT).Lexeme
		alias := ""
		if p.cur().Kind == token.AS {
			p.advance()
			alias = p.expect(token.IDENT).Lexeme
		}
		items = append(items, ast.ImportItem{Name: name, Alias: alias})
		if p.cur().Kind == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	return &ast.ImportStmt{Position: pos, Items: items}
}

func (p *parser) parseDottedModulePath() string {
	var b strings.Builder
	b.WriteString(p.expect(token.IDENT).Lexeme)
	for p.cur().Kind == token.DOT {
		p.advance()
		b.WriteByte('.')
		b.WriteString(p.expect(token.IDENT).Lexeme)
	}
	return b.String()
}

func (p *parser) parseFromImportStmt() ast.Stmt {
	pos := p.advance().Pos
	module := p.parseDottedModulePath()
	p.expect(token.IMPORT)
	var names []ast.ImportName
	for {
		name := p.expect(token.IDENT).Lexeme
		alias := ""
		if p.cur().Kind == token.AS {
			p.advance()
			alias = p.expect(token.IDENT).Lexeme
		}
		names = append(names, ast.ImportName{Name: name, Alias: alias})
		if p.cur().Kind == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	return &ast.FromImportStmt{Position: pos, Module: module, Names: names}
}

func (p *parser) parseClassDecl() ast.Stmt {
	pos := p.advance().Pos
	name := p.expect(token.IDENT).Lexeme
	var parent ast.Expr
	if p.cur().Kind == token.EXTENDS {
		p.advance()
		parent = p.parseDottedChain()
	}
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	var members []ast.ClassMember
	p.skipStmtSeparators()
	for p.cur().Kind != token.OUTDENT && p.cur().Kind != token.EOF {
		memberName := p.expect(token.IDENT).Lexeme
		p.expect(token.COLON)
		val := p.parseExpr()
		members = append(members, ast.ClassMember{Name: memberName, Value: val})
		p.skipStmtSeparators()
	}
	p.expect(token.OUTDENT)
	return &ast.ClassDecl{Position: pos, Name: name, Parent: parent, Members: members}
}

func (p *parser) parseWhileStmt() ast.Stmt {
	pos := p.cur().Pos
	neg := p.cur().Kind == token.UNTIL
	p.advance()
	cond := p.parseOr()
	if neg {
		cond = &ast.UnaryExpr{Position: pos, Op: token.NOT, X: cond}
	}
	body := p.parseIndentedStmts()
	return &ast.WhileStmt{Position: pos, Cond: cond, Body: body}
}

func (p *parser) parseForStmt() ast.Stmt {
	pos := p.advance().Pos
	first := p.expect(token.IDENT).Lexeme
	switch p.cur().Kind {
	case token.COMMA:
		p.advance()
		second := p.expect(token.IDENT).Lexeme
		p.expect(token.OF)
		iter := p.parseOr()
		body := p.parseIndentedStmts()
		return &ast.ForOfStmt{Position: pos, KeyVar: first, ValueVar: second, Iter: iter, Body: body}
	case token.OF:
		p.advance()
		iter := p.parseOr()
		body := p.parseIndentedStmts()
		return &ast.ForOfStmt{Position: pos, KeyVar: first, Iter: iter, Body: body}
	default:
		p.expect(token.IN)
		iter := p.parseOr()
		body := p.parseIndentedStmts()
		return &ast.ForInStmt{Position: pos, VarName: first, Iter: iter, Body: body}
	}
}

func (p *parser) parseTryStmt() ast.Stmt {
	pos := p.advance().Pos
	tryBody := p.parseIndentedStmts()
	stmt := &ast.TryStmt{Position: pos, TryBody: tryBody}
	if p.cur().Kind == token.CATCH {
		p.advance()
		stmt.HasCatch = true
		if p.cur().Kind == token.IDENT {
			stmt.CatchVar = p.advance().Lexeme
		}
		stmt.CatchBody = p.parseIndentedStmts()
	}
	if p.cur().Kind == token.FINALLY {
		p.advance()
		stmt.HasFinally = true
		stmt.FinallyBody = p.parseIndentedStmts()
	}
	return stmt
}

// ----------------------------------------------------------------------
// Assignment-family simple statements

// matchingCloseFollowedByEq reports whether the bracket/brace opening at
// the current position is immediately followed, after its matching close,
// by "=" -- the signal that this is a destructuring assignment pattern
// rather than an array/object literal expression statement.
func (p *parser) matchingCloseFollowedByEq() bool {
	open := p.cur().Kind
	var close token.Token
	switch open {
	case token.LBRACKET:
		close = token.RBRACKET
	case token.LBRACE:
		close = token.RBRACE
	default:
		return false
	}
	depth := 0
	i := p.pos
	for i < len(p.toks) {
		k := p.toks[i].Kind
		if k == open {
			depth++
		} else if k == close {
			depth--
			if depth == 0 {
				break
			}
		} else if k == token.EOF {
			return false
		}
		i++
	}
	if i+1 >= len(p.toks) {
		return false
	}
	return p.toks[i+1].Kind == token.EQ
}

func (p *parser) parseSimpleStatement() ast.Stmt {
	pos := p.cur().Pos
	if p.cur().Kind == token.PLUSPLUS || p.cur().Kind == token.MINUSMINUS {
		op := p.advance().Kind
		target := p.parsePostfixChain()
		return &ast.UpdateStmt{Position: pos, Target: target, Op: op, Prefix: true}
	}
	if (p.cur().Kind == token.LBRACKET || p.cur().Kind == token.LBRACE) && p.matchingCloseFollowedByEq() {
		var pattern ast.Expr
		if p.cur().Kind == token.LBRACKET {
			pattern = p.parseArrayPattern()
		} else {
			pattern = p.parseObjectPattern()
		}
		p.expect(token.EQ)
		value := p.parseExpr()
		return &ast.AssignStmt{Position: pos, Target: pattern, Value: value}
	}

	lhs := p.parseExpr()
	switch p.cur().Kind {
	case token.EQ:
		targets := []ast.Expr{lhs}
		p.advance()
		val := p.parseExpr()
		for p.cur().Kind == token.EQ {
			targets = append(targets, val)
			p.advance()
			val = p.parseExpr()
		}
		if len(targets) == 1 {
			return &ast.AssignStmt{Position: pos, Target: targets[0], Value: val}
		}
		return &ast.MultiAssignStmt{Position: pos, Targets: targets, Value: val}
	case token.PLUS_EQ, token.MINUS_EQ, token.STAR_EQ, token.SLASH_EQ, token.PERCENT_EQ:
		op := p.advance().Kind
		val := p.parseExpr()
		return &ast.AugAssignStmt{Position: pos, Target: lhs, Op: op, Value: val}
	case token.QUESTIONEQ:
		p.advance()
		val := p.parseExpr()
		return &ast.ExistentialAssignStmt{Position: pos, Target: lhs, Value: val}
	case token.OROR_EQ, token.ANDAND_EQ:
		op := p.advance().Kind
		val := p.parseExpr()
		return &ast.LogicalAssignStmt{Position: pos, Target: lhs, Op: op, Value: val}
	case token.PLUSPLUS, token.MINUSMINUS:
		op := p.advance().Kind
		return &ast.UpdateStmt{Position: pos, Target: lhs, Op: op, Prefix: false}
	default:
		return &ast.ExprStmt{Position: pos, X: lhs}
	}
}

func (p *parser) parsePatternTarget() ast.Expr {
	switch p.cur().Kind {
	case token.LBRACKET:
		return p.parseArrayPattern()
	case token.LBRACE:
		return p.parseObjectPattern()
	case token.AT:
		pos := p.cur().Pos
		p.advance()
		name := p.expect(token.IDENT)
		return &ast.GetAttr{Position: pos, X: &ast.This{Position: pos}, Name: name.Lexeme}
	default:
		name := p.expect(token.IDENT)
		var x ast.Expr = &ast.Identifier{Position: name.Pos, Name: name.Lexeme}
		for p.cur().Kind == token.DOT {
			p.advance()
			attr := p.expect(token.IDENT)
			x = &ast.GetAttr{Position: attr.Pos, X: x, Name: attr.Lexeme}
		}
		return x
	}
}

func (p *parser) parseArrayPattern() ast.Expr {
	pos := p.cur().Pos
	p.expect(token.LBRACKET)
	var elems []ast.ArrayDestructureElem
	splatIndex := -1
	if p.cur().Kind != token.RBRACKET {
		for {
			target := p.parsePatternTarget()
			isSplat := false
			if p.cur().Kind == token.DOTDOTDOT {
				p.advance()
				isSplat = true
				splatIndex = len(elems)
			}
			elems = append(elems, ast.ArrayDestructureElem{Target: target, IsSplat: isSplat})
			if p.cur().Kind == token.COMMA {
				p.advance()
				continue
			}
			break
		}
	}
	p.expect(token.RBRACKET)
	return &ast.ArrayDestructure{Position: pos, Elems: elems, SplatIndex: splatIndex}
}

func (p *parser) parseObjectPattern() ast.Expr {
	pos := p.cur().Pos
	p.expect(token.LBRACE)
	var props []ast.ObjectDestructureProp
	if p.cur().Kind != token.RBRACE {
		for {
			keyTok := p.expect(token.IDENT)
			alias := ""
			var def ast.Expr
			if p.cur().Kind == token.COLON {
				p.advance()
				alias = p.expect(token.IDENT).Lexeme
			} else if p.cur().Kind == token.EQ {
				p.advance()
				def = p.parseExpr()
			}
			props = append(props, ast.ObjectDestructureProp{Key: keyTok.Lexeme, Alias: alias, Default: def})
			if p.cur().Kind == token.COMMA {
				p.advance()
				continue
			}
			break
		}
	}
	p.expect(token.RBRACE)
	return &ast.ObjectDestructure{Position: pos, Props: props}
}

// ----------------------------------------------------------------------
// Expressions: precedence climbing, low to high.
//
//   or/||  ->  ?  ->  and/&&  ->  ==/!=/is/isnt (+in/of)  ->  chained
//   comparison  ->  range (..  ...  by)  ->  +/-  ->  * / %  ->  ** (right
//   assoc)  ->  unary (not, -, +)  ->  postfix (call/member/index/slice)
//   -> primary

func (p *parser) parseExpr() ast.Expr {
	switch p.cur().Kind {
	case token.SWITCH:
		return p.parseSwitch()
	case token.DO:
		return p.parseDo()
	case token.IF, token.UNLESS:
		return p.parsePrefixIf()
	default:
		return p.parseOr()
	}
}

func (p *parser) parseOr() ast.Expr {
	left := p.parseExistential()
	for p.cur().Kind == token.OR || p.cur().Kind == token.OROR {
		op := p.advance().Kind
		right := p.parseExistential()
		left = &ast.BinaryExpr{Position: left.Pos(), X: left, Op: op, Y: right}
	}
	return left
}

func (p *parser) parseExistential() ast.Expr {
	left := p.parseAnd()
	for p.cur().Kind == token.QUESTION {
		p.advance()
		right := p.parseAnd()
		left = &ast.Existential{Position: left.Pos(), Left: left, Right: right}
	}
	return left
}

func (p *parser) parseAnd() ast.Expr {
	left := p.parseEquality()
	for p.cur().Kind == token.AND || p.cur().Kind == token.ANDAND {
		op := p.advance().Kind
		right := p.parseEquality()
		left = &ast.BinaryExpr{Position: left.Pos(), X: left, Op: op, Y: right}
	}
	return left
}

func (p *parser) parseEquality() ast.Expr {
	left := p.parseComparisonChain()
	for {
		switch p.cur().Kind {
		case token.EQEQ, token.NEQ:
			op := p.advance().Kind
			right := p.parseComparisonChain()
			left = &ast.BinaryExpr{Position: left.Pos(), X: left, Op: op, Y: right}
		case token.IS:
			p.advance()
			op := token.EQEQ
			if p.cur().Kind == token.NOT {
				p.advance()
				op = token.NEQ
			}
			right := p.parseComparisonChain()
			left = &ast.BinaryExpr{Position: left.Pos(), X: left, Op: op, Y: right}
		case token.ISNT:
			p.advance()
			right := p.parseComparisonChain()
			left = &ast.BinaryExpr{Position: left.Pos(), X: left, Op: token.NEQ, Y: right}
		case token.IN:
			p.advance()
			right := p.parseComparisonChain()
			left = &ast.InExpr{Position: left.Pos(), Value: left, Container: right}
		case token.OF:
			p.advance()
			right := p.parseComparisonChain()
			left = &ast.OfExpr{Position: left.Pos(), Key: left, Container: right}
		default:
			return left
		}
	}
}

func (p *parser) parseComparisonChain() ast.Expr {
	first := p.parseRange()
	operands := []ast.Expr{first}
	var ops []token.Token
	for p.cur().Kind == token.LT || p.cur().Kind == token.LTE ||
		p.cur().Kind == token.GT || p.cur().Kind == token.GTE {
		ops = append(ops, p.advance().Kind)
		operands = append(operands, p.parseRange())
	}
	switch len(ops) {
	case 0:
		return first
	case 1:
		return &ast.BinaryExpr{Position: first.Pos(), X: operands[0], Op: ops[0], Y: operands[1]}
	default:
		return &ast.ChainedComparison{Position: first.Pos(), Operands: operands, Ops: ops}
	}
}

// isExprStart reports whether k can begin an expression -- used to
// disambiguate a trailing "..." between a range end and a splat marker.
func isExprStart(k token.Token) bool {
	switch k {
	case token.NUMBER, token.STRING, token.IDENT, token.LBRACE, token.LBRACKET, token.LPAREN,
		token.NOT, token.MINUS, token.PLUS, token.IF, token.UNLESS, token.ARROW, token.FAT_ARROW,
		token.TRUE, token.FALSE, token.NULL, token.UNDEFINED, token.THIS, token.AT, token.SUPER,
		token.NEW, token.DO, token.SWITCH, token.REGEX, token.YIELD:
		return true
	default:
		return false
	}
}

func (p *parser) parseRange() ast.Expr {
	left := p.parseAdditive()
	if p.cur().Kind != token.DOTDOT && p.cur().Kind != token.DOTDOTDOT {
		return left
	}
	excl := p.cur().Kind == token.DOTDOTDOT
	pos := p.cur().Pos
	if excl && !isExprStart(p.look(1).Kind) {
		p.advance()
		return &ast.Splat{Position: pos, Value: left}
	}
	p.advance()
	end := p.parseAdditive()
	var step ast.Expr
	if p.cur().Kind == token.BY {
		p.advance()
		step = p.parseAdditive()
	}
	return &ast.RangeLit{Position: left.Pos(), Start: left, End: end, Exclusive: excl, Step: step}
}

func (p *parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.cur().Kind == token.PLUS || p.cur().Kind == token.MINUS {
		op := p.advance().Kind
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{Position: left.Pos(), X: left, Op: op, Y: right}
	}
	return left
}

func (p *parser) parseMultiplicative() ast.Expr {
	left := p.parsePower()
	for p.cur().Kind == token.STAR || p.cur().Kind == token.SLASH || p.cur().Kind == token.PERCENT {
		op := p.advance().Kind
		right := p.parsePower()
		left = &ast.BinaryExpr{Position: left.Pos(), X: left, Op: op, Y: right}
	}
	return left
}

func (p *parser) parsePower() ast.Expr {
	left := p.parseUnary()
	if p.cur().Kind == token.STARSTAR {
		p.advance()
		right := p.parsePower() // right-associative
		return &ast.BinaryExpr{Position: left.Pos(), X: left, Op: token.STARSTAR, Y: right}
	}
	return left
}

func (p *parser) parseUnary() ast.Expr {
	switch p.cur().Kind {
	case token.NOT, token.MINUS, token.PLUS:
		op := p.advance()
		x := p.parseUnary()
		return &ast.UnaryExpr{Position: op.Pos, Op: op.Kind, X: x}
	default:
		return p.parsePostfixChain()
	}
}

// isImplicitArgStart is deliberately narrower than isExprStart: leading
// MINUS/PLUS/LBRACKET/LPAREN after a callable primary are kept as binary
// operators, indexing, and explicit calls respectively, since the token
// stream carries no inter-token whitespace to disambiguate `f -1` or
// `f [1]` the way the source language does.
func isImplicitArgStart(k token.Token) bool {
	switch k {
	case token.NUMBER, token.STRING, token.IDENT, token.LBRACE, token.NOT,
		token.IF, token.UNLESS, token.ARROW, token.FAT_ARROW, token.TRUE, token.FALSE,
		token.NULL, token.UNDEFINED, token.THIS, token.AT, token.SUPER, token.NEW,
		token.DO, token.SWITCH, token.REGEX, token.YIELD:
		return true
	default:
		return false
	}
}

func canTakeImplicitCall(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Identifier, *ast.GetAttr, *ast.IndexExpr, *ast.CallExpr:
		return true
	default:
		return false
	}
}

func (p *parser) parsePostfixChain() ast.Expr {
	x := p.parsePrimary()
	for {
		switch p.cur().Kind {
		case token.DOT:
			p.advance()
			name := p.expect(token.IDENT)
			x = &ast.GetAttr{Position: name.Pos, X: x, Name: name.Lexeme}
		case token.QUESTIONDOT:
			p.advance()
			name := p.expect(token.IDENT)
			x = &ast.SafeAccess{Position: name.Pos, X: x, Name: name.Lexeme}
		case token.PROTO:
			p.advance()
			name := p.expect(token.IDENT)
			x = &ast.ProtoAccess{Position: name.Pos, X: x, Name: name.Lexeme}
		case token.LBRACKET:
			pos := p.cur().Pos
			p.advance()
			inner := p.parseExpr()
			p.expect(token.RBRACKET)
			if rl, ok := inner.(*ast.RangeLit); ok {
				x = &ast.SliceExpr{Position: pos, X: x, Start: rl.Start, End: rl.End, Exclusive: rl.Exclusive}
			} else {
				x = &ast.IndexExpr{Position: pos, X: x, Index: inner}
			}
		case token.LPAREN:
			pos := p.cur().Pos
			args, kwargs := p.parseCallArgs()
			x = &ast.CallExpr{Position: pos, Callee: x, Args: args, Kwargs: kwargs}
		default:
			if canTakeImplicitCall(x) && isImplicitArgStart(p.cur().Kind) {
				pos := p.cur().Pos
				args := p.parseImplicitArgList()
				x = &ast.CallExpr{Position: pos, Callee: x, Args: args, Implicit: true}
				continue
			}
			return x
		}
	}
}

func (p *parser) parseImplicitArgList() []ast.Expr {
	args := []ast.Expr{p.parseExpr()}
	for p.cur().Kind == token.COMMA {
		p.advance()
		args = append(args, p.parseExpr())
	}
	return args
}

func (p *parser) parseCallArgs() ([]ast.Expr, []ast.KeywordArg) {
	p.expect(token.LPAREN)
	var args []ast.Expr
	var kwargs []ast.KeywordArg
	if p.cur().Kind != token.RPAREN {
		for {
			if p.cur().Kind == token.IDENT && p.look(1).Kind == token.EQ {
				name := p.advance()
				p.advance() // EQ
				val := p.parseExpr()
				kwargs = append(kwargs, ast.KeywordArg{Name: name.Lexeme, Value: val})
			} else {
				args = append(args, p.parseExpr())
			}
			if p.cur().Kind == token.COMMA {
				p.advance()
				continue
			}
			break
		}
	}
	p.expect(token.RPAREN)
	return args, kwargs
}

// parseDottedChain parses a member-access-only chain (no calls, no
// indexing), used for `extends EXPR` and the class target of `new`.
func (p *parser) parseDottedChain() ast.Expr {
	x := p.parsePrimary()
	for {
		switch p.cur().Kind {
		case token.DOT:
			p.advance()
			name := p.expect(token.IDENT)
			x = &ast.GetAttr{Position: name.Pos, X: x, Name: name.Lexeme}
		case token.PROTO:
			p.advance()
			name := p.expect(token.IDENT)
			x = &ast.ProtoAccess{Position: name.Pos, X: x, Name: name.Lexeme}
		default:
			return x
		}
	}
}

// ----------------------------------------------------------------------
// Expression forms with their own block-or-then body

func (p *parser) parsePrefixIf() ast.Expr {
	neg := p.cur().Kind == token.UNLESS
	pos := p.cur().Pos
	p.advance()
	cond := p.parseOr()
	if neg {
		cond = &ast.UnaryExpr{Position: pos, Op: token.NOT, X: cond}
	}
	var thenE ast.Expr
	if p.cur().Kind == token.THEN {
		p.advance()
		thenE = p.parseExpr()
	} else {
		thenE = p.parseBlock()
	}
	var elseE ast.Expr
	if p.cur().Kind == token.ELSE {
		p.advance()
		switch p.cur().Kind {
		case token.IF, token.UNLESS:
			elseE = p.parsePrefixIf()
		case token.THEN:
			p.advance()
			elseE = p.parseExpr()
		default:
			elseE = p.parseBlock()
		}
	}
	return &ast.IfExpr{Position: pos, Cond: cond, Then: thenE, Else: elseE}
}

func (p *parser) parseDo() ast.Expr {
	pos := p.advance().Pos
	body := p.parseExpr()
	return &ast.Do{Position: pos, Body: body}
}

func (p *parser) parseCaseBody() ast.Expr {
	if p.cur().Kind == token.THEN {
		p.advance()
		return p.parseExpr()
	}
	return p.parseBlock()
}

func (p *parser) parseSwitch() ast.Expr {
	pos := p.advance().Pos
	var subject ast.Expr
	if p.cur().Kind != token.NEWLINE {
		subject = p.parseOr()
	}
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	var cases []ast.SwitchCase
	var def ast.Expr
	p.skipStmtSeparators()
	for p.cur().Kind == token.WHEN {
		p.advance()
		conds := []ast.Expr{p.parseOr()}
		for p.cur().Kind == token.COMMA {
			p.advance()
			conds = append(conds, p.parseOr())
		}
		body := p.parseCaseBody()
		cases = append(cases, ast.SwitchCase{Conds: conds, Body: body})
		p.skipStmtSeparators()
	}
	if p.cur().Kind == token.ELSE {
		p.advance()
		def = p.parseCaseBody()
		p.skipStmtSeparators()
	}
	p.expect(token.OUTDENT)
	return &ast.Switch{Position: pos, Subject: subject, Cases: cases, Default: def}
}

// ----------------------------------------------------------------------
// Primary expressions

func (p *parser) parseNew() ast.Expr {
	pos := p.advance().Pos
	classExpr := p.parseDottedChain()
	var args []ast.Expr
	var kwargs []ast.KeywordArg
	if p.cur().Kind == token.LPAREN {
		args, kwargs = p.parseCallArgs()
	}
	return &ast.NewExpr{Position: pos, Class: classExpr, Args: args, Kwargs: kwargs}
}

// isFunctionLitAhead looks past the current "(" to its matching ")" and
// reports whether an arrow follows, the only way to tell a parameter list
// from a parenthesized expression without backtracking.
func (p *parser) isFunctionLitAhead() bool {
	depth := 0
	i := p.pos
	for i < len(p.toks) {
		k := p.toks[i].Kind
		if k == token.LPAREN {
			depth++
		} else if k == token.RPAREN {
			depth--
			if depth == 0 {
				break
			}
		} else if k == token.EOF {
			return false
		}
		i++
	}
	if i+1 >= len(p.toks) {
		return false
	}
	next := p.toks[i+1].Kind
	return next == token.ARROW || next == token.FAT_ARROW
}

func (p *parser) parseFunctionBody() *ast.BlockExpr {
	if p.cur().Kind == token.NEWLINE {
		return p.parseBlock()
	}
	pos := p.cur().Pos
	e := p.parseExpr()
	return &ast.BlockExpr{Position: pos, Stmts: []ast.Stmt{&ast.ExprStmt{Position: pos, X: e}}}
}

func (p *parser) parseParamListAndFunction() ast.Expr {
	pos := p.cur().Pos
	p.expect(token.LPAREN)
	var params []ast.Param
	if p.cur().Kind != token.RPAREN {
		for {
			atThis := false
			if p.cur().Kind == token.AT {
				p.advance()
				atThis = true
			}
			name := p.expect(token.IDENT).Lexeme
			splat := false
			var def ast.Expr
			if p.cur().Kind == token.DOTDOTDOT {
				p.advance()
				splat = true
			}
			if p.cur().Kind == token.EQ {
				p.advance()
				def = p.parseExpr()
			}
			params = append(params, ast.Param{Name: name, AtThis: atThis, Default: def, Splat: splat})
			if p.cur().Kind == token.COMMA {
				p.advance()
				continue
			}
			break
		}
	}
	p.expect(token.RPAREN)
	bound := p.cur().Kind == token.FAT_ARROW
	p.advance() // ARROW or FAT_ARROW, guaranteed by isFunctionLitAhead
	body := p.parseFunctionBody()
	return &ast.FunctionLit{Position: pos, Params: params, Body: body, Bound: bound}
}

func (p *parser) parseArrayLiteral() ast.Expr {
	pos := p.advance().Pos
	if p.cur().Kind == token.RBRACKET {
		p.advance()
		return &ast.ArrayLit{Position: pos}
	}
	first := p.parseExpr()
	if p.cur().Kind == token.FOR {
		p.advance()
		varName := p.expect(token.IDENT).Lexeme
		p.expect(token.IN)
		iter := p.parseOr()
		var filter ast.Expr
		if p.cur().Kind == token.WHEN {
			p.advance()
			filter = p.parseOr()
		}
		p.expect(token.RBRACKET)
		return &ast.Comprehension{Position: pos, VarName: varName, Iter: iter, Body: first, Filter: filter}
	}
	items := []ast.Expr{first}
	for p.cur().Kind == token.COMMA {
		p.advance()
		if p.cur().Kind == token.RBRACKET {
			break
		}
		items = append(items, p.parseExpr())
	}
	p.expect(token.RBRACKET)
	return &ast.ArrayLit{Position: pos, Items: items}
}

func (p *parser) parseObjectPair() (ast.Expr, ast.Expr) {
	if p.cur().Kind == token.STRING {
		tok := p.advance()
		key := &ast.Literal{Position: tok.Pos, Kind: token.STRING, Value: tok.Literal}
		p.expect(token.COLON)
		val := p.parseExpr()
		return key, val
	}
	nameTok := p.expect(token.IDENT)
	key := &ast.Literal{Position: nameTok.Pos, Kind: token.STRING, Value: nameTok.Lexeme}
	if p.cur().Kind == token.COLON {
		p.advance()
		val := p.parseExpr()
		return key, val
	}
	return key, &ast.Identifier{Position: nameTok.Pos, Name: nameTok.Lexeme}
}

func (p *parser) parseObjectLiteral() ast.Expr {
	pos := p.advance().Pos
	if p.cur().Kind == token.RBRACE {
		p.advance()
		return &ast.ObjectLit{Position: pos}
	}
	firstKey, firstVal := p.parseObjectPair()
	if p.cur().Kind == token.FOR {
		p.advance()
		keyVar := p.expect(token.IDENT).Lexeme
		valueVar := ""
		if p.cur().Kind == token.COMMA {
			p.advance()
			valueVar = p.expect(token.IDENT).Lexeme
		}
		p.expect(token.OF)
		iter := p.parseOr()
		var filter ast.Expr
		if p.cur().Kind == token.WHEN {
			p.advance()
			filter = p.parseOr()
		}
		p.expect(token.RBRACE)
		return &ast.ObjectComprehension{
			Position: pos, KeyExpr: firstKey, ValExpr: firstVal,
			KeyVar: keyVar, ValueVar: valueVar, Iter: iter, Filter: filter,
		}
	}
	pairs := []ast.ObjectPair{{Key: firstKey, Value: firstVal}}
	for p.cur().Kind == token.COMMA {
		p.advance()
		if p.cur().Kind == token.RBRACE {
			break
		}
		k, v := p.parseObjectPair()
		pairs = append(pairs, ast.ObjectPair{Key: k, Value: v})
	}
	p.expect(token.RBRACE)
	return &ast.ObjectLit{Position: pos, Pairs: pairs}
}

// splitInterpolated turns a decoded string literal carrying one or more
// "#{...}" marks into an InterpolatedString, re-lexing and re-parsing each
// marked region as a standalone expression.
func (p *parser) splitInterpolated(pos token.Position, s string) ast.Expr {
	var parts []ast.Expr
	i := 0
	for i < len(s) {
		j := strings.Index(s[i:], "#{")
		if j < 0 {
			parts = append(parts, &ast.Literal{Position: pos, Kind: token.STRING, Value: s[i:]})
			break
		}
		if j > 0 {
			parts = append(parts, &ast.Literal{Position: pos, Kind: token.STRING, Value: s[i : i+j]})
		}
		i += j + 2
		depth := 1
		k := i
		for k < len(s) && depth > 0 {
			switch s[k] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					goto closed
				}
			}
			k++
		}
	closed:
		inner := s[i:k]
		if k < len(s) {
			i = k + 1
		} else {
			i = k
		}
		sub, err := Parse("<interpolation>", inner)
		if err != nil || len(sub.Stmts) == 0 {
			parts = append(parts, &ast.Literal{Position: pos, Kind: token.STRING, Value: ""})
			continue
		}
		if es, ok := sub.Stmts[len(sub.Stmts)-1].(*ast.ExprStmt); ok {
			parts = append(parts, es.X)
		}
	}
	return &ast.InterpolatedString{Position: pos, Parts: parts}
}

func (p *parser) parseStringLiteral(tok scanner.Token) ast.Expr {
	s, _ := tok.Literal.(string)
	if !strings.Contains(s, "#{") {
		return &ast.Literal{Position: tok.Pos, Kind: token.STRING, Value: s}
	}
	return p.splitInterpolated(tok.Pos, s)
}

func (p *parser) parsePrimary() ast.Expr {
	tok := p.cur()
	switch tok.Kind {
	case token.NUMBER:
		p.advance()
		return &ast.Literal{Position: tok.Pos, Kind: token.NUMBER, Value: tok.Literal}
	case token.STRING:
		p.advance()
		return p.parseStringLiteral(tok)
	case token.REGEX:
		p.advance()
		return &ast.Literal{Position: tok.Pos, Kind: token.REGEX, Value: tok.Literal}
	case token.TRUE:
		p.advance()
		return &ast.Literal{Position: tok.Pos, Kind: token.TRUE, Value: true}
	case token.FALSE:
		p.advance()
		return &ast.Literal{Position: tok.Pos, Kind: token.FALSE, Value: false}
	case token.NULL:
		p.advance()
		return &ast.Literal{Position: tok.Pos, Kind: token.NULL, Value: nil}
	case token.UNDEFINED:
		p.advance()
		return &ast.Literal{Position: tok.Pos, Kind: token.UNDEFINED, Value: nil}
	case token.IDENT:
		p.advance()
		return &ast.Identifier{Position: tok.Pos, Name: tok.Lexeme}
	case token.THIS:
		p.advance()
		return &ast.This{Position: tok.Pos}
	case token.SUPER:
		p.advance()
		return &ast.Super{Position: tok.Pos}
	case token.AT:
		p.advance()
		if p.cur().Kind == token.IDENT {
			name := p.advance()
			return &ast.GetAttr{Position: tok.Pos, X: &ast.This{Position: tok.Pos}, Name: name.Lexeme}
		}
		return &ast.This{Position: tok.Pos}
	case token.PROTO:
		p.advance()
		name := p.expect(token.IDENT)
		return &ast.ProtoAccess{Position: tok.Pos, Name: name.Lexeme}
	case token.NEW:
		return p.parseNew()
	case token.YIELD:
		p.advance()
		var val ast.Expr
		if isExprStart(p.cur().Kind) {
			val = p.parseExpr()
		}
		return &ast.YieldExpr{Position: tok.Pos, Value: val}
	case token.LBRACKET:
		return p.parseArrayLiteral()
	case token.LBRACE:
		return p.parseObjectLiteral()
	case token.ARROW, token.FAT_ARROW:
		bound := tok.Kind == token.FAT_ARROW
		p.advance()
		body := p.parseFunctionBody()
		return &ast.FunctionLit{Position: tok.Pos, Body: body, Bound: bound}
	case token.LPAREN:
		if p.isFunctionLitAhead() {
			return p.parseParamListAndFunction()
		}
		p.advance()
		e := p.parseExpr()
		p.expect(token.RPAREN)
		return e
	default:
		p.errorf(tok.Pos, "unexpected token %s %q", tok.Kind, tok.Lexeme)
		return nil // unreachable: errorf panics
	}
}
