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

// Package value defines the runtime value model shared by the evaluator
// and the Host: a closed Value sum type (Null, Bool, Number, String, List,
// Map, Function, Class, Instance, BoundMethod, Host) dispatched through a
// marker interface the way the AST package dispatches node kinds.
package value

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"coffeepy.dev/coffeepy/cue/ast"
)

// Value is implemented by every runtime value kind.
type Value interface {
	valueNode()
	// Truthy reports the value's boolean coercion per coffeepy's
	// truthiness rules (§4.3): null/undefined are false, 0, "" and empty
	// sequences are false, everything else is true.
	Truthy() bool
	// String renders the value the way it would be printed.
	String() string
}

// Null is the single null value.
type Null struct{}

func (Null) valueNode()        {}
func (Null) Truthy() bool      { return false }
func (Null) String() string    { return "null" }

// Undefined is the single undefined value, distinct from Null.
type Undefined struct{}

func (Undefined) valueNode()     {}
func (Undefined) Truthy() bool   { return false }
func (Undefined) String() string { return "undefined" }

// Bool wraps a boolean.
type Bool bool

func (Bool) valueNode()        {}
func (b Bool) Truthy() bool    { return bool(b) }
func (b Bool) String() string  { return fmt.Sprintf("%t", bool(b)) }

var numCtx = apd.BaseContext.WithPrecision(40)

// Number is an arbitrary-precision decimal, the way the teacher's
// evaluator backs CUE's numeric kind with apd.Decimal instead of a bare
// float64, so literal arithmetic never drifts from the source text.
type Number struct {
	D apd.Decimal
}

func (Number) valueNode() {}

func (n Number) Truthy() bool { return n.D.Sign() != 0 }

func (n Number) String() string {
	return n.D.Text('f')
}

// IsInt reports whether n has no fractional part.
func (n Number) IsInt() bool {
	var r apd.Decimal
	_, _ = numCtx.RoundToIntegralValue(&r, &n.D)
	return r.Cmp(&n.D) == 0
}

// NewInt builds a Number from an int64.
func NewInt(i int64) Number {
	var n Number
	n.D.SetInt64(i)
	return n
}

// NewFloat builds a Number from a float64.
func NewFloat(f float64) Number {
	var n Number
	_, _ = n.D.SetFloat64(f)
	return n
}

// Arith performs one of +,-,*,/,%,** on two numbers using the shared
// numeric context.
func Arith(op byte, a, b Number) (Number, error) {
	var r Number
	var err error
	switch op {
	case '+':
		_, err = numCtx.Add(&r.D, &a.D, &b.D)
	case '-':
		_, err = numCtx.Sub(&r.D, &a.D, &b.D)
	case '*':
		_, err = numCtx.Mul(&r.D, &a.D, &b.D)
	case '/':
		if b.D.Sign() == 0 {
			return Number{}, fmt.Errorf("division by zero")
		}
		_, err = numCtx.Quo(&r.D, &a.D, &b.D)
	case '%':
		if b.D.Sign() == 0 {
			return Number{}, fmt.Errorf("division by zero")
		}
		_, err = numCtx.Rem(&r.D, &a.D, &b.D)
	case '^':
		_, err = numCtx.Pow(&r.D, &a.D, &b.D)
	default:
		return Number{}, fmt.Errorf("unsupported numeric operator %q", op)
	}
	return r, err
}

// Cmp compares two numbers, returning -1, 0, or 1.
func Cmp(a, b Number) int { return a.D.Cmp(&b.D) }

// String is a coffeepy string value.
type String string

func (String) valueNode()       {}
func (s String) Truthy() bool   { return len(s) > 0 }
func (s String) String() string { return string(s) }

// List is a mutable, reference-semantics sequence. It is always held by
// pointer so aliasing (e.g. a list captured by a closure) observes
// mutation the way CoffeeScript arrays do.
type List struct {
	Items []Value
}

func NewList(items ...Value) *List { return &List{Items: items} }

func (*List) valueNode()     {}
func (l *List) Truthy() bool { return len(l.Items) > 0 }
func (l *List) String() string {
	parts := make([]string, len(l.Items))
	for i, v := range l.Items {
		parts[i] = displayString(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Map is an insertion-ordered string-keyed mapping, the reference-semantics
// analogue of a CoffeeScript object literal.
type Map struct {
	keys   []string
	values map[string]Value
}

func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

func (*Map) valueNode()     {}
func (m *Map) Truthy() bool { return len(m.keys) > 0 }

func (m *Map) String() string {
	parts := make([]string, 0, len(m.keys))
	for _, k := range m.keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, displayString(m.values[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Map) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *Map) Keys() []string { return m.keys }

func displayString(v Value) string {
	if s, ok := v.(String); ok {
		return fmt.Sprintf("%q", string(s))
	}
	return v.String()
}

// Environment is the minimal interface the value package needs from the
// lexical environment, broken out to avoid an import cycle with
// internal/core/env.
type Environment interface {
	Get(name string) (Value, bool)
	Define(name string, v Value)
}

// Function is a user-defined closure: its parameter list, body, the
// environment it closed over, and whether it is a bound ("=>") function.
type Function struct {
	Name    string // empty for anonymous functions, set for named method entries
	Params  []ast.Param
	Body    *ast.BlockExpr
	Env     Environment
	Bound   bool
	// BoundThis is resolved once, at creation time, for a Bound function.
	BoundThis Value
	HasBoundThis bool
}

func (*Function) valueNode()     {}
func (f *Function) Truthy() bool { return true }
func (f *Function) String() string {
	if f.Name != "" {
		return fmt.Sprintf("[function: %s]", f.Name)
	}
	return "[function]"
}

// Class is a coffeepy class: its name, optional parent, and its own
// method/field-initializer table (name -> Function, or a plain value for
// non-function members evaluated once at declaration time).
type Class struct {
	Name    string
	Parent  *Class
	Members map[string]Value
}

func (*Class) valueNode()     {}
func (c *Class) Truthy() bool { return true }
func (c *Class) String() string {
	return fmt.Sprintf("[class %s]", c.Name)
}

// FindMethod looks up name through the inheritance chain: the class's own
// members first, then each parent in turn, the way _find_method walks up
// the class hierarchy.
func (c *Class) FindMethod(name string) (Value, bool) {
	for cls := c; cls != nil; cls = cls.Parent {
		if v, ok := cls.Members[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Instance is a class instance: an immutable class reference and a
// mutable field map.
type Instance struct {
	Class  *Class
	Fields *Map
}

func NewInstance(c *Class) *Instance {
	return &Instance{Class: c, Fields: NewMap()}
}

func (*Instance) valueNode()     {}
func (i *Instance) Truthy() bool { return true }
func (i *Instance) String() string {
	return fmt.Sprintf("[object %s]", i.Class.Name)
}

// BoundMethod pairs an instance with one of its class's functions so a
// later call installs `this` (and `super`, bound to the class's parent, or
// null for a root class) before running the body.
type BoundMethod struct {
	Instance *Instance
	Func     *Function
}

func (*BoundMethod) valueNode()     {}
func (b *BoundMethod) Truthy() bool { return true }
func (b *BoundMethod) String() string {
	return fmt.Sprintf("[bound method %s]", b.Func.Name)
}

// Host wraps an opaque value supplied by or destined for the Host
// capability (an imported module, a builtin callable, or any value that
// does not fit one of the other concrete kinds).
type Host struct {
	Value interface{}
}

func (Host) valueNode()     {}
func (Host) Truthy() bool   { return true }
func (h Host) String() string {
	return fmt.Sprintf("%v", h.Value)
}

// Callable reports whether v can appear as the callee of a Call
// expression without consulting the Host (i.e. it is a Function,
// BoundMethod, or Class).
func Callable(v Value) bool {
	switch v.(type) {
	case *Function, *BoundMethod, *Class:
		return true
	default:
		return false
	}
}

// Equal implements coffeepy's == structural equality.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Undefined:
		_, ok := b.(Undefined)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		return ok && Cmp(av, bv) == 0
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case *List:
		bv, ok := b.(*List)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case *Map:
		bv, ok := b.(*Map)
		if !ok || len(av.keys) != len(bv.keys) {
			return false
		}
		for _, k := range av.keys {
			bval, ok := bv.Get(k)
			if !ok || !Equal(av.values[k], bval) {
				return false
			}
		}
		return true
	case Host:
		bv, ok := b.(Host)
		return ok && safeEqual(av.Value, bv.Value)
	default:
		return safeEqual(a, b)
	}
}

// safeEqual compares two interface values with ==, recovering if one of
// them holds a dynamically uncomparable type (e.g. a slice or map leaked
// through Host) so structural equality never panics.
func safeEqual(a, b interface{}) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
