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

package host

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"coffeepy.dev/coffeepy/internal/core/value"
)

var intCtx = apd.BaseContext.WithPrecision(40)

// ModuleLoader resolves a dotted module path to a host value, the
// import_module(path) -> value collaborator described in §6.
type ModuleLoader func(dotted string) (value.Value, error)

// Default is the built-in Host implementation: it supplies the ambient
// builtin table (print, len, range, str, and friends from the original
// interpreter's builtin inventory) and delegates module resolution to an
// injectable ModuleLoader.
type Default struct {
	Out    io.Writer
	Loader ModuleLoader

	builtins map[string]value.Value
}

// New constructs a Default host writing `print` output to out and
// resolving imports through loader (which may be nil, in which case every
// import fails with "module not found").
func New(out io.Writer, loader ModuleLoader) *Default {
	h := &Default{Out: out, Loader: loader}
	h.builtins = h.buildBuiltins()
	return h
}

func (h *Default) ImportModule(dotted string) (value.Value, error) {
	if h.Loader == nil {
		return nil, fmt.Errorf("module not found: %q", dotted)
	}
	v, err := h.Loader(dotted)
	if err != nil {
		return nil, fmt.Errorf("module not found: %q: %w", dotted, err)
	}
	return v, nil
}

func (h *Default) GetAttr(v value.Value, name string) (value.Value, bool) {
	switch t := v.(type) {
	case *value.Map:
		return t.Get(name)
	case *value.Instance:
		if fv, ok := t.Fields.Get(name); ok {
			return fv, true
		}
		if m, ok := t.Class.FindMethod(name); ok {
			if fn, ok := m.(*value.Function); ok {
				return &value.BoundMethod{Instance: t, Func: fn}, true
			}
			return m, true
		}
	case *value.Class:
		if m, ok := t.FindMethod(name); ok {
			return m, true
		}
	case value.Host:
		if mod, ok := t.Value.(*hostModule); ok {
			return mod.get(name)
		}
	}
	return nil, false
}

func (h *Default) HasAttr(v value.Value, name string) bool {
	_, ok := h.GetAttr(v, name)
	return ok
}

func (h *Default) LookupBuiltin(name string) (value.Value, bool) {
	v, ok := h.builtins[name]
	return v, ok
}

func (h *Default) IsCallable(v value.Value) bool {
	if value.Callable(v) {
		return true
	}
	if hv, ok := v.(value.Host); ok {
		_, ok := hv.Value.(Func)
		return ok
	}
	return false
}

func (h *Default) IsMapping(v value.Value) bool {
	_, ok := v.(*value.Map)
	return ok
}

func (h *Default) Call(callee value.Value, args []value.Value, kwargs map[string]value.Value) (value.Value, error) {
	hv, ok := callee.(value.Host)
	if !ok {
		return nil, fmt.Errorf("value is not callable: %s", callee.String())
	}
	fn, ok := hv.Value.(Func)
	if !ok {
		return nil, fmt.Errorf("value is not callable: %s", callee.String())
	}
	return fn(args, kwargs)
}

func (h *Default) Iterate(v value.Value) ([]value.Value, error) {
	switch t := v.(type) {
	case *value.List:
		return t.Items, nil
	case value.String:
		runes := []rune(string(t))
		out := make([]value.Value, len(runes))
		for i, r := range runes {
			out[i] = value.String(string(r))
		}
		return out, nil
	case *value.Map:
		out := make([]value.Value, 0, len(t.Keys()))
		for _, k := range t.Keys() {
			vv, _ := t.Get(k)
			out = append(out, vv)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is not iterable: %s", v.String())
	}
}

func (h *Default) GetItem(v value.Value, key value.Value) (value.Value, error) {
	switch t := v.(type) {
	case *value.List:
		n, ok := key.(value.Number)
		if !ok {
			return nil, fmt.Errorf("list index must be a number")
		}
		i, _ := n.D.Int64()
		idx := int(i)
		if idx < 0 {
			idx += len(t.Items)
		}
		if idx < 0 || idx >= len(t.Items) {
			return value.Undefined{}, nil
		}
		return t.Items[idx], nil
	case *value.Map:
		s, ok := key.(value.String)
		if !ok {
			return nil, fmt.Errorf("map key must be a string")
		}
		if vv, ok := t.Get(string(s)); ok {
			return vv, nil
		}
		return value.Undefined{}, nil
	case value.String:
		n, ok := key.(value.Number)
		if !ok {
			return nil, fmt.Errorf("string index must be a number")
		}
		runes := []rune(string(t))
		i, _ := n.D.Int64()
		idx := int(i)
		if idx < 0 {
			idx += len(runes)
		}
		if idx < 0 || idx >= len(runes) {
			return value.Undefined{}, nil
		}
		return value.String(string(runes[idx])), nil
	default:
		return nil, fmt.Errorf("value does not support indexing: %s", v.String())
	}
}

func (h *Default) SetItem(v value.Value, key value.Value, val value.Value) error {
	switch t := v.(type) {
	case *value.List:
		n, ok := key.(value.Number)
		if !ok {
			return fmt.Errorf("list index must be a number")
		}
		i, _ := n.D.Int64()
		idx := int(i)
		if idx < 0 {
			idx += len(t.Items)
		}
		for idx >= len(t.Items) {
			t.Items = append(t.Items, value.Undefined{})
		}
		if idx < 0 {
			return fmt.Errorf("list index out of range")
		}
		t.Items[idx] = val
		return nil
	case *value.Map:
		s, ok := key.(value.String)
		if !ok {
			return fmt.Errorf("map key must be a string")
		}
		t.Set(string(s), val)
		return nil
	default:
		return fmt.Errorf("value does not support item assignment: %s", v.String())
	}
}

// hostModule is a minimal attribute bag returned by a ModuleLoader that
// wants to expose a handful of named values without implementing its own
// Value kind.
type hostModule struct {
	attrs map[string]value.Value
}

// NewModule builds a host value exposing attrs by name, for use as the
// return value of a ModuleLoader.
func NewModule(attrs map[string]value.Value) value.Value {
	return value.Host{Value: &hostModule{attrs: attrs}}
}

func (m *hostModule) get(name string) (value.Value, bool) {
	v, ok := m.attrs[name]
	return v, ok
}

// buildBuiltins mirrors the original interpreter's builtin table: print,
// len, range, and the numeric/string conversions it exposes through
// lookup_builtin.
func (h *Default) buildBuiltins() map[string]value.Value {
	b := map[string]value.Value{}

	b["print"] = AsValue(Func(func(args []value.Value, _ map[string]value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = displayArg(a)
		}
		fmt.Fprintln(h.Out, strings.Join(parts, " "))
		return value.Null{}, nil
	}))

	b["len"] = AsValue(Func(func(args []value.Value, _ map[string]value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len() takes exactly one argument")
		}
		switch t := args[0].(type) {
		case *value.List:
			return value.NewInt(int64(len(t.Items))), nil
		case *value.Map:
			return value.NewInt(int64(len(t.Keys()))), nil
		case value.String:
			return value.NewInt(int64(len([]rune(string(t))))), nil
		default:
			return nil, fmt.Errorf("object of type %T has no len()", args[0])
		}
	}))

	b["range"] = AsValue(Func(func(args []value.Value, _ map[string]value.Value) (value.Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("range() takes exactly two arguments")
		}
		start, ok1 := args[0].(value.Number)
		end, ok2 := args[1].(value.Number)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("range() arguments must be numbers")
		}
		lo, _ := start.D.Int64()
		hi, _ := end.D.Int64()
		items := make([]value.Value, 0)
		for i := lo; i < hi; i++ {
			items = append(items, value.NewInt(i))
		}
		return value.NewList(items...), nil
	}))

	b["str"] = AsValue(Func(func(args []value.Value, _ map[string]value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("str() takes exactly one argument")
		}
		return value.String(args[0].String()), nil
	}))

	b["int"] = AsValue(Func(func(args []value.Value, _ map[string]value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("int() takes exactly one argument")
		}
		switch t := args[0].(type) {
		case value.Number:
			var r value.Number
			_, _ = intCtx.RoundToIntegralValue(&r.D, &t.D)
			return r, nil
		case value.String:
			n, err := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid literal for int(): %q", string(t))
			}
			return value.NewInt(n), nil
		default:
			return nil, fmt.Errorf("int() argument must be a string or number")
		}
	}))

	b["float"] = AsValue(Func(func(args []value.Value, _ map[string]value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("float() takes exactly one argument")
		}
		switch t := args[0].(type) {
		case value.Number:
			return t, nil
		case value.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid literal for float(): %q", string(t))
			}
			return value.NewFloat(f), nil
		default:
			return nil, fmt.Errorf("float() argument must be a string or number")
		}
	}))

	b["keys"] = AsValue(Func(func(args []value.Value, _ map[string]value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("keys() takes exactly one map argument")
		}
		m, ok := args[0].(*value.Map)
		if !ok {
			return nil, fmt.Errorf("keys() takes exactly one map argument")
		}
		ks := append([]string(nil), m.Keys()...)
		sort.Strings(ks)
		items := make([]value.Value, len(ks))
		for i, k := range ks {
			items[i] = value.String(k)
		}
		return value.NewList(items...), nil
	}))

	return b
}

func displayArg(v value.Value) string {
	if s, ok := v.(value.String); ok {
		return string(s)
	}
	return v.String()
}
