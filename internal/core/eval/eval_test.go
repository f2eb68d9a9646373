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

package eval_test

import (
	"bytes"
	"testing"

	"github.com/go-quicktest/qt"

	"coffeepy.dev/coffeepy/cue/parser"
	"coffeepy.dev/coffeepy/internal/core/env"
	"coffeepy.dev/coffeepy/internal/core/eval"
	"coffeepy.dev/coffeepy/internal/host"
)

// run parses and evaluates src, returning the result's display string.
func run(t *testing.T, src string) (string, error) {
	t.Helper()
	prog, err := parser.Parse("<test>", src)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	ev := eval.New(host.New(&out, nil))
	ev.Source = src
	v, err := ev.Run(prog, env.New())
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func TestRangeExpansion(t *testing.T) {
	cases := []struct{ desc, src, want string }{
		{"inclusive ascending", "1..5", "[1, 2, 3, 4, 5]"},
		{"exclusive ascending", "1...5", "[1, 2, 3, 4]"},
		{"stepped descending", "10..1 by -2", "[10, 8, 6, 4, 2]"},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := run(t, tc.src)
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(got, tc.want))
		})
	}
}

func TestArrayDestructureWithSplat(t *testing.T) {
	src := "arr = [1, 2, 3, 4, 5]\n[first, middle..., last] = arr\n[first, middle, last]"
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "[1, [2, 3, 4], 5]"))
}

func TestArrayDestructureShortSource(t *testing.T) {
	src := "[a, b, c] = [1]\n[a, b, c]"
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "[1, null, null]"))
}

func TestChainedComparison(t *testing.T) {
	cases := []struct{ src, want string }{
		{"1 < 2 < 3", "true"},
		{"1 < 3 < 2", "false"},
		{"3 > 2 > 1", "true"},
	}
	for _, tc := range cases {
		got, err := run(t, tc.src)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(got, tc.want))
	}
}

func TestTryCatchThrow(t *testing.T) {
	src := `
result = null
try
  throw "boom"
catch e
  result = e
result
`
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "boom"))
}

func TestReturnOutsideFunctionIsRuntimeError(t *testing.T) {
	_, err := run(t, "return 1")
	if err == nil {
		t.Fatal("want a runtime error for return outside a function")
	}
}

func TestClassesAndInheritance(t *testing.T) {
	src := `
class Animal
  constructor: (@name) -> null
  speak: -> "#{@name} makes a sound"

class Dog extends Animal
  speak: -> "#{@name} barks"

d = new Dog("Rex")
d.speak()
`
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "Rex barks"))
}

// TestSuperResolvesToParentClass checks §4.3's literal semantics: "super"
// inside a method resolves to the class's parent for explicit member
// access, not an implicit parent-method call.
func TestSuperResolvesToParentClass(t *testing.T) {
	src := `
class Animal
  describe: -> "an animal"

class Dog extends Animal
  whoIsSuper: -> super

d = new Dog()
d.whoIsSuper()
`
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "[class Animal]"))
}

func TestClosureUpdatesEnclosingBinding(t *testing.T) {
	src := `
makeCounter = ->
  n = 0
  increment = ->
    n += 1
  increment
counter = makeCounter()
counter()
counter()
counter()
`
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "3"))
}

func TestExistentialOperator(t *testing.T) {
	cases := []struct{ src, want string }{
		{"null ? 5", "5"},
		{"3 ? 5", "3"},
	}
	for _, tc := range cases {
		got, err := run(t, tc.src)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(got, tc.want))
	}
}

func TestSliceInclusiveExclusive(t *testing.T) {
	cases := []struct{ src, want string }{
		{"[1,2,3,4,5][1..3]", "[2, 3, 4]"},
		{"[1,2,3,4,5][1...3]", "[2, 3]"},
	}
	for _, tc := range cases {
		got, err := run(t, tc.src)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(got, tc.want))
	}
}

func TestStringInterpolation(t *testing.T) {
	src := `name = "world"
"hello, #{name}!"`
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "hello, world!"))
}

func TestComprehension(t *testing.T) {
	src := "[x * 2 for x in [1,2,3] when x > 1]"
	got, err := run(t, src)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, "[4, 6]"))
}
