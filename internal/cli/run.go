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

package cli

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/kr/pretty"

	"coffeepy.dev/coffeepy/cue/parser"
	"coffeepy.dev/coffeepy/internal/core/env"
	"coffeepy.dev/coffeepy/internal/core/eval"
	"coffeepy.dev/coffeepy/internal/core/value"
	"coffeepy.dev/coffeepy/internal/host"
)

// Run parses and evaluates src under a fresh root environment, returning the
// value of its last statement. When trace is set, the parsed *ast.Program is
// dumped with kr/pretty before evaluation starts, the way --trace exposes
// the teacher's internal representation for debugging.
func Run(filename, src string, out io.Writer, trace bool) (value.Value, error) {
	prog, err := parser.Parse(filename, src)
	if err != nil {
		return nil, err
	}
	if trace {
		fmt.Fprintf(out, "%# v\n", pretty.Formatter(prog))
	}

	h := host.New(out, fileModuleLoader)
	ev := eval.New(h)
	ev.Source = src
	ev.Filename = filename

	return ev.Run(prog, env.New())
}

// printEvalResult prints the string form of an -e or REPL result on its
// own line; a nil or null result prints nothing.
func printEvalResult(out io.Writer, v value.Value) {
	if v == nil {
		return
	}
	if _, isNull := v.(value.Null); isNull {
		return
	}
	fmt.Fprintln(out, v.String())
}

// fileModuleLoader resolves a dotted module path ("a.b.c") to the file
// a/b/c.coffee relative to the working directory, parses and evaluates it
// on every import (results are not cached), and exposes its top-level
// bindings as a host module the way §6's import_module collaborator is
// described.
func fileModuleLoader(dotted string) (value.Value, error) {
	rel := strings.ReplaceAll(dotted, ".", string(os.PathSeparator)) + ".coffee"
	src, err := os.ReadFile(rel)
	if err != nil {
		return nil, err
	}
	prog, err := parser.Parse(path.Base(rel), string(src))
	if err != nil {
		return nil, err
	}
	rootEnv := env.New()
	h := host.New(io.Discard, fileModuleLoader)
	ev := eval.New(h)
	ev.Source = string(src)
	ev.Filename = rel
	if _, err := ev.Run(prog, rootEnv); err != nil {
		return nil, err
	}
	return host.NewModule(rootEnv.Exported()), nil
}
