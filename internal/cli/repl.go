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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"

	"coffeepy.dev/coffeepy/cue/parser"
	"coffeepy.dev/coffeepy/internal/core/env"
	"coffeepy.dev/coffeepy/internal/core/eval"
	"coffeepy.dev/coffeepy/internal/host"
)

const replHelp = `.help     show this message
.clear    reset the session: drop all bindings and the pending input buffer
.exit     leave the REPL
`

// runREPL implements the `-i`/no-args mode from §6: a line-based loop that
// buffers input while the parser reports running out of input (multi-line
// continuation), evaluates each complete statement in a persistent
// environment, and recognizes the `.help`/`.clear`/`.exit` meta-commands.
func runREPL(in io.Reader, out, errw io.Writer, trace bool) error {
	rootEnv := env.New()
	h := host.New(out, fileModuleLoader)
	ev := eval.New(h)

	scanner := bufio.NewScanner(in)
	var buf strings.Builder
	prompt := "coffeepy> "

	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		line := scanner.Text()

		if buf.Len() == 0 {
			if cmd, args, ok := parseDotCommand(line); ok {
				switch cmd {
				case "exit":
					return nil
				case "clear":
					rootEnv = env.New()
					buf.Reset()
				case "help":
					fmt.Fprint(out, replHelp)
				default:
					fmt.Fprintf(errw, "unknown command: .%s %s\n", cmd, strings.Join(args, " "))
				}
				fmt.Fprint(out, prompt)
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteString("\n")

		src := buf.String()
		prog, err := parser.Parse("<repl>", src)
		if err != nil {
			if needsMoreInput(err) {
				fmt.Fprint(out, "...       ")
				continue
			}
			printError(errw, err)
			buf.Reset()
			fmt.Fprint(out, prompt)
			continue
		}

		buf.Reset()
		ev.Source = src
		ev.Filename = "<repl>"
		v, err := ev.Run(prog, rootEnv)
		if err != nil {
			printError(errw, err)
		} else {
			printEvalResult(out, v)
		}
		fmt.Fprint(out, prompt)
	}
	fmt.Fprintln(out)
	return nil
}

// parseDotCommand recognizes a leading ".word ...args" line, splitting its
// arguments with shlex the way quoted REPL arguments are tokenized.
func parseDotCommand(line string) (cmd string, args []string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ".") {
		return "", nil, false
	}
	fields, err := shlex.Split(trimmed[1:])
	if err != nil || len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

// needsMoreInput reports whether a parse error looks like it was caused by
// running out of input mid-block (an expected token found EOF instead),
// which signals the REPL should buffer another line rather than report the
// error immediately.
func needsMoreInput(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "found EOF") || strings.Contains(msg, "found \"\"")
}
