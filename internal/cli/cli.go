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

// Package cli wires coffeepy's command-line surface: `coffeepy FILE.coffee`,
// `coffeepy -e "SRC"`, and the `-i`/no-args REPL, per §6 of the
// specification. It owns only argument parsing, error display, and exit
// codes; the language front end and evaluator live in cue/ and
// internal/core.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	cerrors "coffeepy.dev/coffeepy/cue/errors"
)

// ErrUsage marks an error that should exit with status 2 (CLI-usage error)
// rather than 1.
var ErrUsage = errors.New("usage error")

// Main parses args, runs the requested mode, and returns the process exit
// code: 0 on success, 1 on a CoffeeError or missing file, 2 on a CLI-usage
// error.
func Main(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.Execute()
	if errors.Is(err, ErrUsage) {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrUsage) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var evalSrc string
	var interactive bool
	var trace bool

	cmd := &cobra.Command{
		Use:           "coffeepy [FILE.coffee]",
		Short:         "run and explore coffeepy programs",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return fmt.Errorf("%w: %v", ErrUsage, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			errw := cmd.ErrOrStderr()

			switch {
			case evalSrc != "" && len(args) > 0:
				return fmt.Errorf("%w: cannot combine -e with a file argument", ErrUsage)
			case evalSrc != "":
				return runAndReport(out, errw, "-e", evalSrc, trace, true)
			case len(args) == 1:
				return runFileAndReport(out, errw, args[0], trace)
			default:
				// -i and the no-args case are the same: start the REPL.
				return runREPL(cmd.InOrStdin(), out, errw, trace)
			}
		},
	}

	cmd.Flags().StringVarP(&evalSrc, "eval", "e", "", "evaluate SRC directly")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "start the REPL")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the parsed AST before evaluating")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	return cmd
}

func runFileAndReport(out, errw io.Writer, path string, trace bool) error {
	if !strings.HasSuffix(path, ".coffee") {
		return fmt.Errorf("%w: source file must have a .coffee suffix: %s", ErrUsage, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(errw, err)
		return err
	}
	return runAndReport(out, errw, path, string(src), trace, false)
}

func runAndReport(out, errw io.Writer, filename, src string, trace, printResult bool) error {
	v, err := Run(filename, src, out, trace)
	if err != nil {
		printError(errw, err)
		return err
	}
	if printResult {
		printEvalResult(out, v)
	}
	return nil
}

// printError renders err the way §7 describes: a formatted message with a
// caret when source position is known, pluralizing the summary line with
// golang.org/x/text/message the way the teacher's CLI localizes its own
// error counts.
func printError(w io.Writer, err error) {
	cerrors.Print(w, err)
	if list, ok := err.(cerrors.List); ok && len(list) > 1 {
		p := message.NewPrinter(getLang())
		p.Fprintf(w, "%d errors\n", len(list))
	}
}

func getLang() language.Tag {
	loc := os.Getenv("LC_ALL")
	if loc == "" {
		loc = os.Getenv("LANG")
	}
	loc = strings.Split(loc, ".")[0]
	return language.Make(loc)
}
