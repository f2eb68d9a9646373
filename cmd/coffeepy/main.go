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

// Command coffeepy runs coffeepy source: a file, an inline -e string, or an
// interactive REPL.
package main

import (
	"os"

	"coffeepy.dev/coffeepy/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:]))
}
