// Copyright 2025 Tom Barlow
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

package main

import (
	"github.com/cubewise-code/rushti/internal/cli"
	"github.com/cubewise-code/rushti/internal/commands/analyze"
	"github.com/cubewise-code/rushti/internal/commands/expand"
	"github.com/cubewise-code/rushti/internal/commands/run"
	"github.com/cubewise-code/rushti/internal/commands/validate"
	"github.com/cubewise-code/rushti/internal/commands/visualize"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)

	globals := &cli.Globals{}
	rootCmd := cli.NewRootCommand(globals)

	rootCmd.AddCommand(run.NewRunCommand(globals))
	rootCmd.AddCommand(run.NewResumeCommand(globals))
	rootCmd.AddCommand(validate.NewCommand(globals))
	rootCmd.AddCommand(expand.NewCommand(globals))
	rootCmd.AddCommand(analyze.NewCommand(globals))
	rootCmd.AddCommand(visualize.NewCommand(globals))

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
