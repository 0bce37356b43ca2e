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

package cli

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion records build-time version metadata for the --version
// flag.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// Globals holds the persistent flag values shared by every subcommand.
type Globals struct {
	LogLevel  string
	LogFormat string
	SettingsFile string
}

// NewRootCommand builds the rushti root command with its persistent
// flags. Subcommands are attached by the caller (cmd/rushti/main.go),
// mirroring the teacher's cli.NewRootCommand / main.go split.
func NewRootCommand(globals *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rushti",
		Short:   "Parallel orchestrator for remote analytical processes",
		Version: version,
		Long: `rushti schedules a DAG of remote analytical process invocations,
respecting stage gating, worker limits, and exclusive-mode mutual
exclusion across overlapping runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&globals.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&globals.LogFormat, "log-format", "json", "Log format (json, text)")
	cmd.PersistentFlags().StringVar(&globals.SettingsFile, "settings", "", "Path to an external settings file (§6 precedence)")

	return cmd
}
