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

// Package visualize implements the `visualize` subcommand: render a
// task file's DAG as Graphviz DOT (§6: "render DAG (out of core)").
package visualize

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cubewise-code/rushti/internal/cli"
	"github.com/cubewise-code/rushti/internal/commands/shared"
	v "github.com/cubewise-code/rushti/internal/visualize"
)

// NewCommand builds the `visualize` subcommand.
func NewCommand(globals *cli.Globals) *cobra.Command {
	var (
		tasksPath string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "visualize",
		Short: "Render a task file's DAG as Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := shared.NewClient()
			if err != nil {
				return err
			}

			content, err := shared.ReadTaskFile(tasksPath)
			if err != nil {
				return err
			}

			result, err := shared.ParseAndValidate(ctx, client, tasksPath, content)
			if err != nil {
				return err
			}

			data := v.DOT(result.DAG)
			if outPath == "" || outPath == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}

	cmd.Flags().StringVar(&tasksPath, "tasks", "", "Path to the task file")
	cmd.Flags().StringVar(&outPath, "out", "-", "Output path for the DOT file (- for stdout)")
	cmd.MarkFlagRequired("tasks")

	return cmd
}
