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

// Package analyze implements the `analyze`/`optimize` subcommand:
// inspect historical execution data for contention, and optionally
// produce a reordered workflow with the recommended edges applied
// (§4.7 sweet-spot analysis).
package analyze

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cubewise-code/rushti/internal/cli"
	"github.com/cubewise-code/rushti/internal/commands/shared"
	"github.com/cubewise-code/rushti/internal/contention"
	"github.com/cubewise-code/rushti/pkg/parser"
)

// NewCommand builds the `analyze` subcommand (also aliased `optimize`).
func NewCommand(globals *cli.Globals) *cobra.Command {
	var (
		tasksPath    string
		outPath      string
		apply        bool
		lookbackRuns int
		sensitivity  float64
		maxWorkers   int
	)

	cmd := &cobra.Command{
		Use:     "analyze",
		Aliases: []string{"optimize"},
		Short:   "Analyze historical contention and recommend scheduling edges",
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

			statsStore, err := shared.NewStatsStore()
			if err != nil {
				return err
			}
			defer statsStore.Close()

			name := result.Doc.Metadata.Name
			if name == "" {
				base := filepath.Base(tasksPath)
				name = strings.TrimSuffix(base, filepath.Ext(base))
			}

			analyzer := contention.New(statsStore, contention.Config{LookbackRuns: lookbackRuns, K: sensitivity})
			report, err := analyzer.Analyze(ctx, result.DAG, name, maxWorkers)
			if err != nil {
				return err
			}

			if !apply {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(append(out, '\n'))
				return err
			}

			if report.Fallback {
				// §4.7 step 7: no driver, or only one heavy group —
				// reorder longest_first, add no edges.
				contention.ApplyOrder(result.DAG, report.FallbackOrder)
			} else {
				contention.ApplyEdges(result.DAG, report.Edges)
			}

			data, err := parser.Emit(result.DAG)
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}

	cmd.Flags().StringVar(&tasksPath, "tasks", "", "Path to the task file")
	cmd.Flags().StringVar(&outPath, "out", "-", "Output path for the reordered workflow when --apply is set (- for stdout)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Materialize the recommended edges into a rewritten workflow instead of printing the report")
	cmd.Flags().IntVar(&lookbackRuns, "lookback-runs", 20, "Historical executions to consider per task signature")
	cmd.Flags().Float64Var(&sensitivity, "sensitivity", 10, "IQR fence sensitivity k for heavy-group detection (fence = Q3 + k*IQR)")
	cmd.Flags().IntVar(&maxWorkers, "max_workers", 0, "Current configured worker count, compared against the recommendation")
	cmd.MarkFlagRequired("tasks")

	return cmd
}
