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

// Package validate implements the `validate` subcommand: structural
// checks, with an optional remote probing pass (§4.2).
package validate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cubewise-code/rushti/internal/cli"
	"github.com/cubewise-code/rushti/internal/commands/shared"
	"github.com/cubewise-code/rushti/internal/validator"
	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	rc "github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

// NewCommand builds the `validate` subcommand.
func NewCommand(globals *cli.Globals) *cobra.Command {
	var (
		tasksPath string
		remote    bool
		dryRun    bool
		maxProbes int
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a task file for structural (and optionally remote) soundness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var client rc.Client
			if dryRun {
				// §6 supplemented --dry-run: Parser + Validator only, no
				// RemoteClient traffic. A workflow with no parametric
				// templates never calls into this client at all; one
				// that does gets a clear ConfigError instead of a nil
				// dereference.
				client = refusingClient{}
			} else {
				c, err := shared.NewClient()
				if err != nil {
					return err
				}
				client = c
			}

			content, err := shared.ReadTaskFile(tasksPath)
			if err != nil {
				return err
			}

			result, err := shared.ParseAndValidate(ctx, client, tasksPath, content)
			if err != nil {
				return err
			}

			for _, w := range result.Doc.Warnings {
				fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
			}

			if dryRun {
				printPlan(cmd, result.DAG)
				return nil
			}

			if remote {
				if err := validator.ValidateRemote(ctx, client, result.DAG, maxProbes); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d task(s), structurally valid\n", len(result.DAG.Order))
			return nil
		},
	}

	cmd.Flags().StringVar(&tasksPath, "tasks", "", "Path to the task file")
	cmd.Flags().BoolVar(&remote, "validate-remote", false, "Also probe every referenced process on the remote server")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and structurally validate only; print the topological order and per-stage counts, touching no RemoteClient")
	cmd.Flags().IntVar(&maxProbes, "max-probes", 8, "Maximum concurrent remote probes")
	cmd.MarkFlagRequired("tasks")

	return cmd
}

// printPlan prints dag's nodes in declared topological order followed
// by a per-stage task count, the plain-text report --dry-run promises.
func printPlan(cmd *cobra.Command, dag *task.DAG) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "topological order:")
	for i, id := range dag.Order {
		t := dag.Nodes[id].Task
		fmt.Fprintf(out, "  %3d. %s  (%s/%s)\n", i+1, id, t.Instance, t.Process)
	}

	counts := make(map[string]int)
	var unstaged int
	for _, id := range dag.Order {
		stage := dag.Nodes[id].Task.Stage
		if stage == "" {
			unstaged++
			continue
		}
		counts[stage]++
	}

	fmt.Fprintln(out, "stage counts:")
	for stage, n := range counts {
		fmt.Fprintf(out, "  %s: %d\n", stage, n)
	}
	if unstaged > 0 {
		fmt.Fprintf(out, "  (unstaged): %d\n", unstaged)
	}
}

// refusingClient implements rc.Client by rejecting every call with a
// ConfigError, so --dry-run workflows containing a parametric template
// fail clearly instead of silently contacting a remote server.
type refusingClient struct{}

func (refusingClient) ExecuteProcess(context.Context, string, string, map[string]string, string) (rc.ExecutionResult, error) {
	return rc.ExecutionResult{}, &rerrors.ConfigError{Reason: "--dry-run cannot execute processes"}
}

func (refusingClient) CancelInvocation(context.Context, string, string) error {
	return &rerrors.ConfigError{Reason: "--dry-run cannot cancel invocations"}
}

func (refusingClient) ListSessions(context.Context, string) ([]rc.Session, error) {
	return nil, &rerrors.ConfigError{Reason: "--dry-run cannot list sessions"}
}

func (refusingClient) EndSession(context.Context, string, string) error {
	return &rerrors.ConfigError{Reason: "--dry-run cannot end sessions"}
}

func (refusingClient) ExpandMembers(context.Context, string, string) ([]string, error) {
	return nil, &rerrors.ConfigError{Reason: "--dry-run cannot expand parametric templates against a remote server"}
}

func (refusingClient) ProbeProcess(context.Context, string, string) (rc.ProbeResult, error) {
	return rc.ProbeNotFound, &rerrors.ConfigError{Reason: "--dry-run cannot probe processes"}
}
