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

// Package run implements the `run` and `resume` subcommands: parse,
// validate, and execute a workflow to completion.
package run

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubewise-code/rushti/internal/cli"
	"github.com/cubewise-code/rushti/internal/commands/shared"
	"github.com/cubewise-code/rushti/internal/config"
	"github.com/cubewise-code/rushti/internal/controller"
	"github.com/cubewise-code/rushti/internal/estimator"
	"github.com/cubewise-code/rushti/internal/executor"
	"github.com/cubewise-code/rushti/internal/scheduler"
	"github.com/cubewise-code/rushti/internal/validator"
)

// flagSet is the subset of config.Flags a cobra command can populate,
// shared by `run` and `resume` (resume accepts the same tuning flags).
type flagSet struct {
	tasksPath      string
	maxWorkers     int
	retries        int
	optimize       string
	resultPath     string
	exclusive      bool
	force          bool
	noCheckpoint   bool
	validateRemote bool
}

func (f *flagSet) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tasksPath, "tasks", "", "Path to the task file (wait-barrier, dependency, or structured form)")
	cmd.Flags().IntVar(&f.maxWorkers, "max_workers", 0, "Maximum concurrent task invocations")
	cmd.Flags().IntVar(&f.retries, "retries", 0, "Retry attempts per task before giving up")
	cmd.Flags().StringVar(&f.optimize, "optimize", "", "Ready-queue ordering policy (longest_first, shortest_first)")
	cmd.Flags().StringVar(&f.resultPath, "result", "", "Write the run summary as JSON to this path")
	cmd.Flags().BoolVar(&f.exclusive, "exclusive", false, "Run in exclusive mode (§4.6)")
	cmd.Flags().BoolVar(&f.force, "force", false, "Override unsafe-resume and settings validation guards")
	cmd.Flags().BoolVar(&f.noCheckpoint, "no_checkpoint", false, "Disable checkpointing for this run")
	cmd.Flags().BoolVar(&f.validateRemote, "validate-remote", false, "Probe every referenced process on the remote server before running")
	cmd.MarkFlagRequired("tasks")
}

// toFlags converts the cobra-bound values into config.Flags, leaving a
// field nil (not-set) when the user never touched the corresponding
// cobra flag, so config.Resolve's precedence chain works correctly.
func (f *flagSet) toFlags(cmd *cobra.Command) config.Flags {
	var out config.Flags
	if cmd.Flags().Changed("max_workers") {
		out.MaxWorkers = &f.maxWorkers
	}
	if cmd.Flags().Changed("retries") {
		out.Retries = &f.retries
	}
	if cmd.Flags().Changed("optimize") {
		out.Optimize = &f.optimize
	}
	if cmd.Flags().Changed("exclusive") {
		out.Exclusive = &f.exclusive
	}
	if cmd.Flags().Changed("force") {
		out.Force = &f.force
	}
	if cmd.Flags().Changed("no_checkpoint") {
		out.NoCheckpoint = &f.noCheckpoint
	}
	if cmd.Flags().Changed("result") {
		out.ResultPath = &f.resultPath
	}
	return out
}

// NewRunCommand builds the `run` subcommand.
func NewRunCommand(globals *cli.Globals) *cobra.Command {
	flags := &flagSet{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), globals, flags, cmd, false)
		},
	}
	flags.register(cmd)
	return cmd
}

// NewResumeCommand builds the `resume` subcommand: identical to `run`
// except it loads and applies an existing checkpoint before scheduling
// (§4.5).
func NewResumeCommand(globals *cli.Globals) *cobra.Command {
	flags := &flagSet{}

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a workflow from its last checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), globals, flags, cmd, true)
		},
	}
	flags.register(cmd)
	return cmd
}

func execute(ctx context.Context, globals *cli.Globals, flags *flagSet, cmd *cobra.Command, resume bool) error {
	logger := shared.Logger(globals.LogLevel, globals.LogFormat)

	client, err := shared.NewClient()
	if err != nil {
		return err
	}

	content, err := shared.ReadTaskFile(flags.tasksPath)
	if err != nil {
		return err
	}

	result, err := shared.ParseAndValidate(ctx, client, flags.tasksPath, content)
	if err != nil {
		return err
	}

	if flags.validateRemote {
		if err := validator.ValidateRemote(ctx, client, result.DAG, 8); err != nil {
			return err
		}
	}

	fileOverlay, err := config.LoadFile(globals.SettingsFile)
	if err != nil {
		return err
	}

	settings := config.Resolve(flags.toFlags(cmd), &result.Doc.Settings, fileOverlay)
	if err := settings.Validate(); err != nil && !flags.force {
		return err
	}

	name := result.Doc.Metadata.Name
	if name == "" {
		base := filepath.Base(flags.tasksPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	statsStore, err := shared.NewStatsStore()
	if err != nil {
		return err
	}
	defer statsStore.Close()

	checkpoints, err := shared.NewCheckpointManager(settings.NoCheckpoint)
	if err != nil {
		return err
	}

	est := estimator.New(statsStore, estimator.Config{
		Alpha:        settings.Alpha,
		MinSamples:   settings.MinSamples,
		LookbackRuns: settings.LookbackRuns,
	})
	estimateFunc := func(id string) (time.Duration, bool) {
		node, ok := result.DAG.Nodes[id]
		if !ok {
			return 0, false
		}
		d, found, err := est.Estimate(ctx, node.Task.Signature(), time.Now())
		if err != nil || !found {
			return 0, false
		}
		return d, true
	}

	exec := executor.New(client, executor.Config{MaxRetries: settings.Retries})

	ctrl := controller.New(controller.Options{
		Workflow:        name,
		DAG:             result.DAG,
		TaskFileContent: content,
		Client:          client,
		Runner:          exec,

		MaxWorkers:      settings.MaxWorkers,
		Policy:          scheduler.Policy(settings.Optimize),
		StageOrder:      settings.StageOrder,
		StageMaxWorkers: settings.StageMaxWorkers,
		EstimateFunc:    estimateFunc,

		Exclusive:        settings.Exclusive,
		LockPollInterval: settings.LockPollInterval,
		LockTimeout:      settings.LockTimeout,

		Stats:         statsStore,
		Checkpoints:   checkpoints,
		RetentionDays: settings.RetentionDays,
		ArchiveDir:    shared.ArchiveDir(),

		Resume: resume,
		Force:  settings.Force,

		ResultSink: resultSink(settings.ResultPath),
		Logger:     logger,
	})

	summary, err := ctrl.Run(ctx, time.Now())
	if summary != nil {
		logger.Info("run finished",
			"run_id", summary.RunID,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
			"cancelled", summary.Cancelled,
		)
	}
	return err
}

func resultSink(path string) controller.ResultSink {
	if path == "" {
		return &controller.NullSink{}
	}
	return &controller.FileSink{Path: path}
}
