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

// Package shared holds the wiring every rushti subcommand needs but
// none of them owns outright: building the RemoteClient adapter from
// environment configuration, opening the stats/checkpoint stores, and
// parsing+validating a task file. Kept separate from internal/cli so
// commands can depend on it without pulling in cobra.
package shared

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cubewise-code/rushti/internal/checkpoint"
	rlog "github.com/cubewise-code/rushti/internal/log"
	"github.com/cubewise-code/rushti/internal/remoteclient"
	"github.com/cubewise-code/rushti/internal/stats"
	"github.com/cubewise-code/rushti/internal/validator"
	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/parser"
	rc "github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

// Default persisted-state locations (spec.md §6).
const (
	DefaultStatsPath      = "data/rushti_stats.sqlite"
	DefaultCheckpointDir  = "checkpoints"
	DefaultArchiveDir     = "archive"
)

// envOr returns the value of the named environment variable, or
// fallback if it is unset or empty.
func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// NewClient builds the production RemoteClient adapter from
// RUSHTI_BASE_URL and friends. RUSHTI_BASE_URL is required; its absence
// is a *rerrors.ConfigError since nothing can run without it.
func NewClient() (rc.Client, error) {
	baseURL := os.Getenv("RUSHTI_BASE_URL")
	if baseURL == "" {
		return nil, &rerrors.ConfigError{Key: "RUSHTI_BASE_URL", Reason: "must be set to the remote analytical server's API root"}
	}

	rps := 0.0
	if v := os.Getenv("RUSHTI_REQUESTS_PER_SECOND"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &rerrors.ConfigError{Key: "RUSHTI_REQUESTS_PER_SECOND", Reason: "must be a number", Cause: err}
		}
		rps = parsed
	}

	return remoteclient.New(remoteclient.Config{
		BaseURL:           baseURL,
		RequestsPerSecond: rps,
	}), nil
}

// NewStatsStore opens the sqlite-backed stats database, defaulting to
// data/rushti_stats.sqlite or RUSHTI_STATS_DB.
func NewStatsStore() (*stats.Store, error) {
	path := envOr("RUSHTI_STATS_DB", DefaultStatsPath)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &rerrors.ConfigError{Key: path, Reason: "create stats directory", Cause: err}
		}
	}
	return stats.Open(path)
}

// NewCheckpointManager opens the checkpoint directory, defaulting to
// checkpoints/ or RUSHTI_CHECKPOINT_DIR. Passing noCheckpoint disables
// it (an empty dir to Manager is a no-op manager).
func NewCheckpointManager(noCheckpoint bool) (*checkpoint.Manager, error) {
	if noCheckpoint {
		return checkpoint.NewManager("")
	}
	return checkpoint.NewManager(envOr("RUSHTI_CHECKPOINT_DIR", DefaultCheckpointDir))
}

// ArchiveDir returns the directory archived run copies are written
// under, defaulting to archive/ or RUSHTI_ARCHIVE_DIR.
func ArchiveDir() string {
	return envOr("RUSHTI_ARCHIVE_DIR", DefaultArchiveDir)
}

// Logger builds the process logger from level/format flag values.
func Logger(level, format string) *slog.Logger {
	cfg := rlog.DefaultConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = rlog.Format(format)
	}
	return rlog.New(cfg)
}

// ReadTaskFile reads path's raw bytes, the form of content the parser
// and the checkpoint content-hash both operate on.
func ReadTaskFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &rerrors.ConfigError{Key: path, Reason: "read task file", Cause: err}
	}
	return data, nil
}

// ParseAndValidate parses content, the task file read from path, and
// structurally validates it, returning the parsed Result.
// ValidateStructural builds its own DAG from the parsed tasks, separate
// from Result.DAG, to confirm no cycle snuck past the parser.
func ParseAndValidate(ctx context.Context, client rc.Client, path string, content []byte) (*parser.Result, error) {
	result, err := parser.Parse(ctx, client, path, content, parser.FormUnknown)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(result.DAG.Order))
	for _, id := range result.DAG.Order {
		tasks = append(tasks, result.DAG.Nodes[id].Task)
	}
	if _, err := validator.ValidateStructural(tasks); err != nil {
		return nil, err
	}

	return result, nil
}
