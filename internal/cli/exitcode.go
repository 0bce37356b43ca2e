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

// Package cli assembles the rushti root command and its exit-code
// convention, the way the teacher's internal/cli package wraps cobra's
// root command and its internal/commands/shared package maps errors to
// process exit codes.
package cli

import (
	"errors"
	"fmt"
	"os"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
)

// Exit codes (spec.md §6: "0 success; 1 one or more tasks failed; 5
// exclusive-mode timeout").
const (
	ExitSuccess           = 0
	ExitTasksFailed       = 1
	ExitInvalidWorkflow   = 2
	ExitExclusiveTimeout  = 5
)

// ExitError is an error that carries the process exit code it should
// produce, for commands that need a code other than the default
// success/failure split.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

// HandleExitError prints err (if any) to stderr and exits the process
// with the code its kind maps to. A nil err exits 0 implicitly by
// returning without exiting — callers only invoke this when RunE
// actually failed.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	var lockTimeout *rerrors.ExclusiveLockTimeout
	if errors.As(err, &lockTimeout) {
		os.Exit(ExitExclusiveTimeout)
	}

	var validation *rerrors.ValidationError
	var cycle *rerrors.CycleError
	var dup *rerrors.DuplicateIDError
	var missingPred *rerrors.MissingPredecessorError
	var parseErr *rerrors.ParseError
	if errors.As(err, &validation) || errors.As(err, &cycle) || errors.As(err, &dup) ||
		errors.As(err, &missingPred) || errors.As(err, &parseErr) {
		os.Exit(ExitInvalidWorkflow)
	}

	os.Exit(ExitTasksFailed)
}
