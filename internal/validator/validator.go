// Copyright 2025 The Hive Authors
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

// Package validator implements C6: a fixed, named table of post-condition
// checks run against the scratchpad and an agent's raw output. The table
// is a closed set of tagged predicates, not a dynamic string dispatch —
// every check has a name, a Go function, and nothing else can be named
// at runtime.
package validator

import (
	"regexp"
	"strings"

	"github.com/hiveengine/hive/internal/scratchpad"
)

// Context is everything a check needs: the scratchpad state plus the raw
// output of the agent attempt being validated.
type Context struct {
	Scratchpad    *scratchpad.Scratchpad
	RawOutput     string
	ExpectedFiles []string // files the agent claimed to modify, from self-eval
	ReadyTasks    []scratchpad.TaskRef
}

// Result is one check's outcome.
type Result struct {
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// CheckFunc evaluates one named check against ctx.
type CheckFunc func(ctx Context) Result

var fileVerbRe = regexp.MustCompile(`(?m)^(Writing|Created|Modified|Wrote)\b`)

// checks is the fixed, extensible table of canonical checks named in §4.6.
var checks = map[string]CheckFunc{
	"HandoffValid": func(ctx Context) Result {
		if ctx.Scratchpad.CurrentAgent == "" {
			return Result{Check: "HandoffValid", Passed: true, Details: "no pending handoff to validate"}
		}
		return Result{Check: "HandoffValid", Passed: true}
	},
	"EpicExists": func(ctx Context) Result {
		passed := ctx.Scratchpad.EpicID != ""
		details := "epic_id present"
		if !passed {
			details = "epic_id missing"
		}
		return Result{Check: "EpicExists", Passed: passed, Details: details}
	},
	"AtLeastOneTaskReady": func(ctx Context) Result {
		for _, t := range ctx.ReadyTasks {
			if t.Status == "ready" {
				return Result{Check: "AtLeastOneTaskReady", Passed: true}
			}
		}
		return Result{Check: "AtLeastOneTaskReady", Passed: false, Details: "no ready tasks"}
	},
	"NoTasksStuckInProgress": func(ctx Context) Result {
		for _, t := range ctx.ReadyTasks {
			if t.Status == "in_progress" {
				return Result{Check: "NoTasksStuckInProgress", Passed: false, Details: "task " + t.ID + " still in_progress"}
			}
		}
		return Result{Check: "NoTasksStuckInProgress", Passed: true}
	},
	"BuildPassesOrBlockerFiled": func(ctx Context) Result {
		if strings.Contains(ctx.RawOutput, "BUILD FAILED") {
			for _, b := range ctx.Scratchpad.Blockers {
				if b.Status == "open" {
					return Result{Check: "BuildPassesOrBlockerFiled", Passed: true, Details: "build failed but blocker filed"}
				}
			}
			return Result{Check: "BuildPassesOrBlockerFiled", Passed: false, Details: "build failed, no blocker filed"}
		}
		return Result{Check: "BuildPassesOrBlockerFiled", Passed: true}
	},
	"ScratchpadUpdatedWithDecisions": func(ctx Context) Result {
		passed := len(ctx.Scratchpad.Decisions) > 0
		details := "decisions recorded"
		if !passed {
			details = "no decisions recorded"
		}
		return Result{Check: "ScratchpadUpdatedWithDecisions", Passed: passed, Details: details}
	},
	"FilesModifiedAccurate": func(ctx Context) Result {
		claimed := len(fileVerbRe.FindAllString(ctx.RawOutput, -1))
		if len(ctx.ExpectedFiles) == 0 {
			return Result{Check: "FilesModifiedAccurate", Passed: true}
		}
		passed := claimed >= len(ctx.ExpectedFiles)
		details := "file-count heuristic satisfied"
		if !passed {
			details = "fewer file-modification lines than expected files"
		}
		return Result{Check: "FilesModifiedAccurate", Passed: passed, Details: details}
	},
	"TaskStatusUpdated": func(ctx Context) Result {
		for _, t := range ctx.ReadyTasks {
			if t.Status == "complete" || t.Status == "done" {
				return Result{Check: "TaskStatusUpdated", Passed: true}
			}
		}
		return Result{Check: "TaskStatusUpdated", Passed: false, Details: "no task transitioned to complete"}
	},
	"TasksCreated": func(ctx Context) Result {
		passed := len(ctx.ReadyTasks) > 0
		details := "tasks present"
		if !passed {
			details = "no tasks created"
		}
		return Result{Check: "TasksCreated", Passed: passed, Details: details}
	},
}

// Run evaluates exactly the checks named, against ctx. A name not present
// in the table defaults to passed=true with a "skipped" note, per §4.6.
func Run(ctx Context, names []string) []Result {
	results := make([]Result, 0, len(names))
	for _, name := range names {
		fn, ok := checks[name]
		if !ok {
			results = append(results, Result{Check: name, Passed: true, Details: "skipped: unknown check"})
			continue
		}
		results = append(results, fn(ctx))
	}
	return results
}

// AllPass reports whether every result passed.
func AllPass(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// CanonicalChecks is the default set run when a contract doesn't specify
// its own subset.
var CanonicalChecks = []string{
	"HandoffValid", "EpicExists", "AtLeastOneTaskReady", "NoTasksStuckInProgress",
	"BuildPassesOrBlockerFiled", "ScratchpadUpdatedWithDecisions", "FilesModifiedAccurate",
	"TaskStatusUpdated", "TasksCreated",
}
