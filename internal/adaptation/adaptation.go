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

// Package adaptation implements C9: a pure function over each agent's
// post-run report that decides whether the workflow interpreter should
// inject a phase into the run's FIFO queue, or log an escalation. It never
// touches the scratchpad itself — the caller takes the returned Injections
// and pushes them via scratchpad.PushInjectedPhase, keeping this package
// trivially testable without a filesystem.
package adaptation

import "github.com/hiveengine/hive/internal/scratchpad"

// DefaultManyFiles and DefaultMaxFailures are §4.9's default thresholds.
const (
	DefaultManyFiles   = 10
	DefaultMaxFailures = 3
)

// Finding mirrors the severity-bearing shape of a self-eval's issues_found
// entry; adaptation only ever looks at Severity.
type Finding struct {
	Severity string
}

// PostAgentReport is the slice of an agent's self-evaluation adaptation
// reasons about.
type PostAgentReport struct {
	Agent         string
	Status        string // "complete", "partial", "blocked", "challenge"
	FilesModified []string
	IssuesFound   []Finding
}

// State is the run-scoped bookkeeping adaptation needs across calls: the
// tester failure streak, and whether each one-shot injection has already
// fired this run. The caller owns its lifetime (held in memory for the
// run's duration; not part of the persisted Scratchpad document, since
// spec.md's data model doesn't name it as a scratchpad field).
type State struct {
	TestFailureCount        int
	ExtraReviewInjected     bool
	SecurityReviewInjected  bool
}

// Injection is one phase adaptation wants inserted into the FIFO queue.
type Injection struct {
	Phase  scratchpad.Phase
	Reason string
}

// Result is the outcome of one Evaluate call.
type Result struct {
	State      State
	Injections []Injection
	Escalate   bool
	EscalationReason string
}

// testerRoles are the agent names §4.9's tester-failure rule applies to.
var testerRoles = map[string]bool{
	"tester":           true,
	"e2e-tester":       true,
	"component-tester": true,
}

// IsTesterRole reports whether agent is one of the tester roles §4.9's
// failure-streak rule (and the testing_required feature flag) apply to.
func IsTesterRole(agent string) bool {
	return testerRoles[agent]
}

// Evaluate applies §4.9's three rules to report against state, returning
// the updated state and any injections/escalation. manyFiles and
// maxFailures are 0 to use the package defaults.
func Evaluate(state State, report PostAgentReport, manyFiles, maxFailures int) Result {
	if manyFiles <= 0 {
		manyFiles = DefaultManyFiles
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}

	result := Result{State: state}

	if len(report.FilesModified) > manyFiles && !state.ExtraReviewInjected {
		result.State.ExtraReviewInjected = true
		result.Injections = append(result.Injections, Injection{
			Phase: scratchpad.Phase{
				Name:     "extra_review",
				Type:     "agent",
				Agent:    "reviewer",
				Required: false,
				Injected: true,
				Reason:   "agent modified more than the many-files threshold",
			},
			Reason: "many_files",
		})
	}

	if testerRoles[report.Agent] && (report.Status == "blocked" || report.Status == "partial") {
		result.State.TestFailureCount = state.TestFailureCount + 1
		if result.State.TestFailureCount >= maxFailures {
			result.Escalate = true
			result.EscalationReason = "tester failure streak reached threshold"
		}
	}

	severeCount := 0
	for _, f := range report.IssuesFound {
		if f.Severity == "critical" || f.Severity == "high" {
			severeCount++
		}
	}
	if severeCount > 0 && report.Agent != "security" && !state.SecurityReviewInjected {
		result.State.SecurityReviewInjected = true
		result.Injections = append(result.Injections, Injection{
			Phase: scratchpad.Phase{
				Name:     "security_review",
				Type:     "agent",
				Agent:    "security",
				Required: false,
				Injected: true,
				Reason:   "critical or high severity issues reported",
			},
			Reason: "severe_issues",
		})
	}

	return result
}
