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

// Package workflow implements C8: the declarative phase interpreter. A
// Workflow is a named, ordered list of phases (scratchpad.Phase, defined
// there to keep this package the only one depending on it, not the other
// way around). Built-in workflows ship embedded; a project may shadow any
// of them by name under its .hive/workflows directory.
package workflow

import "github.com/hiveengine/hive/internal/scratchpad"

// Workflow is a named, ordered plan of phases.
type Workflow struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Phases      []scratchpad.Phase `json:"phases"`
}

// EnvConditions is the small detected-environment map phase conditions are
// evaluated against (e.g. "has_frontend", "has_tests"). An absent key
// defaults to true — §4.8 step 1's "unknown conditions default to true".
type EnvConditions map[string]bool

// ConditionMet evaluates phase.Condition against conditions.
func ConditionMet(conditions EnvConditions, condition string) bool {
	if condition == "" {
		return true
	}
	v, ok := conditions[condition]
	if !ok {
		return true
	}
	return v
}

// Outcome is the terminal result of running a workflow (or sub-workflow).
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeEscalated Outcome = "escalated"
	OutcomeFailed   Outcome = "failed"
)

// RunResult is what Interpreter.Run returns.
type RunResult struct {
	Outcome       Outcome
	Reason        string
	PhasesRun     []string
	PhasesSkipped []string
}

// PhaseOutcome is the per-phase result the interpreter's dispatch returns,
// distinct from RunResult's whole-workflow outcome.
type PhaseOutcome string

const (
	PhasePass     PhaseOutcome = "pass"
	PhaseSkip     PhaseOutcome = "skip"
	PhaseBlocked  PhaseOutcome = "blocked"
	PhaseChallenge PhaseOutcome = "challenge"
	PhaseFail     PhaseOutcome = "fail"
	PhaseEscalate PhaseOutcome = "escalate"
)

// typeWorkflow is the composition phase type: a phase invoking another
// workflow as a sub-pipeline, named in the Agent field (reusing "the actor
// for this phase" rather than adding a parallel field).
const typeWorkflow = "workflow"
