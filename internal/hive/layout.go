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

// Package hive holds the value types, filesystem layout, and collaborator
// interfaces shared by every Hive engine component. Nothing here owns
// behavior; it is the vocabulary the rest of internal/ is written against.
package hive

import (
	"os"
	"path/filepath"
	"strconv"
)

// Layout resolves the on-disk paths rooted at a project's Hive directory
// (".hive" by default, overridable via HIVE_DIR). Names and shapes are
// bit-exact per the external interface contract.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at dir (typically read from HIVE_DIR).
func NewLayout(dir string) Layout {
	if dir == "" {
		dir = ".hive"
	}
	return Layout{Root: dir}
}

func (l Layout) Scratchpad() string   { return filepath.Join(l.Root, "scratchpad.json") }
func (l Layout) Memory() string       { return filepath.Join(l.Root, "memory.json") }
func (l Layout) Events() string       { return filepath.Join(l.Root, "events.jsonl") }
func (l Layout) Index() string        { return filepath.Join(l.Root, "index.md") }
func (l Layout) Handoffs() string     { return filepath.Join(l.Root, "handoffs") }
func (l Layout) Checkpoints() string  { return filepath.Join(l.Root, "checkpoints") }
func (l Layout) Agents() string       { return filepath.Join(l.Root, "agents") }
func (l Layout) Workflows() string    { return filepath.Join(l.Root, "workflows") }
func (l Layout) Worktrees() string    { return filepath.Join(l.Root, "worktrees") }

func (l Layout) RunDir(runID string) string {
	return filepath.Join(l.Root, "runs", runID)
}

func (l Layout) RunOutput(runID, agent string, attempt int) string {
	return filepath.Join(l.RunDir(runID), "output", agentAttemptName(agent, attempt))
}

func (l Layout) RunSnapshot(runID, name, ext string) string {
	return filepath.Join(l.RunDir(runID), "snapshots", name+"."+ext)
}

func (l Layout) RunCost(runID string) string     { return filepath.Join(l.RunDir(runID), "cost.json") }
func (l Layout) RunFindings(runID string) string { return filepath.Join(l.RunDir(runID), "findings.json") }
func (l Layout) RunGitState(runID string) string { return filepath.Join(l.RunDir(runID), "git_state.json") }

func (l Layout) TraceDir(runID string) string { return filepath.Join(l.RunDir(runID), ".trace") }
func (l Layout) TraceID(runID string) string   { return filepath.Join(l.TraceDir(runID), "trace_id") }
func (l Layout) TraceSpans(runID string) string {
	return filepath.Join(l.TraceDir(runID), "spans.json")
}
func (l Layout) TraceSpanFile(runID, spanID string) string {
	return filepath.Join(l.TraceDir(runID), spanID+".json")
}

func (l Layout) ComposeState(runID string) string {
	return filepath.Join(l.RunDir(runID), ".compose", "state.json")
}

func (l Layout) ParallelFile(runID, agent, kind string) string {
	return filepath.Join(l.RunDir(runID), ".parallel", agent+"."+kind)
}

func (l Layout) WorktreeDir(runID, taskID string) string {
	return filepath.Join(l.Worktrees(), runID, taskID)
}

// Ensure creates every directory the layout needs, idempotently.
func (l Layout) Ensure() error {
	dirs := []string{l.Root, l.Handoffs(), l.Checkpoints(), l.Agents(), l.Workflows(), l.Worktrees()}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func agentAttemptName(agent string, attempt int) string {
	return agent + "_attempt_" + strconv.Itoa(attempt) + ".md"
}
