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

package parallelrun

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/hiveengine/hive/internal/agentrunner"
)

// DefaultMaxParallel is §4.10's default worktree concurrency cap.
const DefaultMaxParallel = 3

// Task is the minimal shape of an external-tracker task eligible for
// worktree parallelization.
type Task struct {
	ID   string
	Text string
}

// pathLikeRe is the "tokenize for path-shaped substrings" heuristic §4.10
// names for conflict inference.
var pathLikeRe = regexp.MustCompile(`\S+/\S+\.\w+`)

// InferredPaths returns the path-shaped substrings mentioned in a task's text.
func InferredPaths(text string) []string {
	return pathLikeRe.FindAllString(text, -1)
}

// conflicts reports whether a and b mention any of the same inferred path.
func conflicts(a, b Task) bool {
	pathsA := InferredPaths(a.Text)
	if len(pathsA) == 0 {
		return false
	}
	setB := map[string]bool{}
	for _, p := range InferredPaths(b.Text) {
		setB[p] = true
	}
	for _, p := range pathsA {
		if setB[p] {
			return true
		}
	}
	return false
}

// PartitionIndependent greedily selects a subset of tasks, up to
// maxParallel, with no two sharing an inferred path — the "no inferred
// file-path overlap" eligibility rule. Order is preserved; a task that
// conflicts with an already-selected one is deferred (left out of the
// result) rather than failing the whole batch.
func PartitionIndependent(tasks []Task, maxParallel int) []Task {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	var selected []Task
	for _, t := range tasks {
		if len(selected) >= maxParallel {
			break
		}
		conflicting := false
		for _, s := range selected {
			if conflicts(t, s) {
				conflicting = true
				break
			}
		}
		if !conflicting {
			selected = append(selected, t)
		}
	}
	return selected
}

// BranchName builds the branch name §4.10 specifies for one task's worktree.
func BranchName(runID, taskID string) string {
	return fmt.Sprintf("hive/task/%s/%s", runID, taskID)
}

// GitWorktrees creates and removes the isolated working copies implementers
// run inside, via plain `git worktree` subprocess calls — a distinct
// concern from internal/subprocess's agent invocation (that package pipes
// a prompt to an opaque CLI; this one drives real git porcelain).
type GitWorktrees struct {
	RepoRoot string
	WorkDir  string // parent directory new worktrees are created under
}

// Create adds a new worktree at <WorkDir>/<taskID> on a fresh branch.
func (g GitWorktrees) Create(ctx context.Context, runID string, task Task) (dir, branch string, err error) {
	branch = BranchName(runID, task.ID)
	dir = filepath.Join(g.WorkDir, task.ID)
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, dir)
	cmd.Dir = g.RepoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("parallelrun: git worktree add: %w: %s", err, out)
	}
	return dir, branch, nil
}

// Remove prunes the worktree at dir. Failures on a worktree left for
// inspection after a failed task are intentionally non-fatal to the caller.
func (g GitWorktrees) Remove(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", dir)
	cmd.Dir = g.RepoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("parallelrun: git worktree remove: %w: %s", err, out)
	}
	return nil
}

// Commit stages and commits every change inside the worktree at dir. A
// worktree with no changes still gets an (empty) commit.
func (g GitWorktrees) Commit(ctx context.Context, dir, message string) error {
	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = dir
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("parallelrun: git add: %w: %s", err, out)
	}
	commit := exec.CommandContext(ctx, "git", "commit", "--allow-empty", "-m", message)
	commit.Dir = dir
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("parallelrun: git commit: %w: %s", err, out)
	}
	return nil
}

// WorktreeOutcome is one task's implementer run inside its own worktree.
type WorktreeOutcome struct {
	Task   Task
	Dir    string
	Branch string
	Result agentrunner.Result
	Err    error
}

// RunWorktrees runs one implementer per schedulable task, each inside its
// own worktree, bounded by maxParallel concurrent workers. On success the
// worktree is committed; on failure it is left in place for inspection
// (never removed here) per §4.10.
func RunWorktrees(ctx context.Context, runner AgentRunner, git GitWorktrees, runID string, tasks []Task, maxParallel int) ([]WorktreeOutcome, error) {
	schedulable := PartitionIndependent(tasks, maxParallel)
	outcomes := make([]WorktreeOutcome, len(schedulable))

	eg, egCtx := errgroup.WithContext(ctx)
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	eg.SetLimit(maxParallel)

	for i, task := range schedulable {
		i, task := i, task
		eg.Go(func() error {
			dir, branch, err := git.Create(egCtx, runID, task)
			if err != nil {
				outcomes[i] = WorktreeOutcome{Task: task, Err: err}
				return nil // a worktree creation failure is per-task, not fatal to the batch
			}

			result, runErr := runner.RunAgentWithValidation(egCtx, "implementer", task.Text, "")
			outcome := WorktreeOutcome{Task: task, Dir: dir, Branch: branch, Result: result, Err: runErr}
			if runErr == nil && result.Outcome == agentrunner.Pass {
				if commitErr := git.Commit(egCtx, dir, fmt.Sprintf("hive: %s", task.Title())); commitErr != nil {
					outcome.Err = commitErr
				}
			}
			outcomes[i] = outcome
			return nil
		})
	}
	err := eg.Wait()
	return outcomes, err
}

// Title returns a short commit-message-friendly label for the task.
func (t Task) Title() string {
	if len(t.Text) <= 72 {
		return t.Text
	}
	return t.Text[:72] + "..."
}
