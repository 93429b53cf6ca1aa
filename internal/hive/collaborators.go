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

package hive

import "context"

// The interfaces below name the external collaborators spec.md §1 declares
// out of scope for the core: the terminal UI, the interview loop, the
// findings-triage UI, the postmortem writer, the task tracker, and the
// source-control/PR integration. The engine only ever depends on these
// narrow shapes; concrete implementations (a real tracker client, a real PR
// bot) live outside this module.

// TrackerTask is the subset of an external task-tracker item the core reads.
type TrackerTask struct {
	ID       string
	Title    string
	Priority string // e.g. "P0".."P3"
	Status   string // e.g. "ready", "in_progress", "blocked"
	Blockers []string
}

// TaskTracker is the external task-tracker collaborator.
type TaskTracker interface {
	ReadyTasks(ctx context.Context, epicID string) ([]TrackerTask, error)
	UpdateStatus(ctx context.Context, taskID, status string) error
}

// Interviewer is the external interactive question/answer collaborator that
// may enrich a run's objective before the workflow starts.
type Interviewer interface {
	Enrich(ctx context.Context, objective string) (string, error)
}

// PullRequestCreator is the external source-control/PR collaborator. The
// engine's RunParallelWorktrees calls it once for every worktree task that
// passed and committed cleanly; the composition root wires in a no-op by
// default.
type PullRequestCreator interface {
	CreatePullRequest(ctx context.Context, branch, title, body string) (url string, err error)
}

// NoopTracker, NoopInterviewer, and NoopPullRequestCreator are the stub
// collaborators the composition root wires in by default.
type NoopTracker struct{}

func (NoopTracker) ReadyTasks(context.Context, string) ([]TrackerTask, error) { return nil, nil }
func (NoopTracker) UpdateStatus(context.Context, string, string) error        { return nil }

type NoopInterviewer struct{}

func (NoopInterviewer) Enrich(_ context.Context, objective string) (string, error) {
	return objective, nil
}

type NoopPullRequestCreator struct{}

func (NoopPullRequestCreator) CreatePullRequest(context.Context, string, string, string) (string, error) {
	return "", nil
}
