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
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiveengine/hive/internal/agentrunner"
)

func TestInferredPaths(t *testing.T) {
	paths := InferredPaths("fix internal/foo/bar.go and update docs/readme.md please")
	require.Equal(t, []string{"internal/foo/bar.go", "docs/readme.md"}, paths)
}

func TestPartitionIndependentDropsConflicts(t *testing.T) {
	tasks := []Task{
		{ID: "1", Text: "edit internal/foo/bar.go"},
		{ID: "2", Text: "edit internal/foo/bar.go again"},
		{ID: "3", Text: "edit internal/baz/qux.go"},
	}
	selected := PartitionIndependent(tasks, 3)
	require.Len(t, selected, 2)
	require.Equal(t, "1", selected[0].ID)
	require.Equal(t, "3", selected[1].ID)
}

func TestPartitionIndependentCapsAtMaxParallel(t *testing.T) {
	tasks := []Task{
		{ID: "1", Text: "edit a/b.go"},
		{ID: "2", Text: "edit c/d.go"},
		{ID: "3", Text: "edit e/f.go"},
	}
	require.Len(t, PartitionIndependent(tasks, 2), 2)
}

func TestBranchName(t *testing.T) {
	require.Equal(t, "hive/task/run-1/task-7", BranchName("run-1", "task-7"))
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "hive@example.com")
	run("config", "user.name", "Hive")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestRunWorktreesCreatesAndCommits(t *testing.T) {
	repo := initGitRepo(t)
	workDir := t.TempDir()
	git := GitWorktrees{RepoRoot: repo, WorkDir: workDir}

	runner := stubRunner{results: map[string]agentrunner.Result{
		"implementer": {Outcome: agentrunner.Pass},
	}}

	tasks := []Task{{ID: "task-1", Text: "implement the thing"}}
	outcomes, err := RunWorktrees(context.Background(), runner, git, "run-1", tasks, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	require.Equal(t, "hive/task/run-1/task-1", outcomes[0].Branch)
	require.DirExists(t, outcomes[0].Dir)
}
