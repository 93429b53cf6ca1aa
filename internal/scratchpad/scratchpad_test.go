package scratchpad

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreInitLoadMutate(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "scratchpad.json"))

	sp := New("run-1", "epic-1", "trace-1", "add login page")
	require.NoError(t, store.Init(sp))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "run-1", loaded.RunID)
	require.Equal(t, "in_progress", loaded.Status)

	_, err = store.Mutate(func(sp *Scratchpad) error {
		AddDecision(sp, "architect", "use postgres", "matches existing infra")
		sp.CurrentPhase = "implement"
		return nil
	})
	require.NoError(t, err)

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, reloaded.Decisions, 1)
	require.Equal(t, "implement", reloaded.CurrentPhase)
}

func TestInitRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "scratchpad.json"))
	require.NoError(t, store.Init(New("run-1", "e1", "t1", "obj")))
	require.Error(t, store.Init(New("run-1", "e1", "t1", "obj")))
}

func TestProjectSummary(t *testing.T) {
	sp := New("run-1", "epic-1", "trace-1", "ship feature")
	for i := 0; i < 7; i++ {
		AddDecision(sp, "implementer", "decision", "")
	}
	AddBlocker(sp, "tester", "flaky CI")
	ResolveBlocker(sp, "flaky CI", "retried and passed")
	AddBlocker(sp, "tester", "missing fixture")
	sp.Tasks = []TaskRef{
		{ID: "1", Title: "wire auth", Status: "ready"},
		{ID: "2", Title: "add tests", Status: "complete"},
	}

	summary := sp.Project()
	require.Len(t, summary.LastDecisions, 5)
	require.Len(t, summary.OpenBlockers, 1)
	require.Equal(t, "missing fixture", summary.OpenBlockers[0].Text)
	require.Equal(t, []string{"wire auth"}, summary.PendingTaskTitles)
	require.Equal(t, 1, summary.CompletedTaskCount)
}

func TestMergeDedup(t *testing.T) {
	out := MergeDedup([]string{"go", "postgres"}, "go", "react", "")
	require.Equal(t, []string{"go", "postgres", "react"}, out)
}

func TestInjectedPhasesFIFO(t *testing.T) {
	sp := New("run-1", "e1", "t1", "obj")
	PushInjectedPhase(sp, Phase{Name: "extra_review", Agent: "reviewer"})
	PushInjectedPhase(sp, Phase{Name: "security_review", Agent: "security"})

	first, ok := PopInjectedPhase(sp)
	require.True(t, ok)
	require.Equal(t, "extra_review", first.Name)

	second, ok := PopInjectedPhase(sp)
	require.True(t, ok)
	require.Equal(t, "security_review", second.Name)

	_, ok = PopInjectedPhase(sp)
	require.False(t, ok)
}
