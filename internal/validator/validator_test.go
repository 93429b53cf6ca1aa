package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiveengine/hive/internal/scratchpad"
)

func baseScratchpad() *scratchpad.Scratchpad {
	sp := scratchpad.New("run-1", "epic-1", "trace-1", "ship feature")
	scratchpad.AddDecision(sp, "implementer", "used gin for routing", "")
	return sp
}

func TestUnknownCheckSkipped(t *testing.T) {
	results := Run(Context{Scratchpad: baseScratchpad()}, []string{"NotARealCheck"})
	require.Len(t, results, 1)
	require.True(t, results[0].Passed)
	require.Contains(t, results[0].Details, "skipped")
}

func TestEpicExists(t *testing.T) {
	sp := baseScratchpad()
	results := Run(Context{Scratchpad: sp}, []string{"EpicExists"})
	require.True(t, AllPass(results))

	sp.EpicID = ""
	results = Run(Context{Scratchpad: sp}, []string{"EpicExists"})
	require.False(t, AllPass(results))
}

func TestBuildPassesOrBlockerFiled(t *testing.T) {
	ctx := Context{Scratchpad: baseScratchpad(), RawOutput: "BUILD FAILED: syntax error"}
	results := Run(ctx, []string{"BuildPassesOrBlockerFiled"})
	require.False(t, AllPass(results))

	scratchpad.AddBlocker(ctx.Scratchpad, "implementer", "build broken, investigating")
	results = Run(ctx, []string{"BuildPassesOrBlockerFiled"})
	require.True(t, AllPass(results))
}

func TestFilesModifiedAccurate(t *testing.T) {
	ctx := Context{
		Scratchpad:    baseScratchpad(),
		RawOutput:     "Writing main.go\nCreated handler.go\n",
		ExpectedFiles: []string{"main.go", "handler.go"},
	}
	results := Run(ctx, []string{"FilesModifiedAccurate"})
	require.True(t, AllPass(results))

	ctx.ExpectedFiles = append(ctx.ExpectedFiles, "extra.go")
	results = Run(ctx, []string{"FilesModifiedAccurate"})
	require.False(t, AllPass(results))
}

func TestCanonicalChecksAllRegistered(t *testing.T) {
	results := Run(Context{Scratchpad: baseScratchpad()}, CanonicalChecks)
	require.Len(t, results, len(CanonicalChecks))
	for _, r := range results {
		require.NotContains(t, r.Details, "skipped")
	}
}
