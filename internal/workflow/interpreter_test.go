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

package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiveengine/hive/internal/agentrunner"
	"github.com/hiveengine/hive/internal/challenge"
	"github.com/hiveengine/hive/internal/checkpoint"
	"github.com/hiveengine/hive/internal/hive"
	"github.com/hiveengine/hive/internal/memory"
	"github.com/hiveengine/hive/internal/scratchpad"
)

// fakeRunner returns queued results per agent, in FIFO order; an agent with
// no queued results left returns a Pass.
type fakeRunner struct {
	queued map[string][]agentrunner.Result
	calls  []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{queued: map[string][]agentrunner.Result{}}
}

func (f *fakeRunner) enqueue(agent string, results ...agentrunner.Result) {
	f.queued[agent] = append(f.queued[agent], results...)
}

func (f *fakeRunner) RunAgentWithValidation(_ context.Context, agent, _, _ string) (agentrunner.Result, error) {
	f.calls = append(f.calls, agent)
	q := f.queued[agent]
	if len(q) == 0 {
		return agentrunner.Result{Outcome: agentrunner.Pass}, nil
	}
	next := q[0]
	f.queued[agent] = q[1:]
	return next, nil
}

type fakeBuildVerifier struct {
	passed bool
	output string
}

func (f fakeBuildVerifier) Verify(context.Context) (bool, string, error) {
	return f.passed, f.output, nil
}

func newTestInterpreter(t *testing.T, runner AgentRunner) (*Interpreter, hive.RunContext) {
	t.Helper()
	dir := t.TempDir()
	layout := hive.NewLayout(dir)
	require.NoError(t, layout.Ensure())

	sp := scratchpad.New("run-1", "epic-1", "trace-1", "ship the feature")
	spStore := scratchpad.NewStore(layout.Scratchpad())
	require.NoError(t, spStore.Init(sp))

	memStore := memory.NewStore(layout.Memory())
	checkpoints := checkpoint.NewManager(checkpoint.NewStorage(layout.Checkpoints()), true)

	in := &Interpreter{
		Loader:      Loader{ProjectDir: filepath.Join(dir, "workflows")},
		Runner:      runner,
		Scratchpad:  spStore,
		Memory:      memStore,
		Checkpoints: checkpoints,
		Challenges:  challenge.NewProtocol(2),
	}

	rc := hive.RunContext{
		RunID:  "run-1",
		EpicID: "epic-1",
		Layout: layout,
		CostModel: hive.CostModel{
			ConfidenceThreshold: 0.6,
		},
	}
	return in, rc
}

func TestRunAllPhasesPass(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "design", Type: "agent", Agent: "architect", Required: true, Task: "design it"},
			{Name: "implement", Type: "agent", Agent: "implementer", Required: true, Task: "build it"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	require.Equal(t, []string{"design", "implement"}, result.PhasesRun)
	require.Equal(t, []string{"architect", "implementer"}, runner.calls)
}

func TestRunSkipsPhaseWhenConditionUnmet(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "frontend_review", Type: "agent", Agent: "reviewer", Condition: "has_frontend", Task: "review"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, EnvConditions{"has_frontend": false})
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	require.Equal(t, []string{"frontend_review"}, result.PhasesSkipped)
	require.Empty(t, runner.calls)
}

func TestRunBlockedRequiredPhaseEscalatesWorkflow(t *testing.T) {
	runner := newFakeRunner()
	runner.enqueue("implementer", agentrunner.Result{Outcome: agentrunner.Blocked})
	in, rc := newTestInterpreter(t, runner)

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "implement", Type: "agent", Agent: "implementer", Required: true, Task: "build it"},
			{Name: "test", Type: "agent", Agent: "tester", Required: true, Task: "test it"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeBlocked, result.Outcome)
	require.Equal(t, []string{"implement"}, result.PhasesRun)
	require.NotContains(t, runner.calls, "tester")
}

func TestRunBuildVerifyFailureReroutesToDebugger(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)
	in.Build = fakeBuildVerifier{passed: false, output: "compile error"}

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "verify_build", Type: "build_verify", Required: true, OnFailure: "debugger"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	require.Contains(t, runner.calls, "debugger")
}

func TestRunBuildVerifyFailureWithoutOnFailureEscalates(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)
	in.Build = fakeBuildVerifier{passed: false, output: "compile error"}

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "verify_build", Type: "build_verify", Required: true},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalated, result.Outcome)
}

func TestRunChallengeResolvesOnRerun(t *testing.T) {
	runner := newFakeRunner()
	runner.enqueue("reviewer", agentrunner.Result{
		Outcome: agentrunner.Challenge,
		SelfEval: agentrunner.SelfEval{
			Status: "challenge",
			Challenge: agentrunner.ChallengeFields{
				From: "reviewer", To: "implementer",
				Issue: "missing nil check", Suggestion: "add a guard clause",
			},
		},
	})
	runner.enqueue("implementer", agentrunner.Result{
		Outcome: agentrunner.Pass,
		SelfEval: agentrunner.SelfEval{Status: "complete", Confidence: 0.9},
	})

	in, rc := newTestInterpreter(t, runner)

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "review", Type: "agent", Agent: "reviewer", Required: true, Task: "review it"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	// "reviewer" is called twice: once to raise the challenge, once more to
	// confirm the implementer's fix actually resolves it.
	require.Equal(t, []string{"reviewer", "implementer", "reviewer"}, runner.calls)
}

func TestRunChallengeEscalatesAfterMaxAttempts(t *testing.T) {
	runner := newFakeRunner()
	challengeResult := agentrunner.Result{
		Outcome: agentrunner.Challenge,
		SelfEval: agentrunner.SelfEval{
			Status: "challenge",
			Challenge: agentrunner.ChallengeFields{
				From: "reviewer", To: "implementer", Issue: "still broken",
			},
		},
	}
	runner.enqueue("reviewer", challengeResult)
	stillBroken := agentrunner.Result{
		Outcome:  agentrunner.Blocked,
		SelfEval: agentrunner.SelfEval{Status: "blocked"},
	}
	runner.enqueue("implementer", stillBroken, stillBroken, stillBroken)

	in, rc := newTestInterpreter(t, runner)

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "review", Type: "agent", Agent: "reviewer", Required: true, Task: "review it"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalated, result.Outcome)
}

func manyFilesResult() agentrunner.Result {
	files := make([]string, 12)
	for i := range files {
		files[i] = filepath.Join("pkg", "file.go")
	}
	return agentrunner.Result{
		Outcome:  agentrunner.Pass,
		SelfEval: agentrunner.SelfEval{Status: "complete", Confidence: 0.9, FilesModified: files},
	}
}

func TestRunInjectsExtraReviewWhenAdaptEnabled(t *testing.T) {
	runner := newFakeRunner()
	runner.enqueue("implementer", manyFilesResult())
	in, rc := newTestInterpreter(t, runner)
	rc.Flags.AdaptEnabled = true
	rc.CostModel.AdaptManyFiles = 10

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "implement", Type: "agent", Agent: "implementer", Required: true, Task: "build it"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)

	sp, err := in.Scratchpad.Load()
	require.NoError(t, err)
	require.Len(t, sp.InjectedPhases, 1)
}

func TestRunSkipsAdaptationWhenDisabled(t *testing.T) {
	runner := newFakeRunner()
	runner.enqueue("implementer", manyFilesResult())
	in, rc := newTestInterpreter(t, runner)
	rc.CostModel.AdaptManyFiles = 10

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "implement", Type: "agent", Agent: "implementer", Required: true, Task: "build it"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)

	sp, err := in.Scratchpad.Load()
	require.NoError(t, err)
	require.Empty(t, sp.InjectedPhases)
}

type fakeInterviewer struct{ enriched string }

func (f fakeInterviewer) Enrich(context.Context, string) (string, error) { return f.enriched, nil }

func TestRunInterviewPhaseEnrichesObjective(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)
	in.Interviewer = fakeInterviewer{enriched: "ship the feature, including tests"}

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "interview", Type: "interview", Required: true},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)

	sp, err := in.Scratchpad.Load()
	require.NoError(t, err)
	require.Equal(t, "ship the feature, including tests", sp.Objective)
}

func TestRunAutoModeSkipsInterviewPhase(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)
	in.Interviewer = fakeInterviewer{enriched: "should never be applied"}
	rc.Flags.AutoMode = true

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "interview", Type: "interview", Required: true},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)

	sp, err := in.Scratchpad.Load()
	require.NoError(t, err)
	require.Equal(t, "ship the feature", sp.Objective)
}

func TestTestingRequiredForcesTesterPhase(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)
	rc.Flags.FastMode = true
	rc.Flags.TestingRequired = true
	rc.CostModel.SkipMinSamples = 1
	rc.CostModel.SkipSuccessThreshold = 0.5

	// Make "tester" look skip-safe for this objective: without the
	// testing_required override, the skip gate (§4.8 step 4) would skip it.
	_, err := in.Memory.Mutate(func(m *memory.Memory) error {
		m.RecordSkipOutcome("tester", "ship the feature", true, false)
		return nil
	})
	require.NoError(t, err)

	wf := Workflow{
		Name: "mini",
		Phases: []scratchpad.Phase{
			{Name: "test", Type: "agent", Agent: "tester", Required: false, Task: "run the suite"},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	require.Equal(t, []string{"test"}, result.PhasesRun)
	require.Empty(t, result.PhasesSkipped)
	require.Contains(t, runner.calls, "tester")
}

func TestRunExpandsComposedWorkflow(t *testing.T) {
	runner := newFakeRunner()
	in, rc := newTestInterpreter(t, runner)

	wf := Workflow{
		Name: "triage",
		Phases: []scratchpad.Phase{
			{Name: "build", Type: typeWorkflow, Agent: "feature", Required: true},
		},
	}

	result, err := in.Run(context.Background(), rc, wf, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
	require.Contains(t, result.PhasesRun, "design")
	require.Contains(t, result.PhasesRun, "implement")
}
