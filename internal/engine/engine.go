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

// Package engine is the composition root: it wires every internal/
// component (C1-C15) into one value that a CLI or test harness can call
// Run/Resume on, following the teacher's pkg/runner.Runner wiring pattern
// of validating required fields up front and exposing a narrow method
// surface rather than the wired components themselves.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/hiveengine/hive/internal/adaptation"
	"github.com/hiveengine/hive/internal/agentrunner"
	"github.com/hiveengine/hive/internal/challenge"
	"github.com/hiveengine/hive/internal/checkpoint"
	"github.com/hiveengine/hive/internal/config"
	"github.com/hiveengine/hive/internal/cost"
	"github.com/hiveengine/hive/internal/eventlog"
	"github.com/hiveengine/hive/internal/handoff"
	"github.com/hiveengine/hive/internal/hive"
	"github.com/hiveengine/hive/internal/hivelog"
	"github.com/hiveengine/hive/internal/memory"
	"github.com/hiveengine/hive/internal/observability"
	"github.com/hiveengine/hive/internal/parallelrun"
	"github.com/hiveengine/hive/internal/scratchpad"
	"github.com/hiveengine/hive/internal/selection"
	"github.com/hiveengine/hive/internal/subprocess"
	"github.com/hiveengine/hive/internal/tracing"
	"github.com/hiveengine/hive/internal/workflow"
)

// builtinCandidates is the fixed scoring table §4.14 runs the objective
// against to pick a starting workflow; "quick" and the named builtins are
// the only ones guaranteed to resolve without a project override.
var builtinCandidates = []selection.WorkflowCandidate{
	{Name: "quick", Keywords: []string{"typo", "rename", "comment", "small"}, Priority: 0},
	{Name: "bugfix", Keywords: []string{"bug", "fix", "broken", "crash", "error"}, Priority: 10},
	{Name: "feature", Keywords: []string{"add", "implement", "build", "feature", "support"}, Priority: 10},
	{Name: "triage", Keywords: []string{"investigate", "triage", "unclear", "unknown"}, Priority: 5},
}

// Config is everything the composition root needs to build an Engine. The
// zero value is invalid; New validates every required field explicitly
// rather than panicking deep inside a wired component.
type Config struct {
	// HiveDir is the project's Hive state directory (".hive" by default).
	HiveDir string

	// Settings is the fully resolved, layered configuration (see
	// internal/config.Loader.Load), carrying agent commands/models, the
	// cost model inputs, and feature flags.
	Settings config.Config

	// Invoker runs agent subprocesses. Defaults to subprocess.NewExecInvoker
	// when nil; tests supply a subprocess.StubInvoker instead.
	Invoker subprocess.Invoker

	// Prompts resolves agent system prompt templates. Defaults to the
	// bundled-only resolver (no project/global override directories) when
	// left zero-valued.
	Prompts agentrunner.PromptResolver

	// Contracts is the per-agent retry/validation policy; agents absent
	// from this map get Contract{}'s defaults (see agentrunner.Contract).
	Contracts map[string]agentrunner.Contract

	// Tracker, Interviewer, and PullRequests are the external-system
	// collaborators; each defaults to its no-op implementation.
	Tracker      hive.TaskTracker
	Interviewer  hive.Interviewer
	PullRequests hive.PullRequestCreator

	// Build verifies the project still compiles/tests after a phase;
	// nil makes every build_verify phase a skip.
	Build workflow.BuildVerifier

	// Metrics receives counters/histograms for agent calls, validation
	// outcomes, challenges, cost, and checkpoint resumes. Defaults to
	// observability.NoopMetrics.
	Metrics observability.Metrics

	// Logger is the structured logger every component logs through.
	// Defaults to hivelog.New(os.Stderr, slog.LevelWarn).
	Logger *slog.Logger

	// Tracing selects the OpenTelemetry exporter backing span export;
	// the zero value disables export and keeps only the on-disk trace.
	Tracing tracing.Config

	// WorkflowDir overrides where project workflow documents are looked
	// up, shadowing built-ins; defaults to HiveDir/workflows.
	WorkflowDir string

	// RepoRoot is the git repository root RunParallelWorktrees creates
	// worktrees under. Required only when that method is called.
	RepoRoot string

	// MaxParallel bounds concurrent worktree workers in
	// RunParallelWorktrees (§4.10); zero falls back to
	// parallelrun.DefaultMaxParallel. Review fan-out is not bounded by it.
	MaxParallel int
}

// Engine is the wired composition root. Its exported surface is Run,
// Resume, RunParallelReview, RunParallelWorktrees and Close; every
// collaborator it holds is unexported so callers cannot
// reach around the composed policy.
type Engine struct {
	layout       hive.Layout
	settings     config.Config
	logger       *slog.Logger
	events       *eventlog.Logger
	scratch      *scratchpad.Store
	checkpoints  *checkpoint.Manager
	runner       *agentrunner.Runner
	interpreter  *workflow.Interpreter
	loader       workflow.Loader
	metrics      observability.Metrics
	pullRequests hive.PullRequestCreator
	repoRoot     string
	maxParallel  int
}

// New validates cfg and wires every component. It does not start a run;
// callers invoke Run or Resume once New succeeds.
func New(cfg Config) (*Engine, error) {
	if cfg.HiveDir == "" {
		return nil, fmt.Errorf("engine: Config.HiveDir is required")
	}
	if len(cfg.Settings.Agents) == 0 {
		return nil, fmt.Errorf("engine: Config.Settings.Agents must name at least one agent")
	}

	layout := hive.NewLayout(cfg.HiveDir)
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("engine: ensure layout: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hivelog.New(os.Stderr, slog.LevelWarn)
	}

	events, err := eventlog.Open(layout.Events())
	if err != nil {
		return nil, fmt.Errorf("engine: open event log: %w", err)
	}

	tp, err := tracing.InitProvider(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("engine: init tracer provider: %w", err)
	}
	tracer := tp.Tracer("hive-engine")
	recorder := tracing.NewRecorder(tracer, layout.TraceSpans("current"))

	scratch := scratchpad.NewStore(layout.Scratchpad())
	memStore := memory.NewStore(layout.Memory())
	costLedger, err := cost.Load(layout.RunCost("current"))
	if err != nil {
		return nil, fmt.Errorf("engine: load cost ledger: %w", err)
	}
	checkpoints := checkpoint.NewManager(checkpoint.NewStorage(layout.Checkpoints()), true)
	handoffs := handoff.NewStore(layout.Handoffs())
	challenges := challenge.NewProtocol(cfg.Settings.MaxChallenges)

	invoker := cfg.Invoker
	if invoker == nil {
		invoker = subprocess.NewExecInvoker(nil)
	}

	commands := make(map[string]subprocess.Command, len(cfg.Settings.Agents))
	for name, a := range cfg.Settings.Agents {
		commands[name] = subprocess.Command{Path: a.Command, Args: a.Args}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = hive.NoopTracker{}
	}
	interviewer := cfg.Interviewer
	if interviewer == nil {
		interviewer = hive.NoopInterviewer{}
	}
	pullRequests := cfg.PullRequests
	if pullRequests == nil {
		pullRequests = hive.NoopPullRequestCreator{}
	}

	runner := &agentrunner.Runner{
		Invoker:               invoker,
		Commands:              commands,
		Prompts:               cfg.Prompts,
		Scratchpad:            scratch,
		Memory:                memStore,
		Cost:                  costLedger,
		CostModel:             costModelFrom(cfg.Settings),
		Tracker:               tracker,
		Metrics:               metrics,
		Contracts:             cfg.Contracts,
		Layout:                layout,
		Handoffs:              handoffs,
		ProjectGuidelinesPath: cfg.Settings.ProjectGuidelinesFile,
		UserContextFiles:      cfg.Settings.UserContextFiles,
		SafetyHooks: agentrunner.SafetyHooks{
			DisableParallel: func() {
				if _, err := scratch.Mutate(func(sp *scratchpad.Scratchpad) error {
					scratchpad.DisableParallel(sp)
					return nil
				}); err != nil {
					logger.Warn("disable parallel safety measure failed", "err", err)
				}
			},
			MarkNeedsReview: func() {
				if _, err := scratch.Mutate(func(sp *scratchpad.Scratchpad) error {
					scratchpad.MarkNeedsExtraReview(sp)
					return nil
				}); err != nil {
					logger.Warn("mark needs-extra-review safety measure failed", "err", err)
				}
			},
			RequestHumanHalt: func(reason string) {
				if _, err := scratch.Mutate(func(sp *scratchpad.Scratchpad) error {
					scratchpad.SetHaltReason(sp, reason)
					return nil
				}); err != nil {
					logger.Warn("record halt reason failed", "err", err)
				}
				logger.Warn("low-confidence agent result requested a human halt", "reason", reason)
			},
		},
	}

	workflowDir := cfg.WorkflowDir
	if workflowDir == "" {
		workflowDir = layout.Workflows()
	}
	loader := workflow.Loader{ProjectDir: workflowDir}

	interp := &workflow.Interpreter{
		Loader:      loader,
		Runner:      runner,
		Scratchpad:  scratch,
		Memory:      memStore,
		Cost:        costLedger,
		Checkpoints: checkpoints,
		Handoffs:    handoffs,
		Challenges:  challenges,
		Tracker:     tracker,
		Interviewer: interviewer,
		Build:       cfg.Build,
		Events:      events,
		Trace:       recorder,
		Metrics:     metrics,
		Adaptation:  adaptation.State{},
	}

	return &Engine{
		layout:       layout,
		settings:     cfg.Settings,
		logger:       logger,
		events:       events,
		scratch:      scratch,
		checkpoints:  checkpoints,
		runner:       runner,
		interpreter:  interp,
		loader:       loader,
		metrics:      metrics,
		pullRequests: pullRequests,
		repoRoot:     cfg.RepoRoot,
		maxParallel:  cfg.MaxParallel,
	}, nil
}

// Run selects a starting workflow for objective (via §4.14's scoring,
// overridable by a project-defined workflow of the same selected name),
// initializes a fresh run's scratchpad, and drives the workflow
// interpreter to completion.
func (e *Engine) Run(ctx context.Context, objective string) (workflow.RunResult, error) {
	runID := uuid.NewString()
	epicID := uuid.NewString()
	traceID := uuid.NewString()

	e.runner.EpicID = epicID

	name := selection.Select(builtinCandidates, objective)
	wf, err := e.loader.Load(name)
	if err != nil {
		return workflow.RunResult{}, fmt.Errorf("engine: load workflow %q: %w", name, err)
	}

	sp := scratchpad.New(runID, epicID, traceID, objective)
	if err := e.scratch.Init(sp); err != nil {
		return workflow.RunResult{}, fmt.Errorf("engine: init scratchpad: %w", err)
	}

	rc := hive.RunContext{
		RunID:     runID,
		EpicID:    epicID,
		TraceID:   traceID,
		Layout:    e.layout,
		Flags:     flagsFrom(e.settings.Flags),
		CostModel: costModelFrom(e.settings),
	}

	conditions := workflow.EnvConditions{}
	for _, bucket := range selection.DetectDomains(objective) {
		conditions["has_"+string(bucket)] = true
	}

	e.interpreter.TraceStack = tracing.NewStack(traceID)

	e.logger.Info("run started", "run_id", runID, "workflow", name, "objective", objective)
	result, err := e.interpreter.Run(ctx, rc, wf, conditions)
	if err != nil {
		return result, fmt.Errorf("engine: run workflow: %w", err)
	}
	e.logger.Info("run finished", "run_id", runID, "outcome", string(result.Outcome))
	return result, nil
}

// Resume reads the latest checkpoint for runID, records a checkpoint-resume
// metric for its phase, and runs workflowName again from its first phase
// under a fresh trace id. The checkpoint's phase and computed resume action
// are only logged: phases that already ran are run again, the scratchpad is
// not restored from the checkpoint, and domain conditions are not
// re-detected, so every conditional phase runs.
func (e *Engine) Resume(ctx context.Context, runID, epicID, objective, workflowName string) (workflow.RunResult, error) {
	state, action, err := e.checkpoints.Resume(runID, "")
	if err != nil {
		return workflow.RunResult{}, fmt.Errorf("engine: resume checkpoint: %w", err)
	}
	e.metrics.RecordCheckpointResume(ctx, state.CurrentPhase)

	wf, err := e.loader.Load(workflowName)
	if err != nil {
		return workflow.RunResult{}, fmt.Errorf("engine: load workflow %q: %w", workflowName, err)
	}

	traceID := uuid.NewString()
	rc := hive.RunContext{
		RunID:     runID,
		EpicID:    epicID,
		TraceID:   traceID,
		Layout:    e.layout,
		Flags:     flagsFrom(e.settings.Flags),
		CostModel: costModelFrom(e.settings),
	}

	e.interpreter.TraceStack = tracing.NewStack(traceID)

	e.logger.Info("run resumed", "run_id", runID, "phase", state.CurrentPhase, "action", string(action))
	result, err := e.interpreter.Run(ctx, rc, wf, workflow.EnvConditions{})
	if err != nil {
		return result, fmt.Errorf("engine: resume workflow: %w", err)
	}
	return result, nil
}

// RunParallelReview fans the given reviewer agents out over the same task
// concurrently (§4.10's review mode) and returns the merged, deduplicated
// finding set alongside each agent's own outcome. Requires the
// parallel_review feature flag (on by default — see config.Defaults) and is
// refused once a low-confidence Pass has disabled parallel execution for
// the run.
func (e *Engine) RunParallelReview(ctx context.Context, agents []string, task, handoffID string) ([]parallelrun.AgentOutcome, []parallelrun.Finding, error) {
	if !e.settings.Flags.ParallelReview {
		return nil, nil, fmt.Errorf("engine: parallel review requires the parallel_review feature flag")
	}
	if e.parallelDisabled() {
		return nil, nil, fmt.Errorf("engine: parallel review disabled for this run (low-confidence safety measure)")
	}
	return parallelrun.Run(ctx, e.runner, agents, task, handoffID)
}

// RunParallelWorktrees schedules the independent, non-overlapping subset
// of tasks into their own git worktrees and runs an implementer in each,
// bounded by Config.MaxParallel. Every task whose worktree both committed
// cleanly and passed opens a pull request via the configured
// PullRequestCreator (a no-op unless Config.PullRequests was set). Requires
// the parallel_worktrees feature flag and is refused once a low-confidence
// Pass has disabled parallel execution for the run.
func (e *Engine) RunParallelWorktrees(ctx context.Context, runID string, tasks []parallelrun.Task) ([]parallelrun.WorktreeOutcome, error) {
	if e.repoRoot == "" {
		return nil, fmt.Errorf("engine: RunParallelWorktrees requires Config.RepoRoot")
	}
	if !e.settings.Flags.ParallelWorktrees {
		return nil, fmt.Errorf("engine: parallel worktrees requires the parallel_worktrees feature flag")
	}
	if e.parallelDisabled() {
		return nil, fmt.Errorf("engine: parallel worktrees disabled for this run (low-confidence safety measure)")
	}
	git := parallelrun.GitWorktrees{RepoRoot: e.repoRoot, WorkDir: e.layout.Worktrees()}
	outcomes, err := parallelrun.RunWorktrees(ctx, e.runner, git, runID, tasks, e.maxParallel)
	if err != nil {
		return outcomes, fmt.Errorf("engine: run worktrees: %w", err)
	}

	for _, o := range outcomes {
		if o.Err != nil || o.Result.Outcome != agentrunner.Pass {
			continue
		}
		url, err := e.pullRequests.CreatePullRequest(ctx, o.Branch, o.Task.Title(), fmt.Sprintf("Automated change for task %s", o.Task.ID))
		if err != nil {
			e.logger.Warn("pull request creation failed", "task", o.Task.ID, "branch", o.Branch, "err", err)
			continue
		}
		e.logger.Info("pull request opened", "task", o.Task.ID, "url", url)
	}
	return outcomes, nil
}

// parallelDisabled reports whether a prior low-confidence agent result
// disabled parallel execution for the current run's scratchpad.
func (e *Engine) parallelDisabled() bool {
	sp, err := e.scratch.Load()
	if err != nil {
		return false
	}
	return sp.ParallelDisabled
}

// Close releases file handles the engine owns across its lifetime.
func (e *Engine) Close() error {
	if e.events != nil {
		return e.events.Close()
	}
	return nil
}

// flagsFrom bridges config's on-disk flag vocabulary to hive.FeatureFlags.
func flagsFrom(f config.FeatureFlags) hive.FeatureFlags {
	return hive.FeatureFlags{
		AutoMode:          f.AutoMode,
		ParallelReview:    f.ParallelReview,
		FastMode:          f.FastMode,
		CostAware:         f.CostTracking,
		AdaptEnabled:      f.AdaptEnabled,
		TestingRequired:   f.TestingRequired,
		ParallelWorktrees: f.ParallelWorktrees,
	}
}

// costModelFrom copies config.Config's numeric knobs into hive.CostModel;
// config.Defaults already seeds these from each owning package's constant,
// so engine only needs to carry the resolved value through.
func costModelFrom(c config.Config) hive.CostModel {
	return hive.CostModel{
		InputPricePerMillion:   c.InputPricePerMillion,
		OutputPricePerMillion:  c.OutputPricePerMillion,
		BudgetUSD:              c.BudgetUSD,
		ConfidenceThreshold:    c.ConfidenceThreshold,
		MaxChallenges:          c.MaxChallenges,
		ChallengeRetryAttempts: c.ChallengeRetryAttempts,
		MaxParallel:            c.MaxParallel,
		SkipMinSamples:         c.SkipMinSamples,
		SkipSuccessThreshold:   c.SkipSuccessThreshold,
		AdaptManyFiles:         c.AdaptManyFiles,
		AdaptMaxFailures:       c.AdaptMaxFailures,
	}
}
