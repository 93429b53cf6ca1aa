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

// Package agentrunner implements C5: prompt resolution, role-specific
// context curation, subprocess execution, and the retry/validation policy
// that turns one agent attempt into a Pass/Partial/Blocked/Challenge/Fail
// outcome.
package agentrunner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hiveengine/hive/internal/cost"
	"github.com/hiveengine/hive/internal/handoff"
	"github.com/hiveengine/hive/internal/hive"
	"github.com/hiveengine/hive/internal/memory"
	"github.com/hiveengine/hive/internal/observability"
	"github.com/hiveengine/hive/internal/scratchpad"
	"github.com/hiveengine/hive/internal/subprocess"
	"github.com/hiveengine/hive/internal/validator"
)

// maxIndexContextChars bounds how much of the codebase index is inlined
// into a prompt.
const maxIndexContextChars = 4000

// Outcome is the public contract's return value: `runAgentWithValidation`.
type Outcome string

const (
	Pass              Outcome = "pass"
	PassLowConfidence Outcome = "pass_low_confidence"
	Partial           Outcome = "partial"
	Blocked           Outcome = "blocked"
	Challenge         Outcome = "challenge"
	Fail              Outcome = "fail"
)

// DefaultMaxAttempts and DefaultConfidenceThreshold are §4.5's defaults.
const (
	DefaultMaxAttempts       = 3
	DefaultConfidenceThreshold = 0.6
)

// Contract is the per-agent policy governing retries and post-validation.
type Contract struct {
	MaxAttempts         int
	ConfidenceThreshold float64
	PostChecks          []string
	FeedbackTemplate    string
}

func (c Contract) orDefaults() Contract {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if len(c.PostChecks) == 0 {
		c.PostChecks = validator.CanonicalChecks
	}
	if c.FeedbackTemplate == "" {
		c.FeedbackTemplate = "Previous attempt failed: %s"
	}
	return c
}

// Result is the full outcome of one runAgentWithValidation call.
type Result struct {
	Outcome   Outcome
	Attempts  int
	SelfEval  SelfEval
	RawOutput string
}

// Runner executes agents with the retry/validation policy of §4.5.
type Runner struct {
	Invoker     subprocess.Invoker
	Commands    map[string]subprocess.Command
	Prompts     PromptResolver
	Scratchpad  *scratchpad.Store
	Memory      *memory.Store
	Cost        *cost.Ledger
	CostModel   hive.CostModel
	Tracker     hive.TaskTracker
	Metrics     observability.Metrics
	Contracts   map[string]Contract
	SafetyHooks SafetyHooks
	Layout      hive.Layout
	Handoffs    *handoff.Store

	// EpicID is the active run's epic, set by the composition root before
	// each Run so ready-tasks lookups can scope to it.
	EpicID string

	// ProjectGuidelinesPath and UserContextFiles feed the "project
	// guidelines file" and "user context files" context kinds (§4.5).
	// Either may be left unset; missing files are omitted, not an error.
	ProjectGuidelinesPath string
	UserContextFiles      []string
}

// SafetyHooks are the run-scoped side effects a low-confidence Pass
// triggers; the workflow interpreter supplies real implementations, tests
// supply recording stubs.
type SafetyHooks struct {
	DisableParallel  func()
	MarkNeedsReview  func()
	RequestHumanHalt func(reason string)
}

func (h SafetyHooks) apply(reason string) {
	if h.DisableParallel != nil {
		h.DisableParallel()
	}
	if h.MarkNeedsReview != nil {
		h.MarkNeedsReview()
	}
	if h.RequestHumanHalt != nil {
		h.RequestHumanHalt(reason)
	}
}

func (r *Runner) metrics() observability.Metrics {
	if r.Metrics == nil {
		return observability.NoopMetrics{}
	}
	return r.Metrics
}

// RunAgentWithValidation is C5's public contract.
func (r *Runner) RunAgentWithValidation(ctx context.Context, agent, task, handoffID string) (Result, error) {
	contract := r.contractFor(agent).orDefaults()

	systemPrompt, err := r.Prompts.Resolve(agent, r.frameworkHint())
	if err != nil {
		return Result{}, err
	}

	currentTask := task
	var lastEval SelfEval
	var lastRaw string

	for attempt := 1; attempt <= contract.MaxAttempts; attempt++ {
		sp, err := r.Scratchpad.Load()
		if err != nil {
			return Result{}, fmt.Errorf("agentrunner: load scratchpad: %w", err)
		}

		prompt := r.buildPrompt(ctx, systemPrompt, agent, currentTask, handoffID, sp)
		cmd, ok := r.Commands[agent]
		if !ok {
			return Result{}, fmt.Errorf("%w: no command configured for %s", hive.ErrAgentNotFound, agent)
		}

		started := time.Now()
		out, invokeErr := r.Invoker.Invoke(ctx, cmd, prompt)
		duration := time.Since(started)

		inputTokens := cost.EstimateTokens(prompt)
		outputTokens := cost.EstimateTokens(out.Text)
		callCost := cost.Compute(inputTokens, outputTokens, r.CostModel.InputPricePerMillion, r.CostModel.OutputPricePerMillion)
		if r.Cost != nil {
			_, _ = r.Cost.RecordCall(agent, inputTokens, outputTokens, r.CostModel.InputPricePerMillion, r.CostModel.OutputPricePerMillion)
		}
		r.metrics().RecordCostSpend(ctx, agent, callCost)
		r.metrics().RecordAgentCall(ctx, agent, duration, inputTokens+outputTokens, invokeErr)
		if _, err := r.Memory.Mutate(func(m *memory.Memory) error {
			m.RecordCost(agent, float64(inputTokens), float64(outputTokens), callCost)
			return nil
		}); err != nil {
			return Result{}, err
		}

		lastRaw = out.Text

		if invokeErr != nil {
			currentTask = fmt.Sprintf(contract.FeedbackTemplate, invokeErr.Error())
			continue
		}

		eval, ok := ParseSelfEval(out.Text)
		if ok {
			lastEval = eval
			result, handled, err := r.applySelfEval(agent, eval, contract)
			if err != nil {
				return Result{}, err
			}
			if handled {
				return Result{Outcome: result, Attempts: attempt, SelfEval: eval, RawOutput: out.Text}, nil
			}
		}

		// No usable self-eval, or self-eval applied but fell through
		// (shouldn't happen) — fall back to contract post-validation.
		valCtx := validator.Context{Scratchpad: mustLoad(r.Scratchpad), RawOutput: out.Text, ExpectedFiles: FilesModifiedHeuristic(out.Text)}
		results := validator.Run(valCtx, contract.PostChecks)
		passed := validator.AllPass(results)
		r.metrics().RecordValidationOutcome(ctx, agent, passed)
		if passed {
			return Result{Outcome: Pass, Attempts: attempt, SelfEval: lastEval, RawOutput: out.Text}, nil
		}

		currentTask = fmt.Sprintf(contract.FeedbackTemplate, summarizeFailures(results))
	}

	if _, err := r.Memory.Mutate(func(m *memory.Memory) error {
		m.RecordAgentRun(memory.AgentHistoryEntry{Agent: agent, Status: "failed"})
		m.RecordAgentPattern(agent, lastEval.Confidence, "failed")
		return nil
	}); err != nil {
		return Result{}, err
	}

	return Result{Outcome: Fail, Attempts: contract.MaxAttempts, SelfEval: lastEval, RawOutput: lastRaw}, nil
}

// applySelfEval handles a parsed self-eval per §4.5 steps 2-4. handled is
// false only when the status is recognized-but-unreachable (never in
// practice, since ParseSelfEval already filters statuses).
func (r *Runner) applySelfEval(agent string, eval SelfEval, contract Contract) (Outcome, bool, error) {
	switch eval.Status {
	case "complete", "partial":
		_, err := r.Scratchpad.Mutate(func(sp *scratchpad.Scratchpad) error {
			for _, d := range eval.Decisions {
				scratchpad.AddDecision(sp, agent, d, "")
			}
			sp.Context.KeyFiles = scratchpad.MergeDedup(sp.Context.KeyFiles, eval.FilesModified...)
			sp.CompletedAgents = append(sp.CompletedAgents, agent)
			sp.CurrentAgent = ""
			return nil
		})
		if err != nil {
			return Fail, true, err
		}
		if _, err := r.Memory.Mutate(func(m *memory.Memory) error {
			m.RecordAgentRun(memory.AgentHistoryEntry{Agent: agent, Status: eval.Status})
			m.RecordAgentPattern(agent, eval.Confidence, eval.Status)
			return nil
		}); err != nil {
			return Fail, true, err
		}

		if eval.Confidence < contract.ConfidenceThreshold {
			r.SafetyHooks.apply(fmt.Sprintf("%s reported low confidence (%.2f)", agent, eval.Confidence))
			if eval.Status == "partial" {
				return Partial, true, nil
			}
			return PassLowConfidence, true, nil
		}
		if eval.Status == "partial" {
			return Partial, true, nil
		}
		return Pass, true, nil

	case "blocked":
		_, err := r.Scratchpad.Mutate(func(sp *scratchpad.Scratchpad) error {
			scratchpad.AddBlocker(sp, agent, eval.BlockerText)
			sp.CurrentAgent = ""
			return nil
		})
		if err != nil {
			return Fail, true, err
		}
		return Blocked, true, nil

	case "challenge":
		return Challenge, true, nil
	}
	return Fail, false, nil
}

func (r *Runner) contractFor(agent string) Contract {
	if r.Contracts == nil {
		return Contract{}
	}
	return r.Contracts[agent]
}

func (r *Runner) frameworkHint() string {
	m, err := r.Memory.Load()
	if err != nil || m == nil {
		return ""
	}
	return m.Facts.Framework
}

// buildPrompt concatenates system-prompt + curated context + task +
// mandatory self-evaluation instructions, per §4.5. The scratchpad
// summary, handoff, ready-tasks list, challenge history, and per-agent
// warnings are always appended; the remaining context kinds are the
// role-specific subset from ContextKindsFor.
func (r *Runner) buildPrompt(ctx context.Context, systemPrompt, agent, task, handoffID string, sp *scratchpad.Scratchpad) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n## Context\n\n")

	summary := sp.Project()
	fmt.Fprintf(&b, "Objective: %s\nStatus: %s\nCurrent phase: %s\n", summary.Objective, summary.Status, summary.CurrentPhase)
	for _, d := range summary.LastDecisions {
		fmt.Fprintf(&b, "- decision (%s): %s\n", d.Agent, d.Decision)
	}
	for _, bl := range summary.OpenBlockers {
		fmt.Fprintf(&b, "- open blocker (%s): %s\n", bl.Agent, bl.Text)
	}

	for _, kind := range ContextKindsFor(agent) {
		r.appendContextKind(&b, kind, agent, summary)
	}

	if handoffID != "" && r.Handoffs != nil {
		if h, err := r.Handoffs.Load(handoffID); err == nil {
			fmt.Fprintf(&b, "\n## Handoff\n\n%s\n", h.Render())
		}
	}

	if r.Tracker != nil {
		if tasks, err := r.Tracker.ReadyTasks(ctx, r.EpicID); err == nil && len(tasks) > 0 {
			b.WriteString("\n## Ready tasks\n\n")
			for _, t := range tasks {
				fmt.Fprintf(&b, "- [%s] %s: %s\n", t.Priority, t.ID, t.Title)
			}
		}
	}

	if m, err := r.Memory.Load(); err == nil && m != nil {
		var history []string
		for _, entry := range m.ChallengeHistory {
			if entry.To == agent || entry.From == agent {
				history = append(history, fmt.Sprintf("%s→%s (%s): %s", entry.From, entry.To, entry.Outcome, entry.Issue))
			}
		}
		if len(history) > 0 {
			b.WriteString("\n## Challenge history for this agent\n\n")
			for _, h := range history {
				fmt.Fprintf(&b, "- %s\n", h)
			}
		}

		if pattern, ok := m.AgentPatterns[agent]; ok && pattern.Samples > 0 {
			if failRate := float64(pattern.StatusCounts["failed"]) / float64(pattern.Samples); failRate >= 0.3 {
				fmt.Fprintf(&b, "\n## Warning\n\n%s has failed %.0f%% of its last %d runs.\n", agent, failRate*100, pattern.Samples)
			}
		}
	}

	fmt.Fprintf(&b, "\n## Task\n\n%s\n", task)
	b.WriteString("\n" + selfEvalInstructions)
	return b.String()
}

// appendContextKind renders one role-specific context section, per the
// §4.5 table. Sources that are unset or unreadable are omitted silently,
// mirroring the validator's tolerant "skipped" convention.
func (r *Runner) appendContextKind(b *strings.Builder, kind ContextKind, agent string, summary scratchpad.Summary) {
	switch kind {
	case ContextObjective:
		// Already emitted above as part of the always-on summary.
	case ContextMemory:
		m, err := r.Memory.Load()
		if err != nil || m == nil {
			return
		}
		if len(m.TechStack) > 0 {
			fmt.Fprintf(b, "Tech stack: %s\n", strings.Join(m.TechStack, ", "))
		}
		if len(m.Conventions) > 0 {
			fmt.Fprintf(b, "Conventions: %s\n", strings.Join(m.Conventions, "; "))
		}
		if len(m.Gotchas) > 0 {
			fmt.Fprintf(b, "Gotchas: %s\n", strings.Join(m.Gotchas, "; "))
		}
	case ContextOwnMemory:
		m, err := r.Memory.Load()
		if err != nil || m == nil {
			return
		}
		if pattern, ok := m.AgentPatterns[agent]; ok {
			fmt.Fprintf(b, "Your history: %d runs, avg confidence %.2f\n", pattern.Samples, pattern.AvgConfidence)
		}
	case ContextIndex:
		if data, err := os.ReadFile(r.Layout.Index()); err == nil {
			text := string(data)
			if len(text) > maxIndexContextChars {
				text = text[:maxIndexContextChars]
			}
			fmt.Fprintf(b, "\n## Codebase index\n\n%s\n", text)
		}
	case ContextProjectGuidelines:
		if r.ProjectGuidelinesPath == "" {
			return
		}
		if data, err := os.ReadFile(r.ProjectGuidelinesPath); err == nil {
			fmt.Fprintf(b, "\n## Project guidelines\n\n%s\n", string(data))
		}
	case ContextUserFiles:
		for _, path := range r.UserContextFiles {
			if data, err := os.ReadFile(path); err == nil {
				fmt.Fprintf(b, "\n## %s\n\n%s\n", path, string(data))
			}
		}
	case ContextDiff:
		// No git-diff snapshotting subsystem exists yet (§4.8 step 8's
		// post-phase snapshot is unimplemented); key files touched so far
		// this run are the closest available proxy.
		if len(summary.Context.KeyFiles) > 0 {
			fmt.Fprintf(b, "Files touched so far: %s\n", strings.Join(summary.Context.KeyFiles, ", "))
		}
	case ContextTestCommand:
		m, err := r.Memory.Load()
		if err != nil || m == nil || m.Facts.TestCommand == "" {
			return
		}
		fmt.Fprintf(b, "Test command: %s\n", m.Facts.TestCommand)
	}
}

const selfEvalInstructions = `## Self-Evaluation

End your response with a block between ` + "`<!--HIVE_REPORT`" + ` and ` + "`HIVE_REPORT-->`" + `
containing a JSON object with at least a "status" field
(complete|partial|blocked|challenge), a "confidence" float, and any of
"decisions", "files_modified", "blocker", "issues_found", or "challenge"
that apply.`

func summarizeFailures(results []validator.Result) string {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r.Check+": "+r.Details)
		}
	}
	return strings.Join(failed, "; ")
}

func mustLoad(store *scratchpad.Store) *scratchpad.Scratchpad {
	sp, err := store.Load()
	if err != nil {
		return &scratchpad.Scratchpad{}
	}
	return sp
}
