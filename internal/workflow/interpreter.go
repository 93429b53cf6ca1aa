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
	"fmt"
	"strings"
	"time"

	"github.com/hiveengine/hive/internal/adaptation"
	"github.com/hiveengine/hive/internal/agentrunner"
	"github.com/hiveengine/hive/internal/challenge"
	"github.com/hiveengine/hive/internal/checkpoint"
	"github.com/hiveengine/hive/internal/cost"
	"github.com/hiveengine/hive/internal/eventlog"
	"github.com/hiveengine/hive/internal/handoff"
	"github.com/hiveengine/hive/internal/hive"
	"github.com/hiveengine/hive/internal/memory"
	"github.com/hiveengine/hive/internal/observability"
	"github.com/hiveengine/hive/internal/scratchpad"
	"github.com/hiveengine/hive/internal/tracing"
)

// AgentRunner is the narrow surface the interpreter needs from C5.
type AgentRunner interface {
	RunAgentWithValidation(ctx context.Context, agent, task, handoffID string) (agentrunner.Result, error)
}

// BuildVerifier runs the project's build/test command for a build_verify
// phase.
type BuildVerifier interface {
	Verify(ctx context.Context) (passed bool, output string, err error)
}

// Interpreter is C8: it owns no state of its own beyond its collaborators,
// reading and writing the scratchpad/memory stores directly, per phase.
type Interpreter struct {
	Loader      Loader
	Runner      AgentRunner
	Scratchpad  *scratchpad.Store
	Memory      *memory.Store
	Cost        *cost.Ledger
	Checkpoints *checkpoint.Manager
	Handoffs    *handoff.Store
	Challenges  *challenge.Protocol
	Tracker     hive.TaskTracker
	Interviewer hive.Interviewer
	Build       BuildVerifier
	Events      *eventlog.Logger
	Trace       *tracing.Recorder
	TraceStack  *tracing.Stack
	Metrics     observability.Metrics
	Adaptation  adaptation.State
}

func (in *Interpreter) metrics() observability.Metrics {
	if in.Metrics == nil {
		return observability.NoopMetrics{}
	}
	return in.Metrics
}

func (in *Interpreter) logEvent(rc hive.RunContext, eventType string, payload map[string]any) {
	if in.Events == nil {
		return
	}
	span := eventlog.Span{RunID: rc.RunID, TraceID: rc.TraceID}
	if in.TraceStack != nil {
		span.SpanID = in.TraceStack.Current()
	}
	_ = in.Events.Log(eventType, span, nil, payload)
}

// Run executes wf to completion (or to its first terminal non-pass
// outcome), consuming injected phases ahead of each static one.
func (in *Interpreter) Run(ctx context.Context, rc hive.RunContext, wf Workflow, conditions EnvConditions) (RunResult, error) {
	resolved, err := in.Loader.ResolveComposition(wf)
	if err != nil {
		return RunResult{}, err
	}
	return in.runPhases(ctx, rc, resolved.Phases, conditions)
}

func (in *Interpreter) runPhases(ctx context.Context, rc hive.RunContext, phases []scratchpad.Phase, conditions EnvConditions) (RunResult, error) {
	result := RunResult{Outcome: OutcomeComplete}

	for _, phase := range phases {
		for {
			sp, err := in.Scratchpad.Load()
			if err != nil {
				return result, err
			}
			injected, ok := scratchpad.PopInjectedPhase(sp)
			if !ok {
				break
			}
			if _, err := in.Scratchpad.Mutate(func(s *scratchpad.Scratchpad) error {
				s.InjectedPhases = sp.InjectedPhases
				return nil
			}); err != nil {
				return result, err
			}
			outcome, err := in.runOnePhase(ctx, rc, injected, conditions)
			if err != nil {
				return result, err
			}
			in.recordPhaseResult(&result, injected, outcome)
			if terminal, done := escalationFor(outcome); done {
				result.Outcome = terminal
				return result, nil
			}
		}

		outcome, err := in.runOnePhase(ctx, rc, phase, conditions)
		if err != nil {
			return result, err
		}
		in.recordPhaseResult(&result, phase, outcome)
		if terminal, done := escalationFor(outcome); done {
			result.Outcome = terminal
			return result, nil
		}
	}

	return result, nil
}

func (in *Interpreter) recordPhaseResult(result *RunResult, phase scratchpad.Phase, outcome PhaseOutcome) {
	if outcome == PhaseSkip {
		result.PhasesSkipped = append(result.PhasesSkipped, phase.Name)
		return
	}
	result.PhasesRun = append(result.PhasesRun, phase.Name)
}

// escalationFor maps a phase outcome to a terminal workflow outcome, if any.
func escalationFor(outcome PhaseOutcome) (Outcome, bool) {
	switch outcome {
	case PhaseBlocked:
		return OutcomeBlocked, true
	case PhaseEscalate:
		return OutcomeEscalated, true
	case PhaseFail:
		return OutcomeFailed, true
	default:
		return "", false
	}
}

// runOnePhase dispatches one phase through §4.8's full eight-step sequence.
func (in *Interpreter) runOnePhase(ctx context.Context, rc hive.RunContext, phase scratchpad.Phase, conditions EnvConditions) (PhaseOutcome, error) {
	// testing_required (§4.15) forces a tester phase to be required even
	// when the workflow document marks it optional, so tests can't be
	// silently skipped by the condition/cost/skip gates below.
	if rc.Flags.TestingRequired && adaptation.IsTesterRole(phase.Agent) {
		phase.Required = true
	}

	if !ConditionMet(conditions, phase.Condition) {
		in.logEvent(rc, "phase_skipped", map[string]any{"phase": phase.Name, "reason": "condition_not_met"})
		return PhaseSkip, nil
	}

	spanID, spanCtx, _ := in.startSpan(ctx, "phase:"+phase.Name)
	defer in.endSpan(spanID, "complete")
	ctx = spanCtx

	switch phase.Type {
	case "build_verify":
		return in.runBuildVerify(ctx, rc, phase)
	case "fix_blocking":
		return in.runFixBlocking(ctx, rc, phase)
	case "interview":
		// auto_mode (§4.15) skips human checkpoints entirely rather than
		// routing them through the (possibly noop) Interviewer.
		if rc.Flags.AutoMode {
			in.logEvent(rc, "phase_skipped", map[string]any{"phase": phase.Name, "reason": "auto_mode"})
			return PhaseSkip, nil
		}
		return in.runInterview(ctx, rc, phase)
	default:
		return in.runAgentPhase(ctx, rc, phase, spanID)
	}
}

func (in *Interpreter) startSpan(ctx context.Context, op string) (string, context.Context, error) {
	if in.Trace == nil || in.TraceStack == nil {
		return "", ctx, nil
	}
	return in.Trace.SpanStart(ctx, in.TraceStack, op)
}

func (in *Interpreter) endSpan(spanID, status string) {
	if in.Trace == nil || in.TraceStack == nil || spanID == "" {
		return
	}
	_ = in.Trace.SpanEnd(in.TraceStack, spanID, status)
}

func (in *Interpreter) runBuildVerify(ctx context.Context, rc hive.RunContext, phase scratchpad.Phase) (PhaseOutcome, error) {
	if in.Build == nil {
		return PhaseSkip, nil
	}
	passed, output, err := in.Build.Verify(ctx)
	if err == nil && passed {
		in.logEvent(rc, "build_verify_passed", map[string]any{"phase": phase.Name})
		return PhasePass, nil
	}
	in.logEvent(rc, "build_verify_failed", map[string]any{"phase": phase.Name, "output": output})
	if phase.OnFailure != "" {
		task := fmt.Sprintf("Build verification failed:\n%s", output)
		result, err := in.Runner.RunAgentWithValidation(ctx, phase.OnFailure, task, "")
		if err != nil {
			return PhaseFail, err
		}
		return in.handleAgentResult(ctx, rc, phase, result)
	}
	if phase.Required {
		return PhaseEscalate, nil
	}
	return PhaseSkip, nil
}

func (in *Interpreter) runFixBlocking(ctx context.Context, rc hive.RunContext, phase scratchpad.Phase) (PhaseOutcome, error) {
	if in.Tracker == nil {
		return PhaseSkip, nil
	}
	tasks, err := in.Tracker.ReadyTasks(ctx, rc.EpicID)
	if err != nil {
		return PhaseFail, err
	}
	var p0s []hive.TrackerTask
	for _, t := range tasks {
		if t.Priority == "P0" {
			p0s = append(p0s, t)
		}
	}
	if len(p0s) == 0 {
		return PhaseSkip, nil
	}

	for _, t := range p0s {
		result, err := in.Runner.RunAgentWithValidation(ctx, "implementer", t.Title, "")
		if err != nil {
			return PhaseFail, err
		}
		if outcome, err := in.handleAgentResult(ctx, rc, phase, result); outcome != PhasePass {
			return outcome, err
		}
		_ = in.Tracker.UpdateStatus(ctx, t.ID, "done")
	}
	return PhasePass, nil
}

func (in *Interpreter) runInterview(ctx context.Context, rc hive.RunContext, phase scratchpad.Phase) (PhaseOutcome, error) {
	if in.Interviewer == nil {
		return PhaseSkip, nil
	}
	sp, err := in.Scratchpad.Load()
	if err != nil {
		return PhaseFail, err
	}
	enriched, err := in.Interviewer.Enrich(ctx, sp.Objective)
	if err != nil {
		return PhaseFail, err
	}
	if _, err := in.Scratchpad.Mutate(func(s *scratchpad.Scratchpad) error {
		s.Objective = enriched
		return nil
	}); err != nil {
		return PhaseFail, err
	}
	return PhasePass, nil
}

func (in *Interpreter) runAgentPhase(ctx context.Context, rc hive.RunContext, phase scratchpad.Phase, spanID string) (PhaseOutcome, error) {
	sp, err := in.Scratchpad.Load()
	if err != nil {
		return PhaseFail, err
	}

	// Step 3: cost gate. Gated on the cost_tracking/cost_aware feature flag
	// (§4.15): a project that hasn't opted into cost tracking runs every
	// phase regardless of budget.
	if rc.Flags.CostAware && !phase.Required && in.Memory != nil && in.Cost != nil {
		m, err := in.Memory.Load()
		if err == nil {
			avg := 0.0
			if c, ok := m.AgentCosts[phase.Agent]; ok {
				avg = c.Cost
			}
			if !cost.FitsBudget(avg, rc.CostModel.BudgetUSD, in.Cost.Spent()) {
				in.logEvent(rc, "smart_decision", map[string]any{"phase": phase.Name, "reason": "cost_gate", "agent": phase.Agent})
				return PhaseSkip, nil
			}
		}
	}

	// Step 4: skip gate.
	if !phase.Required && rc.Flags.FastMode && in.Memory != nil {
		m, err := in.Memory.Load()
		if err == nil && m.IsSkipSafe(phase.Agent, sp.Objective, rc.CostModel.SkipMinSamples, rc.CostModel.SkipSuccessThreshold, memory.DefaultChallengeRateCeiling) {
			in.logEvent(rc, "smart_decision", map[string]any{"phase": phase.Name, "reason": "skip_safe", "agent": phase.Agent})
			return PhaseSkip, nil
		}
	}

	// Step 5: pair warning.
	if phase.NeedsHandoffFrom != "" && in.Memory != nil {
		m, err := in.Memory.Load()
		if err == nil {
			rate, samples := m.PairChallengeRate(phase.NeedsHandoffFrom, phase.Agent)
			if samples >= 5 && rate >= 0.30 {
				in.logEvent(rc, "pair_warning", map[string]any{"from": phase.NeedsHandoffFrom, "to": phase.Agent, "challenge_rate": rate})
			}
		}
	}

	// Step 6: build handoff.
	task := substituteEpicID(phase.Task, rc.EpicID)
	handoffID := ""
	if phase.NeedsHandoffFrom != "" && in.Handoffs != nil {
		h, err := in.Handoffs.LatestFor(phase.NeedsHandoffFrom, phase.Agent)
		if err == nil {
			task = task + "\n\n" + h.Render()
			handoffID = h.ID
			_, _ = in.Handoffs.MarkReceived(h.ID)
		}
	}

	// Step 7: invoke.
	result, err := in.Runner.RunAgentWithValidation(ctx, phase.Agent, task, handoffID)
	if err != nil {
		return PhaseFail, err
	}

	if in.Trace != nil && spanID != "" {
		_ = in.Trace.SpanAddTag(spanID, "agent", phase.Agent)
		_ = in.Trace.SpanAddTag(spanID, "outcome", string(result.Outcome))
		for _, f := range result.SelfEval.FilesModified {
			_ = in.Trace.SpanRecordFile(spanID, f, "modified")
		}
	}

	outcome, err := in.handleAgentResult(ctx, rc, phase, result)

	// Step 8: post-phase bookkeeping.
	in.postPhase(rc, phase, result)

	return outcome, err
}

// handleAgentResult maps an agentrunner.Result onto a PhaseOutcome,
// handling reroute-on-failure and the challenge protocol.
func (in *Interpreter) handleAgentResult(ctx context.Context, rc hive.RunContext, phase scratchpad.Phase, result agentrunner.Result) (PhaseOutcome, error) {
	switch result.Outcome {
	case agentrunner.Pass, agentrunner.PassLowConfidence, agentrunner.Partial:
		return PhasePass, nil

	case agentrunner.Blocked:
		if phase.Required {
			if phase.OnFailure != "" {
				return PhaseEscalate, nil
			}
			return PhaseBlocked, nil
		}
		return PhaseSkip, nil

	case agentrunner.Challenge:
		return in.runChallengeReroute(ctx, rc, result)

	default: // agentrunner.Fail
		if phase.OnFailure != "" {
			return PhaseEscalate, nil
		}
		if phase.Required {
			return PhaseFail, nil
		}
		return PhaseSkip, nil
	}
}

func (in *Interpreter) postPhase(rc hive.RunContext, phase scratchpad.Phase, result agentrunner.Result) {
	if in.Memory != nil {
		_, _ = in.Memory.Mutate(func(m *memory.Memory) error {
			if phase.NeedsHandoffFrom != "" {
				m.RecordPairRun(phase.NeedsHandoffFrom, phase.Agent)
			}
			succeeded := result.Outcome == agentrunner.Pass || result.Outcome == agentrunner.PassLowConfidence
			challenged := result.Outcome == agentrunner.Challenge
			m.RecordSkipOutcome(phase.Agent, phase.Task, succeeded, challenged)
			return nil
		})
	}

	if in.Checkpoints != nil {
		sp, err := in.Scratchpad.Load()
		if err == nil {
			_, _ = in.Checkpoints.Save(checkpoint.State{
				RunID:         rc.RunID,
				EpicID:        rc.EpicID,
				Objective:     sp.Objective,
				CurrentPhase:  phase.Name,
				CurrentAgent:  phase.Agent,
				ScratchpadRef: rc.Layout.Scratchpad(),
				LastOutcome:   string(result.Outcome),
			})
		}
	}

	if !rc.Flags.AdaptEnabled {
		return
	}

	report := adaptation.PostAgentReport{
		Agent:         phase.Agent,
		Status:        string(result.Outcome),
		FilesModified: result.SelfEval.FilesModified,
	}
	for _, issue := range result.SelfEval.IssuesFound {
		report.IssuesFound = append(report.IssuesFound, adaptation.Finding{Severity: issue.Severity})
	}
	adapt := adaptation.Evaluate(in.Adaptation, report, rc.CostModel.AdaptManyFiles, rc.CostModel.AdaptMaxFailures)
	in.Adaptation = adapt.State
	if len(adapt.Injections) > 0 {
		_, _ = in.Scratchpad.Mutate(func(s *scratchpad.Scratchpad) error {
			for _, injection := range adapt.Injections {
				scratchpad.PushInjectedPhase(s, injection.Phase)
			}
			return nil
		})
	}
	if adapt.Escalate {
		in.logEvent(rc, "escalation", map[string]any{"reason": adapt.EscalationReason})
	}
}

// runChallengeReroute drives §4.7's protocol to completion: submit the
// challenge, re-run the challenged agent with the issue as feedback, and
// advance the state machine on its self-eval, until the pair resolves,
// escalates, or exhausts its reroute attempts.
func (in *Interpreter) runChallengeReroute(ctx context.Context, rc hive.RunContext, result agentrunner.Result) (PhaseOutcome, error) {
	if in.Challenges == nil {
		return PhaseEscalate, nil
	}

	fields := result.SelfEval.Challenge
	c := challenge.Challenge{
		From:       fields.From,
		To:         fields.To,
		Issue:      fields.Issue,
		Suggestion: fields.Suggestion,
		Evidence:   fields.Evidence,
		TS:         time.Now().UTC(),
	}
	state := in.Challenges.Submit(c)

	for state == challenge.StateRerouting {
		task := fmt.Sprintf("A challenge was raised against your prior work by %s:\n\n%s\n\nSuggested fix: %s\n\nEvidence:\n%s",
			fields.From, fields.Issue, fields.Suggestion, fields.Evidence)
		rerun, err := in.Runner.RunAgentWithValidation(ctx, fields.To, task, "")
		if err != nil {
			return PhaseFail, err
		}
		eval := challenge.SelfEval{
			Status:     challengeStatusFor(rerun.Outcome),
			Confidence: rerun.SelfEval.Confidence,
			IssueFound: len(rerun.SelfEval.IssuesFound) > 0,
		}
		state = in.Challenges.Advance(fields.From, fields.To, eval, rc.CostModel.ConfidenceThreshold)
	}

	outcome := "resolved"
	if state == challenge.StateEscalated {
		outcome = "escalated"
	} else if !in.confirmChallengeResolved(ctx, rc, fields) {
		// The challenging agent still disputes the fix after every retry
		// attempt: treat this the same as exhausting the rerouting loop.
		outcome = "escalated"
	}

	in.metrics().RecordChallengeOutcome(ctx, outcome)
	if in.Memory != nil {
		_, _ = in.Memory.Mutate(func(m *memory.Memory) error {
			m.RecordPairChallenge(fields.From, fields.To, outcome)
			m.RecordChallenge(memory.ChallengeEntry{RunID: rc.RunID, From: fields.From, To: fields.To, Issue: fields.Issue, Outcome: outcome})
			return nil
		})
	}

	if outcome == "escalated" {
		return PhaseEscalate, nil
	}
	return PhasePass, nil
}

// confirmChallengeResolved re-runs the challenging agent against its own
// original complaint (§4.7: "re-run the challenging agent once to confirm"),
// retrying up to rc.CostModel.ChallengeRetryAttempts times if it keeps
// raising the same challenge.
func (in *Interpreter) confirmChallengeResolved(ctx context.Context, rc hive.RunContext, fields agentrunner.ChallengeFields) bool {
	attempts := rc.CostModel.ChallengeRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	confirmTask := fmt.Sprintf("Confirm whether the fix from %s resolves the challenge you raised:\n\n%s", fields.To, fields.Issue)
	for i := 0; i < attempts; i++ {
		confirmResult, err := in.Runner.RunAgentWithValidation(ctx, fields.From, confirmTask, "")
		if err != nil || challengeStatusFor(confirmResult.Outcome) != "challenge" {
			return err == nil
		}
	}
	return false
}

// challengeStatusFor translates an agentrunner.Outcome into the status
// vocabulary challenge.ResponseValidatesIssue expects ("complete",
// "partial", "blocked", "challenge").
func challengeStatusFor(outcome agentrunner.Outcome) string {
	switch outcome {
	case agentrunner.Pass, agentrunner.PassLowConfidence:
		return "complete"
	case agentrunner.Partial:
		return "partial"
	case agentrunner.Challenge:
		return "challenge"
	default: // Blocked, Fail
		return "blocked"
	}
}

func substituteEpicID(task, epicID string) string {
	return strings.ReplaceAll(task, "{{EPIC_ID}}", epicID)
}
