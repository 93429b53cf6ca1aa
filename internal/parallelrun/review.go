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

// Package parallelrun implements C10's two concurrency modes: fanning a
// small set of review-type agents out over the same diff, and running
// independent implementers each inside its own git worktree. Worktree runs
// use an errgroup bounded by maxParallel — "structured workers with an
// explicit join", the pattern the teacher's workflowagent.ParallelAgent
// demonstrates for fanning sub-agents out with a shared errgroup. Review
// fan-out starts one goroutine per agent with no bound and joins them all
// (ReviewFanOut through a sync.WaitGroup, Run through an errgroup).
package parallelrun

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hiveengine/hive/internal/agentrunner"
)

// AgentRunner is the narrow surface parallelrun needs from the agent
// runner — satisfied by *agentrunner.Runner, stubbed in tests.
type AgentRunner interface {
	RunAgentWithValidation(ctx context.Context, agent, task, handoffID string) (agentrunner.Result, error)
}

// Finding is a deduplicated review/security issue, after merging across
// every agent in a review fan-out.
type Finding struct {
	Title       string
	Severity    string
	SourceAgent string
}

// severityRank orders severities from least to most severe so the merge
// can keep the highest one seen for a given title.
var severityRank = map[string]int{
	"low":    1,
	"medium": 2,
	"high":   3,
	"critical": 4,
}

// AgentOutcome pairs one review agent's name with its full result, per the
// "per-agent reports are preserved" design decision (DESIGN.md).
type AgentOutcome struct {
	Agent  string
	Result agentrunner.Result
	Err    error
}

// ReviewFanOut runs every agent in agents concurrently against the same
// task/handoff, waits for all of them, and returns both the per-agent
// outcomes and the merged finding set. A required fan-out's caller decides
// whether any individual failure is fatal; ReviewFanOut itself never
// short-circuits on one agent's error.
func ReviewFanOut(ctx context.Context, runner AgentRunner, agents []string, task, handoffID string) ([]AgentOutcome, []Finding) {
	outcomes := make([]AgentOutcome, len(agents))

	var wg sync.WaitGroup
	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agent string) {
			defer wg.Done()
			result, err := runner.RunAgentWithValidation(ctx, agent, task, handoffID)
			outcomes[i] = AgentOutcome{Agent: agent, Result: result, Err: err}
		}(i, agent)
	}
	wg.Wait()

	return outcomes, mergeFindings(outcomes)
}

// mergeFindings unions each outcome's self-eval issues by normalized
// title, keeping the highest severity seen and recording the first agent
// that reported it.
func mergeFindings(outcomes []AgentOutcome) []Finding {
	byTitle := map[string]*Finding{}
	var order []string

	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		for _, issue := range o.Result.SelfEval.IssuesFound {
			title := issue.Description
			key := strings.Join(strings.Fields(strings.ToLower(title)), " ")
			existing, ok := byTitle[key]
			if !ok {
				f := &Finding{Title: title, Severity: issue.Severity, SourceAgent: o.Agent}
				byTitle[key] = f
				order = append(order, key)
				continue
			}
			if severityRank[issue.Severity] > severityRank[existing.Severity] {
				existing.Severity = issue.Severity
			}
		}
	}

	sort.Strings(order)
	findings := make([]Finding, 0, len(order))
	for _, title := range order {
		findings = append(findings, *byTitle[title])
	}
	return findings
}

// Run is a convenience wrapper running the same work through an errgroup,
// used when the caller wants a single error out of the fan-out (e.g. a
// required review phase where any agent's transport error must fail the
// phase outright).
func Run(ctx context.Context, runner AgentRunner, agents []string, task, handoffID string) ([]AgentOutcome, []Finding, error) {
	outcomes := make([]AgentOutcome, len(agents))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, agent := range agents {
		i, agent := i, agent
		eg.Go(func() error {
			result, err := runner.RunAgentWithValidation(egCtx, agent, task, handoffID)
			outcomes[i] = AgentOutcome{Agent: agent, Result: result, Err: err}
			if err != nil {
				return fmt.Errorf("parallelrun: agent %s: %w", agent, err)
			}
			return nil
		})
	}
	err := eg.Wait()
	return outcomes, mergeFindings(outcomes), err
}
