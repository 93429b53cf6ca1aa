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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiveengine/hive/internal/agentrunner"
)

type stubRunner struct {
	results map[string]agentrunner.Result
	errs    map[string]error
}

func (s stubRunner) RunAgentWithValidation(_ context.Context, agent, _, _ string) (agentrunner.Result, error) {
	if err, ok := s.errs[agent]; ok {
		return agentrunner.Result{}, err
	}
	return s.results[agent], nil
}

func TestReviewFanOutMergesFindingsKeepingHighestSeverity(t *testing.T) {
	runner := stubRunner{results: map[string]agentrunner.Result{
		"reviewer": {
			Outcome: agentrunner.Pass,
			SelfEval: agentrunner.SelfEval{
				Status: "complete",
				IssuesFound: []agentrunner.Issue{
					{Severity: "low", Description: "missing doc comment"},
					{Severity: "medium", Description: "no error wrap"},
				},
			},
		},
		"security": {
			Outcome: agentrunner.Pass,
			SelfEval: agentrunner.SelfEval{
				Status: "complete",
				IssuesFound: []agentrunner.Issue{
					{Severity: "high", Description: "no error wrap"},
				},
			},
		},
	}}

	outcomes, findings := ReviewFanOut(context.Background(), runner, []string{"reviewer", "security"}, "review the diff", "")
	require.Len(t, outcomes, 2)

	byTitle := map[string]Finding{}
	for _, f := range findings {
		byTitle[f.Title] = f
	}
	require.Equal(t, "high", byTitle["no error wrap"].Severity)
	require.Equal(t, "low", byTitle["missing doc comment"].Severity)
}

func TestRunPropagatesAgentError(t *testing.T) {
	runner := stubRunner{errs: map[string]error{"reviewer": errors.New("boom")}}

	_, _, err := Run(context.Background(), runner, []string{"reviewer"}, "task", "")
	require.Error(t, err)
}

func TestReviewFanOutNonFatalOnOneAgentError(t *testing.T) {
	runner := stubRunner{
		results: map[string]agentrunner.Result{
			"reviewer": {Outcome: agentrunner.Pass},
		},
		errs: map[string]error{"security": errors.New("boom")},
	}

	outcomes, _ := ReviewFanOut(context.Background(), runner, []string{"reviewer", "security"}, "task", "")
	require.Len(t, outcomes, 2)
	var sawErr bool
	for _, o := range outcomes {
		if o.Agent == "security" {
			sawErr = o.Err != nil
		}
	}
	require.True(t, sawErr)
}
