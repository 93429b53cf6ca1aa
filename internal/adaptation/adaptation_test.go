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

package adaptation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func manyFiles(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = "file.go"
	}
	return files
}

func TestEvaluateInjectsExtraReviewOnce(t *testing.T) {
	report := PostAgentReport{Agent: "implementer", Status: "complete", FilesModified: manyFiles(11)}

	result := Evaluate(State{}, report, 0, 0)
	require.Len(t, result.Injections, 1)
	require.Equal(t, "extra_review", result.Injections[0].Phase.Name)
	require.True(t, result.State.ExtraReviewInjected)

	result2 := Evaluate(result.State, report, 0, 0)
	require.Empty(t, result2.Injections)
}

func TestEvaluateEscalatesOnTesterFailureStreak(t *testing.T) {
	state := State{}
	report := PostAgentReport{Agent: "tester", Status: "blocked"}

	r1 := Evaluate(state, report, 0, 0)
	require.False(t, r1.Escalate)
	require.Equal(t, 1, r1.State.TestFailureCount)

	r2 := Evaluate(r1.State, report, 0, 0)
	require.False(t, r2.Escalate)

	r3 := Evaluate(r2.State, report, 0, 3)
	require.True(t, r3.Escalate)
	require.Equal(t, 3, r3.State.TestFailureCount)
}

func TestEvaluateIgnoresNonTesterFailures(t *testing.T) {
	report := PostAgentReport{Agent: "implementer", Status: "blocked"}
	result := Evaluate(State{}, report, 0, 0)
	require.Equal(t, 0, result.State.TestFailureCount)
	require.False(t, result.Escalate)
}

func TestEvaluateInjectsSecurityReviewOnSevereFindings(t *testing.T) {
	report := PostAgentReport{
		Agent:  "reviewer",
		Status: "complete",
		IssuesFound: []Finding{
			{Severity: "low"},
			{Severity: "high"},
		},
	}

	result := Evaluate(State{}, report, 0, 0)
	require.Len(t, result.Injections, 1)
	require.Equal(t, "security_review", result.Injections[0].Phase.Name)
	require.True(t, result.State.SecurityReviewInjected)

	result2 := Evaluate(result.State, report, 0, 0)
	require.Empty(t, result2.Injections)
}

func TestEvaluateSkipsSecurityReviewWhenAgentIsSecurity(t *testing.T) {
	report := PostAgentReport{
		Agent:       "security",
		Status:      "complete",
		IssuesFound: []Finding{{Severity: "critical"}},
	}
	result := Evaluate(State{}, report, 0, 0)
	require.Empty(t, result.Injections)
}

func TestEvaluateBothRulesFireTogether(t *testing.T) {
	report := PostAgentReport{
		Agent:         "implementer",
		Status:        "complete",
		FilesModified: manyFiles(12),
		IssuesFound:   []Finding{{Severity: "critical"}},
	}
	result := Evaluate(State{}, report, 0, 0)
	require.Len(t, result.Injections, 2)
}
