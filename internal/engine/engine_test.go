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

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiveengine/hive/internal/config"
	"github.com/hiveengine/hive/internal/subprocess"
	"github.com/hiveengine/hive/internal/workflow"
)

func passReport(status string) string {
	return "<!--HIVE_REPORT\n{\"status\":\"" + status + "\",\"confidence\":0.9,\"files_modified\":[\"main.go\"]}\nHIVE_REPORT-->"
}

func baseSettings() config.Config {
	return config.Config{
		Agents: map[string]config.AgentConfig{
			"architect":   {Command: "architect"},
			"implementer": {Command: "implementer"},
			"tester":      {Command: "tester"},
			"reviewer":    {Command: "reviewer"},
			"debugger":    {Command: "debugger"},
		},
		InputPricePerMillion:  3.0,
		OutputPricePerMillion: 15.0,
		BudgetUSD:             50.0,
	}
}

func TestNewRejectsEmptyHiveDir(t *testing.T) {
	_, err := New(Config{Settings: baseSettings()})
	require.Error(t, err)
}

func TestNewRejectsNoAgents(t *testing.T) {
	_, err := New(Config{HiveDir: t.TempDir()})
	require.Error(t, err)
}

func TestRunDrivesQuickWorkflowToCompletion(t *testing.T) {
	stub := subprocess.NewStubInvoker()
	stub.WithOutput("architect", passReport("complete"))
	stub.WithOutput("implementer", passReport("complete"))
	stub.WithOutput("tester", passReport("complete"))
	stub.WithOutput("reviewer", passReport("complete"))

	eng, err := New(Config{
		HiveDir:  t.TempDir(),
		Settings: baseSettings(),
		Invoker:  stub,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	result, err := eng.Run(context.Background(), "correct a typo in the readme")
	require.NoError(t, err)
	require.Equal(t, workflow.OutcomeComplete, result.Outcome)
}

func TestRunSelectsBugfixForIssueReference(t *testing.T) {
	stub := subprocess.NewStubInvoker()
	for _, agent := range []string{"architect", "implementer", "tester", "reviewer", "debugger"} {
		stub.WithOutput(agent, passReport("complete"))
	}

	eng, err := New(Config{
		HiveDir:  t.TempDir(),
		Settings: baseSettings(),
		Invoker:  stub,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	result, err := eng.Run(context.Background(), "fix issue #42: login crashes on submit")
	require.NoError(t, err)
	require.Equal(t, workflow.OutcomeComplete, result.Outcome)
	require.Contains(t, result.PhasesRun, "diagnose")
}

func TestRunParallelReviewRequiresFlag(t *testing.T) {
	settings := baseSettings()
	settings.Flags.ParallelReview = false

	eng, err := New(Config{
		HiveDir:  t.TempDir(),
		Settings: settings,
		Invoker:  subprocess.NewStubInvoker(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	_, _, err = eng.RunParallelReview(context.Background(), []string{"reviewer"}, "review it", "")
	require.Error(t, err)

	settings.Flags.ParallelReview = true
	stub := subprocess.NewStubInvoker()
	stub.WithOutput("reviewer", passReport("complete"))
	eng2, err := New(Config{
		HiveDir:  t.TempDir(),
		Settings: settings,
		Invoker:  stub,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng2.Close() })

	_, _, err = eng2.RunParallelReview(context.Background(), []string{"reviewer"}, "review it", "")
	require.NoError(t, err)
}
