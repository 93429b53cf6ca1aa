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

package hive

// RunContext is the per-run value threaded through every component call,
// replacing the shell-sourced environment and global state of a bash
// implementation with explicit context passing (see SPEC_FULL.md §5).
// It is assembled once at run start and never mutated in place; components
// that need to change a field (feature flags mid-run, for instance) return a
// new RunContext via With*.
type RunContext struct {
	RunID     string
	EpicID    string
	TraceID   string
	Layout    Layout
	Flags     FeatureFlags
	CostModel CostModel
}

// FeatureFlags are read once from the environment/config at construction and
// snapshotted; nothing in internal/ re-reads os.Getenv after run start.
type FeatureFlags struct {
	AutoMode          bool
	ParallelReview     bool
	FastMode          bool
	CostAware         bool
	AdaptEnabled      bool
	TestingRequired   bool
	ParallelWorktrees bool
}

// CostModel carries the configured token prices and budget for C11.
type CostModel struct {
	InputPricePerMillion  float64
	OutputPricePerMillion float64
	BudgetUSD             float64
	ConfidenceThreshold   float64
	MaxChallenges         int
	ChallengeRetryAttempts int
	MaxParallel           int
	SkipMinSamples        int
	SkipSuccessThreshold  float64
	AdaptManyFiles        int
	AdaptMaxFailures      int
}

// WithFlags returns a copy of rc with Flags replaced.
func (rc RunContext) WithFlags(f FeatureFlags) RunContext {
	rc.Flags = f
	return rc
}
