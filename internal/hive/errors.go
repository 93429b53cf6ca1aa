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

import "errors"

// The taxonomy below is the set of named failure contracts spec.md §7
// defines. They are sentinel errors so callers can use errors.Is across
// package boundaries instead of matching on strings.
var (
	ErrAgentNotFound         = errors.New("hive: agent not found")
	ErrPromptInvocationFailed = errors.New("hive: prompt invocation failed")
	ErrSelfEvalParseError    = errors.New("hive: self-evaluation parse error")
	ErrValidationFailed      = errors.New("hive: validation failed")
	ErrContractMissing       = errors.New("hive: contract missing")
	ErrBlockedByAgent        = errors.New("hive: blocked by agent")
	ErrChallengeUnresolved   = errors.New("hive: challenge unresolved")
	ErrBudgetExceeded        = errors.New("hive: budget exceeded")
	ErrCompositionError      = errors.New("hive: workflow composition error")
	ErrCheckpointCorrupt     = errors.New("hive: checkpoint corrupt")
	ErrHandoffMissing        = errors.New("hive: handoff missing")
	ErrLogWriteError         = errors.New("hive: log write error")
)
