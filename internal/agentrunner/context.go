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

package agentrunner

// ContextKind names one piece of curated context a role may include.
type ContextKind string

const (
	ContextMemory           ContextKind = "memory"
	ContextIndex            ContextKind = "index"
	ContextProjectGuidelines ContextKind = "project_guidelines"
	ContextUserFiles        ContextKind = "user_context_files"
	ContextOwnMemory        ContextKind = "own_memory"
	ContextDiff             ContextKind = "diff"
	ContextTestCommand      ContextKind = "test_command"
	ContextObjective        ContextKind = "objective"
)

// roleContext is the fixed table from §4.5: each agent class gets a
// different subset of curated context.
var roleContext = map[string][]ContextKind{
	"architect":         {ContextMemory, ContextIndex, ContextProjectGuidelines, ContextUserFiles},
	"implementer":       {ContextOwnMemory, ContextIndex, ContextMemory, ContextUserFiles},
	"tester":            {ContextDiff, ContextTestCommand, ContextOwnMemory},
	"e2e-tester":        {ContextDiff, ContextTestCommand, ContextOwnMemory},
	"component-tester":  {ContextDiff, ContextTestCommand, ContextOwnMemory},
	"reviewer":          {ContextObjective, ContextDiff, ContextOwnMemory},
	"security":          {ContextObjective, ContextDiff, ContextOwnMemory},
	"documenter":        {ContextProjectGuidelines, ContextIndex},
	"debugger":          {ContextMemory, ContextIndex, ContextOwnMemory},
}

// defaultRoleContext covers any agent class ("other") not named above.
var defaultRoleContext = []ContextKind{ContextMemory, ContextIndex, ContextProjectGuidelines}

// ContextKindsFor returns the curated context subset for agent.
func ContextKindsFor(agent string) []ContextKind {
	if kinds, ok := roleContext[agent]; ok {
		return kinds
	}
	return defaultRoleContext
}
