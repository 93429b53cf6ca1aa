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

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hiveengine/hive/internal/hive"
)

//go:embed builtin/*.md
var builtinPrompts embed.FS

// PromptResolver finds the system prompt template for an agent, walking
// the chain project-local specialized → project-local generic →
// global specialized → global generic → bundled generic.
type PromptResolver struct {
	ProjectAgentsDir string // e.g. .hive/agents
	GlobalAgentsDir  string // e.g. ~/.hive/agents
}

// Resolve returns the prompt template text for agent, optionally
// specialized by framework (empty string means unspecialized).
func (r PromptResolver) Resolve(agent, framework string) (string, error) {
	candidates := r.candidatePaths(agent, framework)
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
	}

	bundled := "builtin/" + agent + ".md"
	if data, err := builtinPrompts.ReadFile(bundled); err == nil {
		return string(data), nil
	}

	return "", fmt.Errorf("%w: %s", hive.ErrAgentNotFound, agent)
}

func (r PromptResolver) candidatePaths(agent, framework string) []string {
	var paths []string
	if r.ProjectAgentsDir != "" {
		if framework != "" {
			paths = append(paths, filepath.Join(r.ProjectAgentsDir, agent+"-"+framework+".md"))
		}
		paths = append(paths, filepath.Join(r.ProjectAgentsDir, agent+".md"))
	}
	if r.GlobalAgentsDir != "" {
		if framework != "" {
			paths = append(paths, filepath.Join(r.GlobalAgentsDir, agent+"-"+framework+".md"))
		}
		paths = append(paths, filepath.Join(r.GlobalAgentsDir, agent+".md"))
	}
	return paths
}
