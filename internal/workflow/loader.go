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
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hiveengine/hive/internal/hive"
	"github.com/hiveengine/hive/internal/scratchpad"
)

//go:embed builtin/*.json
var builtinWorkflows embed.FS

// MaxCompositionDepth is §3 Invariant 5's nesting cap.
const MaxCompositionDepth = 5

// Loader resolves a workflow by name: a project override under
// ProjectDir shadows a built-in of the same name.
type Loader struct {
	ProjectDir string // e.g. .hive/workflows
}

// Load returns the named workflow, preferring a project override.
func (l Loader) Load(name string) (Workflow, error) {
	if l.ProjectDir != "" {
		data, err := os.ReadFile(filepath.Join(l.ProjectDir, name+".json"))
		if err == nil {
			return unmarshalWorkflow(data)
		}
	}

	data, err := builtinWorkflows.ReadFile("builtin/" + name + ".json")
	if err != nil {
		return Workflow{}, fmt.Errorf("%w: unknown workflow %q", hive.ErrCompositionError, name)
	}
	return unmarshalWorkflow(data)
}

func unmarshalWorkflow(data []byte) (Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return Workflow{}, fmt.Errorf("workflow: parse: %w", err)
	}
	return w, nil
}

// ResolveComposition walks w's phases, expanding any "workflow"-typed phase
// into its sub-workflow's phases inline, enforcing §3 Invariant 5: depth
// ≤ MaxCompositionDepth and no workflow invoking itself transitively.
func (l Loader) ResolveComposition(w Workflow) (Workflow, error) {
	visited := map[string]bool{w.Name: true}
	phases, err := l.expand(w.Phases, visited, 1)
	if err != nil {
		return Workflow{}, err
	}
	w.Phases = phases
	return w, nil
}

func (l Loader) expand(phases []scratchpad.Phase, visited map[string]bool, depth int) ([]scratchpad.Phase, error) {
	if depth > MaxCompositionDepth {
		return nil, fmt.Errorf("%w: composition depth exceeds %d", hive.ErrCompositionError, MaxCompositionDepth)
	}

	var out []scratchpad.Phase
	for _, p := range phases {
		if p.Type != typeWorkflow {
			out = append(out, p)
			continue
		}
		if visited[p.Agent] {
			return nil, fmt.Errorf("%w: workflow %q invokes itself transitively", hive.ErrCompositionError, p.Agent)
		}
		sub, err := l.Load(p.Agent)
		if err != nil {
			return nil, err
		}
		childVisited := map[string]bool{}
		for k := range visited {
			childVisited[k] = true
		}
		childVisited[p.Agent] = true
		expanded, err := l.expand(sub.Phases, childVisited, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}
