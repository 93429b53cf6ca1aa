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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiveengine/hive/internal/hive"
)

func TestPromptResolverFallsBackToBuiltin(t *testing.T) {
	r := PromptResolver{}
	text, err := r.Resolve("implementer", "")
	require.NoError(t, err)
	require.Contains(t, text, "Implementer")
}

func TestPromptResolverUnknownAgent(t *testing.T) {
	r := PromptResolver{}
	_, err := r.Resolve("ghost-role", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, hive.ErrAgentNotFound))
}

func TestPromptResolverPrefersProjectOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "implementer.md"), []byte("custom implementer prompt"), 0o644))

	r := PromptResolver{ProjectAgentsDir: dir}
	text, err := r.Resolve("implementer", "")
	require.NoError(t, err)
	require.Equal(t, "custom implementer prompt", text)
}

func TestPromptResolverPrefersFrameworkSpecialization(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "implementer.md"), []byte("generic"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "implementer-react.md"), []byte("react specialized"), 0o644))

	r := PromptResolver{ProjectAgentsDir: dir}
	text, err := r.Resolve("implementer", "react")
	require.NoError(t, err)
	require.Equal(t, "react specialized", text)
}

func TestParseSelfEvalCompleteBlock(t *testing.T) {
	raw := `some narration

<!--HIVE_REPORT
{"status":"complete","confidence":0.95,"decisions":["chose gin"],"files_modified":["server.go"]}
HIVE_REPORT-->

trailing text`

	eval, ok := ParseSelfEval(raw)
	require.True(t, ok)
	require.Equal(t, "complete", eval.Status)
	require.InDelta(t, 0.95, eval.Confidence, 0.0001)
	require.Equal(t, []string{"chose gin"}, eval.Decisions)
	require.Equal(t, []string{"server.go"}, eval.FilesModified)
}

func TestParseSelfEvalMissingMarkers(t *testing.T) {
	_, ok := ParseSelfEval("no report block here")
	require.False(t, ok)
}

func TestParseSelfEvalUnrecognizedStatus(t *testing.T) {
	raw := `<!--HIVE_REPORT
{"status":"unknown","confidence":0.5}
HIVE_REPORT-->`
	_, ok := ParseSelfEval(raw)
	require.False(t, ok)
}

func TestParseSelfEvalInvalidJSON(t *testing.T) {
	raw := `<!--HIVE_REPORT
not json
HIVE_REPORT-->`
	_, ok := ParseSelfEval(raw)
	require.False(t, ok)
}

func TestFilesModifiedHeuristic(t *testing.T) {
	raw := "Writing internal/foo.go\nsome other line\nModified internal/bar.go\nWrote README.md\n"
	files := FilesModifiedHeuristic(raw)
	require.Equal(t, []string{"internal/foo.go", "internal/bar.go", "README.md"}, files)
	require.Equal(t, 3, CountFilesModifiedHeuristic(raw))
}

func TestContextKindsForKnownRoles(t *testing.T) {
	require.Equal(t, []ContextKind{ContextMemory, ContextIndex, ContextProjectGuidelines, ContextUserFiles}, ContextKindsFor("architect"))
	require.Equal(t, []ContextKind{ContextDiff, ContextTestCommand, ContextOwnMemory}, ContextKindsFor("tester"))
}

func TestContextKindsForUnknownRoleFallsBackToDefault(t *testing.T) {
	require.Equal(t, defaultRoleContext, ContextKindsFor("some-custom-agent"))
}
