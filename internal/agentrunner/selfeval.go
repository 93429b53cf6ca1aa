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
	"encoding/json"
	"regexp"
	"strings"
)

const (
	reportStartMarker = "<!--HIVE_REPORT"
	reportEndMarker   = "HIVE_REPORT-->"
)

// Issue is one entry in a self-eval's issues_found list.
type Issue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ChallengeFields is populated when Status == "challenge".
type ChallengeFields struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
	Evidence   string `json:"evidence"`
}

// SelfEval is the parsed HIVE_REPORT block.
type SelfEval struct {
	Status        string          `json:"status"` // "complete", "partial", "blocked", "challenge"
	Confidence    float64         `json:"confidence"`
	Decisions     []string        `json:"decisions"`
	FilesModified []string        `json:"files_modified"`
	BlockerText   string          `json:"blocker"`
	IssuesFound   []Issue         `json:"issues_found"`
	Challenge     ChallengeFields `json:"challenge"`
}

var fileVerbLineRe = regexp.MustCompile(`(?m)^(Writing|Created|Modified|Wrote)\s+(.+)$`)

// ParseSelfEval extracts the block between the HIVE_REPORT markers and
// parses it as JSON. It returns ok=false if the markers are absent or the
// content isn't JSON-parseable with a recognized status — callers then
// fall back to contract post-validation, per §4.5 step 1.
func ParseSelfEval(rawOutput string) (SelfEval, bool) {
	start := strings.Index(rawOutput, reportStartMarker)
	if start < 0 {
		return SelfEval{}, false
	}
	start += len(reportStartMarker)
	end := strings.Index(rawOutput[start:], reportEndMarker)
	if end < 0 {
		return SelfEval{}, false
	}
	block := strings.TrimSpace(rawOutput[start : start+end])

	var eval SelfEval
	if err := json.Unmarshal([]byte(block), &eval); err != nil {
		return SelfEval{}, false
	}
	switch eval.Status {
	case "complete", "partial", "blocked", "challenge":
	default:
		return SelfEval{}, false
	}
	return eval, true
}

// CountFilesModifiedHeuristic counts output lines beginning with a verb
// from {Writing, Created, Modified, Wrote}, per §4.5's execution step.
func CountFilesModifiedHeuristic(rawOutput string) int {
	return len(fileVerbLineRe.FindAllStringSubmatch(rawOutput, -1))
}

// FilesModifiedHeuristic returns the file paths claimed on matching lines.
func FilesModifiedHeuristic(rawOutput string) []string {
	matches := fileVerbLineRe.FindAllStringSubmatch(rawOutput, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[2]))
	}
	return out
}
