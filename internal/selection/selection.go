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

// Package selection implements C14: scoring built-in workflows against an
// objective, and detecting which domain buckets an objective mentions.
package selection

import (
	"regexp"
	"strings"
)

// WorkflowCandidate is one scorable built-in workflow.
type WorkflowCandidate struct {
	Name     string
	Keywords []string
	Priority int
}

// Score computes §4.14's formula: 10 per keyword match, +20 if a keyword
// starts the objective, plus priority/10.
func Score(candidate WorkflowCandidate, objective string) float64 {
	lower := strings.ToLower(objective)
	words := strings.Fields(lower)
	firstWord := ""
	if len(words) > 0 {
		firstWord = words[0]
	}

	score := 0.0
	for _, kw := range candidate.Keywords {
		kw = strings.ToLower(kw)
		if strings.Contains(lower, kw) {
			score += 10
		}
		if firstWord == kw || strings.HasPrefix(lower, kw+" ") {
			score += 20
		}
	}
	score += float64(candidate.Priority) / 10.0
	return score
}

var issueRefRe = regexp.MustCompile(`(?i)(#\d+|issue\s+\d+|gh-\d+)`)

// Select scores every candidate against objective and returns the winning
// workflow name, applying the two special-case overrides: a short
// objective that would otherwise pick "feature" switches to "quick", and
// an objective naming an issue number forces "bugfix".
func Select(candidates []WorkflowCandidate, objective string) string {
	if issueRefRe.MatchString(objective) {
		return "bugfix"
	}

	best := ""
	bestScore := -1.0
	for _, c := range candidates {
		s := Score(c, objective)
		if s > bestScore {
			bestScore = s
			best = c.Name
		}
	}

	if best == "feature" && len(strings.Fields(objective)) < 5 {
		return "quick"
	}
	return best
}

// DomainBucket is a detected area of the codebase an objective implies.
// The engine turns each detected bucket into a has_<bucket> workflow
// condition; no file list is loaded into agent context for it.
type DomainBucket string

const (
	DomainAuth     DomainBucket = "auth"
	DomainAPI      DomainBucket = "api"
	DomainDatabase DomainBucket = "database"
	DomainUI       DomainBucket = "ui"
)

var domainKeywords = map[DomainBucket][]string{
	DomainAuth:     {"auth", "login", "signin", "signup", "session", "token", "oauth"},
	DomainAPI:      {"api", "endpoint", "route", "handler", "rest", "grpc"},
	DomainDatabase: {"database", "db", "migration", "schema", "query", "table"},
	DomainUI:       {"ui", "frontend", "button", "page", "component", "css", "form"},
}

// DetectDomains returns every domain bucket whose keywords appear in
// objective, in a stable order.
func DetectDomains(objective string) []DomainBucket {
	lower := strings.ToLower(objective)
	var found []DomainBucket
	for _, bucket := range []DomainBucket{DomainAuth, DomainAPI, DomainDatabase, DomainUI} {
		for _, kw := range domainKeywords[bucket] {
			if strings.Contains(lower, kw) {
				found = append(found, bucket)
				break
			}
		}
	}
	return found
}
