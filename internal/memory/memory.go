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

// Package memory implements C4: the one project-scoped JSON document that
// persists across runs — facts, conventions, per-agent cost and skip-safety
// statistics, pair performance, and challenge history.
package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultMinSamples is the default sample-count floor isSkipSafe requires.
	DefaultMinSamples = 10
	// DefaultSuccessThreshold is the default success-rate floor isSkipSafe requires.
	DefaultSuccessThreshold = 0.95
	// DefaultChallengeRateCeiling is the default challenge-rate ceiling isSkipSafe allows.
	DefaultChallengeRateCeiling = 0.05

	maxAgentHistory     = 50
	maxChallengeHistory = 100
	maxSkipPatterns     = 20
)

// Facts are the scalar project facts the Detector populates once.
type Facts struct {
	Name          string `json:"name,omitempty"`
	Language      string `json:"language,omitempty"`
	Framework     string `json:"framework,omitempty"`
	PackageManager string `json:"package_manager,omitempty"`
	BuildCommand  string `json:"build_command,omitempty"`
	TestCommand   string `json:"test_command,omitempty"`
	DeployTarget  string `json:"deploy_target,omitempty"`
}

// AgentHistoryEntry is one completed agent invocation, kept in a ring buffer.
type AgentHistoryEntry struct {
	RunID  string `json:"run_id"`
	Agent  string `json:"agent"`
	Phase  string `json:"phase"`
	Status string `json:"status"`
}

// AgentCost is the running cost average for one agent, per §4.4's formula.
type AgentCost struct {
	InputTokens  float64 `json:"input_tokens"`
	OutputTokens float64 `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Runs         int     `json:"runs"`
}

// Record folds one more (input, output, cost) observation into the running
// average: avg ← (avg*runs + x) / (runs+1); runs ← runs+1, independently for
// each of the three quantities.
func (c *AgentCost) Record(inputTokens, outputTokens, cost float64) {
	n := float64(c.Runs)
	c.InputTokens = (c.InputTokens*n + inputTokens) / (n + 1)
	c.OutputTokens = (c.OutputTokens*n + outputTokens) / (n + 1)
	c.Cost = (c.Cost*n + cost) / (n + 1)
	c.Runs++
}

// SkipPattern is one word-bag row's accumulated statistics.
type SkipPattern struct {
	Samples       int     `json:"samples"`
	Successes     int     `json:"successes"`
	Challenges    int     `json:"challenges"`
	SuccessRate   float64 `json:"success_rate"`
	ChallengeRate float64 `json:"challenge_rate"`
}

// record folds one outcome into p, recomputing the derived rates.
func (p *SkipPattern) record(succeeded, challenged bool) {
	p.Samples++
	if succeeded {
		p.Successes++
	}
	if challenged {
		p.Challenges++
	}
	p.SuccessRate = float64(p.Successes) / float64(p.Samples)
	p.ChallengeRate = float64(p.Challenges) / float64(p.Samples)
}

// PairStats is the challenge-rate bookkeeping for one (from, to) agent pair.
type PairStats struct {
	Runs          int     `json:"runs"`
	Challenges    int     `json:"challenges"`
	Resolved      int     `json:"resolved"`
	Escalated     int     `json:"escalated"`
	ChallengeRate float64 `json:"challenge_rate"`
}

func (p *PairStats) recordRun() {
	p.Runs++
	p.recomputeRate()
}

func (p *PairStats) recordChallenge(outcome string) {
	p.Challenges++
	switch outcome {
	case "resolved":
		p.Resolved++
	case "escalated":
		p.Escalated++
	}
	p.recomputeRate()
}

func (p *PairStats) recomputeRate() {
	if p.Runs == 0 {
		p.ChallengeRate = 0
		return
	}
	p.ChallengeRate = float64(p.Challenges) / float64(p.Runs)
}

// AgentPattern is the aggregated confidence/status history for one agent.
type AgentPattern struct {
	AvgConfidence float64        `json:"avg_confidence"`
	Samples       int            `json:"samples"`
	StatusCounts  map[string]int `json:"status_counts,omitempty"`
}

func (a *AgentPattern) record(confidence float64, status string) {
	n := float64(a.Samples)
	a.AvgConfidence = (a.AvgConfidence*n + confidence) / (n + 1)
	a.Samples++
	if a.StatusCounts == nil {
		a.StatusCounts = map[string]int{}
	}
	a.StatusCounts[status]++
}

// ChallengeEntry is one recorded challenge transition, ring-bounded at 100.
type ChallengeEntry struct {
	RunID   string `json:"run_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Issue   string `json:"issue"`
	Outcome string `json:"outcome"` // "resolved", "escalated"
}

// Memory is the full persistent project document.
type Memory struct {
	SchemaVersion int                     `json:"schema_version"`
	Facts         Facts                   `json:"facts"`
	TechStack     []string                `json:"tech_stack"`
	Conventions   []string                `json:"conventions"`
	Gotchas       []string                `json:"gotchas"`
	FileMap       map[string]string       `json:"file_map,omitempty"`
	AgentHistory  []AgentHistoryEntry     `json:"agent_history"`
	AgentCosts    map[string]*AgentCost   `json:"agent_costs,omitempty"`
	SkipPatterns  map[string]map[string]*SkipPattern `json:"skip_patterns,omitempty"`
	PairPerformance map[string]*PairStats `json:"pair_performance,omitempty"`
	AgentPatterns map[string]*AgentPattern `json:"agent_patterns,omitempty"`
	ChallengeHistory []ChallengeEntry      `json:"challenge_history"`
}

// New returns an empty Memory document at the current schema version.
func New() *Memory {
	return &Memory{
		SchemaVersion:   1,
		FileMap:         map[string]string{},
		AgentCosts:      map[string]*AgentCost{},
		SkipPatterns:    map[string]map[string]*SkipPattern{},
		PairPerformance: map[string]*PairStats{},
		AgentPatterns:   map[string]*AgentPattern{},
	}
}

// AddTechStack, AddConventions, AddGotchas append deduplicated set members.
func (m *Memory) AddTechStack(values ...string)   { m.TechStack = dedupAppend(m.TechStack, values...) }
func (m *Memory) AddConventions(values ...string) { m.Conventions = dedupAppend(m.Conventions, values...) }
func (m *Memory) AddGotchas(values ...string)     { m.Gotchas = dedupAppend(m.Gotchas, values...) }

func dedupAppend(existing []string, additions ...string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(additions))
	for _, v := range existing {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, v := range additions {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// RecordAgentRun appends entry to the agent_history ring, trimming the
// oldest entries beyond maxAgentHistory.
func (m *Memory) RecordAgentRun(entry AgentHistoryEntry) {
	m.AgentHistory = append(m.AgentHistory, entry)
	if len(m.AgentHistory) > maxAgentHistory {
		m.AgentHistory = m.AgentHistory[len(m.AgentHistory)-maxAgentHistory:]
	}
}

// RecordCost folds a cost observation into the named agent's running average.
func (m *Memory) RecordCost(agent string, inputTokens, outputTokens, cost float64) {
	if m.AgentCosts == nil {
		m.AgentCosts = map[string]*AgentCost{}
	}
	c, ok := m.AgentCosts[agent]
	if !ok {
		c = &AgentCost{}
		m.AgentCosts[agent] = c
	}
	c.Record(inputTokens, outputTokens, cost)
}

// WordBag implements §4.4's pattern key: lowercase, keep alphabetic words of
// length ≥ 4, take the first 3 unique, join by space.
var wordRe = regexp.MustCompile(`[a-zA-Z]+`)

func WordBag(objective string) string {
	words := wordRe.FindAllString(strings.ToLower(objective), -1)
	seen := map[string]bool{}
	var bag []string
	for _, w := range words {
		if len(w) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		bag = append(bag, w)
		if len(bag) == 3 {
			break
		}
	}
	return strings.Join(bag, " ")
}

// RecordSkipOutcome folds one (agent, objective) outcome into the skip
// pattern table. When a new pattern would exceed maxSkipPatterns, the
// pattern with the fewest samples (the least-informative row) is evicted
// to make room; insertion order is not tracked.
func (m *Memory) RecordSkipOutcome(agent, objective string, succeeded, challenged bool) {
	if m.SkipPatterns == nil {
		m.SkipPatterns = map[string]map[string]*SkipPattern{}
	}
	agentPatterns, ok := m.SkipPatterns[agent]
	if !ok {
		agentPatterns = map[string]*SkipPattern{}
		m.SkipPatterns[agent] = agentPatterns
	}
	bag := WordBag(objective)
	pattern, ok := agentPatterns[bag]
	if !ok {
		if len(agentPatterns) >= maxSkipPatterns {
			evictLeastInformative(agentPatterns)
		}
		pattern = &SkipPattern{}
		agentPatterns[bag] = pattern
	}
	pattern.record(succeeded, challenged)
}

func evictLeastInformative(patterns map[string]*SkipPattern) {
	var worstKey string
	worstSamples := -1
	for k, p := range patterns {
		if worstSamples == -1 || p.Samples < worstSamples {
			worstSamples = p.Samples
			worstKey = k
		}
	}
	if worstKey != "" {
		delete(patterns, worstKey)
	}
}

// IsSkipSafe reports whether the given agent/objective has enough history
// to safely skip, per §4.4: samples ≥ minSamples, success_rate ≥
// successThreshold, challenge_rate ≤ challengeRateCeiling.
func (m *Memory) IsSkipSafe(agent, objective string, minSamples int, successThreshold, challengeRateCeiling float64) bool {
	agentPatterns, ok := m.SkipPatterns[agent]
	if !ok {
		return false
	}
	pattern, ok := agentPatterns[WordBag(objective)]
	if !ok {
		return false
	}
	return pattern.Samples >= minSamples &&
		pattern.SuccessRate >= successThreshold &&
		pattern.ChallengeRate <= challengeRateCeiling
}

// pairKey builds the map key for a (from, to) agent pair.
func pairKey(from, to string) string { return from + "->" + to }

// RecordPairRun notes that a handoff from "from" to "to" occurred.
func (m *Memory) RecordPairRun(from, to string) {
	if m.PairPerformance == nil {
		m.PairPerformance = map[string]*PairStats{}
	}
	key := pairKey(from, to)
	p, ok := m.PairPerformance[key]
	if !ok {
		p = &PairStats{}
		m.PairPerformance[key] = p
	}
	p.recordRun()
}

// RecordPairChallenge notes a challenge outcome ("resolved" or "escalated")
// for the (from, to) pair.
func (m *Memory) RecordPairChallenge(from, to, outcome string) {
	if m.PairPerformance == nil {
		m.PairPerformance = map[string]*PairStats{}
	}
	key := pairKey(from, to)
	p, ok := m.PairPerformance[key]
	if !ok {
		p = &PairStats{}
		m.PairPerformance[key] = p
	}
	p.recordChallenge(outcome)
}

// PairChallengeRate returns the (from, to) pair's challenge rate and the
// number of runs recorded for it (0, 0 for an unknown pair), for the
// interpreter's pair warning (§4.8 step 5).
func (m *Memory) PairChallengeRate(from, to string) (rate float64, samples int) {
	p, ok := m.PairPerformance[pairKey(from, to)]
	if !ok {
		return 0, 0
	}
	return p.ChallengeRate, p.Runs
}

// RecordAgentPattern folds a confidence/status observation into the named
// agent's aggregated pattern.
func (m *Memory) RecordAgentPattern(agent string, confidence float64, status string) {
	if m.AgentPatterns == nil {
		m.AgentPatterns = map[string]*AgentPattern{}
	}
	p, ok := m.AgentPatterns[agent]
	if !ok {
		p = &AgentPattern{}
		m.AgentPatterns[agent] = p
	}
	p.record(confidence, status)
}

// RecordChallenge appends entry to the challenge_history ring, trimming the
// oldest entries beyond maxChallengeHistory.
func (m *Memory) RecordChallenge(entry ChallengeEntry) {
	m.ChallengeHistory = append(m.ChallengeHistory, entry)
	if len(m.ChallengeHistory) > maxChallengeHistory {
		m.ChallengeHistory = m.ChallengeHistory[len(m.ChallengeHistory)-maxChallengeHistory:]
	}
}

// Store owns the on-disk document at path.
type Store struct {
	path string
}

// NewStore returns a Store rooted at path (typically Layout.Memory()).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the document, returning a fresh empty Memory if none exists yet.
func (s *Store) Load() (*Memory, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Mutate reads, applies fn, and writes the result back atomically.
func (s *Store) Mutate(fn func(m *Memory) error) (*Memory, error) {
	m, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if err := s.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) write(m *Memory) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
