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

// Package cost implements C11: token estimation, per-agent cost records,
// the run budget gate, and model-tier downgrade.
package cost

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
)

// DefaultInputPricePerMillion and DefaultOutputPricePerMillion are the
// default USD prices per million tokens.
const (
	DefaultInputPricePerMillion  = 3.0
	DefaultOutputPricePerMillion = 15.0
	// DowngradeThreshold is the fraction of budget spent at which the
	// selected model is mapped down one tier.
	DowngradeThreshold = 0.60
)

// EstimateTokens implements ceil(chars/4), the spec's token estimator.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4.0))
}

// Record is one agent's accumulated spend for a run.
type Record struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int     `json:"calls"`
}

// Compute returns the USD cost of inputTokens/outputTokens at the given
// per-million prices.
func Compute(inputTokens, outputTokens int, inputPricePerMillion, outputPricePerMillion float64) float64 {
	return float64(inputTokens)*inputPricePerMillion/1e6 + float64(outputTokens)*outputPricePerMillion/1e6
}

// Ledger accumulates per-agent Records for one run and persists them to a
// JSON file (typically Layout.RunCost(runID)).
type Ledger struct {
	path    string
	records map[string]*Record
}

// NewLedger returns an empty Ledger writing to path.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path, records: map[string]*Record{}}
}

// Load reads a previously persisted ledger, if any.
func Load(path string) (*Ledger, error) {
	l := NewLedger(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, err
	}
	return l, nil
}

// RecordCall folds one agent invocation's token usage into the ledger and
// persists the result.
func (l *Ledger) RecordCall(agent string, inputTokens, outputTokens int, inputPricePerMillion, outputPricePerMillion float64) (Record, error) {
	r, ok := l.records[agent]
	if !ok {
		r = &Record{}
		l.records[agent] = r
	}
	r.InputTokens += inputTokens
	r.OutputTokens += outputTokens
	r.CostUSD += Compute(inputTokens, outputTokens, inputPricePerMillion, outputPricePerMillion)
	r.Calls++
	return *r, l.persist()
}

// Spent returns the total USD spent across every agent so far.
func (l *Ledger) Spent() float64 {
	total := 0.0
	for _, r := range l.records {
		total += r.CostUSD
	}
	return total
}

// Record returns the agent's current record (zero value if never recorded).
func (l *Ledger) Record(agent string) Record {
	if r, ok := l.records[agent]; ok {
		return *r
	}
	return Record{}
}

func (l *Ledger) persist() error {
	if l.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

// FitsBudget reports whether running agent again, given its historical
// average cost estimate, would fit within the remaining run budget.
func FitsBudget(avgAgentCost, budgetUSD, spentUSD float64) bool {
	if budgetUSD <= 0 {
		return true // no budget configured, never gate
	}
	return avgAgentCost <= (budgetUSD - spentUSD)
}

// modelTiers is the downgrade ladder, most to least capable.
var modelTiers = []string{"opus", "sonnet", "haiku"}

// DowngradeModel maps model down one tier if spentUSD has crossed
// DowngradeThreshold of budgetUSD. Models not in the known ladder, or
// already at the bottom tier, are returned unchanged.
func DowngradeModel(model string, budgetUSD, spentUSD float64) string {
	if budgetUSD <= 0 || spentUSD < budgetUSD*DowngradeThreshold {
		return model
	}
	for i, tier := range modelTiers {
		if tier == model && i < len(modelTiers)-1 {
			return modelTiers[i+1]
		}
	}
	return model
}
