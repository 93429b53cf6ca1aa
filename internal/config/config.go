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

// Package config implements C15: per-agent CLI/model resolution across a
// layered file hierarchy (defaults, global, project), loaded through
// koanf, mirroring the teacher's file/confmap provider stack but without
// the remote backends (consul/etcd/zookeeper) it also supports — Hive's
// configuration lives on disk next to the project, never in a cluster KV
// store (see DESIGN.md).
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/hiveengine/hive/internal/adaptation"
	"github.com/hiveengine/hive/internal/agentrunner"
	"github.com/hiveengine/hive/internal/challenge"
	"github.com/hiveengine/hive/internal/cost"
	"github.com/hiveengine/hive/internal/memory"
	"github.com/hiveengine/hive/internal/parallelrun"
)

// AgentConfig is one agent's resolved CLI and model.
type AgentConfig struct {
	Command string   `koanf:"command" yaml:"command"`
	Args    []string `koanf:"args" yaml:"args"`
	Model   string   `koanf:"model" yaml:"model"`
}

// FeatureFlags mirrors §4.15's exposed flags, with alias resolution applied
// at load time (worktree_parallel → parallel_worktrees, cost_aware →
// cost_tracking).
type FeatureFlags struct {
	TestingRequired   bool `koanf:"testing_required" yaml:"testing_required"`
	ParallelWorktrees bool `koanf:"parallel_worktrees" yaml:"parallel_worktrees"`
	AutoMode          bool `koanf:"auto_mode" yaml:"auto_mode"`
	CostTracking      bool `koanf:"cost_tracking" yaml:"cost_tracking"`
	// FastMode enables the skip heuristic (HIVE_FAST_MODE).
	FastMode bool `koanf:"fast_mode" yaml:"fast_mode"`
	// ParallelReview enables concurrent review fan-out (HIVE_PARALLEL);
	// on by default.
	ParallelReview bool `koanf:"parallel_review" yaml:"parallel_review"`
	// AdaptEnabled turns on the post-phase adaptation engine (HIVE_ADAPT_ENABLED).
	AdaptEnabled bool `koanf:"adapt_enabled" yaml:"adapt_enabled"`
}

// Config is the fully resolved configuration for one run.
type Config struct {
	Agents                 map[string]AgentConfig `koanf:"agents" yaml:"agents"`
	Flags                  FeatureFlags           `koanf:"flags" yaml:"flags"`
	InputPricePerMillion   float64                `koanf:"input_price_per_million" yaml:"input_price_per_million"`
	OutputPricePerMillion  float64                `koanf:"output_price_per_million" yaml:"output_price_per_million"`
	BudgetUSD              float64                `koanf:"budget_usd" yaml:"budget_usd"`
	ConfidenceThreshold    float64                `koanf:"confidence_threshold" yaml:"confidence_threshold"`
	MaxChallenges          int                    `koanf:"max_challenges" yaml:"max_challenges"`
	ChallengeRetryAttempts int                    `koanf:"challenge_retry_attempts" yaml:"challenge_retry_attempts"`
	MaxParallel            int                    `koanf:"max_parallel" yaml:"max_parallel"`
	SkipMinSamples         int                    `koanf:"skip_min_samples" yaml:"skip_min_samples"`
	SkipSuccessThreshold   float64                `koanf:"skip_success_threshold" yaml:"skip_success_threshold"`
	AdaptManyFiles         int                    `koanf:"adapt_many_files" yaml:"adapt_many_files"`
	AdaptMaxFailures       int                    `koanf:"adapt_max_failures" yaml:"adapt_max_failures"`
	// ProjectGuidelinesFile and UserContextFiles feed the "project
	// guidelines file" and "user context files" prompt-context kinds
	// (§4.5); either may be left empty.
	ProjectGuidelinesFile string   `koanf:"project_guidelines_file" yaml:"project_guidelines_file"`
	UserContextFiles      []string `koanf:"user_context_files" yaml:"user_context_files"`
}

// Shape names the on-disk layout a config file was found in, since writers
// must produce back the shape they read.
type Shape string

const (
	ShapeSimple Shape = "simple" // {agents: {name: {command, args, model}}, flags: {...}}
	ShapeLegacy Shape = "legacy" // {agent_commands: {name: "cmd arg1 arg2"}, agent_models: {name: model}, ...}
)

// Defaults returns the built-in configuration applied before any file layer,
// pulling §4.15's numeric defaults straight from the packages that own them
// so there is exactly one place those constants live.
func Defaults() Config {
	return Config{
		Agents:                 map[string]AgentConfig{},
		InputPricePerMillion:   cost.DefaultInputPricePerMillion,
		OutputPricePerMillion:  cost.DefaultOutputPricePerMillion,
		Flags:                  FeatureFlags{ParallelReview: true},
		ConfidenceThreshold:    agentrunner.DefaultConfidenceThreshold,
		MaxChallenges:          challenge.DefaultMaxAttempts,
		ChallengeRetryAttempts: challenge.DefaultMaxAttempts,
		MaxParallel:            parallelrun.DefaultMaxParallel,
		SkipMinSamples:         memory.DefaultMinSamples,
		SkipSuccessThreshold:   memory.DefaultSuccessThreshold,
		AdaptManyFiles:         adaptation.DefaultManyFiles,
		AdaptMaxFailures:       adaptation.DefaultMaxFailures,
	}
}

// aliasMap resolves a legacy/alternate flag key to its canonical name.
var aliasMap = map[string]string{
	"worktree_parallel": "parallel_worktrees",
	"cost_aware":        "cost_tracking",
}

// Loader loads layered configuration: defaults < global file < project
// file < environment overrides, using koanf providers exactly as the
// teacher's Loader does for its file backend.
type Loader struct {
	GlobalPath  string // e.g. ~/.hive/config.yaml
	ProjectPath string // e.g. .hive/config.yaml (preferred shape)
	LegacyPath  string // e.g. .hive-config.yaml (legacy shape)
	EnvPrefix   string // e.g. "HIVE_"
}

// Load resolves the final Config and reports which shape the effective
// project-level file was in, so a later Save round-trips the same shape.
func (l *Loader) Load() (Config, Shape, error) {
	k := koanf.New(".")

	defaults := Defaults()
	if err := k.Load(confmap.Provider(structToMap(defaults), "."), nil); err != nil {
		return Config{}, "", fmt.Errorf("config: load defaults: %w", err)
	}

	shape := ShapeSimple
	for _, path := range []string{l.GlobalPath, l.LegacyPath, l.ProjectPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, "", fmt.Errorf("config: load %s: %w", path, err)
		}
		if path == l.LegacyPath {
			shape = ShapeLegacy
		}
	}

	resolveAliases(k)
	applyEnvOverrides(k, l.EnvPrefix)

	var cfg Config
	if err := unmarshalWeak(k, &cfg); err != nil {
		return Config{}, "", fmt.Errorf("config: unmarshal: %w", err)
	}

	if shape == ShapeLegacy {
		if err := unmarshalLegacyAgents(k, &cfg); err != nil {
			return Config{}, "", err
		}
	}

	return cfg, shape, nil
}

// Watch reloads the project config file whenever it changes on disk and
// invokes onChange with the freshly resolved Config, mirroring the
// teacher's Loader.Watch(ctx) shape: koanf's file provider reports the
// change (backed by fsnotify), this method re-runs Load and hands the
// caller the result. Blocks until ctx is cancelled or the watch fails to
// start (e.g. ProjectPath does not exist).
func (l *Loader) Watch(ctx context.Context, onChange func(Config, Shape, error)) error {
	if l.ProjectPath == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	provider := file.Provider(l.ProjectPath)
	done := make(chan error, 1)
	watchErr := provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			onChange(Config{}, "", fmt.Errorf("config: watch %s: %w", l.ProjectPath, err))
			return
		}
		cfg, shape, loadErr := l.Load()
		onChange(cfg, shape, loadErr)
	})
	if watchErr != nil {
		return fmt.Errorf("config: start watch on %s: %w", l.ProjectPath, watchErr)
	}

	go func() {
		<-ctx.Done()
		done <- ctx.Err()
	}()
	return <-done
}

func resolveAliases(k *koanf.Koanf) {
	for alias, canonical := range aliasMap {
		key := "flags." + alias
		if k.Exists(key) {
			_ = k.Set("flags."+canonical, k.Bool(key))
		}
	}
}

// envOverrideKeys lists every §4.15 environment override, mapping an env
// var suffix (after prefix) to its koanf key. Several spec-named variables
// (HIVE_COST_BUDGET, HIVE_COST_INPUT, HIVE_COST_OUTPUT, HIVE_COST_AWARE) are
// aliases of a canonical variable and so share its key.
var envOverrideKeys = map[string]string{
	"BUDGET_USD":               "budget_usd",
	"COST_BUDGET":              "budget_usd",
	"INPUT_PRICE_PER_MILLION":  "input_price_per_million",
	"COST_INPUT":               "input_price_per_million",
	"OUTPUT_PRICE_PER_MILLION": "output_price_per_million",
	"COST_OUTPUT":              "output_price_per_million",
	"AUTO_MODE":                "flags.auto_mode",
	"TESTING_REQUIRED":         "flags.testing_required",
	"COST_TRACKING":            "flags.cost_tracking",
	"COST_AWARE":               "flags.cost_tracking",
	"PARALLEL_WORKTREES":       "flags.parallel_worktrees",
	"FAST_MODE":                "flags.fast_mode",
	"PARALLEL":                 "flags.parallel_review",
	"ADAPT_ENABLED":            "flags.adapt_enabled",
	"CONFIDENCE_THRESHOLD":     "confidence_threshold",
	"MAX_CHALLENGES":           "max_challenges",
	"CHALLENGE_RETRY_ATTEMPTS": "challenge_retry_attempts",
	"MAX_PARALLEL":             "max_parallel",
	"SKIP_MIN_SAMPLES":         "skip_min_samples",
	"SKIP_SUCCESS_THRESHOLD":   "skip_success_threshold",
	"ADAPT_MANY_FILES":         "adapt_many_files",
	"ADAPT_MAX_FAILURES":       "adapt_max_failures",
}

func applyEnvOverrides(k *koanf.Koanf, prefix string) {
	if prefix == "" {
		return
	}
	for suffix, key := range envOverrideKeys {
		if v, ok := os.LookupEnv(prefix + suffix); ok {
			_ = k.Set(key, v)
		}
	}
}

// legacyShape is the on-disk representation of a legacy config file.
type legacyShape struct {
	AgentCommands map[string]string `koanf:"agent_commands" yaml:"agent_commands"`
	AgentModels   map[string]string `koanf:"agent_models" yaml:"agent_models"`
}

// unmarshalWeak decodes k into out, coercing string env-override values
// (e.g. "99") into the destination's numeric/bool fields.
func unmarshalWeak(k *koanf.Koanf, out interface{}) error {
	return k.UnmarshalWithConf("", out, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           out,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	})
}

func unmarshalLegacyAgents(k *koanf.Koanf, cfg *Config) error {
	var legacy legacyShape
	if err := unmarshalWeak(k, &legacy); err != nil {
		return fmt.Errorf("config: unmarshal legacy shape: %w", err)
	}
	if cfg.Agents == nil {
		cfg.Agents = map[string]AgentConfig{}
	}
	for agent, cmdline := range legacy.AgentCommands {
		parts := splitCommandLine(cmdline)
		ac := cfg.Agents[agent]
		if len(parts) > 0 {
			ac.Command = parts[0]
			ac.Args = parts[1:]
		}
		cfg.Agents[agent] = ac
	}
	for agent, model := range legacy.AgentModels {
		ac := cfg.Agents[agent]
		ac.Model = model
		cfg.Agents[agent] = ac
	}
	return nil
}

func splitCommandLine(s string) []string {
	var parts []string
	var cur []rune
	for _, r := range s {
		if r == ' ' {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

// structToMap gives confmap.Provider a plain map view of defaults, since
// koanf's confmap provider wants map[string]interface{} rather than a struct.
func structToMap(cfg Config) map[string]interface{} {
	return map[string]interface{}{
		"input_price_per_million":  cfg.InputPricePerMillion,
		"output_price_per_million": cfg.OutputPricePerMillion,
		"budget_usd":               cfg.BudgetUSD,
		"confidence_threshold":     cfg.ConfidenceThreshold,
		"max_challenges":           cfg.MaxChallenges,
		"challenge_retry_attempts": cfg.ChallengeRetryAttempts,
		"max_parallel":             cfg.MaxParallel,
		"skip_min_samples":         cfg.SkipMinSamples,
		"skip_success_threshold":   cfg.SkipSuccessThreshold,
		"adapt_many_files":         cfg.AdaptManyFiles,
		"adapt_max_failures":       cfg.AdaptMaxFailures,
		"flags": map[string]interface{}{
			"parallel_review": cfg.Flags.ParallelReview,
		},
	}
}
