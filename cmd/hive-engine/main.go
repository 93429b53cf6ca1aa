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

// Command hive-engine is the minimal entrypoint wiring the layered config
// loader into the composition root and driving one run to completion. The
// CLI surface itself is explicitly out of scope (spec.md §1) — this binary
// takes its objective as a single positional argument and everything else
// from the environment/config files, rather than a flag-parsing library.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hiveengine/hive/internal/config"
	"github.com/hiveengine/hive/internal/engine"
	"github.com/hiveengine/hive/internal/hivelog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hive-engine:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: hive-engine <objective>")
	}
	objective := os.Args[1]

	hiveDir := os.Getenv("HIVE_DIR")
	if hiveDir == "" {
		hiveDir = ".hive"
	}

	logger := hivelog.New(os.Stderr, hivelog.ParseLevel(os.Getenv("HIVE_LOG_LEVEL")))

	loader := &config.Loader{
		GlobalPath:  os.Getenv("HIVE_GLOBAL_CONFIG"),
		ProjectPath: filepath.Join(hiveDir, "config.yaml"),
		LegacyPath:  ".hive-config.yaml",
		EnvPrefix:   "HIVE_",
	}
	settings, shape, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Debug("config loaded", "shape", string(shape), "agents", len(settings.Agents))

	eng, err := engine.New(engine.Config{
		HiveDir:  hiveDir,
		Settings: settings,
		Logger:   logger,
		RepoRoot: cwdOrEmpty(),
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			logger.Warn("close engine", "err", cerr)
		}
	}()

	result, err := eng.Run(context.Background(), objective)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("outcome: %s\n", result.Outcome)
	if result.Reason != "" {
		fmt.Printf("reason: %s\n", result.Reason)
	}
	if len(result.PhasesRun) > 0 {
		fmt.Printf("phases run: %v\n", result.PhasesRun)
	}
	if len(result.PhasesSkipped) > 0 {
		fmt.Printf("phases skipped: %v\n", result.PhasesSkipped)
	}

	switch result.Outcome {
	case "complete":
		return nil
	default:
		os.Exit(2)
		return nil
	}
}

func cwdOrEmpty() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return dir
}
