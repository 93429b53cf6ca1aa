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

package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Save writes cfg to path in the given shape — the same shape it was
// loaded from, so editing a legacy project file never silently upgrades it.
func Save(path string, cfg Config, shape Shape) error {
	var data []byte
	var err error

	switch shape {
	case ShapeLegacy:
		legacy := legacyShape{AgentCommands: map[string]string{}, AgentModels: map[string]string{}}
		for agent, ac := range cfg.Agents {
			cmdline := ac.Command
			for _, arg := range ac.Args {
				cmdline += " " + arg
			}
			legacy.AgentCommands[agent] = cmdline
			legacy.AgentModels[agent] = ac.Model
		}
		data, err = yaml.Marshal(legacy)
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
