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

// Package checkpoint implements C12: durable per-phase resume points,
// following the teacher's Manager/Storage split — Manager decides when and
// whether to checkpoint, Storage is the dumb read/write layer.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hiveengine/hive/internal/hive"
)

// ResumeAction is the action computed on resume from the last recorded
// outcome.
type ResumeAction string

const (
	ActionContinuePhase ResumeAction = "continue_phase"
	ActionRetryAgent    ResumeAction = "retry_agent"
	ActionEscalate      ResumeAction = "escalate"
	ActionNone          ResumeAction = "none"
)

// State is the small record serialized after each phase.
type State struct {
	RunID        string    `json:"run_id"`
	EpicID       string    `json:"epic_id"`
	Objective    string    `json:"objective"`
	CurrentPhase string    `json:"current_phase"`
	CurrentAgent string    `json:"current_agent,omitempty"`
	ScratchpadRef string   `json:"scratchpad_ref"`
	LastOutcome  string    `json:"last_outcome"` // e.g. "pass", "blocked", "challenge", "failed"
	TS           time.Time `json:"ts"`
}

// Name returns the content-addressed checkpoint name: the phase name plus
// a short hash of the state, so repeated phase names across retries never
// collide.
func (s State) Name() string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s-%s", s.CurrentPhase, hex.EncodeToString(sum[:])[:12])
}

// Storage is the dumb read/write layer over a directory of checkpoint files.
type Storage struct {
	dir string
}

// NewStorage returns a Storage rooted at dir (typically Layout.Checkpoints()).
func NewStorage(dir string) *Storage {
	return &Storage{dir: dir}
}

// Save writes state under its content-addressed name.
func (s *Storage) Save(state State) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	name := state.Name()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return name, nil
}

// Load reads a checkpoint by its content-addressed name.
func (s *Storage) Load(name string) (State, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, fmt.Errorf("%w: %s", hive.ErrCheckpointCorrupt, name)
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("%w: %v", hive.ErrCheckpointCorrupt, err)
	}
	return state, nil
}

// Latest returns the most recently written checkpoint for runID, by
// modification time.
func (s *Storage) Latest(runID string) (State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, fmt.Errorf("%w: no checkpoints", hive.ErrCheckpointCorrupt)
		}
		return State{}, err
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := e.Name()
		if len(name) > 5 && name[len(name)-5:] == ".json" {
			name = name[:len(name)-5]
		}
		state, err := s.Load(name)
		if err != nil || state.RunID != runID {
			continue
		}
		candidates = append(candidates, candidate{name: name, modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return State{}, fmt.Errorf("%w: no checkpoints for run %s", hive.ErrCheckpointCorrupt, runID)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })
	return s.Load(candidates[0].name)
}

// Manager decides when and whether to checkpoint; Storage does the actual
// I/O.
type Manager struct {
	storage *Storage
	enabled bool
}

// NewManager returns a Manager backed by storage. Checkpointing can be
// disabled entirely (e.g. for a one-shot CLI run with no resume story).
func NewManager(storage *Storage, enabled bool) *Manager {
	return &Manager{storage: storage, enabled: enabled}
}

// Save persists state if checkpointing is enabled; it is a silent no-op
// otherwise.
func (m *Manager) Save(state State) (string, error) {
	if !m.enabled {
		return "", nil
	}
	return m.storage.Save(state)
}

// Resume reads the named checkpoint (or the latest for runID if name is
// empty) and computes the resume action from its last recorded outcome.
func (m *Manager) Resume(runID, name string) (State, ResumeAction, error) {
	var state State
	var err error
	if name != "" {
		state, err = m.storage.Load(name)
	} else {
		state, err = m.storage.Latest(runID)
	}
	if err != nil {
		return State{}, ActionNone, err
	}
	return state, resumeActionFor(state.LastOutcome), nil
}

func resumeActionFor(lastOutcome string) ResumeAction {
	switch lastOutcome {
	case "pass", "pass_low_confidence":
		return ActionContinuePhase
	case "partial", "blocked":
		return ActionRetryAgent
	case "challenge", "escalated", "failed":
		return ActionEscalate
	default:
		return ActionNone
	}
}
