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

// Package handoff implements C13: the immutable message one agent leaves
// for the next, rendered into canonical markdown for prompt injection.
package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hiveengine/hive/internal/hive"
)

// Handoff is immutable once written; ReceivedAt is the one field a
// consumer sets on first read, via the Store, not in place.
type Handoff struct {
	ID         string         `json:"id"`
	From       string         `json:"from_agent"`
	To         string         `json:"to_agent"`
	Summary    string         `json:"summary"`
	Payload    map[string]any `json:"payload,omitempty"`
	EpicID     string         `json:"epic_id"`
	CreatedAt  time.Time      `json:"created_at"`
	ReceivedAt *time.Time     `json:"received_at,omitempty"`
}

// New builds a Handoff with a fresh id and CreatedAt timestamp.
func New(from, to, summary, epicID string, payload map[string]any) Handoff {
	return Handoff{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Summary:   summary,
		Payload:   payload,
		EpicID:    epicID,
		CreatedAt: time.Now().UTC(),
	}
}

// Render renders h into the canonical markdown form consumers inject into
// their prompt. The shape is opaque to the core beyond this formatting.
func (h Handoff) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Handoff from %s\n\n%s\n", h.From, h.Summary)
	if len(h.Payload) > 0 {
		b.WriteString("\n### Details\n\n")
		for k, v := range h.Payload {
			fmt.Fprintf(&b, "- **%s**: %v\n", k, v)
		}
	}
	return b.String()
}

// Store persists one handoff per file under dir (typically Layout.Handoffs()).
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes h, failing if a handoff with the same id already exists.
func (s *Store) Save(h Handoff) error {
	path := s.pathFor(h.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("handoff: %s already exists", h.ID)
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the handoff with the given id.
func (s *Store) Load(id string) (Handoff, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Handoff{}, fmt.Errorf("%w: %s", hive.ErrHandoffMissing, id)
		}
		return Handoff{}, err
	}
	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return Handoff{}, err
	}
	return h, nil
}

// MarkReceived records the first-read timestamp on the handoff, as a
// separate mutation from its (otherwise immutable) creation.
func (s *Store) MarkReceived(id string) (Handoff, error) {
	h, err := s.Load(id)
	if err != nil {
		return Handoff{}, err
	}
	if h.ReceivedAt != nil {
		return h, nil
	}
	now := time.Now().UTC()
	h.ReceivedAt = &now

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return Handoff{}, err
	}
	tmp := s.pathFor(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Handoff{}, err
	}
	if err := os.Rename(tmp, s.pathFor(id)); err != nil {
		return Handoff{}, err
	}
	return h, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// LatestFor returns the most recently created handoff from "from" to "to",
// for the workflow interpreter's handoff-injection step (§4.8 step 6),
// which only knows the agent pair, not a handoff id.
func (s *Store) LatestFor(from, to string) (Handoff, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Handoff{}, hive.ErrHandoffMissing
		}
		return Handoff{}, err
	}

	var latest Handoff
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		h, err := s.Load(name)
		if err != nil {
			continue
		}
		if h.From != from || h.To != to {
			continue
		}
		if !found || h.CreatedAt.After(latest.CreatedAt) {
			latest = h
			found = true
		}
	}
	if !found {
		return Handoff{}, hive.ErrHandoffMissing
	}
	return latest, nil
}
