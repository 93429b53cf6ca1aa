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

// Package eventlog implements C1: an append-only newline-delimited JSON
// stream of structured events, enriched with trace context.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hiveengine/hive/internal/hive"
)

// Event is one record in the log. Payload fields are merged into the
// top-level JSON object on write/read.
type Event struct {
	TS           time.Time      `json:"ts"`
	Type         string         `json:"event"`
	RunID        string         `json:"run_id"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id,omitempty"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	Payload      map[string]any `json:"-"`
}

// Logger appends Events to a JSONL file. A single *Logger is safe for
// concurrent use: writes are serialized behind a mutex, matching spec.md
// §4.1's "single writer process appends" contract extended to cooperating
// in-process goroutines (parallel workers share one Logger instance rather
// than opening independent file handles).
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if absent) the event log at path for appending.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hive.ErrLogWriteError, err)
	}
	return &Logger{file: f}, nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Span identifies the span/trace context enriching an event, read from the
// process context per spec.md §4.1.
type Span struct {
	RunID        string
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// Log writes one event. If payload cannot be marshaled it substitutes an
// empty object and still writes a minimally valid record, per spec.md §4.1.
func (l *Logger) Log(eventType string, span Span, durationMS *int64, payload map[string]any) error {
	if l == nil || l.file == nil {
		return fmt.Errorf("%w: logger not initialized", hive.ErrLogWriteError)
	}

	rec := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"event": eventType,
		"run_id": span.RunID,
	}
	if span.TraceID != "" {
		rec["trace_id"] = span.TraceID
	}
	if span.SpanID != "" {
		rec["span_id"] = span.SpanID
	}
	if span.ParentSpanID != "" {
		rec["parent_span_id"] = span.ParentSpanID
	}
	if durationMS != nil {
		rec["duration_ms"] = *durationMS
	}

	if _, err := json.Marshal(payload); err != nil {
		payload = map[string]any{}
	}
	for k, v := range payload {
		if _, reserved := rec[k]; reserved {
			continue
		}
		rec[k] = v
	}

	line, err := json.Marshal(rec)
	if err != nil {
		// Should be unreachable given the payload pre-check above, but never
		// write a torn record.
		line, _ = json.Marshal(map[string]any{"ts": rec["ts"], "event": eventType, "run_id": span.RunID})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: %v", hive.ErrLogWriteError, err)
	}
	return nil
}

// ReadAll parses every well-formed line in the log at path. A partial final
// line (a reader racing an in-progress writer) is skipped, not an error.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		events = append(events, fromRaw(raw))
	}
	return events, nil
}

func fromRaw(raw map[string]any) Event {
	ev := Event{Payload: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "ts":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					ev.TS = t
				}
			}
		case "event":
			ev.Type, _ = v.(string)
		case "run_id":
			ev.RunID, _ = v.(string)
		case "trace_id":
			ev.TraceID, _ = v.(string)
		case "span_id":
			ev.SpanID, _ = v.(string)
		case "parent_span_id":
			ev.ParentSpanID, _ = v.(string)
		case "duration_ms":
			if f, ok := v.(float64); ok {
				d := int64(f)
				ev.DurationMS = &d
			}
		default:
			ev.Payload[k] = v
		}
	}
	return ev
}
