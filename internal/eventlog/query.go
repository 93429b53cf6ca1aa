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

package eventlog

// Query offers offline filters over a slice of already-parsed Events, as
// spec.md §4.1 describes ("queries are offline filters over the file").

func ByRun(events []Event, runID string) []Event {
	return filter(events, func(e Event) bool { return e.RunID == runID })
}

func ByTrace(events []Event, traceID string) []Event {
	return filter(events, func(e Event) bool { return e.TraceID == traceID })
}

func BySpan(events []Event, spanID string) []Event {
	return filter(events, func(e Event) bool { return e.SpanID == spanID })
}

func ByType(events []Event, eventType string) []Event {
	return filter(events, func(e Event) bool { return e.Type == eventType })
}

func ByAgent(events []Event, agent string) []Event {
	return filter(events, func(e Event) bool {
		a, _ := e.Payload["agent"].(string)
		return a == agent
	})
}

func filter(events []Event, keep func(Event) bool) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
