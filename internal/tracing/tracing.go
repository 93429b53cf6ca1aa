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

// Package tracing implements C2: a per-run trace/span tree, persisted to
// disk and mirrored onto a real OpenTelemetry TracerProvider so spans show
// up in whatever backend the operator points at (otlp-grpc, stdout, or
// nothing at all).
package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrSpanNotFound is returned when a caller addresses a span_id the Recorder
// has never seen (or has already forgotten).
var ErrSpanNotFound = errors.New("tracing: span not found")

// Config selects how the process-wide TracerProvider exports spans.
type Config struct {
	Enabled      bool
	ExporterType string // "otlp-grpc", "stdout", or "" / "noop"
	EndpointURL  string
	SamplingRate float64
	ServiceName  string
}

// InitProvider builds the process TracerProvider per cfg. Unlike the
// teacher's InitGlobalTracer, this never calls otel.SetTracerProvider
// itself — the composition root decides whether this process's tracer is
// also the global default.
func InitProvider(ctx context.Context, cfg Config) (oteltrace.TracerProvider, error) {
	if !cfg.Enabled || cfg.ExporterType == "" || cfg.ExporterType == "noop" {
		return noop.NewTracerProvider(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.ExporterType {
	case "otlp-grpc":
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.EndpointURL),
			otlptracegrpc.WithInsecure(),
		)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("tracing: unknown exporter type %q", cfg.ExporterType)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "hive-engine"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

// FileRecord notes one file a span touched, for the handoff/audit trail.
type FileRecord struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

// Span is the Hive-level record persisted to disk. It mirrors the
// OpenTelemetry span it shadows but survives process restarts on its own.
type Span struct {
	ID           string            `json:"id"`
	TraceID      string            `json:"trace_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Op           string            `json:"op"`
	Status       string            `json:"status"` // "" while open; set by SpanEnd, e.g. "complete", "failed", "canceled"
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      time.Time         `json:"ended_at,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Files        []FileRecord      `json:"files,omitempty"`
}

// Stack is the per-run current-span stack. Callers thread a *Stack
// explicitly through their call graph (e.g. workflow.Interpreter holds one
// as its TraceStack field);
// nothing in this package keeps goroutine-local or global state.
type Stack struct {
	TraceID string
	active  []string
}

// NewStack starts a fresh stack for traceID (empty means "no parent yet").
func NewStack(traceID string) *Stack {
	return &Stack{TraceID: traceID}
}

// Current returns the innermost active span id, or "" if the stack is empty.
func (s *Stack) Current() string {
	if s == nil || len(s.active) == 0 {
		return ""
	}
	return s.active[len(s.active)-1]
}

func (s *Stack) push(id string) { s.active = append(s.active, id) }

func (s *Stack) pop(id string) {
	if s == nil || len(s.active) == 0 {
		return
	}
	if s.active[len(s.active)-1] == id {
		s.active = s.active[:len(s.active)-1]
		return
	}
	// Caller ended a span out of order (e.g. after a panic recovery);
	// drop it wherever it sits rather than corrupt the stack.
	for i, v := range s.active {
		if v == id {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return
		}
	}
}

// Recorder owns the spans for one run: it mirrors every span onto an
// OpenTelemetry tracer and persists the Hive-level record to path after
// every mutation, atomically.
type Recorder struct {
	mu        sync.Mutex
	tracer    oteltrace.Tracer
	path      string
	spans     map[string]*Span
	order     []string
	otelSpans map[string]oteltrace.Span
}

// NewRecorder returns a Recorder that mirrors spans onto tracer and
// persists its span tree to path (typically Layout.TraceSpans(runID)).
func NewRecorder(tracer oteltrace.Tracer, path string) *Recorder {
	if tracer == nil {
		tracer = otel.Tracer("hive-engine")
	}
	return &Recorder{
		tracer:    tracer,
		path:      path,
		spans:     map[string]*Span{},
		otelSpans: map[string]oteltrace.Span{},
	}
}

// Init mints a new trace id and returns a Stack rooted at it.
func Init() *Stack {
	return NewStack(uuid.NewString())
}

// SpanStart begins a span named op, nested under stack's current span, and
// pushes it onto stack. The returned context carries the mirrored
// OpenTelemetry span for callers that also want to use otel's own API
// (e.g. to pass it to an instrumented HTTP client).
func (r *Recorder) SpanStart(ctx context.Context, stack *Stack, op string) (string, context.Context, error) {
	if stack == nil {
		return "", ctx, errors.New("tracing: nil stack")
	}
	id := uuid.NewString()
	parent := stack.Current()

	otelCtx, otelSpan := r.tracer.Start(ctx, op)

	span := &Span{
		ID:           id,
		TraceID:      stack.TraceID,
		ParentSpanID: parent,
		Op:           op,
		StartedAt:    time.Now().UTC(),
	}

	r.mu.Lock()
	r.spans[id] = span
	r.order = append(r.order, id)
	r.otelSpans[id] = otelSpan
	err := r.persistLocked()
	r.mu.Unlock()

	stack.push(id)
	return id, otelCtx, err
}

// SpanEnd closes spanID with a terminal status (e.g. "complete", "failed",
// "canceled") and pops it from stack.
func (r *Recorder) SpanEnd(stack *Stack, spanID string, status string) error {
	r.mu.Lock()
	span, ok := r.spans[spanID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSpanNotFound, spanID)
	}
	span.Status = status
	span.EndedAt = time.Now().UTC()
	if otelSpan, ok := r.otelSpans[spanID]; ok {
		otelSpan.End()
		delete(r.otelSpans, spanID)
	}
	err := r.persistLocked()
	r.mu.Unlock()

	if stack != nil {
		stack.pop(spanID)
	}
	return err
}

// SpanAddTag attaches a key/value tag to spanID.
func (r *Recorder) SpanAddTag(spanID, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	span, ok := r.spans[spanID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSpanNotFound, spanID)
	}
	if span.Tags == nil {
		span.Tags = map[string]string{}
	}
	span.Tags[key] = value
	return r.persistLocked()
}

// SpanRecordFile notes that spanID touched path via action (e.g. "read",
// "write", "delete").
func (r *Recorder) SpanRecordFile(spanID, path, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	span, ok := r.spans[spanID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSpanNotFound, spanID)
	}
	span.Files = append(span.Files, FileRecord{Path: path, Action: action})
	return r.persistLocked()
}

// Spans returns a snapshot of every recorded span, in start order.
func (r *Recorder) Spans() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Span, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.spans[id])
	}
	return out
}

func (r *Recorder) persistLocked() error {
	if r.path == "" {
		return nil
	}
	out := make([]Span, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.spans[id])
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("tracing: marshal spans: %w", err)
	}
	return writeAtomic(r.path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads back a previously persisted span tree, e.g. to resume a run.
func Load(path string) ([]Span, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var spans []Span
	if err := json.Unmarshal(data, &spans); err != nil {
		return nil, fmt.Errorf("tracing: unmarshal spans: %w", err)
	}
	return spans, nil
}
