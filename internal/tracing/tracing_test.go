package tracing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSpanLifecycle(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(noop.NewTracerProvider().Tracer("test"), filepath.Join(dir, "spans.json"))

	stack := Init()
	require.Empty(t, stack.Current())

	id1, ctx, err := rec.SpanStart(context.Background(), stack, "phase:plan")
	require.NoError(t, err)
	require.NotNil(t, ctx)
	require.Equal(t, id1, stack.Current())

	id2, _, err := rec.SpanStart(context.Background(), stack, "agent:architect")
	require.NoError(t, err)
	require.Equal(t, id2, stack.Current())

	require.NoError(t, rec.SpanAddTag(id2, "agent", "architect"))
	require.NoError(t, rec.SpanRecordFile(id2, "design.md", "write"))

	require.NoError(t, rec.SpanEnd(stack, id2, "ok"))
	require.Equal(t, id1, stack.Current())

	require.NoError(t, rec.SpanEnd(stack, id1, "ok"))
	require.Empty(t, stack.Current())

	spans := rec.Spans()
	require.Len(t, spans, 2)
	require.Equal(t, "phase:plan", spans[0].Op)
	require.Equal(t, id1, spans[1].ParentSpanID)
	require.Equal(t, "architect", spans[1].Tags["agent"])
	require.Equal(t, "design.md", spans[1].Files[0].Path)

	reloaded, err := Load(filepath.Join(dir, "spans.json"))
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
}

func TestSpanEndUnknownID(t *testing.T) {
	rec := NewRecorder(noop.NewTracerProvider().Tracer("test"), "")
	stack := Init()
	err := rec.SpanEnd(stack, "does-not-exist", "ok")
	require.ErrorIs(t, err, ErrSpanNotFound)
}

func TestInitProviderNoop(t *testing.T) {
	tp, err := InitProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)
}
