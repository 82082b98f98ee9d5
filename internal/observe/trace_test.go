package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestEndSpan(t *testing.T) {
	t.Parallel()
	tp, exp := newTestTracerProvider(t)

	_, ok := tp.Tracer("test").Start(context.Background(), "backend.start")
	EndSpan(ok, nil)
	_, failed := tp.Tracer("test").Start(context.Background(), "backend.process-audio")
	EndSpan(failed, errors.New("backend: process-audio: 502"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("ok span status = %v, want unset", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || !strings.Contains(spans[1].Status.Description, "502") {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) == 0 || spans[1].Events[0].Name != "exception" {
		t.Errorf("failed span has no recorded error: %+v", spans[1].Events)
	}
}

func TestWithTrace(t *testing.T) {
	t.Parallel()
	tp, _ := newTestTracerProvider(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With("component", "uihub")

	WithTrace(context.Background(), base).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id without a span: %s", buf.String())
	}
	buf.Reset()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	WithTrace(ctx, base).Info("with span")
	out := buf.String()
	for _, want := range []string{"component=uihub", "trace_id=" + span.SpanContext().TraceID().String(), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output misses %q: %s", want, out)
		}
	}
}

func TestLogger_UsesDefault(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("default logger not used: %s", buf.String())
	}
}
