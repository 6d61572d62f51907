package tracer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"deltastream/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupExporters(t *testing.T) {
	for _, exp := range []string{"noop", "", "stdout"} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp})
		if err != nil {
			t.Fatalf("Setup(%q): %v", exp, err)
		}
		shutdown(context.Background())
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "otlp"})
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestStartSpanRecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, ok := StartSpan(context.Background(), "llm.stream")
	SetOK(ok)
	ok.End()

	_, failed := StartSpan(context.Background(), "llm.connection_test")
	RecordError(failed, errors.New("HTTP 401: bad key"))
	failed.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "llm.stream" {
		t.Errorf("name = %q", spans[0].Name())
	}
	if got := spans[1].Status().Description; got != "HTTP 401: bad key" {
		t.Errorf("status description = %q", got)
	}
	if len(spans[1].Events()) != 1 {
		t.Errorf("expected one recorded error event, got %d", len(spans[1].Events()))
	}
}

func TestAttrHelpers(t *testing.T) {
	if s := StringAttr(AttrProvider, "openai"); string(s.Key) != AttrProvider || s.Value.AsString() != "openai" {
		t.Errorf("StringAttr = %v", s)
	}
	if i := IntAttr(AttrDeltas, 42); i.Value.AsInt64() != 42 {
		t.Errorf("IntAttr = %v", i)
	}
}
