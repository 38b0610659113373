package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupTracing_None_KeepsGlobalProvider(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := SetupTracing("none", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("SetupTracing returned error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Error("none exporter should not replace the global provider")
	}
}

func TestSetupTracing_Stdout_WritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := SetupTracing("stdout", &buf)
	if err != nil {
		t.Fatalf("SetupTracing returned error: %v", err)
	}

	_, span := otel.Tracer("certman-test").Start(context.Background(), "registry.AddDomain")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "registry.AddDomain") {
		t.Errorf("exported spans should contain the span name, got %q", out)
	}
	if !strings.Contains(out, ServiceName) {
		t.Errorf("exported spans should carry service.name, got %q", out)
	}
}

func TestSetupTracing_UnknownExporter(t *testing.T) {
	if _, err := SetupTracing("zipkin", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestNewTracerProvider_RecordsWithSpanProcessor(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	var tracer trace.Tracer = tp.Tracer("certman-test")
	_, span := tracer.Start(context.Background(), "scan")
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 || ended[0].Name() != "scan" {
		t.Fatalf("ended spans = %v", ended)
	}
	if v, ok := ended[0].Resource().Set().Value("service.name"); !ok || v.AsString() != ServiceName {
		t.Errorf("service.name = %v, want %s", v, ServiceName)
	}
}
