package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Disabled path

func TestInit_Disabled_ShutdownIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestInit_Disabled_SetsSDKProvider(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	// disabled tracing still yields valid ids for log correlation
	_, span := Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("span context should be valid with the sdk provider")
	}
}

func TestInit_Propagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	fields := otel.GetTextMapPropagator().Fields()
	want := map[string]bool{"traceparent": false, "baggage": false}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("propagator missing %q (fields %v)", f, fields)
		}
	}
}

// Enabled path

func TestInit_Enabled_ExportsToExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Sample:    1.0,
		Component: "test",
		Version:   "v0.0.0-test",
		Exporter:  exp,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := Tracer("directory").Start(context.Background(), "directory.get")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "directory.get" {
		t.Fatalf("span name = %q", spans[0].Name)
	}
	if got := spans[0].InstrumentationScope.Name; got != "toolsdir-web/directory" {
		t.Fatalf("scope = %q", got)
	}
}

func TestInit_Enabled_SampleZeroDropsRoots(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := Init(context.Background(), Options{Enabled: true, Sample: 0, Exporter: exp})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := Tracer("test").Start(context.Background(), "dropped")
	span.End()
	if n := len(exp.GetSpans()); n != 0 {
		t.Fatalf("exported %d spans, want 0", n)
	}
}

func TestInit_Enabled_OTLPReturnsPromptly(t *testing.T) {
	// gRPC defers connection establishment, so an unreachable collector
	// must not block startup past the dial timeout.
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:  true,
		Endpoint: "localhost:1",
		Insecure: true,
		Sample:   1.0,
		Version:  "v0.0.0-test",
	})
	if elapsed := time.Since(start); elapsed > dialTimeout+2*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
