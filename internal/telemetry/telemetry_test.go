package telemetry

import (
	"context"
	"testing"

	"lawbot/internal/config"
)

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), config.TelemetryConfig{ServiceName: "lawbot"})
	if err != nil {
		t.Fatal(err)
	}
	shutdown()
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordAnswer(ctx, "ok", 0.1)
	m.RecordRetrieval(ctx, 2)
	m.RecordCacheLookup(ctx, true)
	m.RecordGenerationFailure(ctx, "x")
	m.RecordCircuitBreakerState("gen", "open")
	m.RecordIngest(ctx, 3, "x")
}

func TestInitMetrics(t *testing.T) {
	m, err := InitMetrics()
	if err != nil {
		t.Fatal(err)
	}
	m.RecordAnswer(context.Background(), "declined", 0.5)
}
