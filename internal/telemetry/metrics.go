package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application instruments. A nil *Metrics records nothing.
type Metrics struct {
	Answers             metric.Int64Counter
	AnswerDuration      metric.Float64Histogram
	RetrievedFragments  metric.Int64Histogram
	CacheLookups        metric.Int64Counter
	GenerationFailures  metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	IngestedFragments   metric.Int64Counter
}

// InitMetrics registers instruments on the global meter provider.
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("lawbot")

	answers, err := meter.Int64Counter("lawbot.answers.total",
		metric.WithDescription("Answered questions by outcome"))
	if err != nil {
		return nil, err
	}
	answerDuration, err := meter.Float64Histogram("lawbot.answer.duration",
		metric.WithDescription("End-to-end answer latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	retrieved, err := meter.Int64Histogram("lawbot.retrieval.fragments",
		metric.WithDescription("Fragments returned per retrieval"))
	if err != nil {
		return nil, err
	}
	cacheLookups, err := meter.Int64Counter("lawbot.retrieval.cache.lookups",
		metric.WithDescription("Retrieval cache lookups by result"))
	if err != nil {
		return nil, err
	}
	genFailures, err := meter.Int64Counter("lawbot.generation.failures",
		metric.WithDescription("Failed generation calls"))
	if err != nil {
		return nil, err
	}
	breaker, err := meter.Int64Counter("lawbot.circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"))
	if err != nil {
		return nil, err
	}
	ingested, err := meter.Int64Counter("lawbot.ingest.fragments",
		metric.WithDescription("Fragments written by ingestion runs"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Answers:             answers,
		AnswerDuration:      answerDuration,
		RetrievedFragments:  retrieved,
		CacheLookups:        cacheLookups,
		GenerationFailures:  genFailures,
		CircuitBreakerState: breaker,
		IngestedFragments:   ingested,
	}, nil
}

// RecordAnswer records one answered question.
func (m *Metrics) RecordAnswer(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Answers.Add(ctx, 1, attrs)
	m.AnswerDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) RecordRetrieval(ctx context.Context, fragments int) {
	if m == nil {
		return
	}
	m.RetrievedFragments.Record(ctx, int64(fragments))
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func (m *Metrics) RecordGenerationFailure(ctx context.Context, model string) {
	if m == nil {
		return
	}
	m.GenerationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

func (m *Metrics) RecordCircuitBreakerState(name, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("state", state),
	))
}

func (m *Metrics) RecordIngest(ctx context.Context, fragments int, model string) {
	if m == nil {
		return
	}
	m.IngestedFragments.Add(ctx, int64(fragments), metric.WithAttributes(attribute.String("model", model)))
}
