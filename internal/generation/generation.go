// Package generation bounds and protects text-generation backends.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"lawbot/internal/domain"
	"lawbot/internal/logger"
	"lawbot/internal/prompt"
	"lawbot/internal/telemetry"
)

// DeclineText is the reply used when the context cannot support an answer.
const DeclineText = "I cannot confidently answer this question from the available legal documents."

var declinePhrases = []string{
	"cannot confidently answer",
	"cannot answer",
	"can't answer",
	"do not have enough information",
	"does not provide enough information",
	"not enough information",
}

// IsDecline reports whether an answer says the model could not answer.
func IsDecline(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range declinePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Clamp cuts text to at most maxTokens estimated tokens, preferring to end
// at a word boundary.
func Clamp(text string, maxTokens int) string {
	text = strings.TrimSpace(text)
	if maxTokens <= 0 {
		return ""
	}
	if prompt.EstimateTokens(text) <= maxTokens {
		return text
	}
	runes := []rune(text)[:maxTokens*4]
	cut := len(runes)
	for i := len(runes) - 1; i > len(runes)/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut]))
}

type GuardOptions struct {
	// RatePerMinute limits calls to the backend; zero disables the limiter.
	RatePerMinute int
	Timeout       time.Duration
	Metrics       *telemetry.Metrics
	// Breaker overrides the circuit breaker settings when Name is set.
	Breaker gobreaker.Settings
}

// Guard wraps a generator with a rate limiter, a circuit breaker, a
// timeout and a hard output cap. Every failure is a *domain.GenerationError.
type Guard struct {
	inner   domain.Generator
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	metrics *telemetry.Metrics
}

func NewGuard(inner domain.Generator, opts GuardOptions) *Guard {
	g := &Guard{inner: inner, timeout: opts.Timeout, metrics: opts.Metrics}
	if opts.RatePerMinute > 0 {
		burst := max(1, opts.RatePerMinute/10)
		g.limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), burst)
	}

	st := opts.Breaker
	if st.Name == "" {
		st = gobreaker.Settings{
			Name:        "generation",
			MaxRequests: 5,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		g.metrics.RecordCircuitBreakerState(name, to.String())
	}
	g.breaker = gobreaker.NewCircuitBreaker(st)
	return g
}

func (g *Guard) ModelID() string { return g.inner.ModelID() }

// Generate never returns more than maxNewTokens estimated tokens.
func (g *Guard) Generate(ctx context.Context, p string, maxNewTokens int) (text string, err error) {
	ctx, span := otel.Tracer("lawbot/generation").Start(ctx, "generation.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("generation.model", g.inner.ModelID()),
		attribute.Int("generation.prompt_tokens", prompt.EstimateTokens(p)),
		attribute.Int("generation.max_new_tokens", maxNewTokens),
	)

	defer func() {
		if err != nil {
			span.SetAttributes(attribute.Bool("generation.error", true))
			g.metrics.RecordGenerationFailure(ctx, g.inner.ModelID())
			err = &domain.GenerationError{Model: g.inner.ModelID(), Err: err}
		}
	}()

	if maxNewTokens <= 0 {
		return "", fmt.Errorf("max new tokens must be positive, got %d", maxNewTokens)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	result, err := g.breaker.Execute(func() (out interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("generator panicked: %v", r)
			}
		}()
		return g.inner.Generate(ctx, p, maxNewTokens)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("generation.circuit_breaker_open", true))
		}
		return "", err
	}
	out := Clamp(result.(string), maxNewTokens)
	span.SetAttributes(attribute.Int("generation.output_tokens", prompt.EstimateTokens(out)))
	return out, nil
}
