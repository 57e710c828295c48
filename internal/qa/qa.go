// Package qa answers questions by composing retrieval, prompt assembly and
// generation.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"lawbot/internal/domain"
	"lawbot/internal/generation"
	"lawbot/internal/logger"
	"lawbot/internal/prompt"
	"lawbot/internal/telemetry"
)

const (
	DefaultTopK         = 2
	DefaultMaxNewTokens = 200
)

// Retriever finds the fragments nearest to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (domain.RetrievalResult, error)
}

// Assembler renders the prompt and reports which hits it used.
type Assembler interface {
	Assemble(question string, hits domain.RetrievalResult) (string, domain.RetrievalResult, error)
}

type Options struct {
	TopK          int
	MaxNewTokens  int
	ReturnSources bool
	Metrics       *telemetry.Metrics
}

// Service is the query entry point. It holds no per-request state.
type Service struct {
	retriever Retriever
	assembler Assembler
	generator domain.Generator
	opts      Options
}

var _ domain.QAService = (*Service)(nil)

func New(r Retriever, a Assembler, g domain.Generator, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxNewTokens <= 0 {
		opts.MaxNewTokens = DefaultMaxNewTokens
	}
	return &Service{retriever: r, assembler: a, generator: g, opts: opts}
}

// Answer runs one question through the pipeline. Failures come back as
// typed errors; use UserMessage to present them.
func (s *Service) Answer(ctx context.Context, question string) (ans domain.Answer, err error) {
	ctx, span := otel.Tracer("lawbot/qa").Start(ctx, "qa.answer")
	defer span.End()
	start := time.Now()
	defer func() {
		outcome := "answered"
		switch {
		case err != nil:
			outcome = Classify(err).Code
		case ans.Declined:
			outcome = "declined"
		}
		span.SetAttributes(attribute.String("qa.outcome", outcome))
		s.opts.Metrics.RecordAnswer(ctx, outcome, time.Since(start).Seconds())
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, domain.ErrEmptyQuestion
	}

	hits, err := s.retriever.Retrieve(ctx, question, s.opts.TopK)
	if err != nil {
		return domain.Answer{}, err
	}
	p, used, err := s.assembler.Assemble(question, hits)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(used) < len(hits) {
		logger.Debug("Prompt budget dropped fragments", "retrieved", len(hits), "used", len(used))
	}
	span.SetAttributes(attribute.Int("qa.fragments", len(used)))

	text, err := s.generator.Generate(ctx, p, s.opts.MaxNewTokens)
	if err != nil {
		if !domain.IsGeneration(err) {
			err = &domain.GenerationError{Model: s.generator.ModelID(), Err: err}
		}
		logger.Error("Generation failed", "model", s.generator.ModelID(), "error", err)
		return domain.Answer{}, err
	}

	ans = domain.Answer{
		Question: question,
		Text:     text,
		Model:    s.generator.ModelID(),
		Declined: len(used) == 0 || generation.IsDecline(text),
	}
	if s.opts.ReturnSources {
		ans.Sources = used
	}
	return ans, nil
}

// Failure is the caller-facing form of a query error.
type Failure struct {
	Code    string
	Message string
}

// Classify maps any query error to a stable code and a plain-language
// message without internal details.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return Failure{}
	case errors.Is(err, domain.ErrEmptyQuestion):
		return Failure{"empty_question", "Please enter a question."}
	case errors.Is(err, domain.ErrEmptyIndex):
		return Failure{"no_knowledge_base", "No knowledge base is available yet. Ingest documents and try again."}
	case domain.IsIndexIncompatible(err):
		return Failure{"index_incompatible", "The knowledge base could not be searched because it was built with a different embedding model."}
	case errors.Is(err, prompt.ErrPromptTooLarge):
		return Failure{"question_too_long", "The question is too long to answer. Please shorten it."}
	case domain.IsGeneration(err):
		return Failure{"generation_failed", "The assistant could not generate an answer. Please try again later."}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Failure{"timeout", "The request took too long. Please try again."}
	default:
		return Failure{"retrieval_failed", "The knowledge base could not be searched."}
	}
}

// UserMessage returns the plain-language message for err.
func UserMessage(err error) string { return Classify(err).Message }

// Describe formats an answer for terminals.
func Describe(a domain.Answer) string {
	var b strings.Builder
	b.WriteString(a.Text)
	for i, h := range a.Sources {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, h.Fragment.Source)
		if h.Fragment.Page > 0 {
			fmt.Fprintf(&b, " p.%d", h.Fragment.Page)
		}
		fmt.Fprintf(&b, " (distance %.3f)", h.Distance)
	}
	return b.String()
}
