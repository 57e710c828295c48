// Package prompt renders the generation prompt from a question and the
// retrieved fragments, keeping it within a token budget.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"lawbot/internal/domain"
)

// DefaultTemplate asks the model to answer from the context only and to say
// so when the context is not enough.
const DefaultTemplate = `[INST] <<SYS>>
You are an expert assistant specializing in Indian Law. Answer the question based on the given context.
If the context does not provide enough information, honestly state that you cannot confidently answer.
<</SYS>>

Context:
{{.Context}}

Question:
{{.Question}}

Helpful Answer: [/INST]`

// DefaultDelimiter separates fragments inside the context block.
const DefaultDelimiter = "\n\n---\n\n"

// ErrPromptTooLarge means the template and question alone exceed the budget.
var ErrPromptTooLarge = errors.New("prompt exceeds token budget even without context")

// Counter measures text in model tokens.
type Counter func(string) int

// EstimateTokens approximates one token per four characters.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

type Options struct {
	// Template uses {{.Context}} and {{.Question}}. Empty means DefaultTemplate.
	Template  string
	Delimiter string
	// Budget is the token limit for the rendered prompt; zero disables it.
	Budget  int
	Counter Counter
}

// Assembler is safe for concurrent use.
type Assembler struct {
	tmpl      *template.Template
	delimiter string
	budget    int
	count     Counter
}

type data struct {
	Context  string
	Question string
}

func New(opts Options) (*Assembler, error) {
	text := opts.Template
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	if !strings.Contains(text, ".Question") {
		return nil, errors.New("prompt template must reference {{.Question}}")
	}
	if opts.Budget < 0 {
		return nil, fmt.Errorf("prompt budget must not be negative, got %d", opts.Budget)
	}
	a := &Assembler{tmpl: tmpl, delimiter: opts.Delimiter, budget: opts.Budget, count: opts.Counter}
	if a.delimiter == "" {
		a.delimiter = DefaultDelimiter
	}
	if a.count == nil {
		a.count = EstimateTokens
	}
	return a, nil
}

// Assemble renders the prompt with as many of the hits, in order, as fit the
// budget. The least relevant hits are dropped first. It returns the prompt
// and the hits that made it in.
func (a *Assembler) Assemble(question string, hits domain.RetrievalResult) (string, domain.RetrievalResult, error) {
	for n := len(hits); n >= 0; n-- {
		p, err := a.render(question, hits[:n])
		if err != nil {
			return "", nil, err
		}
		if a.budget == 0 || a.count(p) <= a.budget {
			return p, hits[:n], nil
		}
	}
	return "", nil, fmt.Errorf("%w (budget %d tokens)", ErrPromptTooLarge, a.budget)
}

func (a *Assembler) render(question string, hits domain.RetrievalResult) (string, error) {
	var b strings.Builder
	err := a.tmpl.Execute(&b, data{
		Context:  strings.Join(hits.Texts(), a.delimiter),
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
