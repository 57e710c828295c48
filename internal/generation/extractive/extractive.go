// Package extractive answers by quoting the context sentences that best
// match the question. It runs locally and is fully deterministic.
package extractive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"lawbot/internal/generation"
	"lawbot/internal/prompt"
	"lawbot/internal/tokenize"
)

// Markers locate the context and question inside a rendered prompt.
type Markers struct {
	Context  string
	Question string
	Answer   string
}

// DefaultMarkers match prompt.DefaultTemplate.
var DefaultMarkers = Markers{Context: "Context:", Question: "Question:", Answer: "Helpful Answer:"}

var sentencePattern = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|\n|$)`)

var (
	contextAction  = regexp.MustCompile(`\{\{-?\s*\.Context\s*-?\}\}`)
	questionAction = regexp.MustCompile(`\{\{-?\s*\.Question\s*-?\}\}`)
)

// ErrNoMarkers means a prompt template gives the generator no literal text
// to find the context and question by.
var ErrNoMarkers = errors.New("prompt template has no markers for the extractive generator")

// MarkersFor derives markers from a prompt template: the last line of literal
// text before {{.Context}} and before {{.Question}}, and the first line after
// {{.Question}}. The context must come before the question.
func MarkersFor(tmpl string) (Markers, error) {
	if strings.TrimSpace(tmpl) == "" {
		return DefaultMarkers, nil
	}
	c := contextAction.FindStringIndex(tmpl)
	q := questionAction.FindStringIndex(tmpl)
	if c == nil || q == nil {
		return Markers{}, fmt.Errorf("%w: template must contain {{.Context}} and {{.Question}}", ErrNoMarkers)
	}
	if q[0] < c[1] {
		return Markers{}, fmt.Errorf("%w: {{.Context}} must come before {{.Question}}", ErrNoMarkers)
	}
	m := Markers{
		Context:  lastLine(tmpl[:c[0]]),
		Question: lastLine(tmpl[c[1]:q[0]]),
		Answer:   firstLine(tmpl[q[1]:]),
	}
	if strings.TrimSpace(m.Context) == "" || strings.TrimSpace(m.Question) == "" {
		return Markers{}, fmt.Errorf("%w: literal text must precede {{.Context}} and {{.Question}}", ErrNoMarkers)
	}
	return m, nil
}

// lastLine returns the suffix of s starting at its last non-blank line.
func lastLine(s string) string {
	trimmed := strings.TrimRight(s, " \t\n\r")
	if trimmed == "" {
		return ""
	}
	start := strings.LastIndexByte(trimmed, '\n') + 1
	return s[start:]
}

// firstLine returns the first non-blank line of s without surrounding space.
func firstLine(s string) string {
	s = strings.TrimLeft(s, " \t\n\r")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Generator ranks context sentences by weighted overlap with the question.
type Generator struct {
	markers      Markers
	maxSentences int
}

func New(markers Markers, maxSentences int) *Generator {
	if markers.Context == "" {
		markers = DefaultMarkers
	}
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Generator{markers: markers, maxSentences: maxSentences}
}

func (g *Generator) ModelID() string { return "extractive-v1" }

func (g *Generator) Generate(ctx context.Context, p string, maxNewTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	contextText, question := g.split(p)
	answer := g.answer(contextText, question, maxNewTokens)
	if answer == "" {
		return generation.DeclineText, nil
	}
	return answer, nil
}

// split pulls the context and question out of the prompt. The question
// marker is searched before the answer marker, so marker text inside the
// context does not cut it short. Without markers the whole prompt is
// treated as context and its last line as the question.
func (g *Generator) split(p string) (string, string) {
	ci := strings.Index(p, g.markers.Context)
	end := len(p)
	if g.markers.Answer != "" {
		if ai := strings.LastIndex(p, g.markers.Answer); ai > ci {
			end = ai
		}
	}
	qi := -1
	if ci >= 0 {
		qi = strings.LastIndex(p[:end], g.markers.Question)
	}
	if ci < 0 || qi < ci+len(g.markers.Context) {
		lines := strings.Split(strings.TrimSpace(p), "\n")
		return p, lines[len(lines)-1]
	}
	return p[ci+len(g.markers.Context) : qi], p[qi+len(g.markers.Question) : end]
}

func (g *Generator) answer(contextText, question string, maxNewTokens int) string {
	qwords := map[string]struct{}{}
	for _, w := range tokenize.Words(question) {
		qwords[w] = struct{}{}
	}
	if len(qwords) == 0 {
		return ""
	}

	var sentences []string
	for _, s := range sentencePattern.FindAllString(contextText, -1) {
		s = strings.TrimSpace(s)
		if s == "" || strings.Trim(s, "-") == "" {
			continue
		}
		sentences = append(sentences, s)
	}

	// Question words that are rare in the context count for more.
	freq := map[string]float64{}
	for _, s := range sentences {
		for _, tok := range tokenize.Words(s) {
			freq[tok]++
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	var scores []pair
	for i, s := range sentences {
		toks := tokenize.Words(s)
		seen := map[string]struct{}{}
		score := 0.0
		for _, tok := range toks {
			if _, ok := qwords[tok]; !ok {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			score += 1 / math.Sqrt(freq[tok])
		}
		if score == 0 {
			continue
		}
		// Normalize by sentence length to avoid bias
		scores = append(scores, pair{i, score / math.Sqrt(float64(len(toks)))})
	}
	if len(scores) == 0 {
		return ""
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	// Keep original order among selected
	var selected []int
	budget := 0
	for _, sc := range scores {
		if len(selected) == g.maxSentences {
			break
		}
		cost := prompt.EstimateTokens(sentences[sc.idx]) + 1
		if maxNewTokens > 0 && len(selected) > 0 && budget+cost > maxNewTokens {
			break
		}
		budget += cost
		selected = append(selected, sc.idx)
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}
