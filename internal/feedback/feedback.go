// Package feedback turns a finished evaluation into natural-language
// coaching text using an LLM backend. It implements [eval.Enhancer], so the
// evaluation engine falls back to its template feedback whenever the backend
// fails or runs out of time.
package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/avennor/sonalign/internal/classify"
	"github.com/avennor/sonalign/internal/eval"
	"github.com/avennor/sonalign/pkg/provider/llm"
)

const systemPrompt = `You are a professional English pronunciation coach. You give detailed,
constructive feedback on pronunciation mistakes with an encouraging, educational approach.

Structure your reply as:
1. A short encouraging opener acknowledging the learner's effort.
2. For each detected error: which word was mispronounced (expected vs actual),
   the specific phonetic difference (IPA notation where helpful), and its
   impact on intelligibility.
3. Concrete corrective exercises: step-by-step articulation tips, mouth and
   tongue placement, and practice methods such as minimal pairs or shadowing.
4. A closing message reinforcing progress and persistence.

Keep the reply under 300 words, supportive in tone, and focused on advice the
learner can apply immediately.`

// Request defaults tuned for short coaching replies.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 600
)

// Generator produces coaching feedback from evaluation results.
// It is read-only after construction and safe for concurrent use.
type Generator struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

var _ eval.Enhancer = (*Generator)(nil)

// Option configures a [Generator].
type Option func(*Generator)

// WithTemperature overrides the sampling temperature. Defaults to 0.7.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps the reply length in tokens. Defaults to 600.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// New creates a Generator over the given LLM provider.
func New(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider:    provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Enhance implements eval.Enhancer. It summarises the evaluation into a
// prompt and returns the model's coaching text.
func (g *Generator) Enhance(ctx context.Context, res *eval.Result) (string, error) {
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildPrompt(res)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("feedback: completion: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("feedback: empty completion")
	}
	return text, nil
}

// buildPrompt renders the evaluation into the user message sent to the model.
func buildPrompt(res *eval.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target sentence: %q\n", res.OriginalSentence)
	fmt.Fprintf(&b, "Learner's pronunciation (as transcribed): %q\n", res.TranscribedText)
	fmt.Fprintf(&b, "Scores: overall %.0f/100, pronunciation %.0f/100, fluency %.0f/100, intonation %.0f/100, stress %.0f/100\n",
		res.Scores.Overall, res.Scores.Pronunciation, res.Scores.Fluency,
		res.Scores.Intonation, res.Scores.Stress)
	fmt.Fprintf(&b, "Word error rate: %.2f\n", res.WERScore)
	b.WriteString("Detected errors: ")
	b.WriteString(formatErrors(res.WordErrors))
	b.WriteString("\n\nWrite the coaching feedback now.")
	return b.String()
}

func formatErrors(errs []classify.WordError) string {
	if len(errs) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(errs))
	for _, we := range errs {
		switch we.ErrorType {
		case classify.Substitution:
			parts = append(parts, fmt.Sprintf("said %q instead of %q (severity %s)", we.Actual, we.Expected, we.Severity))
		case classify.Deletion:
			parts = append(parts, fmt.Sprintf("missed the word %q", we.Expected))
		case classify.Insertion:
			parts = append(parts, fmt.Sprintf("added the extra word %q", we.Actual))
		}
	}
	return strings.Join(parts, "; ")
}
