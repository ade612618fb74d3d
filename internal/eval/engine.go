// Package eval orchestrates a pronunciation evaluation: phonemize the
// reference and the transcription, align the phoneme sequences, classify
// word-level errors, score the attempt, and assemble feedback text.
//
// Each call is a synchronous CPU-bound computation over its own inputs with
// no shared mutable state, so an [Engine] handles concurrent evaluations
// without locking. The optional feedback enhancer is the only suspension
// point; it runs under a bounded timeout and can never fail an evaluation.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/avennor/sonalign/internal/align"
	"github.com/avennor/sonalign/internal/classify"
	"github.com/avennor/sonalign/internal/phoneme"
	"github.com/avennor/sonalign/internal/score"
)

const (
	defaultEnhanceTimeout = 30 * time.Second
	defaultTopErrors      = 3

	// maxSentenceLen bounds the reference and transcription length in
	// characters. Longer inputs are rejected rather than truncated so the
	// caller knows the sentence was never evaluated in full.
	maxSentenceLen = 500
)

// Enhancer produces natural-language feedback for a finished evaluation,
// typically via an LLM. Implementations receive the fully assembled Result
// (with template feedback already in place) and return replacement text.
type Enhancer interface {
	Enhance(ctx context.Context, res *Result) (string, error)
}

// Engine runs evaluations. It is read-only after construction and safe for
// concurrent use.
type Engine struct {
	conv       *phoneme.Converter
	classifier *classify.Classifier

	enhancer       Enhancer
	enhanceTimeout time.Duration
	topErrors      int
}

// Option configures an [Engine].
type Option func(*Engine)

// WithEnhancer installs an external feedback generator. When it fails or
// times out, the template feedback is kept and the evaluation still succeeds.
func WithEnhancer(e Enhancer) Option {
	return func(en *Engine) { en.enhancer = e }
}

// WithEnhanceTimeout bounds how long one enhancer call may take.
// Defaults to 30 seconds.
func WithEnhanceTimeout(d time.Duration) Option {
	return func(en *Engine) {
		if d > 0 {
			en.enhanceTimeout = d
		}
	}
}

// WithTopErrors sets how many errors, ordered by severity, the template
// feedback names explicitly. Defaults to 3.
func WithTopErrors(n int) Option {
	return func(en *Engine) {
		if n > 0 {
			en.topErrors = n
		}
	}
}

// New creates an evaluation Engine around the given phoneme converter.
func New(conv *phoneme.Converter, opts ...Option) *Engine {
	e := &Engine{
		conv:           conv,
		classifier:     classify.New(conv),
		enhanceTimeout: defaultEnhanceTimeout,
		topErrors:      defaultTopErrors,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate grades one spoken sentence against its reference text. confidence
// is the ASR confidence in [0, 1] and is passed through to the scores and
// the result. Once inputs pass validation the call always returns a complete
// Result; degraded collaborators (phonemizer, enhancer) never surface as
// errors.
func (e *Engine) Evaluate(ctx context.Context, reference, transcribed string, confidence float64) (*Result, error) {
	reference = strings.TrimSpace(reference)
	transcribed = strings.TrimSpace(transcribed)
	if err := validateInputs(reference, transcribed, confidence); err != nil {
		return nil, err
	}

	refTokens := e.conv.Sentence(reference)
	learnerTokens := e.conv.Sentence(transcribed)

	pairs := align.Sequences(phonemeStrings(refTokens), phonemeStrings(learnerTokens))

	refWords := phoneme.Words(reference)
	transWords := phoneme.Words(transcribed)
	wordErrors := e.classifier.Classify(refWords, transWords)
	if wordErrors == nil {
		// List fields marshal as JSON arrays, never null.
		wordErrors = []classify.WordError{}
	}
	if pairs == nil {
		pairs = []align.Pair{}
	}

	subs, dels, ins := classify.Counts(wordErrors)
	wer := score.WER(subs, dels, ins, len(refWords))

	res := &Result{
		OriginalSentence:  reference,
		TranscribedText:   transcribed,
		Scores:            score.Compute(wer, confidence),
		WordErrors:        wordErrors,
		WordAccuracy:      score.WordAccuracies(refTokens, pairs),
		PhonemeAlignment:  pairs,
		ReferencePhonemes: refTokens,
		LearnerPhonemes:   learnerTokens,
		Confidence:        confidence,
		WERScore:          wer,
	}
	res.Feedback = templateFeedback(res.Scores, wordErrors, e.topErrors)

	e.enhance(ctx, res)
	return res, nil
}

// EvaluateWord grades a single practised word. The pipeline matches
// [Engine.Evaluate] with one-token sequences; the word-level classifier is
// skipped since there is exactly one word, and the word error rate is 0 for
// a match and 1 otherwise.
func (e *Engine) EvaluateWord(ctx context.Context, referenceWord, transcribedWord string, confidence float64) (*Result, error) {
	referenceWord = strings.TrimSpace(referenceWord)
	transcribedWord = strings.TrimSpace(transcribedWord)
	if err := validateInputs(referenceWord, transcribedWord, confidence); err != nil {
		return nil, err
	}

	refClean := phoneme.Clean(referenceWord)
	transClean := phoneme.Clean(transcribedWord)

	refTokens := []phoneme.Token{{Word: refClean, Phoneme: e.conv.Word(refClean), Position: 0}}
	learnerTokens := []phoneme.Token{{Word: transClean, Phoneme: e.conv.Word(transClean), Position: 0}}

	pairs := align.Sequences(phonemeStrings(refTokens), phonemeStrings(learnerTokens))

	wer := 0.0
	if refClean != transClean {
		wer = 1.0
	}

	res := &Result{
		OriginalSentence:  referenceWord,
		TranscribedText:   transcribedWord,
		Scores:            score.Compute(wer, confidence),
		WordErrors:        []classify.WordError{},
		WordAccuracy:      score.WordAccuracies(refTokens, pairs),
		PhonemeAlignment:  pairs,
		ReferencePhonemes: refTokens,
		LearnerPhonemes:   learnerTokens,
		Confidence:        confidence,
		WERScore:          wer,
	}
	res.Feedback = templateFeedback(res.Scores, nil, e.topErrors)

	e.enhance(ctx, res)
	return res, nil
}

// PhonemizeSentence exposes the phonemizer directly, for previewing the
// target phonemes before recording. Idempotent and side-effect free.
func (e *Engine) PhonemizeSentence(sentence string) ([]phoneme.Token, error) {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return nil, &InputError{Field: "sentence", Reason: "must not be empty"}
	}
	if len(sentence) > maxSentenceLen {
		return nil, &InputError{Field: "sentence", Reason: fmt.Sprintf("longer than %d characters", maxSentenceLen)}
	}
	return e.conv.Sentence(sentence), nil
}

// enhance replaces the template feedback with enhancer output when an
// enhancer is configured. Failures and timeouts keep the template text.
func (e *Engine) enhance(ctx context.Context, res *Result) {
	if e.enhancer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.enhanceTimeout)
	defer cancel()

	text, err := e.enhancer.Enhance(ctx, res)
	if err != nil {
		slog.Warn("feedback enhancement failed, keeping template feedback", "error", err)
		return
	}
	if text = strings.TrimSpace(text); text != "" {
		res.Feedback = text
	}
}

func validateInputs(reference, transcribed string, confidence float64) error {
	if reference == "" {
		return &InputError{Field: "reference", Reason: "must not be empty"}
	}
	if len(reference) > maxSentenceLen {
		return &InputError{Field: "reference", Reason: fmt.Sprintf("longer than %d characters", maxSentenceLen)}
	}
	if transcribed == "" {
		return &InputError{Field: "transcription", Reason: "must not be empty"}
	}
	if len(transcribed) > maxSentenceLen {
		return &InputError{Field: "transcription", Reason: fmt.Sprintf("longer than %d characters", maxSentenceLen)}
	}
	if math.IsNaN(confidence) || math.IsInf(confidence, 0) || confidence < 0 || confidence > 1 {
		return &InputError{Field: "confidence", Reason: "must be a number in [0, 1]"}
	}
	return nil
}

func phonemeStrings(tokens []phoneme.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Phoneme
	}
	return out
}

var severityRank = map[classify.Severity]int{
	classify.SeverityHigh:     0,
	classify.SeverityModerate: 1,
	classify.SeverityLow:      2,
}

// templateFeedback builds the fallback feedback text: a grade-based opener,
// a tally of error kinds, and the worst few errors spelled out.
func templateFeedback(s score.Scores, errs []classify.WordError, topN int) string {
	if s.Overall >= 90 && len(errs) == 0 {
		return "Excellent! Your pronunciation is spot on."
	}

	var b strings.Builder
	switch {
	case s.Overall >= 90:
		b.WriteString("Excellent!")
	case s.Overall >= 75:
		b.WriteString("Good work.")
	case s.Overall >= 60:
		b.WriteString("Fair attempt.")
	default:
		b.WriteString("Keep practicing.")
	}

	if len(errs) == 0 {
		return b.String()
	}

	subs, dels, ins := classify.Counts(errs)
	var issues []string
	if subs > 0 {
		issues = append(issues, fmt.Sprintf("%d mispronounced %s", subs, plural(subs, "word")))
	}
	if dels > 0 {
		issues = append(issues, fmt.Sprintf("%d missing %s", dels, plural(dels, "word")))
	}
	if ins > 0 {
		issues = append(issues, fmt.Sprintf("%d extra %s", ins, plural(ins, "word")))
	}
	b.WriteString(" You had ")
	b.WriteString(strings.Join(issues, ", "))
	b.WriteString(".")

	sorted := make([]classify.WordError, len(errs))
	copy(sorted, errs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank[sorted[i].Severity] < severityRank[sorted[j].Severity]
	})
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}

	var details []string
	for _, we := range sorted {
		switch we.ErrorType {
		case classify.Substitution:
			details = append(details, fmt.Sprintf("you said %q instead of %q", we.Actual, we.Expected))
		case classify.Deletion:
			details = append(details, fmt.Sprintf("you missed %q", we.Expected))
		case classify.Insertion:
			details = append(details, fmt.Sprintf("you added %q", we.Actual))
		}
	}
	if len(details) > 0 {
		b.WriteString(" Focus on: ")
		b.WriteString(strings.Join(details, "; "))
		b.WriteString(".")
	}
	return b.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
