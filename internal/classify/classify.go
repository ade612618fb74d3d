// Package classify turns a word-level diff between a reference sentence and
// its transcription into typed [WordError] values. Substitutions carry a
// severity derived from how phonetically far apart the two words are, so a
// near-homophone slip ("word" for "world") is reported as a minor issue
// while an unrelated word is flagged as severe.
package classify

import (
	"github.com/avennor/sonalign/internal/align"
	"github.com/avennor/sonalign/internal/phoneme"
)

// ErrorType names the kind of word-level discrepancy.
type ErrorType string

const (
	Substitution ErrorType = "substitution"
	Insertion    ErrorType = "insertion"
	Deletion     ErrorType = "deletion"
)

// Severity buckets how damaging a discrepancy is for intelligibility.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// Severity bucket thresholds over the normalized phoneme edit distance.
// These cutoffs are part of the grading behaviour; do not retune them.
const (
	lowDistanceMax      = 0.3
	moderateDistanceMax = 0.6
)

// WordError is one word-level discrepancy. Position indexes the reference
// sentence for substitutions and deletions, and the transcription for
// insertions (which have no reference counterpart).
type WordError struct {
	Word      string    `json:"word"`
	Position  int       `json:"position"`
	ErrorType ErrorType `json:"error_type"`
	Expected  string    `json:"expected"`
	Actual    string    `json:"actual"`
	Severity  Severity  `json:"severity"`
}

// Classifier produces [WordError] values from word sequences. It is
// read-only after construction and safe for concurrent use.
type Classifier struct {
	conv *phoneme.Converter
}

// New creates a [Classifier] that uses conv to measure the phonetic
// distance behind substitution severities.
func New(conv *phoneme.Converter) *Classifier {
	return &Classifier{conv: conv}
}

// Classify diffs the reference words against the transcribed words and
// returns the discrepancies in reference order. Both inputs are expected to
// be cleaned words (see [phoneme.Words]); identical sequences yield nil.
func (c *Classifier) Classify(referenceWords, transcribedWords []string) []WordError {
	pairs := align.Sequences(referenceWords, transcribedWords)

	var errs []WordError
	refIdx, transIdx := 0, 0
	for _, p := range pairs {
		switch {
		case p.Ref != nil && p.Learner != nil:
			if !p.IsMatch {
				errs = append(errs, WordError{
					Word:      *p.Ref,
					Position:  refIdx,
					ErrorType: Substitution,
					Expected:  *p.Ref,
					Actual:    *p.Learner,
					Severity:  c.substitutionSeverity(*p.Ref, *p.Learner),
				})
			}
			refIdx++
			transIdx++
		case p.Ref != nil:
			errs = append(errs, WordError{
				Word:      *p.Ref,
				Position:  refIdx,
				ErrorType: Deletion,
				Expected:  *p.Ref,
				Severity:  SeverityModerate,
			})
			refIdx++
		default:
			errs = append(errs, WordError{
				Word:      *p.Learner,
				Position:  transIdx,
				ErrorType: Insertion,
				Actual:    *p.Learner,
				Severity:  SeverityModerate,
			})
			transIdx++
		}
	}
	return errs
}

// Counts tallies the error types in errs. Feed the result to the scorer's
// word error rate computation.
func Counts(errs []WordError) (substitutions, deletions, insertions int) {
	for _, e := range errs {
		switch e.ErrorType {
		case Substitution:
			substitutions++
		case Deletion:
			deletions++
		case Insertion:
			insertions++
		}
	}
	return substitutions, deletions, insertions
}

// substitutionSeverity converts both words to phonemes and buckets their
// normalized edit distance.
func (c *Classifier) substitutionSeverity(expected, actual string) Severity {
	dist := align.NormalizedDistance(c.conv.Word(expected), c.conv.Word(actual))
	switch {
	case dist < lowDistanceMax:
		return SeverityLow
	case dist <= moderateDistanceMax:
		return SeverityModerate
	default:
		return SeverityHigh
	}
}
