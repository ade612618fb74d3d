package eval

import (
	"fmt"

	"github.com/avennor/sonalign/internal/align"
	"github.com/avennor/sonalign/internal/classify"
	"github.com/avennor/sonalign/internal/phoneme"
	"github.com/avennor/sonalign/internal/score"
)

// Result is the complete outcome of one evaluation. All fields are values
// produced fresh per call and are never mutated afterwards, so a Result may
// be shared freely between goroutines once returned.
type Result struct {
	OriginalSentence  string               `json:"original_sentence"`
	TranscribedText   string               `json:"transcribed_text"`
	Scores            score.Scores         `json:"scores"`
	WordErrors        []classify.WordError `json:"word_errors"`
	WordAccuracy      []score.WordAccuracy `json:"word_accuracy"`
	PhonemeAlignment  []align.Pair         `json:"phoneme_alignment"`
	ReferencePhonemes []phoneme.Token      `json:"reference_phonemes"`
	LearnerPhonemes   []phoneme.Token      `json:"learner_phonemes"`
	Feedback          string               `json:"feedback"`
	Confidence        float64              `json:"confidence"`
	WERScore          float64              `json:"wer_score"`
}

// InputError reports a request that was rejected before any computation ran:
// an empty or oversized sentence, or a malformed confidence value. Callers
// should map it to a client error rather than a server fault.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("eval: invalid %s: %s", e.Field, e.Reason)
}
