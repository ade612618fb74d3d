// Package score converts alignment statistics into the graded numbers an
// evaluation reports. The formulas are fixed weights over the word error
// rate and the transcription confidence; changing them changes every grade
// the system has ever produced, so treat them as frozen.
package score

import (
	"math"

	"github.com/avennor/sonalign/internal/align"
	"github.com/avennor/sonalign/internal/phoneme"
)

// Scores holds the per-dimension grades of one evaluation. All values are
// on a 0 to 100 scale except where a floor applies.
type Scores struct {
	Pronunciation float64 `json:"pronunciation"`
	Fluency       float64 `json:"fluency"`
	Intonation    float64 `json:"intonation"`
	Stress        float64 `json:"stress"`
	Overall       float64 `json:"overall"`
	Grade         string  `json:"grade"`
}

// WordAccuracy grades a single reference word by how much of its phoneme
// sequence the learner reproduced.
type WordAccuracy struct {
	Word               string  `json:"word"`
	AccuracyPercentage float64 `json:"accuracy_percentage"`
	PronunciationScore float64 `json:"pronunciation_score"`
	RhythmScore        float64 `json:"rhythm_score"`
}

// WER computes the word error rate from alignment edit counts. The result
// is deliberately not clamped; rates above 1 mean the learner inserted more
// words than the reference contains.
func WER(substitutions, deletions, insertions, referenceWords int) float64 {
	edits := float64(substitutions + deletions + insertions)
	return edits / math.Max(1, float64(referenceWords))
}

// Compute derives all score dimensions from the word error rate and the
// transcription confidence. Confidence is expected in [0, 1].
func Compute(wer, confidence float64) Scores {
	pronunciation := Clamp(0, 100, (1-wer)*100)
	s := Scores{
		Pronunciation: pronunciation,
		Fluency:       Clamp(0, 100, confidence*85+(1-wer)*15),
		Intonation:    Clamp(0, 100, confidence*70+30),
		Stress:        Clamp(30, 100, pronunciation*0.8+confidence*20),
	}
	s.Overall = s.Pronunciation*0.5 + s.Fluency*0.3 + s.Intonation*0.1 + s.Stress*0.1
	s.Grade = Grade(s.Overall)
	return s
}

// Grade maps an overall score to its label.
func Grade(overall float64) string {
	switch {
	case overall >= 90:
		return "Excellent"
	case overall >= 75:
		return "Good"
	case overall >= 60:
		return "Fair"
	default:
		return "Needs Improvement"
	}
}

// Clamp bounds v to [lo, hi].
func Clamp(lo, hi, v float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// WordAccuracies grades each reference word from the phoneme-level
// alignment. pairs must come from aligning the reference tokens' phonemes
// against the learner's, so pairs with a non-nil Ref appear in reference
// order. A word the learner skipped scores exactly zero.
func WordAccuracies(refTokens []phoneme.Token, pairs []align.Pair) []WordAccuracy {
	accs := make([]WordAccuracy, 0, len(refTokens))
	refIdx := 0
	for _, p := range pairs {
		if p.Ref == nil {
			continue
		}
		if refIdx >= len(refTokens) {
			break
		}
		tok := refTokens[refIdx]
		refIdx++

		var accuracy float64
		switch {
		case p.Learner == nil:
			accuracy = 0
		case p.IsMatch:
			accuracy = 100
		default:
			accuracy = matchedFraction(p) * 100
		}
		accs = append(accs, WordAccuracy{
			Word:               tok.Word,
			AccuracyPercentage: accuracy,
			PronunciationScore: accuracy,
			RhythmScore:        accuracy * 0.9,
		})
	}
	return accs
}

// matchedFraction measures how much of a substituted phoneme string the
// learner got right, using the character sub-alignment when present.
func matchedFraction(p align.Pair) float64 {
	if len(p.Sub) == 0 {
		return 1 - align.NormalizedDistance(*p.Ref, *p.Learner)
	}
	matches := 0
	for _, c := range p.Sub {
		if c.IsMatch {
			matches++
		}
	}
	return float64(matches) / float64(len(p.Sub))
}
