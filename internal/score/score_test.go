package score_test

import (
	"math"
	"testing"

	"github.com/avennor/sonalign/internal/align"
	"github.com/avennor/sonalign/internal/phoneme"
	"github.com/avennor/sonalign/internal/score"
)

func TestCompute_PerfectReading(t *testing.T) {
	t.Parallel()

	s := score.Compute(0, 1)
	if s.Pronunciation != 100 || s.Fluency != 100 || s.Intonation != 100 || s.Stress != 100 {
		t.Errorf("perfect reading should max every dimension, got %+v", s)
	}
	if s.Overall != 100 {
		t.Errorf("overall = %v, want 100", s.Overall)
	}
	if s.Grade != "Excellent" {
		t.Errorf("grade = %q, want Excellent", s.Grade)
	}
}

func TestCompute_TotalMiss(t *testing.T) {
	t.Parallel()

	s := score.Compute(1, 0)
	if s.Pronunciation != 0 {
		t.Errorf("pronunciation = %v, want 0", s.Pronunciation)
	}
	if s.Fluency != 0 {
		t.Errorf("fluency = %v, want 0", s.Fluency)
	}
	if s.Intonation != 30 {
		t.Errorf("intonation = %v, want 30", s.Intonation)
	}
	if s.Stress != 30 {
		t.Errorf("stress floor = %v, want 30", s.Stress)
	}
	if s.Grade != "Needs Improvement" {
		t.Errorf("grade = %q, want Needs Improvement", s.Grade)
	}
}

func TestCompute_MonotonicInWER(t *testing.T) {
	t.Parallel()

	prev := score.Compute(0, 0.8)
	for _, wer := range []float64{0.2, 0.5, 0.8, 1, 1.5} {
		s := score.Compute(wer, 0.8)
		if s.Overall > prev.Overall {
			t.Errorf("overall rose from %v to %v as wer grew to %v", prev.Overall, s.Overall, wer)
		}
		prev = s
	}
}

func TestCompute_BoundedDimensions(t *testing.T) {
	t.Parallel()

	for _, wer := range []float64{0, 0.3, 1, 2.5} {
		for _, conf := range []float64{0, 0.4, 1} {
			s := score.Compute(wer, conf)
			for name, v := range map[string]float64{
				"pronunciation": s.Pronunciation,
				"fluency":       s.Fluency,
				"intonation":    s.Intonation,
				"overall":       s.Overall,
			} {
				if v < 0 || v > 100 {
					t.Errorf("wer=%v conf=%v: %s = %v out of [0,100]", wer, conf, name, v)
				}
			}
			if s.Stress < 30 || s.Stress > 100 {
				t.Errorf("wer=%v conf=%v: stress = %v out of [30,100]", wer, conf, s.Stress)
			}
		}
	}
}

func TestWER(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                 string
		subs, dels, ins, ref int
		want                 float64
	}{
		{"no errors", 0, 0, 0, 4, 0},
		{"one of each", 1, 1, 1, 3, 1},
		{"above one", 0, 0, 5, 2, 2.5},
		{"empty reference", 0, 0, 2, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := score.WER(tt.subs, tt.dels, tt.ins, tt.ref)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("WER = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		overall float64
		want    string
	}{
		{95, "Excellent"},
		{90, "Excellent"},
		{89.9, "Good"},
		{75, "Good"},
		{74.9, "Fair"},
		{60, "Fair"},
		{59.9, "Needs Improvement"},
		{0, "Needs Improvement"},
	}
	for _, tt := range tests {
		if got := score.Grade(tt.overall); got != tt.want {
			t.Errorf("Grade(%v) = %q, want %q", tt.overall, got, tt.want)
		}
	}
}

func TestWordAccuracies_InsertionDoesNotPenalize(t *testing.T) {
	t.Parallel()

	refTokens := []phoneme.Token{{Word: "hi", Phoneme: "haɪ", Position: 0}}
	pairs := align.Sequences(
		[]string{"haɪ"},
		[]string{"haɪ", "ðɛr"},
	)

	accs := score.WordAccuracies(refTokens, pairs)
	if len(accs) != 1 {
		t.Fatalf("expected 1 word accuracy, got %d: %v", len(accs), accs)
	}
	if accs[0].Word != "hi" {
		t.Errorf("word = %q, want %q", accs[0].Word, "hi")
	}
	if accs[0].AccuracyPercentage < 80 {
		t.Errorf("accuracy for %q = %v, want at least 80 despite the inserted word",
			accs[0].Word, accs[0].AccuracyPercentage)
	}
}

func TestWordAccuracies(t *testing.T) {
	t.Parallel()

	refTokens := []phoneme.Token{
		{Word: "hello", Phoneme: "hɛloʊ", Position: 0},
		{Word: "world", Phoneme: "wɜːld", Position: 1},
		{Word: "today", Phoneme: "tədeɪ", Position: 2},
	}
	pairs := align.Sequences(
		[]string{"hɛloʊ", "wɜːld", "tədeɪ"},
		[]string{"hɛloʊ", "wɜːd"},
	)

	accs := score.WordAccuracies(refTokens, pairs)
	if len(accs) != 3 {
		t.Fatalf("expected 3 word accuracies, got %d: %v", len(accs), accs)
	}
	if accs[0].AccuracyPercentage != 100 {
		t.Errorf("matched word accuracy = %v, want 100", accs[0].AccuracyPercentage)
	}
	if accs[1].AccuracyPercentage <= 0 || accs[1].AccuracyPercentage >= 100 {
		t.Errorf("partial word accuracy = %v, want strictly between 0 and 100", accs[1].AccuracyPercentage)
	}
	if accs[2].AccuracyPercentage != 0 {
		t.Errorf("skipped word accuracy = %v, want exactly 0", accs[2].AccuracyPercentage)
	}
	for _, a := range accs {
		if a.PronunciationScore != a.AccuracyPercentage {
			t.Errorf("word %q pronunciation = %v, want %v", a.Word, a.PronunciationScore, a.AccuracyPercentage)
		}
		if math.Abs(a.RhythmScore-a.AccuracyPercentage*0.9) > 1e-9 {
			t.Errorf("word %q rhythm = %v, want %v", a.Word, a.RhythmScore, a.AccuracyPercentage*0.9)
		}
	}
}
