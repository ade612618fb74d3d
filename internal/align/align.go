// Package align implements global sequence alignment for pronunciation
// comparison. The central entry point is [Sequences], which aligns a
// reference token sequence against a learner token sequence using
// Needleman-Wunsch dynamic programming and returns one [Pair] per alignment
// column. Tokens are typically per-word phoneme strings, but the same
// routine also aligns plain words (error classification) and, recursively,
// the individual characters of two mismatched phonemes.
//
// Costs are tuned so that a near-miss substitution (two tokens sharing a
// long common character run) is cheaper than tearing the pair apart into an
// insertion plus a deletion, while a substitution is never cheaper than a
// single gap. When several alignments share the minimal total cost, the
// backtrace prefers diagonal moves, maximising the number of exact matches.
//
// All functions are pure; the package holds no state and is safe for
// concurrent use.
package align

import (
	"log/slog"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

const (
	// gapCost is the constant cost of an insertion or a deletion.
	gapCost = 0.7

	// subSpread scales the normalized edit distance contribution to a
	// substitution's cost. The resulting substitution cost lies in
	// [gapCost, gapCost+subSpread]; the upper bound stays strictly below
	// 2*gapCost so a single substitution always beats a gap pair.
	subSpread = 0.69

	// MaxTokens caps the length of each input sequence. Longer inputs are
	// truncated with a logged warning instead of failing — sentence-length
	// material never comes close to this.
	MaxTokens = 256
)

// Pair is one column of an alignment. Exactly one of Ref/Learner is nil for
// an insertion or deletion; both are set for a match or a substitution.
// IsMatch is true only when the two tokens are identical. For substitutions
// produced by [Sequences], Sub carries the character-level alignment of the
// two phoneme strings so a renderer can highlight which characters differ.
type Pair struct {
	Ref     *string `json:"ref"`
	Learner *string `json:"learner"`
	IsMatch bool    `json:"is_match"`
	Sub     []Pair  `json:"sub_alignment,omitempty"`
}

// Sequences aligns reference against learner and returns the alignment
// columns in order. The concatenation of non-nil Ref entries reproduces
// reference exactly; likewise for Learner. Substitution pairs additionally
// carry a character-level sub-alignment.
//
// Either sequence may be empty: the result is then all-deletions or
// all-insertions.
func Sequences(reference, learner []string) []Pair {
	reference = capTokens("reference", reference)
	learner = capTokens("learner", learner)

	pairs := alignTokens(reference, learner)
	for i := range pairs {
		p := &pairs[i]
		if p.Ref != nil && p.Learner != nil && !p.IsMatch {
			p.Sub = Characters(*p.Ref, *p.Learner)
		}
	}
	return pairs
}

// Characters aligns the characters of two strings with the same algorithm
// used at the token level. Used for the sub-alignment of substituted
// phonemes; no further recursion happens below the character level.
func Characters(ref, learner string) []Pair {
	return alignTokens(splitRunes(ref), splitRunes(learner))
}

// NormalizedDistance returns the Levenshtein distance between a and b
// divided by the length of the longer string, yielding a value in [0, 1].
// Two empty strings are at distance 0; an empty string against a non-empty
// one is at distance 1.
func NormalizedDistance(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	if longer == 0 {
		return 0
	}
	d := levenshtein.DistanceForStrings(ra, rb, levenshtein.Options{
		InsCost: 1,
		DelCost: 1,
		SubCost: 1,
		Matches: levenshtein.IdenticalRunes,
	})
	return float64(d) / float64(longer)
}

// subCost is the cost of aligning token a against token b.
func subCost(a, b string) float64 {
	if a == b {
		return 0
	}
	return gapCost + subSpread*NormalizedDistance(a, b)
}

// alignTokens runs the dynamic program and backtrace over two token
// sequences. It fills no sub-alignments; [Sequences] adds those at the top
// level only.
func alignTokens(reference, learner []string) []Pair {
	n, m := len(reference), len(learner)
	if n == 0 && m == 0 {
		return nil
	}

	// dp[i][j] is the minimal cost of aligning reference[:i] with learner[:j].
	dp := make([][]float64, n+1)
	for i := range dp {
		dp[i] = make([]float64, m+1)
	}
	for i := 1; i <= n; i++ {
		dp[i][0] = float64(i) * gapCost
	}
	for j := 1; j <= m; j++ {
		dp[0][j] = float64(j) * gapCost
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			diag := dp[i-1][j-1] + subCost(reference[i-1], learner[j-1])
			del := dp[i-1][j] + gapCost
			ins := dp[i][j-1] + gapCost
			dp[i][j] = min3(diag, del, ins)
		}
	}

	// Backtrace, preferring diagonal moves on cost ties so that equal-cost
	// alignments resolve to the one with the most exact matches.
	const eps = 1e-9
	pairs := make([]Pair, 0, max2(n, m))
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && within(dp[i][j], dp[i-1][j-1]+subCost(reference[i-1], learner[j-1]), eps):
			r, l := reference[i-1], learner[j-1]
			pairs = append(pairs, Pair{Ref: &r, Learner: &l, IsMatch: r == l})
			i--
			j--
		case i > 0 && (j == 0 || within(dp[i][j], dp[i-1][j]+gapCost, eps)):
			r := reference[i-1]
			pairs = append(pairs, Pair{Ref: &r})
			i--
		default:
			l := learner[j-1]
			pairs = append(pairs, Pair{Learner: &l})
			j--
		}
	}

	// The backtrace walked right-to-left.
	for a, b := 0, len(pairs)-1; a < b; a, b = a+1, b-1 {
		pairs[a], pairs[b] = pairs[b], pairs[a]
	}
	return pairs
}

func capTokens(name string, tokens []string) []string {
	if len(tokens) <= MaxTokens {
		return tokens
	}
	slog.Warn("align: sequence exceeds cap, truncating",
		"side", name, "length", len(tokens), "cap", MaxTokens)
	return tokens[:MaxTokens]
}

func splitRunes(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

func within(x, y, eps float64) bool {
	d := x - y
	return d <= eps && d >= -eps
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}
