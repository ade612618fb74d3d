// Package phoneme converts English text into per-word phoneme strings.
//
// The conversion is backed by the goruut grapheme-to-phoneme engine. Each
// word of the input yields exactly one [Token] whose Phoneme field may hold
// several phonetic symbols (e.g. "hɛloʊ"). When goruut produces nothing for
// a word — digits, foreign characters, degenerate input — the converter
// falls back to the word's Double Metaphone code and, failing that, to the
// cleaned word itself, so phonemization approximates rather than fails.
//
// A [Converter] is read-only after [Converter.Warmup] and safe for
// concurrent use. Output is deterministic: the same input always yields the
// same token sequence.
package phoneme

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"github.com/neurlang/goruut/lib"
	"github.com/neurlang/goruut/models/requests"
)

// defaultLanguage is the goruut language model used for conversion.
const defaultLanguage = "English"

// Token is the phonemization of a single word, in sentence order.
type Token struct {
	Word     string `json:"word"`
	Phoneme  string `json:"phoneme"`
	Position int    `json:"position"`
}

// Option is a functional option for configuring a [Converter].
type Option func(*Converter)

// WithLanguage overrides the goruut language model. Default: "English".
func WithLanguage(language string) Option {
	return func(c *Converter) { c.language = language }
}

// Converter performs grapheme-to-phoneme conversion.
type Converter struct {
	g        *lib.Phonemizer
	language string
}

// New creates a [Converter]. Call [Converter.Warmup] once before serving
// concurrent traffic so the language model is loaded eagerly rather than on
// the first request.
func New(opts ...Option) *Converter {
	c := &Converter{
		g:        lib.NewPhonemizer(nil),
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Warmup loads the language model by converting a probe word. After Warmup
// returns, the converter performs no further writes to shared state.
func (c *Converter) Warmup() {
	c.Word("hello")
}

// Sentence converts text into one [Token] per word. Words are split on
// whitespace with surrounding punctuation stripped; words that clean to
// nothing are dropped. A nil slice is returned for blank input.
func (c *Converter) Sentence(text string) []Token {
	words := Words(text)
	if len(words) == 0 {
		return nil
	}
	tokens := make([]Token, 0, len(words))
	for i, w := range words {
		tokens = append(tokens, Token{
			Word:     w,
			Phoneme:  c.Word(w),
			Position: i,
		})
	}
	return tokens
}

// Word converts a single cleaned word into its phoneme string. The fallback
// chain (goruut → Double Metaphone → the word itself) guarantees a non-empty
// result for any word containing at least one letter or digit.
func (c *Converter) Word(word string) string {
	word = Clean(word)
	if word == "" {
		return ""
	}

	resp := c.g.Sentence(requests.PhonemizeSentence{
		Language: c.language,
		Sentence: word,
	})

	var sb strings.Builder
	for _, w := range resp.Words {
		sb.WriteString(w.Phonetic)
	}
	if ph := strings.TrimSpace(sb.String()); ph != "" {
		return ph
	}

	// Approximate instead of failing: a Double Metaphone code is crude but
	// preserves enough consonant structure for distance-based comparison.
	if primary, _ := matchr.DoubleMetaphone(word); primary != "" {
		return strings.ToLower(primary)
	}
	return word
}

// Words splits text on whitespace and cleans each word, dropping any that
// clean to nothing. This is the single tokenization used across the
// evaluation pipeline so that word indices agree between the phonemizer,
// the classifier, and the scorer.
func Words(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := Clean(f); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// Clean lowercases a word and strips leading and trailing punctuation.
// Interior characters (apostrophes, hyphens) are preserved.
func Clean(word string) string {
	word = strings.TrimFunc(word, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	return strings.ToLower(word)
}
