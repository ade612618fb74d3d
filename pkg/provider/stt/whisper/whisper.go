// Package whisper provides a local whisper.cpp-backed STT provider using the
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once at startup and shared by all transcriptions; each
// Transcribe call creates its own whisper.cpp context, so calls may run
// concurrently.
//
// Usage:
//
//	p, err := whisper.New("models/ggml-base.en.bin", whisper.WithLanguage("en"))
//	defer p.Close()
//	res, err := p.Transcribe(ctx, samples)
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/avennor/sonalign/pkg/provider/stt"
)

const defaultLanguage = "en"

// defaultConfidence is reported when the model returns no token
// probabilities. Chosen below 1 so that scoring never rewards an unmeasured
// transcription as if it were certain.
const defaultConfidence = 0.8

// Confidence bounds. Whisper token probabilities can be pathologically low on
// noisy clips even when the text is right; the floor keeps one bad clip from
// zeroing every confidence-weighted score.
const (
	minConfidence = 0.1
	maxConfidence = 1.0
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements stt.Transcriber using whisper.cpp Go bindings (CGO).
type Provider struct {
	model    whisperlib.Model
	language string
}

// New creates a Provider that loads the whisper.cpp model from the given file
// path. The model is loaded once and shared across all concurrent calls. The
// caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. It runs whisper.cpp inference over
// the full clip using a fresh context and returns the concatenated segment
// text together with a confidence derived from the token probabilities.
func (p *Provider) Transcribe(ctx context.Context, samples []float32) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(samples) == 0 {
		return stt.Result{}, errors.New("whisper: empty audio clip")
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts      []string
		words      []stt.WordDetail
		probSum    float64
		tokenCount int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			word := strings.TrimSpace(tok.Text)
			if word == "" {
				continue
			}
			probSum += float64(tok.P)
			tokenCount++
			words = append(words, stt.WordDetail{Word: word, Confidence: float64(tok.P)})
		}
	}

	confidence := defaultConfidence
	if tokenCount > 0 {
		confidence = probSum / float64(tokenCount)
	}
	confidence = min(maxConfidence, max(minConfidence, confidence))

	return stt.Result{
		Text:       strings.Join(parts, " "),
		Confidence: confidence,
		Words:      words,
	}, nil
}
