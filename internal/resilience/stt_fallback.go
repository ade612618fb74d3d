package resilience

import (
	"context"

	"github.com/avennor/sonalign/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple speech-to-text backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, transcriber stt.Transcriber) {
	f.group.AddFallback(name, transcriber)
}

// Transcribe runs the clip through the first healthy backend. If the primary
// fails or its breaker is open, subsequent fallbacks are tried in order.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, samples)
	})
}
