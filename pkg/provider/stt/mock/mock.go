// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to feed controlled recognition results and inspect which
// audio clips were delivered.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Result: stt.Result{Text: "hello world", Confidence: 0.9},
//	}
//	res, _ := tr.Transcribe(ctx, samples)
package mock

import (
	"context"
	"sync"

	"github.com/avennor/sonalign/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Samples is a copy of the audio clip passed to Transcribe.
	Samples []float32
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if non-nil, is called instead of returning the static
	// fields. Use it to block on ctx or vary results per call.
	TranscribeFunc func(ctx context.Context, samples []float32) (stt.Result, error)

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Result, Err, or delegates to
// TranscribeFunc when set.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32) (stt.Result, error) {
	t.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Ctx: ctx, Samples: cp})
	fn := t.TranscribeFunc
	res, err := t.Result, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
