// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (e.g., a local whisper.cpp
// model) and exposes a uniform one-shot interface: hand it a clip of PCM
// samples, get back the recognised text and a confidence estimate. The
// evaluation pipeline compares that text against the learner's target
// sentence, so word-level fidelity matters more than latency here.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// SampleRate is the PCM sample rate in Hz every Transcriber expects.
// Audio captured at other rates must be resampled first (see pkg/audio).
const SampleRate = 16000

// Result is the outcome of transcribing one audio clip.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score in [0, 1]. Providers that do
	// not report confidence should use a conservative default rather than zero,
	// since downstream scoring treats zero as "certainly wrong".
	Confidence float64

	// Words contains per-word detail when the provider supports it. May be nil.
	Words []WordDetail
}

// WordDetail holds per-word metadata from providers that report it.
type WordDetail struct {
	Word       string
	Confidence float64
}

// Transcriber is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple clips may be
// transcribed simultaneously by different requests.
type Transcriber interface {
	// Transcribe converts one clip of mono PCM samples at [SampleRate] Hz into
	// text. The samples are float32 in [-1, 1].
	//
	// Returns an error if recognition fails or ctx is cancelled first.
	Transcribe(ctx context.Context, samples []float32) (Result, error)
}
