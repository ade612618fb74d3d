// Package audio decodes recorded WAV clips into the mono float32 samples the
// transcription layer consumes. Only 16-bit PCM WAV is supported; that is
// what browser recorders and the reference mobile client upload.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// pcmFormat is the WAVE format code for uncompressed integer PCM.
const pcmFormat = 1

// ErrNotWAV is returned when the payload does not carry a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE payload")

// Clip is a decoded audio clip. Samples are interleaved float32 in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Decode parses a 16-bit PCM WAV payload into a Clip.
func Decode(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		format        uint16
		channels      int
		sampleRate    int
		bitsPerSample int
		pcm           []byte
		haveFmt       bool
	)

	// Walk the chunk list. Chunks are word-aligned; a chunk with an odd size
	// is followed by one pad byte.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return Clip{}, fmt.Errorf("audio: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return Clip{}, errors.New("audio: missing fmt chunk")
	}
	if pcm == nil {
		return Clip{}, errors.New("audio: missing data chunk")
	}
	if format != pcmFormat || bitsPerSample != 16 {
		return Clip{}, fmt.Errorf("audio: unsupported encoding (format %d, %d-bit); expected 16-bit PCM", format, bitsPerSample)
	}
	if channels < 1 {
		return Clip{}, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return Clip{}, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768.0
	}

	return Clip{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// MonoAt returns the clip downmixed to mono and resampled to the given rate.
func (c Clip) MonoAt(rate int) []float32 {
	mono := Downmix(c.Samples, c.Channels)
	return Resample(mono, c.SampleRate, rate)
}

// Downmix averages interleaved multi-channel samples into mono.
// With channels <= 1 the input is returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
