// Package segment cuts an utterance into per-digit PCM slices using ASR
// token timestamps plus a configurable padding.
package segment

import (
	"errors"
	"fmt"

	"github.com/voicegate-labs/voicegate-core/internal/asr"
	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

// ErrMismatch reports that the digit-normalized tokens do not spell the
// prompted string. Sessions treat it as an ASR mismatch.
var ErrMismatch = errors.New("segment: recognized digits do not match prompt")

// Slice is the audio for one prompted digit.
type Slice struct {
	Digit   string
	Samples []float32
	Start   float64 // token start in seconds, without padding
	End     float64 // token end in seconds, without padding
}

// Options control slicing.
type Options struct {
	// PaddingSec is added on both sides of each token (default 0.10 s).
	PaddingSec float64

	// NoOverlap caps each slice at the next token's start so adjacent
	// slices never share samples.
	NoOverlap bool
}

// Cut produces exactly len(want) slices, one per prompted digit, or
// ErrMismatch when the tokens disagree with the prompt.
func Cut(pcm audio.PCM, tokens []asr.Token, want string, opts Options) ([]Slice, error) {
	if len(tokens) != len(want) {
		return nil, fmt.Errorf("%w: got %d digits, prompt has %d", ErrMismatch, len(tokens), len(want))
	}
	var spoken string
	for _, tok := range tokens {
		spoken += tok.Text
	}
	if spoken != want {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrMismatch, spoken, want)
	}

	pad := int(opts.PaddingSec * float64(pcm.SampleRate))
	n := len(pcm.Samples)

	slices := make([]Slice, 0, len(tokens))
	for i, tok := range tokens {
		start := int(tok.Start*float64(pcm.SampleRate)) - pad
		if start < 0 {
			start = 0
		}
		end := int(tok.End*float64(pcm.SampleRate)) + pad
		if opts.NoOverlap && i+1 < len(tokens) {
			if next := int(tokens[i+1].Start * float64(pcm.SampleRate)); end > next {
				end = next
			}
		}
		if end > n {
			end = n
		}
		if end <= start {
			return nil, fmt.Errorf("segment: empty slice for digit %q at %.3f-%.3fs", tok.Text, tok.Start, tok.End)
		}

		samples := make([]float32, end-start)
		copy(samples, pcm.Samples[start:end])
		slices = append(slices, Slice{
			Digit:   tok.Text,
			Samples: samples,
			Start:   tok.Start,
			End:     tok.End,
		})
	}
	return slices, nil
}
