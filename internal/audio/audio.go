package audio

import (
	"context"
	"errors"
)

// TargetSampleRate is the rate every decoded buffer is normalized to.
// The inference models are all trained on 16 kHz audio.
const TargetSampleRate = 16000

var (
	// ErrDecode reports a malformed container, an unsupported codec or
	// empty input.
	ErrDecode = errors.New("audio: decode failed")

	// ErrInvalidAudio reports decoded audio outside the accepted duration
	// window, or audio rejected by the VAD gate.
	ErrInvalidAudio = errors.New("audio: invalid audio")
)

// PCM is a mono float32 buffer in [-1, 1] at a known sample rate.
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Seconds returns the buffer duration in seconds.
func (p PCM) Seconds() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// Decoder turns an opaque compressed blob into normalized PCM.
// Implementations must not retain the input after returning.
type Decoder interface {
	Decode(ctx context.Context, blob []byte) (PCM, error)
}
