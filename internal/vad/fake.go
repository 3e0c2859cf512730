package vad

import (
	"context"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

// Fake returns a planted verdict; tests use it to bypass model inference.
type Fake struct {
	Speech bool
	Err    error
}

func (f *Fake) Detect(ctx context.Context, pcm audio.PCM) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if f.Err != nil {
		return Verdict{}, f.Err
	}
	if !f.Speech {
		return Verdict{}, nil
	}
	return Verdict{SpeechPresent: true, Start: 0, End: len(pcm.Samples)}, nil
}
