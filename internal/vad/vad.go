package vad

import (
	"context"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

// Verdict reports whether a buffer contains speech and, when it does, the
// bounding sample range of the detected speech.
type Verdict struct {
	SpeechPresent bool
	Start         int
	End           int
}

// Gate classifies a PCM buffer. The pipeline aborts with INVALID_AUDIO when
// no speech is present.
type Gate interface {
	Detect(ctx context.Context, pcm audio.PCM) (Verdict, error)
}
