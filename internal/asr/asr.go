package asr

import (
	"context"
	"errors"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

// ErrFailed reports a hard recognizer failure (model error, not a mismatch).
var ErrFailed = errors.New("asr: recognition failed")

// Token is one recognized unit with its time bounds in seconds.
// Start times are non-decreasing and Start <= End for every token.
type Token struct {
	Text  string
	Start float64
	End   float64
}

// Result is the recognizer output for one utterance.
type Result struct {
	Text   string
	Tokens []Token
}

// Engine transcribes a PCM buffer. Invoked after the VAD gate.
type Engine interface {
	Recognize(ctx context.Context, pcm audio.PCM) (Result, error)
}
