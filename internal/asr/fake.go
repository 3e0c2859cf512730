package asr

import (
	"context"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

// Fake replays planted transcripts in order, repeating the last entry once
// the script is exhausted. Tests use it to drive the session state machines.
type Fake struct {
	Script []Result
	Errs   []error
	calls  int
}

// PlantDigits builds a Result whose tokens spell the given digit string with
// evenly spaced timestamps, 0.3 s per digit.
func PlantDigits(digits string) Result {
	result := Result{Text: digits}
	for i, d := range digits {
		start := float64(i) * 0.3
		result.Tokens = append(result.Tokens, Token{
			Text:  string(d),
			Start: start,
			End:   start + 0.3,
		})
	}
	return result
}

func (f *Fake) Recognize(ctx context.Context, pcm audio.PCM) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	i := f.calls
	f.calls++
	if i < len(f.Errs) && f.Errs[i] != nil {
		return Result{}, f.Errs[i]
	}
	if len(f.Script) == 0 {
		return Result{}, nil
	}
	if i >= len(f.Script) {
		i = len(f.Script) - 1
	}
	return f.Script[i], nil
}
