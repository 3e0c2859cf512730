package embed

import (
	"context"
	"errors"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

// ErrExtraction reports a hard extractor failure.
var ErrExtraction = errors.New("embed: extraction failed")

// Extractor maps a PCM slice to a fixed-dimension speaker vector.
// Callers L2-normalize vectors before storage and comparison.
type Extractor interface {
	Extract(ctx context.Context, pcm audio.PCM) ([]float32, error)
	Dim() int
}
