package embed

import (
	"context"
	"hash/fnv"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

// Fake derives a deterministic vector from the slice contents, so the
// same audio always embeds identically and different audio diverges. The
// vector is not L2-normalized; callers normalize it like any extractor output. The
// Bias field shifts every vector, letting tests simulate a second speaker.
type Fake struct {
	Dimension int
	Bias      float32
	Err       error
}

func (f *Fake) Dim() int {
	if f.Dimension == 0 {
		return 192
	}
	return f.Dimension
}

func (f *Fake) Extract(ctx context.Context, pcm audio.PCM) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}

	h := fnv.New64a()
	for _, s := range pcm.Samples {
		h.Write([]byte{byte(int16(s * 1000)), byte(int16(s*1000) >> 8)})
	}
	seed := h.Sum64()

	dim := f.Dim()
	v := make([]float32, dim)
	state := seed
	for i := range v {
		state = state*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(state>>33))/float32(1<<30) + f.Bias
	}
	return v, nil
}
