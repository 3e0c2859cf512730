package embed

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/fbank"
)

// CAMPlus extracts speaker embeddings from fbank features with a CAM++
// ONNX model. Not safe for concurrent use; the pipeline checks instances
// out of a pool.
type CAMPlus struct {
	session  *ort.DynamicAdvancedSession
	dim      int
	fbankCfg fbank.Config
}

// NewCAMPlus loads the speaker model. dim is the embedding dimension the
// model emits. ort.InitializeEnvironment must have been called.
func NewCAMPlus(modelPath string, dim int) (*CAMPlus, error) {
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"feats"},
		[]string{"embs"},
		nil)
	if err != nil {
		return nil, fmt.Errorf("embed: load speaker model: %w", err)
	}
	return &CAMPlus{
		session:  session,
		dim:      dim,
		fbankCfg: fbank.DefaultConfig(),
	}, nil
}

func (e *CAMPlus) Dim() int {
	return e.dim
}

// Extract computes fbank features, mean-normalizes them and runs the model.
// The returned vector is not yet L2-normalized.
func (e *CAMPlus) Extract(ctx context.Context, pcm audio.PCM) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames := fbank.Compute(pcm.Samples, e.fbankCfg)
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: slice too short for features", ErrExtraction)
	}

	numFrames := len(frames)
	numMels := e.fbankCfg.NumMels

	// Cepstral mean normalization over the slice.
	mean := make([]float64, numMels)
	for _, frame := range frames {
		for m, v := range frame {
			mean[m] += float64(v)
		}
	}
	for m := range mean {
		mean[m] /= float64(numFrames)
	}

	flat := make([]float32, numFrames*numMels)
	for i, frame := range frames {
		for m, v := range frame {
			flat[i*numMels+m] = v - float32(mean[m])
		}
	}

	feats, err := ort.NewTensor(ort.NewShape(1, int64(numFrames), int64(numMels)), flat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer feats.Destroy()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{feats}, outputs); err != nil {
		return nil, fmt.Errorf("%w: inference: %v", ErrExtraction, err)
	}
	embs, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type", ErrExtraction)
	}
	defer embs.Destroy()

	data := embs.GetData()
	if len(data) < e.dim {
		return nil, fmt.Errorf("%w: model emitted %d values, want %d", ErrExtraction, len(data), e.dim)
	}
	vector := make([]float32, e.dim)
	copy(vector, data[:e.dim])
	return vector, nil
}

// Close releases the ONNX session.
func (e *CAMPlus) Close() error {
	return e.session.Destroy()
}
