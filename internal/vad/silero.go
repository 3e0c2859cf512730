package vad

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/config"
)

const (
	windowSamples  = 512
	contextSamples = 64
	inputSamples   = contextSamples + windowSamples // 576
	stateSize      = 2 * 1 * 128
)

var errWindowSize = errors.New("vad: window must be exactly 512 samples")

// Silero is a stateful ONNX wrapper for the Silero VAD model.
// Not safe for concurrent use; the pipeline checks instances out of a pool.
type Silero struct {
	cfg config.VADConfig

	session  *ort.AdvancedSession
	input    *ort.Tensor[float32] // (1, 576)
	state    *ort.Tensor[float32] // (2, 1, 128)
	sr       *ort.Tensor[int64]   // (1,) = 16000
	output   *ort.Tensor[float32] // (1, 1) speech prob
	stateOut *ort.Tensor[float32] // (2, 1, 128) next state

	window [contextSamples]float32
}

// NewSilero loads the Silero VAD model and allocates its reusable tensors.
// ort.InitializeEnvironment must have been called.
func NewSilero(modelPath string, cfg config.VADConfig) (*Silero, error) {
	input, err := ort.NewTensor(ort.NewShape(1, inputSamples), make([]float32, inputSamples))
	if err != nil {
		return nil, err
	}
	state, err := ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, stateSize))
	if err != nil {
		_ = input.Destroy()
		return nil, err
	}
	sr, err := ort.NewTensor(ort.NewShape(1), []int64{audio.TargetSampleRate})
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		_ = sr.Destroy()
		return nil, err
	}
	stateOut, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		_ = sr.Destroy()
		_ = output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{input, state, sr},
		[]ort.Value{output, stateOut},
		nil)
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		_ = sr.Destroy()
		_ = output.Destroy()
		_ = stateOut.Destroy()
		return nil, fmt.Errorf("vad: load silero model: %w", err)
	}

	return &Silero{
		cfg:      cfg,
		session:  session,
		input:    input,
		state:    state,
		sr:       sr,
		output:   output,
		stateOut: stateOut,
	}, nil
}

// Detect scans the buffer in 512-sample windows and reports whether any run
// of speech satisfies the configured minimum duration. Trailing partial
// windows are zero-padded.
func (v *Silero) Detect(ctx context.Context, pcm audio.PCM) (Verdict, error) {
	v.reset()

	minSpeech := int(v.cfg.MinSpeechSec * float64(pcm.SampleRate))
	minSilence := int(v.cfg.MinSilenceSec * float64(pcm.SampleRate))
	threshold := float32(v.cfg.Threshold)

	var padded [windowSamples]float32

	speechStart, speechEnd := -1, -1
	currentStart := -1
	silenceSamples := 0

	for offset := 0; offset < len(pcm.Samples); offset += windowSamples {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}

		chunk := pcm.Samples[offset:]
		if len(chunk) >= windowSamples {
			chunk = chunk[:windowSamples]
		} else {
			for i := range padded {
				padded[i] = 0
			}
			copy(padded[:], chunk)
			chunk = padded[:]
		}

		prob, err := v.speechProb(chunk)
		if err != nil {
			return Verdict{}, err
		}

		if prob >= threshold {
			if currentStart < 0 {
				currentStart = offset
			}
			silenceSamples = 0
		} else if currentStart >= 0 {
			silenceSamples += windowSamples
			if silenceSamples >= minSilence {
				end := offset - silenceSamples + windowSamples
				if end-currentStart >= minSpeech {
					if speechStart < 0 {
						speechStart = currentStart
					}
					speechEnd = end
				}
				currentStart = -1
				silenceSamples = 0
			}
		}
	}
	if currentStart >= 0 {
		end := len(pcm.Samples)
		if end-currentStart >= minSpeech {
			if speechStart < 0 {
				speechStart = currentStart
			}
			speechEnd = end
		}
	}

	if speechStart >= 0 {
		return Verdict{SpeechPresent: true, Start: speechStart, End: speechEnd}, nil
	}
	return Verdict{}, nil
}

// speechProb runs one 512-sample window through the model, carrying the
// recurrent state and 64-sample context across calls.
func (v *Silero) speechProb(chunk []float32) (float32, error) {
	if len(chunk) != windowSamples {
		return 0, errWindowSize
	}

	data := v.input.GetData()
	copy(data[:contextSamples], v.window[:])
	copy(data[contextSamples:], chunk)
	copy(v.window[:], data[inputSamples-contextSamples:])

	if err := v.session.Run(); err != nil {
		return 0, fmt.Errorf("vad: inference: %w", err)
	}

	copy(v.state.GetData(), v.stateOut.GetData())
	return v.output.GetData()[0], nil
}

func (v *Silero) reset() {
	for i := range v.window {
		v.window[i] = 0
	}
	v.state.ZeroContents()
}

// Close releases the ONNX session and tensors.
func (v *Silero) Close() error {
	err := v.session.Destroy()
	for _, t := range []ort.Value{v.input, v.state, v.sr, v.output, v.stateOut} {
		_ = t.Destroy()
	}
	return err
}
