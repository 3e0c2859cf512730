package vad

import (
	"context"
	"math"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/config"
)

// RMS is a pure-Go energy gate with hysteresis, for deployments without the
// Silero model. It scans 20 ms frames and tracks the first and last frame
// whose RMS level crosses the speech threshold.
type RMS struct {
	cfg config.VADConfig

	speechLevel  float64
	silenceLevel float64
}

func NewRMS(cfg config.VADConfig) *RMS {
	return &RMS{
		cfg:          cfg,
		speechLevel:  0.015,
		silenceLevel: 0.008,
	}
}

func (v *RMS) Detect(ctx context.Context, pcm audio.PCM) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	frame := pcm.SampleRate / 50 // 20ms
	if frame <= 0 {
		frame = 320
	}
	minSpeech := int(v.cfg.MinSpeechSec * float64(pcm.SampleRate))

	speechStart, speechEnd := -1, -1
	currentStart := -1
	inSpeech := false

	for offset := 0; offset+frame <= len(pcm.Samples); offset += frame {
		level := rmsLevel(pcm.Samples[offset : offset+frame])
		if inSpeech {
			if level < v.silenceLevel {
				inSpeech = false
				if currentStart >= 0 && offset-currentStart >= minSpeech {
					if speechStart < 0 {
						speechStart = currentStart
					}
					speechEnd = offset
				}
				currentStart = -1
			}
		} else if level >= v.speechLevel {
			inSpeech = true
			currentStart = offset
		}
	}
	if inSpeech && currentStart >= 0 && len(pcm.Samples)-currentStart >= minSpeech {
		if speechStart < 0 {
			speechStart = currentStart
		}
		speechEnd = len(pcm.Samples)
	}

	if speechStart >= 0 {
		return Verdict{SpeechPresent: true, Start: speechStart, End: speechEnd}, nil
	}
	return Verdict{}, nil
}

func rmsLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
