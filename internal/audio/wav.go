package audio

import (
	"bytes"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"
)

// decodeWAV reads a 16-bit PCM WAV blob, downmixes to mono and resamples to
// 16 kHz.
func decodeWAV(blob []byte) (PCM, error) {
	reader := wav.NewReader(bytes.NewReader(blob))
	format, err := reader.Format()
	if err != nil {
		return PCM{}, fmt.Errorf("%w: wav header: %v", ErrDecode, err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		return PCM{}, fmt.Errorf("%w: unsupported wav format %d", ErrDecode, format.AudioFormat)
	}
	if format.BitsPerSample != 16 {
		return PCM{}, fmt.Errorf("%w: unsupported wav bit depth %d", ErrDecode, format.BitsPerSample)
	}

	channels := int(format.NumChannels)
	var mono []float64
	for {
		samples, err := reader.ReadSamples(4096)
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, fmt.Errorf("%w: wav read: %v", ErrDecode, err)
		}
		for _, s := range samples {
			var sum float64
			for ch := 0; ch < channels; ch++ {
				sum += reader.FloatValue(s, uint(ch))
			}
			mono = append(mono, sum/float64(channels))
		}
	}
	if len(mono) == 0 {
		return PCM{}, fmt.Errorf("%w: no audio samples decoded", ErrDecode)
	}

	out, err := resampleTo16k(mono, int(format.SampleRate))
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return PCM{Samples: out, SampleRate: TargetSampleRate}, nil
}
