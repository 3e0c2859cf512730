package audio

import (
	"bytes"
	"context"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/voicegate-labs/voicegate-core/internal/config"
)

// ContainerDecoder decodes browser-recorded WebM/Opus blobs and 16-bit PCM
// WAV files into mono 16 kHz float32 buffers. The duration window is enforced
// after decoding so that truncated containers still produce a sample count.
type ContainerDecoder struct {
	cfg config.AudioConfig
}

func NewContainerDecoder(cfg config.AudioConfig) *ContainerDecoder {
	return &ContainerDecoder{cfg: cfg}
}

var (
	webmMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	riffMagic = []byte("RIFF")
)

func (d *ContainerDecoder) Decode(ctx context.Context, blob []byte) (PCM, error) {
	if len(blob) == 0 {
		return PCM{}, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return PCM{}, err
	}

	var (
		pcm PCM
		err error
	)
	switch {
	case bytes.HasPrefix(blob, webmMagic):
		pcm, err = decodeWebM(blob)
	case bytes.HasPrefix(blob, riffMagic):
		pcm, err = decodeWAV(blob)
	default:
		return PCM{}, fmt.Errorf("%w: unrecognized container", ErrDecode)
	}
	if err != nil {
		return PCM{}, err
	}

	if err := ctx.Err(); err != nil {
		return PCM{}, err
	}

	sec := pcm.Seconds()
	if sec < d.cfg.MinDurationSec {
		return PCM{}, fmt.Errorf("%w: %.2fs is shorter than %.2fs", ErrInvalidAudio, sec, d.cfg.MinDurationSec)
	}
	if sec > d.cfg.MaxDurationSec {
		return PCM{}, fmt.Errorf("%w: %.2fs is longer than %.2fs", ErrInvalidAudio, sec, d.cfg.MaxDurationSec)
	}
	return pcm, nil
}

// resampleTo16k converts mono float64 samples at srcRate to 16 kHz float32.
func resampleTo16k(samples []float64, srcRate int) ([]float32, error) {
	if srcRate == TargetSampleRate {
		out := make([]float32, len(samples))
		for i, s := range samples {
			out[i] = float32(s)
		}
		return out, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(TargetSampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	resampled, err := rs.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample %d->%d: %w", srcRate, TargetSampleRate, err)
	}

	out := make([]float32, len(resampled))
	for i, s := range resampled {
		switch {
		case s > 1.0:
			out[i] = 1.0
		case s < -1.0:
			out[i] = -1.0
		default:
			out[i] = float32(s)
		}
	}
	return out, nil
}
