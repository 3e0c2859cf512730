package fbank

import (
	"math"
	"testing"
)

func TestComputeShape(t *testing.T) {
	cfg := DefaultConfig()
	pcm := make([]float32, 16000) // 1s
	for i := range pcm {
		pcm[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	frames := Compute(pcm, cfg)
	wantFrames := (len(pcm)-cfg.FrameLength)/cfg.FrameShift + 1
	if len(frames) != wantFrames {
		t.Fatalf("expected %d frames, got %d", wantFrames, len(frames))
	}
	for i, f := range frames {
		if len(f) != cfg.NumMels {
			t.Fatalf("frame %d: expected %d mels, got %d", i, cfg.NumMels, len(f))
		}
	}
}

func TestComputeTooShort(t *testing.T) {
	if frames := Compute(make([]float32, 100), DefaultConfig()); frames != nil {
		t.Fatalf("expected nil for sub-frame input, got %d frames", len(frames))
	}
}

func TestToneConcentratesEnergy(t *testing.T) {
	cfg := DefaultConfig()
	pcm := make([]float32, 16000)
	for i := range pcm {
		pcm[i] = float32(0.5 * math.Sin(2*math.Pi*1000*float64(i)/16000))
	}
	frames := Compute(pcm, cfg)
	if len(frames) == 0 {
		t.Fatal("no frames")
	}

	// The peak mel channel for a 1 kHz tone lies inside the band, not at either edge.
	mid := frames[len(frames)/2]
	var peak float32 = mid[0]
	peakIdx := 0
	for m, v := range mid {
		if v > peak {
			peak = v
			peakIdx = m
		}
	}
	if peakIdx == 0 || peakIdx == cfg.NumMels-1 {
		t.Fatalf("expected mid-band peak for 1 kHz tone, got channel %d", peakIdx)
	}
}
