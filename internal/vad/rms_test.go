package vad

import (
	"context"
	"math"
	"testing"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/config"
)

func testVADConfig() config.VADConfig {
	return config.VADConfig{Mode: "rms", Threshold: 0.5, MinSpeechSec: 0.25, MinSilenceSec: 0.5}
}

func tonePCM(amplitude float64, seconds float64) audio.PCM {
	n := int(seconds * audio.TargetSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*200*float64(i)/audio.TargetSampleRate))
	}
	return audio.PCM{Samples: samples, SampleRate: audio.TargetSampleRate}
}

func TestRMSDetectsTone(t *testing.T) {
	gate := NewRMS(testVADConfig())
	verdict, err := gate.Detect(context.Background(), tonePCM(0.5, 2.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.SpeechPresent {
		t.Fatal("expected speech verdict for loud tone")
	}
	if verdict.End <= verdict.Start {
		t.Fatalf("invalid bounds: %d..%d", verdict.Start, verdict.End)
	}
}

func TestRMSRejectsSilence(t *testing.T) {
	gate := NewRMS(testVADConfig())
	verdict, err := gate.Detect(context.Background(), tonePCM(0, 2.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.SpeechPresent {
		t.Fatal("expected no speech for silence")
	}
}

func TestRMSIgnoresShortBurst(t *testing.T) {
	// A 100ms burst is below the 250ms minimum speech duration.
	gate := NewRMS(testVADConfig())
	pcm := tonePCM(0, 2.0)
	burst := tonePCM(0.5, 0.1)
	copy(pcm.Samples[8000:], burst.Samples)
	verdict, err := gate.Detect(context.Background(), pcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.SpeechPresent {
		t.Fatal("expected short burst to be ignored")
	}
}

func TestRMSCancelled(t *testing.T) {
	gate := NewRMS(testVADConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gate.Detect(ctx, tonePCM(0.5, 1.0)); err == nil {
		t.Fatal("expected context error")
	}
}
