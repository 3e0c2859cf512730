package segment

import (
	"errors"
	"testing"

	"github.com/voicegate-labs/voicegate-core/internal/asr"
	"github.com/voicegate-labs/voicegate-core/internal/audio"
)

func testPCM(seconds float64) audio.PCM {
	return audio.PCM{
		Samples:    make([]float32, int(seconds*audio.TargetSampleRate)),
		SampleRate: audio.TargetSampleRate,
	}
}

func digitTokens(digits string, perDigit float64) []asr.Token {
	var tokens []asr.Token
	for i, d := range digits {
		start := float64(i) * perDigit
		tokens = append(tokens, asr.Token{Text: string(d), Start: start, End: start + perDigit})
	}
	return tokens
}

func TestCutProducesOneSlicePerDigit(t *testing.T) {
	pcm := testPCM(2.0)
	slices, err := Cut(pcm, digitTokens("4326", 0.4), "4326", Options{PaddingSec: 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slices) != 4 {
		t.Fatalf("expected 4 slices, got %d", len(slices))
	}
	want := []string{"4", "3", "2", "6"}
	for i, s := range slices {
		if s.Digit != want[i] {
			t.Fatalf("slice %d: digit %q, want %q", i, s.Digit, want[i])
		}
		if len(s.Samples) == 0 {
			t.Fatalf("slice %d is empty", i)
		}
	}
}

func TestCutPaddingExtendsSlices(t *testing.T) {
	pcm := testPCM(2.0)
	tokens := digitTokens("43", 0.4)

	bare, err := Cut(pcm, tokens, "43", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	padded, err := Cut(pcm, tokens, "43", Options{PaddingSec: 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First slice starts at 0 so only the tail pad applies there.
	if len(padded[0].Samples) != len(bare[0].Samples)+1600 {
		t.Fatalf("first slice: got %d samples, want %d", len(padded[0].Samples), len(bare[0].Samples)+1600)
	}
	// Interior slice gains padding on both sides.
	if len(padded[1].Samples) != len(bare[1].Samples)+3200 {
		t.Fatalf("second slice: got %d samples, want %d", len(padded[1].Samples), len(bare[1].Samples)+3200)
	}
}

func TestCutAdjacentSlicesMayOverlap(t *testing.T) {
	pcm := testPCM(2.0)
	slices, err := Cut(pcm, digitTokens("43", 0.4), "43", Options{PaddingSec: 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstEnd := 0.4 + 0.1
	secondStart := 0.4 - 0.1
	if secondStart >= firstEnd {
		t.Fatal("test setup: slices should overlap")
	}
	// 0.5s worth of samples in slice 0 (0.0-0.5, head clamped at 0).
	if len(slices[0].Samples) != int(firstEnd*audio.TargetSampleRate) {
		t.Fatalf("expected overlap to be preserved, slice 0 has %d samples", len(slices[0].Samples))
	}
}

func TestCutNoOverlapMode(t *testing.T) {
	pcm := testPCM(2.0)
	slices, err := Cut(pcm, digitTokens("43", 0.4), "43", Options{PaddingSec: 0.1, NoOverlap: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Slice 0 must stop at slice 1's token start (0.4s).
	if len(slices[0].Samples) != int(0.4*audio.TargetSampleRate) {
		t.Fatalf("expected no-overlap clamp, slice 0 has %d samples", len(slices[0].Samples))
	}
}

func TestCutCountMismatch(t *testing.T) {
	pcm := testPCM(2.0)
	_, err := Cut(pcm, digitTokens("432", 0.4), "4326", Options{PaddingSec: 0.1})
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestCutContentMismatch(t *testing.T) {
	pcm := testPCM(2.0)
	_, err := Cut(pcm, digitTokens("4327", 0.4), "4326", Options{PaddingSec: 0.1})
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestCutClampsToBuffer(t *testing.T) {
	// Last token end plus padding would run past the buffer.
	pcm := testPCM(1.0)
	tokens := []asr.Token{{Text: "7", Start: 0.8, End: 0.98}}
	slices, err := Cut(pcm, tokens, "7", Options{PaddingSec: 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, max := len(slices[0].Samples), len(pcm.Samples); got > max {
		t.Fatalf("slice exceeds buffer: %d > %d", got, max)
	}
}
