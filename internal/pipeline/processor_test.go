package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/voicegate-labs/voicegate-core/internal/asr"
	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/config"
	"github.com/voicegate-labs/voicegate-core/internal/embed"
	"github.com/voicegate-labs/voicegate-core/internal/segment"
	"github.com/voicegate-labs/voicegate-core/internal/vad"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// rawDecoder treats the blob as two seconds of synthetic PCM derived from
// the blob bytes, so different blobs decode to different audio.
type rawDecoder struct{}

func (rawDecoder) Decode(ctx context.Context, blob []byte) (audio.PCM, error) {
	if err := ctx.Err(); err != nil {
		return audio.PCM{}, err
	}
	if len(blob) == 0 {
		return audio.PCM{}, audio.ErrDecode
	}
	samples := make([]float32, 2*audio.TargetSampleRate)
	for i := range samples {
		samples[i] = float32(blob[i%len(blob)])/512 - 0.25
	}
	return audio.PCM{Samples: samples, SampleRate: audio.TargetSampleRate}, nil
}

func newTestProcessor(t *testing.T, engine asr.Engine, extractor embed.Extractor) *Processor {
	t.Helper()
	cfg := config.Default().Auth
	p, err := New(cfg, 2, rawDecoder{},
		[]vad.Gate{&vad.Fake{Speech: true}},
		[]asr.Engine{engine},
		[]embed.Extractor{extractor},
		newLogger())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestProcessEnrollmentHappyPath(t *testing.T) {
	engine := &asr.Fake{Script: []asr.Result{asr.PlantDigits("4326")}}
	p := newTestProcessor(t, engine, &embed.Fake{})

	result, err := p.ProcessEnrollment(context.Background(), []byte("set-0"), "4326")
	if err != nil {
		t.Fatalf("process enrollment: %v", err)
	}
	if result.Digits != "4326" {
		t.Fatalf("expected digits 4326, got %q", result.Digits)
	}
	if len(result.Embeddings) != 4 {
		t.Fatalf("expected 4 embeddings, got %d", len(result.Embeddings))
	}
	want := []string{"4", "3", "2", "6"}
	for i, de := range result.Embeddings {
		if de.Digit != want[i] {
			t.Fatalf("embedding %d for digit %q, want %q", i, de.Digit, want[i])
		}
		var norm float64
		for _, x := range de.Vector {
			norm += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
			t.Fatalf("embedding %d not unit length: %f", i, math.Sqrt(norm))
		}
	}
}

func TestProcessEnrollmentMismatch(t *testing.T) {
	engine := &asr.Fake{Script: []asr.Result{asr.PlantDigits("4327")}}
	p := newTestProcessor(t, engine, &embed.Fake{})

	result, err := p.ProcessEnrollment(context.Background(), []byte("set-0"), "4326")
	if !errors.Is(err, segment.ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if result.Digits != "4327" {
		t.Fatalf("expected recognized digits in result, got %q", result.Digits)
	}
}

func TestProcessEnrollmentNoSpeech(t *testing.T) {
	cfg := config.Default().Auth
	p, err := New(cfg, 1, rawDecoder{},
		[]vad.Gate{&vad.Fake{Speech: false}},
		[]asr.Engine{&asr.Fake{Script: []asr.Result{asr.PlantDigits("4326")}}},
		[]embed.Extractor{&embed.Fake{}},
		newLogger())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	t.Cleanup(p.Close)

	_, err = p.ProcessEnrollment(context.Background(), []byte("set-0"), "4326")
	if !errors.Is(err, audio.ErrInvalidAudio) {
		t.Fatalf("expected ErrInvalidAudio, got %v", err)
	}
}

func TestProcessVerifyMatchScoresAllDigits(t *testing.T) {
	engine := &asr.Fake{Script: []asr.Result{asr.PlantDigits("4326")}}
	extractor := &embed.Fake{}
	p := newTestProcessor(t, engine, extractor)

	// Enroll-like pass to obtain centroids from the same fake audio.
	enrolled, err := p.ProcessEnrollment(context.Background(), []byte("probe"), "4326")
	if err != nil {
		t.Fatalf("prime centroids: %v", err)
	}
	centroids := make(map[string][]float32)
	for _, de := range enrolled.Embeddings {
		centroids[de.Digit] = de.Vector
	}
	for d := 0; d < 10; d++ {
		digit := string(rune('0' + d))
		if _, ok := centroids[digit]; !ok {
			centroids[digit] = make([]float32, extractor.Dim())
		}
	}

	engine.Script = []asr.Result{asr.PlantDigits("4326")}
	outcome, err := p.ProcessVerify(context.Background(), []byte("probe"), "4326", centroids)
	if err != nil {
		t.Fatalf("process verify: %v", err)
	}
	if !outcome.ASRMatched {
		t.Fatal("expected asr match")
	}
	if len(outcome.DigitScores) != 4 {
		t.Fatalf("expected 4 digit scores, got %d", len(outcome.DigitScores))
	}
	// Identical audio slices against their own embeddings score 1.
	if outcome.Average < 0.999 {
		t.Fatalf("expected self-similarity near 1, got %f", outcome.Average)
	}
	if !outcome.ScoresValid {
		t.Fatal("expected finite scores")
	}
}

func TestProcessVerifyASRMismatchIsNotError(t *testing.T) {
	engine := &asr.Fake{Script: []asr.Result{asr.PlantDigits("1111")}}
	p := newTestProcessor(t, engine, &embed.Fake{})

	outcome, err := p.ProcessVerify(context.Background(), []byte("probe"), "4326", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ASRMatched {
		t.Fatal("expected asr mismatch")
	}
	if outcome.Digits != "1111" {
		t.Fatalf("expected recognized digits, got %q", outcome.Digits)
	}
}

func TestProcessVerifyCancelled(t *testing.T) {
	engine := &asr.Fake{Script: []asr.Result{asr.PlantDigits("4326")}}
	p := newTestProcessor(t, engine, &embed.Fake{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ProcessVerify(ctx, []byte("probe"), "4326", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
