// Package pipeline runs the audio processing chain
// decode -> VAD gate -> ASR -> segmentation -> embedding
// on a bounded worker pool shared by all sessions.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/voicegate-labs/voicegate-core/internal/asr"
	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/config"
	"github.com/voicegate-labs/voicegate-core/internal/embed"
	"github.com/voicegate-labs/voicegate-core/internal/segment"
	"github.com/voicegate-labs/voicegate-core/internal/vad"
)

// DigitEmbedding pairs one prompted digit with the unit vector extracted
// from its slice. A set may contain the same digit twice.
type DigitEmbedding struct {
	Digit  string
	Vector []float32
}

// EnrollResult is the outcome of processing one enrollment set.
type EnrollResult struct {
	ASRText    string
	Digits     string
	Embeddings []DigitEmbedding
}

// VerifyOutcome is the outcome of scoring one verification utterance.
type VerifyOutcome struct {
	ASRText     string
	Digits      string
	ASRMatched  bool
	DigitScores map[string]float64
	Average     float64
	ScoresValid bool // false when any per-digit score was NaN/Inf
}

// Processor owns the capability handles and the worker pool.
type Processor struct {
	cfg     config.AuthConfig
	decoder audio.Decoder
	vads    *handlePool[vad.Gate]
	asrs    *handlePool[asr.Engine]
	embeds  *handlePool[embed.Extractor]
	workers *workerPool
	log     *slog.Logger
}

// Workers returns the effective pool size for a configured value.
func Workers(cfg config.PipelineConfig) int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// New builds a Processor. One VAD, ASR and extractor handle per worker is
// expected; handles are checked out per call because they are stateful.
func New(cfg config.AuthConfig, workers int, decoder audio.Decoder, gates []vad.Gate, engines []asr.Engine, extractors []embed.Extractor, log *slog.Logger) (*Processor, error) {
	if len(gates) == 0 || len(engines) == 0 || len(extractors) == 0 {
		return nil, fmt.Errorf("pipeline: need at least one handle per capability")
	}
	wp, err := newWorkerPool(workers)
	if err != nil {
		return nil, err
	}
	return &Processor{
		cfg:     cfg,
		decoder: decoder,
		vads:    newHandlePool(gates),
		asrs:    newHandlePool(engines),
		embeds:  newHandlePool(extractors),
		workers: wp,
		log:     log,
	}, nil
}

// Close releases the worker pool. Handles are owned by the caller.
func (p *Processor) Close() {
	p.workers.release()
}

// ProcessEnrollment runs the full chain for one enrollment set and returns
// one embedding per prompted digit. A recognition that does not spell the
// prompt fails with segment.ErrMismatch and the recognized digits filled in.
func (p *Processor) ProcessEnrollment(ctx context.Context, blob []byte, want string) (EnrollResult, error) {
	var result EnrollResult

	pcm, recognized, tokens, err := p.recognize(ctx, blob)
	result.ASRText = recognized.Text
	result.Digits = asr.DigitString(recognized.Text)
	if err != nil {
		return result, err
	}

	slices, err := segment.Cut(pcm, tokens, want, p.segmentOptions())
	if err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	embeddings := make([]DigitEmbedding, 0, len(slices))
	for _, slice := range slices {
		vector, err := p.extract(ctx, audio.PCM{Samples: slice.Samples, SampleRate: pcm.SampleRate})
		if err != nil {
			return result, err
		}
		embeddings = append(embeddings, DigitEmbedding{Digit: slice.Digit, Vector: vector})
	}
	result.Embeddings = embeddings
	return result, nil
}

// ProcessVerify scores one verification utterance against the centroids.
// An ASR mismatch is not an error; it yields ASRMatched=false.
func (p *Processor) ProcessVerify(ctx context.Context, blob []byte, want string, centroids map[string][]float32) (VerifyOutcome, error) {
	var outcome VerifyOutcome

	pcm, recognized, tokens, err := p.recognize(ctx, blob)
	outcome.ASRText = recognized.Text
	outcome.Digits = asr.DigitString(recognized.Text)
	if err != nil {
		return outcome, err
	}

	slices, err := segment.Cut(pcm, tokens, want, p.segmentOptions())
	if err != nil {
		if outcome.Digits != want {
			outcome.ASRMatched = false
			return outcome, nil
		}
		return outcome, err
	}
	outcome.ASRMatched = true

	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	outcome.DigitScores = make(map[string]float64, len(slices))
	outcome.ScoresValid = true
	var sum float64
	for _, slice := range slices {
		vector, err := p.extract(ctx, audio.PCM{Samples: slice.Samples, SampleRate: pcm.SampleRate})
		if err != nil {
			return outcome, err
		}
		centroid, ok := centroids[slice.Digit]
		if !ok {
			return outcome, fmt.Errorf("pipeline: no centroid for digit %q", slice.Digit)
		}
		score := embed.Cosine(vector, centroid)
		if !embed.IsFinite(score) {
			score = 0
			outcome.ScoresValid = false
		}
		outcome.DigitScores[slice.Digit] = score
		sum += score
	}
	outcome.Average = sum / float64(len(slices))
	return outcome, nil
}

// recognize runs decode, the VAD gate and ASR, returning the decoded buffer,
// the raw result and its digit tokens.
func (p *Processor) recognize(ctx context.Context, blob []byte) (audio.PCM, asr.Result, []asr.Token, error) {
	pcm, err := p.decoder.Decode(ctx, blob)
	if err != nil {
		return audio.PCM{}, asr.Result{}, nil, err
	}

	var verdict vad.Verdict
	if err := p.withVAD(ctx, func(g vad.Gate) error {
		var detectErr error
		verdict, detectErr = g.Detect(ctx, pcm)
		return detectErr
	}); err != nil {
		return pcm, asr.Result{}, nil, err
	}
	if !verdict.SpeechPresent {
		return pcm, asr.Result{}, nil, fmt.Errorf("%w: no speech detected", audio.ErrInvalidAudio)
	}

	if err := ctx.Err(); err != nil {
		return pcm, asr.Result{}, nil, err
	}

	var result asr.Result
	if err := p.withASR(ctx, func(e asr.Engine) error {
		var recErr error
		result, recErr = e.Recognize(ctx, pcm)
		return recErr
	}); err != nil {
		return pcm, result, nil, err
	}

	return pcm, result, asr.DigitTokens(result), nil
}

func (p *Processor) extract(ctx context.Context, slice audio.PCM) ([]float32, error) {
	var vector []float32
	err := p.withExtractor(ctx, func(e embed.Extractor) error {
		v, extractErr := e.Extract(ctx, slice)
		if extractErr != nil {
			return extractErr
		}
		vector = embed.L2Normalize(v)
		return nil
	})
	return vector, err
}

func (p *Processor) withVAD(ctx context.Context, fn func(vad.Gate) error) error {
	g, err := p.vads.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.vads.release(g)
	var inner error
	if err := p.workers.run(ctx, func() { inner = fn(g) }); err != nil {
		return err
	}
	return inner
}

func (p *Processor) withASR(ctx context.Context, fn func(asr.Engine) error) error {
	e, err := p.asrs.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.asrs.release(e)
	var inner error
	if err := p.workers.run(ctx, func() { inner = fn(e) }); err != nil {
		return err
	}
	return inner
}

func (p *Processor) withExtractor(ctx context.Context, fn func(embed.Extractor) error) error {
	e, err := p.embeds.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.embeds.release(e)
	var inner error
	if err := p.workers.run(ctx, func() { inner = fn(e) }); err != nil {
		return err
	}
	return inner
}

func (p *Processor) segmentOptions() segment.Options {
	return segment.Options{
		PaddingSec: p.cfg.SegmentPaddingSec,
		NoOverlap:  p.cfg.SegmentNoOverlap,
	}
}
