package asr

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/fbank"
)

const (
	blankID = 0

	// The encoder subsamples fbank frames 6x, so one output frame covers
	// 60 ms of audio. Used to place token timestamps.
	outputFrameSec = 0.06

	// End time of the trailing token when no successor bounds it.
	lastTokenTailSec = 0.3
)

// SenseVoice is an offline CTC recognizer backed by an ONNX model.
// Not safe for concurrent use; the pipeline checks instances out of a pool.
type SenseVoice struct {
	session  *ort.DynamicAdvancedSession
	tokens   []string
	fbankCfg fbank.Config
}

// NewSenseVoice loads the recognizer model and its token table.
// ort.InitializeEnvironment must have been called.
func NewSenseVoice(modelPath, tokensPath string) (*SenseVoice, error) {
	tokens, err := loadTokenTable(tokensPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"speech", "speech_lengths"},
		[]string{"logits"},
		nil)
	if err != nil {
		return nil, fmt.Errorf("asr: load model: %w", err)
	}

	return &SenseVoice{
		session:  session,
		tokens:   tokens,
		fbankCfg: fbank.DefaultConfig(),
	}, nil
}

// loadTokenTable reads a tokens.txt mapping of "token id" lines.
func loadTokenTable(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asr: open tokens: %w", err)
	}
	defer f.Close()

	byID := make(map[int]string)
	maxID := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
		if err != nil {
			continue
		}
		byID[id] = line[:idx]
		if id > maxID {
			maxID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("asr: read tokens: %w", err)
	}
	if len(byID) == 0 {
		return nil, fmt.Errorf("asr: empty token table %s", path)
	}

	tokens := make([]string, maxID+1)
	for id, tok := range byID {
		tokens[id] = tok
	}
	return tokens, nil
}

// Recognize computes fbank features, runs the encoder and greedy-decodes the
// CTC output into tokens with frame-derived timestamps.
func (s *SenseVoice) Recognize(ctx context.Context, pcm audio.PCM) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	frames := fbank.Compute(pcm.Samples, s.fbankCfg)
	if len(frames) == 0 {
		return Result{}, fmt.Errorf("%w: audio too short for features", ErrFailed)
	}

	numFrames := len(frames)
	numMels := s.fbankCfg.NumMels
	flat := make([]float32, numFrames*numMels)
	for i, frame := range frames {
		copy(flat[i*numMels:], frame)
	}

	speech, err := ort.NewTensor(ort.NewShape(1, int64(numFrames), int64(numMels)), flat)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	defer speech.Destroy()

	lengths, err := ort.NewTensor(ort.NewShape(1), []int32{int32(numFrames)})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	defer lengths.Destroy()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{speech, lengths}, outputs); err != nil {
		return Result{}, fmt.Errorf("%w: inference: %v", ErrFailed, err)
	}
	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Result{}, fmt.Errorf("%w: unexpected output type", ErrFailed)
	}
	defer logits.Destroy()

	shape := logits.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return Result{}, fmt.Errorf("%w: unexpected logits shape %v", ErrFailed, shape)
	}
	outFrames := int(shape[1])
	vocab := int(shape[2])

	return s.greedyDecode(logits.GetData(), outFrames, vocab), nil
}

// greedyDecode collapses repeated argmax ids and drops the blank.
func (s *SenseVoice) greedyDecode(data []float32, outFrames, vocab int) Result {
	var (
		result Result
		text   strings.Builder
		prev   = -1
	)
	for t := 0; t < outFrames; t++ {
		row := data[t*vocab : (t+1)*vocab]
		best := 0
		for v := 1; v < vocab; v++ {
			if row[v] > row[best] {
				best = v
			}
		}
		if best == blankID || best == prev {
			prev = best
			continue
		}
		prev = best

		tok := ""
		if best < len(s.tokens) {
			tok = s.tokens[best]
		}
		if tok == "" {
			continue
		}
		start := float64(t) * outputFrameSec
		result.Tokens = append(result.Tokens, Token{Text: tok, Start: start, End: start})
		text.WriteString(tok)
	}

	// Each token ends where the next begins; the last gets a fixed tail.
	for i := range result.Tokens {
		if i+1 < len(result.Tokens) {
			result.Tokens[i].End = result.Tokens[i+1].Start
		} else {
			result.Tokens[i].End = result.Tokens[i].Start + lastTokenTailSec
		}
	}

	result.Text = strings.TrimSpace(text.String())
	return result
}

// Close releases the ONNX session.
func (s *SenseVoice) Close() error {
	return s.session.Destroy()
}
