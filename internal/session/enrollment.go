package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicegate-labs/voicegate-core/internal/config"
	"github.com/voicegate-labs/voicegate-core/internal/embed"
	"github.com/voicegate-labs/voicegate-core/internal/gallery"
	"github.com/voicegate-labs/voicegate-core/internal/prompt"
	"github.com/voicegate-labs/voicegate-core/internal/protocol"
)

// galleryDigits is the alphabet every enrollment covers.
var galleryDigits = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// Enrollment drives one enrollment connection: prompts, per-set audio with
// retries, PIN registration and the atomic gallery commit.
type Enrollment struct {
	auth    config.AuthConfig
	idle    time.Duration
	pipe    Pipeline
	store   Store
	log     *slog.Logger
	outcome func(Outcome)
}

// NewEnrollment wires an enrollment session runner. outcome may be nil.
func NewEnrollment(auth config.AuthConfig, sess config.SessionConfig, pipe Pipeline, store Store, log *slog.Logger, outcome func(Outcome)) *Enrollment {
	return &Enrollment{
		auth:    auth,
		idle:    time.Duration(sess.IdleTimeoutSec) * time.Second,
		pipe:    pipe,
		store:   store,
		log:     log,
		outcome: outcome,
	}
}

// Run processes the connection until a terminal state, the client leaves or
// ctx is cancelled. It always returns with the channel closed.
func (e *Enrollment) Run(ctx context.Context, ch Channel) {
	defer ch.Close()

	speakerID, fail := e.run(ctx, ch)
	if fail != "" {
		e.report(Outcome{Kind: "enrollment", SpeakerID: speakerID, Code: fail})
	}
}

// run returns the speaker id (when known) and a terminal failure code, or ""
// on success / silent disconnect.
func (e *Enrollment) run(ctx context.Context, ch Channel) (string, string) {
	start, code := e.awaitStart(ctx, ch)
	if code != "" || start == nil {
		return "", code
	}
	speakerID := start.SpeakerID

	exists, err := e.store.Exists(ctx, speakerID)
	if err != nil {
		e.log.Error("speaker existence check failed", slog.String("error", err.Error()))
		sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
		return speakerID, protocol.CodeInternalError
	}
	if exists {
		sendError(ctx, ch, protocol.CodeSpeakerAlreadyExists, msgSpeakerExists(speakerID))
		return speakerID, protocol.CodeSpeakerAlreadyExists
	}

	prompts, err := prompt.Balanced()
	if err != nil {
		e.log.Error("prompt generation failed", slog.String("error", err.Error()))
		sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
		return speakerID, protocol.CodeInternalError
	}

	if err := send(ctx, ch, protocol.Prompts{
		Type:       protocol.TypePrompts,
		SpeakerID:  speakerID,
		Prompts:    prompts,
		TotalSets:  len(prompts),
		CurrentSet: 0,
	}); err != nil {
		return speakerID, ""
	}

	accumulated := make(map[string][][]float32, len(galleryDigits))
	for _, d := range galleryDigits {
		accumulated[d] = nil
	}

	if code := e.collectSets(ctx, ch, prompts, accumulated); code != "" {
		return speakerID, code
	}

	pin, code := e.awaitPIN(ctx, ch)
	if code != "" {
		return speakerID, code
	}

	centroids, err := computeCentroids(accumulated)
	if err != nil {
		e.log.Error("centroid invariant violated", slog.String("error", err.Error()))
		sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
		return speakerID, protocol.CodeInternalError
	}

	if err := e.store.Commit(ctx, speakerID, start.SpeakerName, pin, centroids); err != nil {
		if errors.Is(err, gallery.ErrSpeakerExists) {
			sendError(ctx, ch, protocol.CodeSpeakerAlreadyExists, msgSpeakerExists(speakerID))
			return speakerID, protocol.CodeSpeakerAlreadyExists
		}
		e.log.Error("gallery commit failed", slog.String("error", err.Error()))
		sendError(ctx, ch, protocol.CodeEnrollmentFailed, msgEnrollmentFailed)
		return speakerID, protocol.CodeEnrollmentFailed
	}

	_ = send(ctx, ch, protocol.EnrollmentComplete{
		Type:             protocol.TypeEnrollmentComplete,
		SpeakerID:        speakerID,
		RegisteredDigits: append([]string(nil), galleryDigits...),
		HasPIN:           pin != "",
		Status:           "registered",
	})
	e.report(Outcome{Kind: "enrollment", SpeakerID: speakerID, Success: true})
	return speakerID, ""
}

// awaitStart reads the opening start_enrollment frame.
func (e *Enrollment) awaitStart(ctx context.Context, ch Channel) (*protocol.StartEnrollment, string) {
	frame, err := readFrame(ctx, ch, e.idle)
	if err != nil {
		if errors.Is(err, errIdleTimeout) {
			sendError(ctx, ch, protocol.CodeTimeout, msgTimeout)
			return nil, protocol.CodeTimeout
		}
		return nil, ""
	}
	if frame.Type != FrameText {
		sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectStartEnroll)
		return nil, protocol.CodeInvalidMessage
	}

	var start protocol.StartEnrollment
	if err := json.Unmarshal(frame.Data, &start); err != nil || start.Type != protocol.TypeStartEnrollment || start.SpeakerID == "" {
		sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectStartEnroll)
		return nil, protocol.CodeInvalidMessage
	}
	return &start, ""
}

// collectSets runs the AWAITING_AUDIO loop over all prompt sets. The server
// index is authoritative; a set advances only on an accepted utterance.
func (e *Enrollment) collectSets(ctx context.Context, ch Channel, prompts []string, accumulated map[string][][]float32) string {
	retries := 0
	for set := 0; set < len(prompts); set++ {
		for {
			frame, err := readFrame(ctx, ch, e.idle)
			if err != nil {
				if errors.Is(err, errIdleTimeout) {
					sendError(ctx, ch, protocol.CodeTimeout, msgTimeout)
					return protocol.CodeTimeout
				}
				return ""
			}
			if frame.Type != FrameBinary {
				sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectBinaryAudio)
				continue
			}

			result, err := e.pipe.ProcessEnrollment(ctx, frame.Data, prompts[set])
			if err == nil {
				for _, de := range result.Embeddings {
					accumulated[de.Digit] = append(accumulated[de.Digit], de.Vector)
				}
				remaining := len(prompts) - set - 1
				message := msgNextSet
				if remaining == 0 {
					message = msgVoiceDone
				}
				if err := send(ctx, ch, protocol.ASRResult{
					Type:          protocol.TypeASRResult,
					Success:       true,
					ASRResult:     result.Digits,
					SetIndex:      set,
					RemainingSets: remaining,
					Message:       message,
				}); err != nil {
					return ""
				}
				retries = 0
				break
			}

			code, recoverable := classify(err)
			if code == "" {
				// Cancellation; quiesce without further events.
				return ""
			}
			if !recoverable {
				e.log.Error("enrollment pipeline failed", slog.String("error", err.Error()))
				sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
				return protocol.CodeInternalError
			}

			retries++
			if retries >= e.auth.MaxRetriesPerSet {
				sendError(ctx, ch, protocol.CodeMaxRetriesExceeded, msgRetryLimit(e.auth.MaxRetriesPerSet))
				return protocol.CodeMaxRetriesExceeded
			}
			if err := send(ctx, ch, protocol.ASRResult{
				Type:          protocol.TypeASRResult,
				Success:       false,
				ASRResult:     result.Digits,
				SetIndex:      set,
				RemainingSets: len(prompts) - set,
				RetryCount:    retries,
				MaxRetries:    e.auth.MaxRetriesPerSet,
				Message:       msgRetrySet,
			}); err != nil {
				return ""
			}
		}
	}
	return ""
}

// awaitPIN reads register_pin frames until a valid (or empty) PIN arrives.
// An invalid PIN re-prompts rather than terminating.
func (e *Enrollment) awaitPIN(ctx context.Context, ch Channel) (string, string) {
	for {
		frame, err := readFrame(ctx, ch, e.idle)
		if err != nil {
			if errors.Is(err, errIdleTimeout) {
				sendError(ctx, ch, protocol.CodeTimeout, msgTimeout)
				return "", protocol.CodeTimeout
			}
			return "", ""
		}
		if frame.Type != FrameText {
			sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectRegisterPIN)
			continue
		}

		var msg protocol.RegisterPIN
		if err := json.Unmarshal(frame.Data, &msg); err != nil || msg.Type != protocol.TypeRegisterPIN {
			sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectRegisterPIN)
			continue
		}
		if msg.PIN == "" {
			return "", ""
		}
		if err := gallery.ValidatePINFormat(msg.PIN); err != nil {
			sendError(ctx, ch, protocol.CodeInvalidPIN, msgInvalidPINFormat)
			continue
		}
		return msg.PIN, ""
	}
}

// computeCentroids enforces the two-samples-per-digit invariant and returns
// the normalized mean vector for every digit.
func computeCentroids(accumulated map[string][][]float32) (map[string][]float32, error) {
	centroids := make(map[string][]float32, len(galleryDigits))
	for _, digit := range galleryDigits {
		vectors := accumulated[digit]
		if len(vectors) != 2 {
			return nil, fmt.Errorf("digit %q has %d samples, want 2", digit, len(vectors))
		}
		c, err := embed.Centroid(vectors)
		if err != nil {
			return nil, err
		}
		centroids[digit] = c
	}
	return centroids, nil
}

func (e *Enrollment) report(o Outcome) {
	if e.outcome != nil {
		e.outcome(o)
	}
}
