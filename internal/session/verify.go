package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/voicegate-labs/voicegate-core/internal/config"
	"github.com/voicegate-labs/voicegate-core/internal/gallery"
	"github.com/voicegate-labs/voicegate-core/internal/prompt"
	"github.com/voicegate-labs/voicegate-core/internal/protocol"
)

// Verification drives one verification connection: challenge, voice scoring
// and the PIN fallback.
type Verification struct {
	auth    config.AuthConfig
	idle    time.Duration
	pipe    Pipeline
	store   Store
	log     *slog.Logger
	outcome func(Outcome)
}

// NewVerification wires a verification session runner. outcome may be nil.
func NewVerification(auth config.AuthConfig, sess config.SessionConfig, pipe Pipeline, store Store, log *slog.Logger, outcome func(Outcome)) *Verification {
	return &Verification{
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
func (v *Verification) Run(ctx context.Context, ch Channel) {
	defer ch.Close()
	v.run(ctx, ch)
}

func (v *Verification) run(ctx context.Context, ch Channel) {
	start := v.awaitStart(ctx, ch)
	if start == nil {
		return
	}
	speakerID := start.SpeakerID

	g, err := v.store.Load(ctx, speakerID)
	if err != nil {
		if errors.Is(err, gallery.ErrSpeakerNotFound) {
			sendError(ctx, ch, protocol.CodeSpeakerNotFound, msgSpeakerNotFound(speakerID))
			v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeSpeakerNotFound})
			return
		}
		v.log.Error("gallery load failed", slog.String("error", err.Error()))
		sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
		v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeInternalError})
		return
	}
	canFallback := g.Speaker.HasPIN

	challenge, err := prompt.Challenge(v.auth.ChallengeMinLength, v.auth.ChallengeMaxLength)
	if err != nil {
		v.log.Error("challenge generation failed", slog.String("error", err.Error()))
		sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
		v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeInternalError})
		return
	}

	if err := send(ctx, ch, protocol.Prompt{
		Type:   protocol.TypePrompt,
		Prompt: challenge,
		Length: len(challenge),
	}); err != nil {
		return
	}

	frame, err := readFrame(ctx, ch, v.idle)
	if err != nil {
		if errors.Is(err, errIdleTimeout) {
			sendError(ctx, ch, protocol.CodeTimeout, msgTimeout)
			v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeTimeout})
		}
		return
	}
	if frame.Type != FrameBinary {
		sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectBinaryAudio)
		v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeInvalidMessage})
		return
	}

	outcome, err := v.pipe.ProcessVerify(ctx, frame.Data, challenge, g.Centroids)
	if err != nil {
		code, _ := classify(err)
		if code == "" {
			return
		}
		if code == protocol.CodeInternalError {
			v.log.Error("verification pipeline failed", slog.String("error", err.Error()))
			sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
			v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeInternalError})
			return
		}
		// Recoverable pipeline failures terminate a verification attempt
		// with a failed result; the PIN fallback remains available.
		if v.failVerify(ctx, ch, speakerID, protocol.VerifyResult{
			Message: msgProcessingFailed,
		}, canFallback) {
			v.awaitPIN(ctx, ch, speakerID)
		}
		return
	}

	if !outcome.ASRMatched {
		_ = send(ctx, ch, protocol.VerifyResult{
			Type:          protocol.TypeVerifyResult,
			Authenticated: false,
			SpeakerID:     speakerID,
			ASRResult:     outcome.Digits,
			ASRMatched:    false,
			Message:       msgPromptMismatch,
		})
		v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: "ASR_MISMATCH"})
		return
	}

	similarity := outcome.Average
	authenticated := outcome.ScoresValid && similarity >= v.auth.SimilarityThreshold

	if authenticated {
		_ = send(ctx, ch, protocol.VerifyResult{
			Type:            protocol.TypeVerifyResult,
			Authenticated:   true,
			SpeakerID:       speakerID,
			ASRResult:       outcome.Digits,
			ASRMatched:      true,
			VoiceSimilarity: &similarity,
			DigitScores:     outcome.DigitScores,
			AuthMethod:      "voice",
			Message:         msgAuthSuccess,
		})
		v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Success: true, Method: "voice"})
		return
	}

	if v.failVerify(ctx, ch, speakerID, protocol.VerifyResult{
		ASRResult:       outcome.Digits,
		ASRMatched:      true,
		VoiceSimilarity: &similarity,
		DigitScores:     outcome.DigitScores,
		Message:         msgVoiceMismatch,
	}, canFallback) {
		v.awaitPIN(ctx, ch, speakerID)
	}
}

// failVerify emits a failed voice result and reports whether the session
// continues into the PIN fallback.
func (v *Verification) failVerify(ctx context.Context, ch Channel, speakerID string, result protocol.VerifyResult, canFallback bool) bool {
	result.Type = protocol.TypeVerifyResult
	result.Authenticated = false
	result.SpeakerID = speakerID
	if canFallback {
		result.CanFallbackToPIN = true
	}
	if err := send(ctx, ch, result); err != nil {
		return false
	}
	if !canFallback {
		v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: "VOICE_MISMATCH"})
	}
	return canFallback
}

// awaitPIN runs the AWAITING_PIN loop. A wrong PIN re-advertises the
// fallback; a correct one authenticates with method "pin".
func (v *Verification) awaitPIN(ctx context.Context, ch Channel, speakerID string) {
	for {
		frame, err := readFrame(ctx, ch, v.idle)
		if err != nil {
			if errors.Is(err, errIdleTimeout) {
				sendError(ctx, ch, protocol.CodeTimeout, msgTimeout)
				v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeTimeout})
			}
			return
		}
		if frame.Type != FrameText {
			sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectVerifyPIN)
			continue
		}

		var msg protocol.VerifyPIN
		if err := json.Unmarshal(frame.Data, &msg); err != nil || msg.Type != protocol.TypeVerifyPIN {
			sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectVerifyPIN)
			continue
		}

		ok, err := v.store.VerifyPIN(ctx, speakerID, msg.PIN)
		if err != nil {
			if errors.Is(err, gallery.ErrPINNotSet) {
				sendError(ctx, ch, protocol.CodePINNotSet, msgPINNotSet)
				v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodePINNotSet})
				return
			}
			if ctx.Err() != nil {
				return
			}
			v.log.Error("pin verification failed", slog.String("error", err.Error()))
			sendError(ctx, ch, protocol.CodeInternalError, msgInternalError)
			v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Code: protocol.CodeInternalError})
			return
		}

		if ok {
			_ = send(ctx, ch, protocol.VerifyResult{
				Type:          protocol.TypeVerifyResult,
				Authenticated: true,
				SpeakerID:     speakerID,
				AuthMethod:    "pin",
				Message:       msgPINSuccess,
			})
			v.report(Outcome{Kind: "verification", SpeakerID: speakerID, Success: true, Method: "pin"})
			return
		}

		if err := send(ctx, ch, protocol.VerifyResult{
			Type:             protocol.TypeVerifyResult,
			Authenticated:    false,
			SpeakerID:        speakerID,
			CanFallbackToPIN: true,
			Message:          msgPINMismatch,
		}); err != nil {
			return
		}
	}
}

// awaitStart reads the opening start_verify frame.
func (v *Verification) awaitStart(ctx context.Context, ch Channel) *protocol.StartVerify {
	frame, err := readFrame(ctx, ch, v.idle)
	if err != nil {
		if errors.Is(err, errIdleTimeout) {
			sendError(ctx, ch, protocol.CodeTimeout, msgTimeout)
			v.report(Outcome{Kind: "verification", Code: protocol.CodeTimeout})
		}
		return nil
	}
	if frame.Type != FrameText {
		sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectStartVerify)
		return nil
	}

	var start protocol.StartVerify
	if err := json.Unmarshal(frame.Data, &start); err != nil || start.Type != protocol.TypeStartVerify || start.SpeakerID == "" {
		sendError(ctx, ch, protocol.CodeInvalidMessage, msgExpectStartVerify)
		return nil
	}
	return &start
}

func (v *Verification) report(o Outcome) {
	if v.outcome != nil {
		v.outcome(o)
	}
}
