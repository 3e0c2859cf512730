// Package session drives the enrollment and verification state machines
// over a duplex channel mixing JSON control frames and binary audio.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voicegate-labs/voicegate-core/internal/asr"
	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/gallery"
	"github.com/voicegate-labs/voicegate-core/internal/pipeline"
	"github.com/voicegate-labs/voicegate-core/internal/protocol"
	"github.com/voicegate-labs/voicegate-core/internal/segment"
)

// Pipeline is the audio processing capability sessions depend on.
type Pipeline interface {
	ProcessEnrollment(ctx context.Context, blob []byte, want string) (pipeline.EnrollResult, error)
	ProcessVerify(ctx context.Context, blob []byte, want string, centroids map[string][]float32) (pipeline.VerifyOutcome, error)
}

// Store is the gallery capability sessions depend on.
type Store interface {
	Exists(ctx context.Context, speakerID string) (bool, error)
	Commit(ctx context.Context, speakerID, speakerName, pin string, centroids map[string][]float32) error
	Load(ctx context.Context, speakerID string) (gallery.Gallery, error)
	VerifyPIN(ctx context.Context, speakerID, pin string) (bool, error)
}

// Outcome is reported to the optional outcome hook when a session reaches a
// terminal state. Used for audit telemetry only.
type Outcome struct {
	Kind      string // "enrollment" or "verification"
	SpeakerID string
	Success   bool
	Method    string // "voice", "pin" or ""
	Code      string // terminal error code when Success is false
}

// Japanese client-facing messages.
const (
	msgTimeout            = "タイムアウトしました"
	msgAuthSuccess        = "認証成功"
	msgVoiceMismatch      = "声紋が一致しません"
	msgPromptMismatch     = "発話内容がプロンプトと一致しません"
	msgPINSuccess         = "PIN認証成功"
	msgPINMismatch        = "PINが一致しません"
	msgPINNotSet          = "PINが登録されていません"
	msgPINUnavailable     = "PIN認証は利用できません"
	msgRetrySet           = "聞き取れませんでした。もう一度、はっきりとお願いします"
	msgNextSet            = "OK! 次へ進みます"
	msgVoiceDone          = "音声登録完了! PINを設定してください"
	msgExpectBinaryAudio  = "音声データ（バイナリ）が期待されています"
	msgInvalidMessage     = "無効なメッセージです"
	msgInternalError      = "内部エラーが発生しました"
	msgProcessingFailed   = "音声を処理できませんでした"
	msgInvalidPINFormat   = "PINは4桁の数字で入力してください"
	msgEnrollmentFailed   = "登録に失敗しました"
	msgExpectStartEnroll  = "最初のメッセージはstart_enrollmentである必要があります"
	msgExpectStartVerify  = "最初のメッセージはstart_verifyである必要があります"
	msgExpectRegisterPIN  = "register_pinメッセージが期待されています"
	msgExpectVerifyPIN    = "verify_pinメッセージが期待されています"
)

func msgRetryLimit(max int) string {
	return fmt.Sprintf("リトライ上限(%d回)に達しました", max)
}

func msgSpeakerExists(id string) string {
	return fmt.Sprintf("Speaker '%s' は既に登録されています", id)
}

func msgSpeakerNotFound(id string) string {
	return fmt.Sprintf("Speaker '%s' は登録されていません", id)
}

// errIdleTimeout marks an idle-timer expiry as distinct from parent
// cancellation.
var errIdleTimeout = errors.New("session: idle timeout")

// readFrame reads the next inbound frame, resetting the idle timer. Expiry
// yields errIdleTimeout; parent cancellation is passed through.
func readFrame(ctx context.Context, ch Channel, idle time.Duration) (Frame, error) {
	frameCtx, cancel := context.WithTimeout(ctx, idle)
	defer cancel()

	frame, err := ch.ReadFrame(frameCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || frameCtx.Err() == context.DeadlineExceeded {
			return Frame{}, errIdleTimeout
		}
		return Frame{}, err
	}
	return frame, nil
}

// send writes one outbound event unless the session is already cancelled.
// A cancelled session must emit nothing further.
func send(ctx context.Context, ch Channel, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ch.WriteJSON(v)
}

// sendError emits a terminal or advisory error frame.
func sendError(ctx context.Context, ch Channel, code, message string) {
	_ = send(ctx, ch, protocol.NewError(code, message))
}

// classify maps a pipeline error to its client-visible code and whether the
// enrollment state machine may retry the current set.
func classify(err error) (code string, recoverable bool) {
	switch {
	case errors.Is(err, audio.ErrInvalidAudio):
		return protocol.CodeInvalidAudio, true
	case errors.Is(err, audio.ErrDecode):
		return protocol.CodeInvalidAudio, true
	case errors.Is(err, segment.ErrMismatch):
		return protocol.CodeSegmentationFailed, true
	case errors.Is(err, asr.ErrFailed):
		return protocol.CodeASRFailed, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", false
	default:
		return protocol.CodeInternalError, false
	}
}
