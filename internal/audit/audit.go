// Package audit publishes session outcomes on the bus as operational
// telemetry. Events carry no audio, embeddings or PINs.
package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voicegate-labs/voicegate-core/internal/bus"
	"github.com/voicegate-labs/voicegate-core/internal/session"
)

const subjectPrefix = "voicegate.audit."

// Event is the wire form of one session outcome.
type Event struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	SpeakerID string    `json:"speaker_id"`
	Success   bool      `json:"success"`
	Method    string    `json:"method,omitempty"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits audit events. A nil Publisher drops everything, so the
// runtime can wire it unconditionally.
type Publisher struct {
	client *bus.Client
	log    *slog.Logger
}

func NewPublisher(client *bus.Client, log *slog.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

// Record converts a session outcome into an audit event and publishes it.
// Failures are logged, never surfaced to the session.
func (p *Publisher) Record(o session.Outcome) {
	if p == nil || p.client == nil {
		return
	}
	evt := Event{
		EventID:   uuid.NewString(),
		Kind:      o.Kind,
		SpeakerID: o.SpeakerID,
		Success:   o.Success,
		Method:    o.Method,
		Code:      o.Code,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn("failed to marshal audit event", slog.String("error", err.Error()))
		return
	}
	if err := p.client.Conn().Publish(subjectPrefix+o.Kind, data); err != nil {
		p.log.Warn("failed to publish audit event", slog.String("error", err.Error()))
	}
}
