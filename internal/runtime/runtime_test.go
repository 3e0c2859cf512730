package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate-labs/voicegate-core/internal/config"
	"github.com/voicegate-labs/voicegate-core/internal/gallery"
	"github.com/voicegate-labs/voicegate-core/internal/pipeline"
	"github.com/voicegate-labs/voicegate-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// echoPipe accepts every prompt and fabricates per-digit embeddings.
type echoPipe struct{}

func (echoPipe) ProcessEnrollment(ctx context.Context, blob []byte, want string) (pipeline.EnrollResult, error) {
	result := pipeline.EnrollResult{ASRText: want, Digits: want}
	for _, d := range want {
		v := make([]float32, 8)
		v[int(d-'0')%8] = 1
		result.Embeddings = append(result.Embeddings, pipeline.DigitEmbedding{Digit: string(d), Vector: v})
	}
	return result, nil
}

func (echoPipe) ProcessVerify(ctx context.Context, blob []byte, want string, centroids map[string][]float32) (pipeline.VerifyOutcome, error) {
	scores := make(map[string]float64)
	for _, d := range want {
		scores[string(d)] = 0.92
	}
	return pipeline.VerifyOutcome{
		Digits: want, ASRMatched: true, DigitScores: scores, Average: 0.92, ScoresValid: true,
	}, nil
}

type memStore struct {
	mu       sync.Mutex
	speakers map[string]map[string][]float32
	pins     map[string]string
}

func newMemStore() *memStore {
	return &memStore{speakers: map[string]map[string][]float32{}, pins: map[string]string{}}
}

func (s *memStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.speakers[id]
	return ok, nil
}

func (s *memStore) Commit(ctx context.Context, id, name, pin string, centroids map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.speakers[id]; ok {
		return gallery.ErrSpeakerExists
	}
	s.speakers[id] = centroids
	s.pins[id] = pin
	return nil
}

func (s *memStore) Load(ctx context.Context, id string) (gallery.Gallery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	centroids, ok := s.speakers[id]
	if !ok {
		return gallery.Gallery{}, gallery.ErrSpeakerNotFound
	}
	return gallery.Gallery{
		Speaker:   gallery.Speaker{SpeakerID: id, HasPIN: s.pins[id] != ""},
		Centroids: centroids,
	}, nil
}

func (s *memStore) VerifyPIN(ctx context.Context, id, pin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pins[id]
	if !ok {
		return false, gallery.ErrSpeakerNotFound
	}
	if stored == "" {
		return false, gallery.ErrPINNotSet
	}
	return stored == pin, nil
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode message %q: %v", data, err)
	}
	return m
}

func TestEnrollmentOverWebSocket(t *testing.T) {
	cfg := config.Default()
	store := newMemStore()
	rt := New(cfg, newLogger(), Deps{Pipeline: echoPipe{}, Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server := httptest.NewServer(rt.handleEnroll(ctx))
	defer server.Close()

	conn := dialWS(t, server.URL)

	if err := conn.WriteJSON(protocol.StartEnrollment{Type: protocol.TypeStartEnrollment, SpeakerID: "u1"}); err != nil {
		t.Fatalf("send start: %v", err)
	}

	prompts := readMessage(t, conn)
	if prompts["type"] != "prompts" {
		t.Fatalf("expected prompts, got %v", prompts)
	}
	list, ok := prompts["prompts"].([]any)
	if !ok || len(list) != 5 {
		t.Fatalf("expected 5 prompts, got %v", prompts["prompts"])
	}

	for i := 0; i < 5; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}); err != nil {
			t.Fatalf("send audio %d: %v", i, err)
		}
		res := readMessage(t, conn)
		if res["type"] != "asr_result" || res["success"] != true {
			t.Fatalf("set %d: unexpected result %v", i, res)
		}
	}

	if err := conn.WriteJSON(protocol.RegisterPIN{Type: protocol.TypeRegisterPIN, PIN: "1234"}); err != nil {
		t.Fatalf("send pin: %v", err)
	}
	complete := readMessage(t, conn)
	if complete["type"] != "enrollment_complete" || complete["status"] != "registered" {
		t.Fatalf("unexpected completion: %v", complete)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.speakers["u1"]) != 10 {
		t.Fatalf("expected 10 centroids committed, got %d", len(store.speakers["u1"]))
	}
}

func TestVerificationOverWebSocket(t *testing.T) {
	cfg := config.Default()
	store := newMemStore()
	store.speakers["u1"] = map[string][]float32{}
	store.pins["u1"] = "1234"

	rt := New(cfg, newLogger(), Deps{Pipeline: echoPipe{}, Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server := httptest.NewServer(rt.handleVerify(ctx))
	defer server.Close()

	conn := dialWS(t, server.URL)

	if err := conn.WriteJSON(protocol.StartVerify{Type: protocol.TypeStartVerify, SpeakerID: "u1"}); err != nil {
		t.Fatalf("send start: %v", err)
	}

	promptMsg := readMessage(t, conn)
	if promptMsg["type"] != "prompt" {
		t.Fatalf("expected prompt, got %v", promptMsg)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("voice")); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	result := readMessage(t, conn)
	if result["type"] != "verify_result" || result["authenticated"] != true {
		t.Fatalf("unexpected result: %v", result)
	}
	if result["auth_method"] != "voice" {
		t.Fatalf("expected voice method, got %v", result["auth_method"])
	}
}

func TestVerificationUnknownSpeakerOverWebSocket(t *testing.T) {
	cfg := config.Default()
	rt := New(cfg, newLogger(), Deps{Pipeline: echoPipe{}, Store: newMemStore()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server := httptest.NewServer(rt.handleVerify(ctx))
	defer server.Close()

	conn := dialWS(t, server.URL)
	if err := conn.WriteJSON(protocol.StartVerify{Type: protocol.TypeStartVerify, SpeakerID: "ghost"}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	errMsg := readMessage(t, conn)
	if errMsg["type"] != "error" || errMsg["code"] != "SPEAKER_NOT_FOUND" {
		t.Fatalf("expected SPEAKER_NOT_FOUND, got %v", errMsg)
	}
}
