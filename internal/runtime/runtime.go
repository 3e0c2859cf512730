package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voicegate-labs/voicegate-core/internal/config"
	"github.com/voicegate-labs/voicegate-core/internal/session"
)

// Deps are the capabilities the runtime serves sessions with. Production
// wiring builds them in Build; tests inject fakes.
type Deps struct {
	Pipeline session.Pipeline
	Store    session.Store
	Outcome  func(session.Outcome)
	Shutdown func() // releases pipeline/store/bus resources, may be nil
}

// Runtime owns the HTTP server, the WebSocket endpoints and the lifecycle
// of every session goroutine.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	deps        Deps
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	upgrader websocket.Upgrader

	sessionsStarted metric.Int64Counter
	sessionsDone    metric.Int64Counter
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 12,
			// The demo client is served from another origin in development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.initMeters()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/ws/enroll", r.handleEnroll(ctx))
	mux.HandleFunc("/ws/verify", r.handleVerify(ctx))

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.deps.Shutdown != nil {
		r.deps.Shutdown()
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) initMeters() {
	meter := otel.Meter("voicegate")
	var err error
	r.sessionsStarted, err = meter.Int64Counter("voicegate.sessions.started")
	if err != nil {
		r.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	r.sessionsDone, err = meter.Int64Counter("voicegate.sessions.completed")
	if err != nil {
		r.logger.Warn("failed to create counter", slog.String("error", err.Error()))
	}
}

// handleEnroll upgrades the connection and runs an enrollment session on its
// own goroutine. serverCtx cancellation stops every active session.
func (r *Runtime) handleEnroll(serverCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.serveSession(serverCtx, w, req, "enrollment", func(ctx context.Context, ch session.Channel) {
			runner := session.NewEnrollment(r.cfg.Auth, r.cfg.Session, r.deps.Pipeline, r.deps.Store, r.logger, r.outcomeHook("enrollment"))
			runner.Run(ctx, ch)
		})
	}
}

func (r *Runtime) handleVerify(serverCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.serveSession(serverCtx, w, req, "verification", func(ctx context.Context, ch session.Channel) {
			runner := session.NewVerification(r.cfg.Auth, r.cfg.Session, r.deps.Pipeline, r.deps.Store, r.logger, r.outcomeHook("verification"))
			runner.Run(ctx, ch)
		})
	}
}

func (r *Runtime) serveSession(serverCtx context.Context, w http.ResponseWriter, req *http.Request, kind string, run func(context.Context, session.Channel)) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	if r.sessionsStarted != nil {
		r.sessionsStarted.Add(req.Context(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	}

	sessionCtx, cancel := context.WithCancel(serverCtx)
	ch := newWSChannel(conn, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		run(sessionCtx, ch)
	}()
}

func (r *Runtime) outcomeHook(kind string) func(session.Outcome) {
	return func(o session.Outcome) {
		if r.sessionsDone != nil {
			outcome := "failure"
			if o.Success {
				outcome = "success"
			}
			r.sessionsDone.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("kind", kind),
				attribute.String("outcome", outcome),
				attribute.String("method", o.Method),
			))
		}
		if r.deps.Outcome != nil {
			r.deps.Outcome(o)
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
