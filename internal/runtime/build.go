package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voicegate-labs/voicegate-core/internal/asr"
	"github.com/voicegate-labs/voicegate-core/internal/audio"
	"github.com/voicegate-labs/voicegate-core/internal/audit"
	"github.com/voicegate-labs/voicegate-core/internal/bus"
	"github.com/voicegate-labs/voicegate-core/internal/config"
	"github.com/voicegate-labs/voicegate-core/internal/embed"
	"github.com/voicegate-labs/voicegate-core/internal/gallery"
	"github.com/voicegate-labs/voicegate-core/internal/natsserver"
	"github.com/voicegate-labs/voicegate-core/internal/pipeline"
	"github.com/voicegate-labs/voicegate-core/internal/session"
	"github.com/voicegate-labs/voicegate-core/internal/vad"
)

// Build assembles the production capabilities: the gallery store, one ONNX
// handle of each kind per worker, the shared processor and the optional
// audit bus.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (Deps, error) {
	if cfg.Models.ASRModelPath == "" || cfg.Models.ASRTokensPath == "" || cfg.Models.SpeakerModelPath == "" {
		return Deps{}, errors.New("models.asr_model_path, models.asr_tokens_path and models.speaker_model_path are required")
	}
	if cfg.VAD.Mode == "silero" && cfg.Models.VADModelPath == "" {
		return Deps{}, errors.New("models.vad_model_path is required when vad.mode=silero")
	}

	store, err := gallery.Open(ctx, cfg.Gallery, cfg.Auth, logger)
	if err != nil {
		return Deps{}, fmt.Errorf("open gallery: %w", err)
	}

	if cfg.Models.ORTLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.Models.ORTLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		store.Close()
		return Deps{}, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	workers := pipeline.Workers(cfg.Pipeline)

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		store.Close()
		_ = ort.DestroyEnvironment()
	}

	gates := make([]vad.Gate, 0, workers)
	engines := make([]asr.Engine, 0, workers)
	extractors := make([]embed.Extractor, 0, workers)
	for i := 0; i < workers; i++ {
		switch cfg.VAD.Mode {
		case "silero":
			g, err := vad.NewSilero(cfg.Models.VADModelPath, cfg.VAD)
			if err != nil {
				closeAll()
				return Deps{}, err
			}
			closers = append(closers, func() { _ = g.Close() })
			gates = append(gates, g)
		case "rms":
			gates = append(gates, vad.NewRMS(cfg.VAD))
		}

		engine, err := asr.NewSenseVoice(cfg.Models.ASRModelPath, cfg.Models.ASRTokensPath)
		if err != nil {
			closeAll()
			return Deps{}, err
		}
		closers = append(closers, func() { _ = engine.Close() })
		engines = append(engines, engine)

		extractor, err := embed.NewCAMPlus(cfg.Models.SpeakerModelPath, cfg.Auth.EmbeddingDim)
		if err != nil {
			closeAll()
			return Deps{}, err
		}
		closers = append(closers, func() { _ = extractor.Close() })
		extractors = append(extractors, extractor)
	}

	decoder := audio.NewContainerDecoder(cfg.Audio)
	processor, err := pipeline.New(cfg.Auth, workers, decoder, gates, engines, extractors, logger)
	if err != nil {
		closeAll()
		return Deps{}, err
	}
	closers = append(closers, processor.Close)

	var outcome func(session.Outcome)
	if cfg.Audit.Enabled {
		embedded, err := natsserver.Start(cfg.Audit, logger)
		if err != nil {
			closeAll()
			return Deps{}, err
		}
		if embedded != nil {
			closers = append(closers, embedded.Shutdown)
		}
		client, err := bus.Connect(cfg.Audit, logger)
		if err != nil {
			closeAll()
			return Deps{}, err
		}
		closers = append(closers, client.Close)
		publisher := audit.NewPublisher(client, logger)
		outcome = publisher.Record
	}

	logger.Info("pipeline ready",
		slog.Int("workers", workers),
		slog.String("vad_mode", cfg.VAD.Mode),
		slog.Int("embedding_dim", cfg.Auth.EmbeddingDim))

	return Deps{
		Pipeline: processor,
		Store:    store,
		Outcome:  outcome,
		Shutdown: closeAll,
	}, nil
}
