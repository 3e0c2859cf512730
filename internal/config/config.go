package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Models      ModelsConfig    `yaml:"models"`
	Audio       AudioConfig     `yaml:"audio"`
	VAD         VADConfig       `yaml:"vad"`
	Auth        AuthConfig      `yaml:"auth"`
	Session     SessionConfig   `yaml:"session"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Gallery     GalleryConfig   `yaml:"gallery"`
	Audit       AuditConfig     `yaml:"audit"`
}

// ModelsConfig points at the ONNX model files. The ASR model, its token table
// and the speaker model are required for production wiring; the VAD model is
// required only when vad.mode is silero. Tests substitute fakes and never load them.
type ModelsConfig struct {
	ASRModelPath     string `yaml:"asr_model_path"`
	ASRTokensPath    string `yaml:"asr_tokens_path"`
	VADModelPath     string `yaml:"vad_model_path"`
	SpeakerModelPath string `yaml:"speaker_model_path"`
	ORTLibraryPath   string `yaml:"ort_library_path"`
}

type AudioConfig struct {
	SampleRate     int     `yaml:"sample_rate"`
	MinDurationSec float64 `yaml:"min_duration_sec"`
	MaxDurationSec float64 `yaml:"max_duration_sec"`
}

type VADConfig struct {
	Mode          string  `yaml:"mode"` // silero, rms
	Threshold     float64 `yaml:"threshold"`
	MinSpeechSec  float64 `yaml:"min_speech_sec"`
	MinSilenceSec float64 `yaml:"min_silence_sec"`
}

type AuthConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SegmentPaddingSec   float64 `yaml:"segment_padding_sec"`
	SegmentNoOverlap    bool    `yaml:"segment_no_overlap"`
	MaxRetriesPerSet    int     `yaml:"max_retries_per_set"`
	ChallengeMinLength  int     `yaml:"challenge_min_length"`
	ChallengeMaxLength  int     `yaml:"challenge_max_length"`
	PINAlgorithm        string  `yaml:"pin_algorithm"` // sha256, pbkdf2-sha256
	EmbeddingDim        int     `yaml:"embedding_dim"`
}

type SessionConfig struct {
	IdleTimeoutSec int `yaml:"idle_timeout_sec"`
}

type PipelineConfig struct {
	Workers int `yaml:"workers"` // 0 selects the logical CPU count minus one (at least 1)
}

type GalleryConfig struct {
	Path string `yaml:"path"`
}

type AuditConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		ServiceName: "voicegate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Audio: AudioConfig{
			SampleRate:     16000,
			MinDurationSec: 1.0,
			MaxDurationSec: 10.0,
		},
		VAD: VADConfig{
			Mode:          "silero",
			Threshold:     0.5,
			MinSpeechSec:  0.25,
			MinSilenceSec: 0.5,
		},
		Auth: AuthConfig{
			SimilarityThreshold: 0.75,
			SegmentPaddingSec:   0.10,
			MaxRetriesPerSet:    5,
			ChallengeMinLength:  4,
			ChallengeMaxLength:  6,
			PINAlgorithm:        "sha256",
			EmbeddingDim:        192,
		},
		Session: SessionConfig{
			IdleTimeoutSec: 60,
		},
		Pipeline: PipelineConfig{
			Workers: 0,
		},
		Gallery: GalleryConfig{
			Path: "./data/voicegate.db",
		},
		Audit: AuditConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VOICEGATE_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOICEGATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEGATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEGATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEGATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEGATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEGATE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Models.ASRModelPath, "VOICEGATE_ASR_MODEL_PATH")
	overrideString(&cfg.Models.ASRTokensPath, "VOICEGATE_ASR_TOKENS_PATH")
	overrideString(&cfg.Models.VADModelPath, "VOICEGATE_VAD_MODEL_PATH")
	overrideString(&cfg.Models.SpeakerModelPath, "VOICEGATE_SPEAKER_MODEL_PATH")
	overrideString(&cfg.Models.ORTLibraryPath, "VOICEGATE_ORT_LIBRARY_PATH")
	overrideInt(&cfg.Audio.SampleRate, "VOICEGATE_AUDIO_SAMPLE_RATE")
	overrideFloat(&cfg.Audio.MinDurationSec, "VOICEGATE_AUDIO_MIN_DURATION_SEC")
	overrideFloat(&cfg.Audio.MaxDurationSec, "VOICEGATE_AUDIO_MAX_DURATION_SEC")
	overrideString(&cfg.VAD.Mode, "VOICEGATE_VAD_MODE")
	overrideFloat(&cfg.VAD.Threshold, "VOICEGATE_VAD_THRESHOLD")
	overrideFloat(&cfg.VAD.MinSpeechSec, "VOICEGATE_VAD_MIN_SPEECH_SEC")
	overrideFloat(&cfg.VAD.MinSilenceSec, "VOICEGATE_VAD_MIN_SILENCE_SEC")
	overrideFloat(&cfg.Auth.SimilarityThreshold, "VOICEGATE_AUTH_SIMILARITY_THRESHOLD")
	overrideFloat(&cfg.Auth.SegmentPaddingSec, "VOICEGATE_AUTH_SEGMENT_PADDING_SEC")
	overrideBool(&cfg.Auth.SegmentNoOverlap, "VOICEGATE_AUTH_SEGMENT_NO_OVERLAP")
	overrideInt(&cfg.Auth.MaxRetriesPerSet, "VOICEGATE_AUTH_MAX_RETRIES_PER_SET")
	overrideInt(&cfg.Auth.ChallengeMinLength, "VOICEGATE_AUTH_CHALLENGE_MIN_LENGTH")
	overrideInt(&cfg.Auth.ChallengeMaxLength, "VOICEGATE_AUTH_CHALLENGE_MAX_LENGTH")
	overrideString(&cfg.Auth.PINAlgorithm, "VOICEGATE_AUTH_PIN_ALGORITHM")
	overrideInt(&cfg.Auth.EmbeddingDim, "VOICEGATE_AUTH_EMBEDDING_DIM")
	overrideInt(&cfg.Session.IdleTimeoutSec, "VOICEGATE_SESSION_IDLE_TIMEOUT_SEC")
	overrideInt(&cfg.Pipeline.Workers, "VOICEGATE_PIPELINE_WORKERS")
	overrideString(&cfg.Gallery.Path, "VOICEGATE_GALLERY_PATH")
	overrideBool(&cfg.Audit.Enabled, "VOICEGATE_AUDIT_ENABLED")
	overrideBool(&cfg.Audit.Embedded, "VOICEGATE_AUDIT_EMBEDDED")
	overrideInt(&cfg.Audit.Port, "VOICEGATE_AUDIT_PORT")
	overrideStringSlice(&cfg.Audit.Servers, "VOICEGATE_AUDIT_SERVERS")
	overrideString(&cfg.Audit.Username, "VOICEGATE_AUDIT_USERNAME")
	overrideString(&cfg.Audit.Password, "VOICEGATE_AUDIT_PASSWORD")
	overrideString(&cfg.Audit.Token, "VOICEGATE_AUDIT_TOKEN")
	overrideInt(&cfg.Audit.ConnectTimeout, "VOICEGATE_AUDIT_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Audio.SampleRate != 16000 {
		return errors.New("audio.sample_rate must be 16000 for the bundled models")
	}
	if cfg.Audio.MinDurationSec <= 0 {
		return errors.New("audio.min_duration_sec must be positive")
	}
	if cfg.Audio.MaxDurationSec <= cfg.Audio.MinDurationSec {
		return errors.New("audio.max_duration_sec must be greater than min_duration_sec")
	}
	switch cfg.VAD.Mode {
	case "silero", "rms":
	default:
		return errors.New("vad.mode must be one of silero|rms")
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		return errors.New("vad.threshold must be in [0, 1]")
	}
	if cfg.Auth.SimilarityThreshold < -1 || cfg.Auth.SimilarityThreshold > 1 {
		return errors.New("auth.similarity_threshold must be in [-1, 1]")
	}
	if cfg.Auth.SegmentPaddingSec < 0 || cfg.Auth.SegmentPaddingSec > 0.5 {
		return errors.New("auth.segment_padding_sec must be in [0, 0.5]")
	}
	if cfg.Auth.MaxRetriesPerSet <= 0 {
		return errors.New("auth.max_retries_per_set must be >= 1")
	}
	if cfg.Auth.ChallengeMinLength < 4 || cfg.Auth.ChallengeMaxLength > 6 ||
		cfg.Auth.ChallengeMinLength > cfg.Auth.ChallengeMaxLength {
		return errors.New("auth challenge length range must satisfy 4 <= min <= max <= 6")
	}
	switch cfg.Auth.PINAlgorithm {
	case "sha256", "pbkdf2-sha256":
	default:
		return errors.New("auth.pin_algorithm must be one of sha256|pbkdf2-sha256")
	}
	if cfg.Auth.EmbeddingDim <= 0 {
		return errors.New("auth.embedding_dim must be positive")
	}
	if cfg.Session.IdleTimeoutSec <= 0 {
		return errors.New("session.idle_timeout_sec must be positive")
	}
	if cfg.Pipeline.Workers < 0 {
		return errors.New("pipeline.workers must be >= 0")
	}
	if cfg.Gallery.Path == "" {
		return errors.New("gallery.path must not be empty")
	}
	if cfg.Audit.Enabled {
		if cfg.Audit.Embedded {
			if cfg.Audit.Port <= 0 || cfg.Audit.Port > 65535 {
				return errors.New("audit.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Audit.Servers) == 0 {
			return errors.New("audit.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
