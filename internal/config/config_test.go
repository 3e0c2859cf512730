package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.SimilarityThreshold != 0.75 {
		t.Fatalf("expected default threshold 0.75, got %v", cfg.Auth.SimilarityThreshold)
	}
	if cfg.Session.IdleTimeoutSec != 60 {
		t.Fatalf("expected default idle timeout 60, got %d", cfg.Session.IdleTimeoutSec)
	}
	if cfg.Auth.MaxRetriesPerSet != 5 {
		t.Fatalf("expected default retry cap 5, got %d", cfg.Auth.MaxRetriesPerSet)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEGATE_AUTH_SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("VOICEGATE_AUTH_MAX_RETRIES_PER_SET", "3")
	t.Setenv("VOICEGATE_SESSION_IDLE_TIMEOUT_SEC", "30")
	t.Setenv("VOICEGATE_GALLERY_PATH", "./tmp.db")
	t.Setenv("VOICEGATE_VAD_MODE", "rms")
	t.Setenv("VOICEGATE_AUDIT_ENABLED", "true")
	t.Setenv("VOICEGATE_AUDIT_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICEGATE_AUTH_PIN_ALGORITHM", "pbkdf2-sha256")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Auth.SimilarityThreshold != 0.8 {
		t.Fatalf("expected threshold override, got %v", cfg.Auth.SimilarityThreshold)
	}
	if cfg.Auth.MaxRetriesPerSet != 3 {
		t.Fatalf("expected retry cap override, got %d", cfg.Auth.MaxRetriesPerSet)
	}
	if cfg.Session.IdleTimeoutSec != 30 {
		t.Fatalf("expected idle timeout override, got %d", cfg.Session.IdleTimeoutSec)
	}
	if cfg.Gallery.Path != "./tmp.db" {
		t.Fatalf("expected gallery path override, got %s", cfg.Gallery.Path)
	}
	if cfg.VAD.Mode != "rms" {
		t.Fatalf("expected vad mode override, got %s", cfg.VAD.Mode)
	}
	if len(cfg.Audit.Servers) != 2 {
		t.Fatalf("expected 2 audit servers, got %v", cfg.Audit.Servers)
	}
	if cfg.Auth.PINAlgorithm != "pbkdf2-sha256" {
		t.Fatalf("expected pin algorithm override, got %s", cfg.Auth.PINAlgorithm)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("VOICEGATE_AUTH_CHALLENGE_MIN_LENGTH", "2")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for challenge length below 4")
	}
}
