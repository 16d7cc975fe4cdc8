package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("TRANSCRIPT_WINDOW", "")

	cfg := Load(nil)
	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("HTTPAddress = %q", cfg.HTTPAddress)
	}
	if cfg.LLMModel == "" {
		t.Fatalf("expected default LLM model")
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Fatalf("LLMTimeout = %v", cfg.LLMTimeout)
	}
	if cfg.TranscriptWindow != 8 {
		t.Fatalf("TranscriptWindow = %d", cfg.TranscriptWindow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9999")
	t.Setenv("VOSK_SAMPLE_RATE", "8000")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("BRIEFING_LAT", "40.42")

	cfg := Load(nil)
	if cfg.HTTPAddress != ":9999" {
		t.Fatalf("HTTPAddress = %q", cfg.HTTPAddress)
	}
	if cfg.VoskSampleRate != 8000 {
		t.Fatalf("VoskSampleRate = %d", cfg.VoskSampleRate)
	}
	if cfg.LLMTimeout != 5*time.Second {
		t.Fatalf("LLMTimeout = %v", cfg.LLMTimeout)
	}
	if cfg.BriefingLatitude != 40.42 {
		t.Fatalf("BriefingLatitude = %v", cfg.BriefingLatitude)
	}
}

func TestLoadFlagBeatsEnv(t *testing.T) {
	t.Setenv("SQLITE_PATH", "env.db")

	cfg := Load([]string{"--db", "flag.db", "--hotword", "hey ritsu", "--hotword", "okay ritsu"})
	if cfg.SQLitePath != "flag.db" {
		t.Fatalf("SQLitePath = %q", cfg.SQLitePath)
	}
	if len(cfg.HotwordPhrases) != 2 {
		t.Fatalf("HotwordPhrases = %v", cfg.HotwordPhrases)
	}
}

func TestLoadBadNumbersFallBack(t *testing.T) {
	t.Setenv("VOSK_SAMPLE_RATE", "not-a-number")
	t.Setenv("LLM_TIMEOUT", "soon")

	cfg := Load(nil)
	if cfg.VoskSampleRate != 16000 {
		t.Fatalf("VoskSampleRate = %d, want default", cfg.VoskSampleRate)
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Fatalf("LLMTimeout = %v, want default", cfg.LLMTimeout)
	}
}
