// Package config loads the runtime configuration from flags and the
// environment, with a .env file picked up when present.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	SQLitePath string

	VoskURL        string
	VoskSampleRate int

	DeepgramAPIKey string
	DeepgramModel  string

	TwilioAccountSID string
	TwilioAuthToken  string
	PublicHost       string

	BriefingLatitude  float64
	BriefingLongitude float64
	BriefingStatePath string

	TranscriptWindow int
	HotwordPhrases   []string

	ICEServersJSON string

	LogLevel string
}

// Load reads flags and environment variables and returns Config with sane
// defaults. Flags win over the environment.
func Load(args []string) Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	fs := pflag.NewFlagSet("ritsu", pflag.ExitOnError)

	fs.StringVar(&cfg.HTTPAddress, "http-address", getEnv("HTTP_ADDRESS", ":8080"), "HTTP listen address")

	fs.StringVar(&cfg.LLMBaseURL, "llm-base-url", getEnv("LLM_BASE_URL", "https://api.cerebras.ai/v1"), "OpenAI-compatible completions endpoint")
	fs.StringVar(&cfg.LLMAPIKey, "llm-api-key", os.Getenv("LLM_API_KEY"), "LLM API key")
	fs.StringVar(&cfg.LLMModel, "llm-model", getEnv("LLM_MODEL", "gpt-oss-120b"), "LLM model id")
	fs.DurationVar(&cfg.LLMTimeout, "llm-timeout", envDuration("LLM_TIMEOUT", 20*time.Second), "per-request LLM deadline")

	fs.StringVar(&cfg.SQLitePath, "db", getEnv("SQLITE_PATH", "ritsu.db"), "SQLite database path")

	fs.StringVar(&cfg.VoskURL, "vosk-url", getEnv("VOSK_URL", "ws://localhost:2700"), "Vosk server WebSocket URL")
	fs.IntVar(&cfg.VoskSampleRate, "vosk-sample-rate", envInt("VOSK_SAMPLE_RATE", 16000), "microphone capture sample rate")

	fs.StringVar(&cfg.DeepgramAPIKey, "deepgram-api-key", os.Getenv("DEEPGRAM_API_KEY"), "Deepgram API key")
	fs.StringVar(&cfg.DeepgramModel, "deepgram-model", getEnv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"), "Deepgram TTS voice model")

	fs.StringVar(&cfg.TwilioAccountSID, "twilio-sid", os.Getenv("TWILIO_ACCOUNT_SID"), "Twilio Account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-token", os.Getenv("TWILIO_AUTH_TOKEN"), "Twilio Auth Token")
	fs.StringVar(&cfg.PublicHost, "public-host", os.Getenv("PUBLIC_HOST"), "externally reachable host for webhooks")

	fs.Float64Var(&cfg.BriefingLatitude, "briefing-lat", envFloat("BRIEFING_LAT", 0), "latitude for the morning briefing weather")
	fs.Float64Var(&cfg.BriefingLongitude, "briefing-lon", envFloat("BRIEFING_LON", 0), "longitude for the morning briefing weather")
	fs.StringVar(&cfg.BriefingStatePath, "briefing-state", getEnv("BRIEFING_STATE_PATH", "briefing_state.json"), "morning briefing state file")

	fs.IntVar(&cfg.TranscriptWindow, "transcript-window", envInt("TRANSCRIPT_WINDOW", 8), "call transcript bound, in exchanges")
	fs.StringSliceVar(&cfg.HotwordPhrases, "hotword", nil, "wake phrases (repeatable)")

	fs.StringVar(&cfg.ICEServersJSON, "ice-servers", getEnv("ICE_SERVERS_JSON", `[{"urls":["stun:stun.l.google.com:19302"]}]`), "ICE servers JSON for browser audio")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	// ExitOnError: a bad flag terminates the process inside Parse
	_ = fs.Parse(args)

	if cfg.LLMAPIKey == "" {
		slog.Warn("LLM_API_KEY not set, responses will degrade to the fixed apology")
	}
	if cfg.DeepgramAPIKey == "" {
		slog.Warn("DEEPGRAM_API_KEY not set, speech output disabled")
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func envFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
