package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the conversation server.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	SampleRate         int
	FramePerBuffer     int
	PauseThreshold     time.Duration
	VADEnergyThreshold float64

	LLMProvider   string
	LLMModel      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	MaxNewTokens  int
	Temperature   float64
	TopP          float64

	TTSProvider        string
	ElevenLabsAPIKey   string
	ElevenLabsModel    string
	ElevenLabsEndpoint string
	VoiceID            string

	STTProvider      string
	WhisperServerURL string
	WhisperLanguage  string
	// WhisperMaxAttempts bounds retries of a recognition request on transient
	// server errors.
	WhisperMaxAttempts int

	PromptTemplatePath string
	CharacterFile      string
	DatabaseURL        string
	// RedactTranscripts masks personal identifiers in stored transcripts.
	RedactTranscripts bool

	GraphVisualization       bool
	InteractionEndAfterError bool
}

// Provider selectors.
const (
	ProviderAuto       = "auto"
	ProviderMock       = "mock"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
	ProviderWhisper    = "whisper"
)

// Load reads environment variables and applies defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":4000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "cadence"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "text"),
		LLMProvider:      strings.ToLower(envOrDefault("LLM_PROVIDER", ProviderAuto)),
		LLMModel:         trimmedEnv("LLM_MODEL_NAME"),
		OpenAIAPIKey:     trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:    trimmedEnv("OPENAI_BASE_URL"),
		GeminiAPIKey:     trimmedEnv("GEMINI_API_KEY"),
		TTSProvider:      strings.ToLower(envOrDefault("TTS_PROVIDER", ProviderAuto)),
		ElevenLabsAPIKey: trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsModel:  envOrDefault("ELEVENLABS_MODEL_ID", "eleven_flash_v2_5"),
		// Premade ElevenLabs voice.
		VoiceID:            envOrDefault("VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsEndpoint: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		STTProvider:        strings.ToLower(envOrDefault("STT_PROVIDER", ProviderAuto)),
		WhisperServerURL:   trimmedEnv("WHISPER_SERVER_URL"),
		WhisperLanguage:    envOrDefault("WHISPER_LANGUAGE", "en"),
		PromptTemplatePath: trimmedEnv("PROMPT_TEMPLATE_PATH"),
		CharacterFile:      trimmedEnv("CHARACTER_FILE"),
		DatabaseURL:        trimmedEnv("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SampleRate:               16000,
		FramePerBuffer:           1024,
		PauseThreshold:           time.Second,
		VADEnergyThreshold:       0.02,
		MaxNewTokens:             500,
		Temperature:              0.1,
		TopP:                     0.5,
		InteractionEndAfterError: true,
		WhisperMaxAttempts:       3,
		RedactTranscripts:        true,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.SampleRate, err = intFromEnv("SAMPLE_RATE", cfg.SampleRate); err != nil {
		return Config{}, err
	}
	if cfg.FramePerBuffer, err = intFromEnv("FRAME_PER_BUFFER", cfg.FramePerBuffer); err != nil {
		return Config{}, err
	}
	if cfg.PauseThreshold, err = durationFromEnv("PAUSE_DURATION_THRESHOLD", cfg.PauseThreshold); err != nil {
		return Config{}, err
	}
	if cfg.VADEnergyThreshold, err = floatFromEnv("VAD_ENERGY_THRESHOLD", cfg.VADEnergyThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MaxNewTokens, err = intFromEnv("LLM_MAX_NEW_TOKENS", cfg.MaxNewTokens); err != nil {
		return Config{}, err
	}
	if cfg.Temperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.Temperature); err != nil {
		return Config{}, err
	}
	if cfg.TopP, err = floatFromEnv("LLM_TOP_P", cfg.TopP); err != nil {
		return Config{}, err
	}
	if cfg.WhisperMaxAttempts, err = intFromEnv("WHISPER_MAX_ATTEMPTS", cfg.WhisperMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.RedactTranscripts, err = boolFromEnv("TRANSCRIPT_REDACT_PII", cfg.RedactTranscripts); err != nil {
		return Config{}, err
	}
	if cfg.GraphVisualization, err = boolFromEnv("GRAPH_VISUALIZATION_ENABLED", cfg.GraphVisualization); err != nil {
		return Config{}, err
	}
	if cfg.InteractionEndAfterError, err = boolFromEnv("INTERACTION_END_AFTER_ERROR", cfg.InteractionEndAfterError); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("SAMPLE_RATE must be positive")
	case c.FramePerBuffer < 0:
		return fmt.Errorf("FRAME_PER_BUFFER must be >= 0")
	case c.PauseThreshold <= 0:
		return fmt.Errorf("PAUSE_DURATION_THRESHOLD must be positive")
	case c.VADEnergyThreshold < 0 || c.VADEnergyThreshold > 1:
		return fmt.Errorf("VAD_ENERGY_THRESHOLD must be within [0,1]")
	case c.WhisperMaxAttempts <= 0:
		return fmt.Errorf("WHISPER_MAX_ATTEMPTS must be positive")
	case c.MaxNewTokens <= 0:
		return fmt.Errorf("LLM_MAX_NEW_TOKENS must be positive")
	case c.Temperature < 0:
		return fmt.Errorf("LLM_TEMPERATURE must be >= 0")
	case c.TopP <= 0 || c.TopP > 1:
		return fmt.Errorf("LLM_TOP_P must be within (0,1]")
	}
	if err := oneOf("LLM_PROVIDER", c.LLMProvider, ProviderAuto, ProviderOpenAI, ProviderGemini, ProviderMock); err != nil {
		return err
	}
	if err := oneOf("TTS_PROVIDER", c.TTSProvider, ProviderAuto, ProviderElevenLabs, ProviderMock); err != nil {
		return err
	}
	return oneOf("STT_PROVIDER", c.STTProvider, ProviderAuto, ProviderWhisper, ProviderMock)
}

func oneOf(key, v string, allowed ...string) error {
	if !slices.Contains(allowed, v) {
		return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), v)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	// Bare integers are milliseconds.
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
