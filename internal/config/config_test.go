package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":4000" {
		t.Fatalf("BindAddr = %q, want :4000", cfg.BindAddr)
	}
	if cfg.SampleRate != 16000 || cfg.FramePerBuffer != 1024 {
		t.Fatalf("SampleRate/FramePerBuffer = %d/%d, want 16000/1024", cfg.SampleRate, cfg.FramePerBuffer)
	}
	if cfg.PauseThreshold != time.Second {
		t.Fatalf("PauseThreshold = %v, want 1s", cfg.PauseThreshold)
	}
	if cfg.MaxNewTokens != 500 || cfg.Temperature != 0.1 || cfg.TopP != 0.5 {
		t.Fatalf("generation = %d/%v/%v, want 500/0.1/0.5", cfg.MaxNewTokens, cfg.Temperature, cfg.TopP)
	}
	if cfg.LLMProvider != ProviderAuto || cfg.TTSProvider != ProviderAuto || cfg.STTProvider != ProviderAuto {
		t.Fatalf("providers = %q/%q/%q, want auto", cfg.LLMProvider, cfg.TTSProvider, cfg.STTProvider)
	}
	if !cfg.InteractionEndAfterError {
		t.Fatalf("InteractionEndAfterError = false, want true")
	}
	if cfg.WhisperMaxAttempts != 3 || !cfg.RedactTranscripts {
		t.Fatalf("WhisperMaxAttempts/RedactTranscripts = %d/%v, want 3/true", cfg.WhisperMaxAttempts, cfg.RedactTranscripts)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PAUSE_DURATION_THRESHOLD", "750")
	t.Setenv("LLM_PROVIDER", " OpenAI ")
	t.Setenv("LLM_TOP_P", "0.9")
	t.Setenv("INTERACTION_END_AFTER_ERROR", "off")
	t.Setenv("GRAPH_VISUALIZATION_ENABLED", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PauseThreshold != 750*time.Millisecond {
		t.Fatalf("PauseThreshold = %v, want 750ms", cfg.PauseThreshold)
	}
	if cfg.LLMProvider != ProviderOpenAI {
		t.Fatalf("LLMProvider = %q, want openai", cfg.LLMProvider)
	}
	if cfg.TopP != 0.9 {
		t.Fatalf("TopP = %v, want 0.9", cfg.TopP)
	}
	if cfg.InteractionEndAfterError || !cfg.GraphVisualization {
		t.Fatalf("flags = %v/%v, want false/true", cfg.InteractionEndAfterError, cfg.GraphVisualization)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SAMPLE_RATE":                 "0",
		"LLM_TOP_P":                   "1.5",
		"TTS_PROVIDER":                "kokoro",
		"APP_ALLOW_ANY_ORIGIN":        "maybe",
		"PAUSE_DURATION_THRESHOLD":    "soon",
		"INTERACTION_END_AFTER_ERROR": "2",
		"WHISPER_MAX_ATTEMPTS":        "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadCharacter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ada.yaml")
	body := "name: Ada\ndescription: Keeper of the harbour lighthouse.\nknowledge:\n  - The lamp is lit at dusk.\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	agent, err := LoadCharacter(path)
	if err != nil {
		t.Fatalf("LoadCharacter() error = %v", err)
	}
	if agent.Name != "Ada" || len(agent.Knowledge) != 1 {
		t.Fatalf("agent = %+v, want Ada with one knowledge entry", agent)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: Ada\nvoice: low\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCharacter(bad); err == nil {
		t.Fatalf("LoadCharacter(unknown field) error = nil, want error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR", "APP_SHUTDOWN_TIMEOUT", "APP_METRICS_NAMESPACE", "APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL", "LOG_FORMAT",
		"SAMPLE_RATE", "FRAME_PER_BUFFER", "PAUSE_DURATION_THRESHOLD", "VAD_ENERGY_THRESHOLD",
		"LLM_PROVIDER", "LLM_MODEL_NAME", "OPENAI_API_KEY", "OPENAI_BASE_URL", "GEMINI_API_KEY",
		"LLM_MAX_NEW_TOKENS", "LLM_TEMPERATURE", "LLM_TOP_P",
		"TTS_PROVIDER", "ELEVENLABS_API_KEY", "ELEVENLABS_MODEL_ID", "ELEVENLABS_WS_BASE_URL", "VOICE_ID",
		"STT_PROVIDER", "WHISPER_SERVER_URL", "WHISPER_LANGUAGE", "WHISPER_MAX_ATTEMPTS",
		"PROMPT_TEMPLATE_PATH", "CHARACTER_FILE", "DATABASE_URL",
		"GRAPH_VISUALIZATION_ENABLED", "INTERACTION_END_AFTER_ERROR", "TRANSCRIPT_REDACT_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
