package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/cadence/internal/config"
)

// Providers names the engines selected at startup.
type Providers struct {
	LLM        string `json:"llm"`
	TTS        string `json:"tts"`
	STT        string `json:"stt"`
	Transcript string `json:"transcript"`
}

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	Providers      Providers     `json:"providers"`
	ActiveSessions int           `json:"active_sessions"`
	Graphs         int           `json:"graphs"`
	Checks         []statusCheck `json:"checks"`
}

// handleStatus reports which engines serve the pipeline and flags stand-ins.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	p := s.providers
	checks := []statusCheck{
		providerCheck("llm", "Language model", p.LLM, "Set OPENAI_API_KEY or GEMINI_API_KEY."),
		providerCheck("tts", "Speech synthesis", p.TTS, "Set ELEVENLABS_API_KEY."),
		providerCheck("stt", "Speech recognition", p.STT, "Set WHISPER_SERVER_URL to a whisper.cpp server."),
	}
	store := statusCheck{ID: "transcript", Status: "ok", Label: "Transcript persistence", Detail: p.Transcript}
	if p.Transcript == "" || p.Transcript == "memory" {
		store.Status = "warn"
		store.Detail = "in-memory only"
		store.Fix = "Set DATABASE_URL to persist transcripts across restarts."
	}
	checks = append(checks, store)

	respondJSON(w, http.StatusOK, statusResponse{
		Providers:      p,
		ActiveSessions: s.sessions.ActiveCount(),
		Graphs:         len(s.graphs),
		Checks:         checks,
	})
}

func providerCheck(id, label, name, fix string) statusCheck {
	c := statusCheck{ID: id, Status: "ok", Label: label, Detail: name}
	if name == "" || strings.EqualFold(name, config.ProviderMock) {
		c.Status = "warn"
		c.Detail = "mock"
		c.Fix = fix
	}
	return c
}
