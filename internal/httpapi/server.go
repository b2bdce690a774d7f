package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/cadence/internal/config"
	"github.com/ent0n29/cadence/internal/graph"
	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/session"
	"github.com/ent0n29/cadence/internal/transcript"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, key string, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	metrics      *observability.Metrics
	transcripts  transcript.Store
	graphs       map[string]*graph.Graph
	defaultAgent *session.Agent
	providers    Providers
	upgrader     websocket.Upgrader
}

type Option func(*Server)

// WithGraphs exposes the graphs at /v1/graphs/{name}.
func WithGraphs(graphs ...*graph.Graph) Option {
	return func(s *Server) {
		for _, g := range graphs {
			s.graphs[g.Name()] = g
		}
	}
}

func WithTranscripts(store transcript.Store) Option {
	return func(s *Server) { s.transcripts = store }
}

// WithDefaultAgent is used for /load requests without an agent.
func WithDefaultAgent(agent session.Agent) Option {
	return func(s *Server) { s.defaultAgent = &agent }
}

// WithProviders records which engines back the pipeline, for /v1/status.
func WithProviders(p Providers) Option {
	return func(s *Server) { s.providers = p }
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, metrics *observability.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		metrics:      metrics,
		graphs:       make(map[string]*graph.Graph),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(cfg.MetricsNamespace, prometheus.NewRegistry())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/load", s.handleLoad)
	r.Post("/unload", s.handleUnload)
	r.Get("/session", s.handleSessionWS)

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/sessions/{key}", s.handleGetSession)
	r.Get("/v1/sessions/{key}/transcript", s.handleTranscript)
	r.Get("/v1/graphs", s.handleListGraphs)
	r.Get("/v1/graphs/{name}", s.handleGraph)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
