// Package orchestrator drives conversations: it routes each client event to
// the speech segmenter or straight into a pipeline graph, streams the graph's
// speech back to the client and keeps the session history in step.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/cadence/internal/graph"
	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/session"
	"github.com/ent0n29/cadence/internal/transcript"
	"github.com/ent0n29/cadence/internal/vad"
)

// Config tunes audio handling and error reporting.
type Config struct {
	SampleRate int
	// FramePerBuffer is the minimum number of samples an audio message must
	// carry; shorter messages are dropped.
	FramePerBuffer int
	PauseThreshold time.Duration
	// InteractionEndAfterError sends INTERACTION_END after every ERROR so the
	// client always sees a terminal marker.
	InteractionEndAfterError bool
	// SendTimeout bounds how long an outbound event may wait for the writer.
	SendTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:               16000,
		FramePerBuffer:           1024,
		PauseThreshold:           time.Second,
		InteractionEndAfterError: true,
		SendTimeout:              5 * time.Second,
	}
}

const transcriptSaveTimeout = 2 * time.Second

type Orchestrator struct {
	sessions    *session.Manager
	textGraph   *graph.Graph
	audioGraph  *graph.Graph
	detector    vad.Detector
	transcripts transcript.Store
	metrics     *observability.Metrics
	cfg         Config
	newID       func() string
}

type Option func(*Orchestrator)

// WithTranscripts persists every completed interaction to s.
func WithTranscripts(s transcript.Store) Option {
	return func(o *Orchestrator) { o.transcripts = s }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDGenerator replaces uuid generation for interaction and utterance ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

func New(sessions *session.Manager, textGraph, audioGraph *graph.Graph, detector vad.Detector, cfg Config, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if sessions == nil {
		errs = append(errs, errors.New("orchestrator: session manager is required"))
	}
	if textGraph == nil || audioGraph == nil {
		errs = append(errs, errors.New("orchestrator: text and audio graphs are required"))
	}
	if detector == nil {
		errs = append(errs, errors.New("orchestrator: voice activity detector is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FramePerBuffer < 0 {
		cfg.FramePerBuffer = 0
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = def.PauseThreshold
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	o := &Orchestrator{
		sessions:   sessions,
		textGraph:  textGraph,
		audioGraph: audioGraph,
		detector:   detector,
		cfg:        cfg,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics("cadence", prometheus.NewRegistry())
	}
	return o, nil
}

// RunConnection serves one client connection for the session key. Inbound
// events are handled one at a time in arrival order; outbound events are
// written to outbound in production order. It returns when inbound is closed,
// ctx is cancelled, the session is unloaded or the outbound side fails, and
// always destroys the session on the way out.
func (o *Orchestrator) RunConnection(ctx context.Context, key string, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &channelTransport{ctx: ctx, out: outbound, timeout: o.cfg.SendTimeout, metrics: o.metrics}
	h, err := o.sessions.AttachTransport(key, t)
	if err != nil {
		return err
	}
	o.metrics.SessionEvents.WithLabelValues("connected").Inc()

	// Unloading the session ends the connection and any interaction in flight.
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	c := o.NewConnection(h)
	defer c.teardown(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				// The session was unloaded under us or the client is gone.
				if errors.Is(err, ErrTransport) || errors.Is(err, session.ErrNotFound) {
					return err
				}
				observability.Logger(ctx).Warn("client event failed",
					"session", key, "type", typeName(msg), "error", err)
			}
		}
	}
}

// Shutdown destroys the pipeline graphs. Connections must be gone.
func (o *Orchestrator) Shutdown() error {
	return errors.Join(o.textGraph.Destroy(), o.audioGraph.Destroy())
}
