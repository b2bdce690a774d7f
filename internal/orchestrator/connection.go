package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/cadence/internal/audio"
	"github.com/ent0n29/cadence/internal/graph"
	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/pipeline"
	"github.com/ent0n29/cadence/internal/protocol"
	"github.com/ent0n29/cadence/internal/provider"
	"github.com/ent0n29/cadence/internal/segmenter"
	"github.com/ent0n29/cadence/internal/session"
	"github.com/ent0n29/cadence/internal/transcript"
)

// State is where a connection is in its conversation cycle.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Connection holds the per-connection conversation state of one session.
// It is bound to the session instance it attached to, not to the key, so a
// session reloaded under the same key is never reached from here.
// Its Handle methods must be called from a single goroutine.
type Connection struct {
	o     *Orchestrator
	sess  *session.Handle
	key   string
	seg   *segmenter.Segmenter
	state atomic.Int32
}

// NewConnection returns a handler for the session behind h, whose transport
// is already attached.
func (o *Orchestrator) NewConnection(h *session.Handle) *Connection {
	return &Connection{
		o:    o,
		sess: h,
		key:  h.Key(),
		seg:  segmenter.New(o.detector, o.cfg.PauseThreshold),
	}
}

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// settle returns to capturing when an utterance is still being buffered,
// otherwise to idle.
func (c *Connection) settle() {
	if c.seg.State() == segmenter.StateCapturing {
		c.setState(StateCapturing)
		return
	}
	c.setState(StateIdle)
}

func (c *Connection) handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case protocol.ClientText:
		return c.HandleText(ctx, m.Text)
	case protocol.ClientAudio:
		return c.HandleAudio(ctx, m.Samples())
	case protocol.ClientAudioSessionEnd:
		return c.HandleAudioSessionEnd(ctx)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnsupportedType, typeName(msg))
	}
}

// HandleText runs the text graph for a typed message. Blank text is ignored.
func (c *Connection) HandleText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.dispatch(ctx, c.o.textGraph, pipeline.Request{
		Session:       c.sess,
		SessionKey:    c.key,
		InteractionID: c.o.newID(),
		Text:          text,
	})
}

// HandleAudio feeds captured samples to the segmenter and runs the audio
// graph once an utterance is complete. Messages shorter than FramePerBuffer
// are dropped.
func (c *Connection) HandleAudio(ctx context.Context, samples []float32) error {
	if len(samples) == 0 || len(samples) < c.o.cfg.FramePerBuffer {
		return nil
	}
	ev, err := c.seg.Feed(ctx, samples, c.o.cfg.SampleRate)
	if err != nil {
		return err
	}
	switch ev.Type {
	case segmenter.EventStarted:
		c.setState(StateCapturing)
		c.o.metrics.SessionEvents.WithLabelValues("speech_started").Inc()
	case segmenter.EventUtteranceReady:
		return c.dispatchUtterance(ctx, ev.Utterance)
	}
	return nil
}

// HandleAudioSessionEnd finalizes whatever has been captured so far.
func (c *Connection) HandleAudioSessionEnd(ctx context.Context) error {
	ev := c.seg.EndOfAudio()
	if ev.Type != segmenter.EventUtteranceReady {
		c.setState(StateIdle)
		return nil
	}
	return c.dispatchUtterance(ctx, ev.Utterance)
}

func (c *Connection) dispatchUtterance(ctx context.Context, utterance audio.Chunk) error {
	c.o.metrics.UtterancesSegmented.Inc()
	return c.dispatch(ctx, c.o.audioGraph, pipeline.Request{
		Session:       c.sess,
		SessionKey:    c.key,
		InteractionID: c.o.newID(),
		Audio:         utterance,
	})
}

// interaction tracks one graph run's progress toward the client.
type interaction struct {
	id        string
	graph     string
	agentID   string
	started   time.Time
	reply     strings.Builder
	textSent  bool
	audioSent bool
}

func (c *Connection) dispatch(ctx context.Context, g *graph.Graph, req pipeline.Request) error {
	c.setState(StateDispatching)
	defer c.settle()

	ctx, span := observability.StartSpan(ctx, "orchestrator.interaction", trace.WithAttributes(
		attribute.String("session.key", c.key),
		attribute.String("interaction.id", req.InteractionID),
		attribute.String("graph.name", g.Name()),
	))
	defer span.End()
	log := observability.Logger(ctx).With("session", c.key, "interaction_id", req.InteractionID, "graph", g.Name())

	snap, err := c.sess.Get()
	if err != nil {
		return err
	}
	it := &interaction{id: req.InteractionID, graph: g.Name(), agentID: snap.Agent.ID, started: time.Now()}

	err = c.run(ctx, g, req, it)
	elapsed := time.Since(it.started)
	switch {
	case err == nil:
		c.o.metrics.ExecutionDuration.WithLabelValues(g.Name(), "ok").Observe(elapsed.Seconds())
		c.o.metrics.Latency.Observe(g.Name(), observability.StageInteraction, elapsed)
		if !it.textSent {
			c.o.metrics.Latency.Count("empty_" + g.Name() + "_interaction")
		}
		if err := c.send(protocol.NewInteractionEnd(it.id)); err != nil {
			return err
		}
		c.saveTranscript(it)
		log.Debug("interaction complete", "duration", elapsed)
		return nil
	case errors.Is(err, ErrTransport):
		c.o.metrics.ExecutionDuration.WithLabelValues(g.Name(), "transport_error").Observe(elapsed.Seconds())
		return err
	case ctx.Err() != nil:
		c.o.metrics.ExecutionDuration.WithLabelValues(g.Name(), "cancelled").Observe(elapsed.Seconds())
		log.Debug("interaction abandoned", "error", err)
		return nil
	default:
		c.o.metrics.ExecutionDuration.WithLabelValues(g.Name(), "error").Observe(elapsed.Seconds())
		return c.reportFailure(g, it, err, log)
	}
}

// run executes g and forwards every terminal output to the client.
func (c *Connection) run(ctx context.Context, g *graph.Graph, req pipeline.Request, it *interaction) error {
	x, err := g.Execute(ctx, req, req.InteractionID)
	if err != nil {
		return err
	}
	defer x.Close()

	for {
		out, err := x.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.forward(out, it); err != nil {
			return err
		}
	}
}

func (c *Connection) forward(out graph.Output, it *interaction) error {
	switch v := out.Value.(type) {
	case *graph.Stream[provider.SpeechChunk]:
		for chunk, err := range v.All() {
			if err != nil {
				return &graph.StageError{NodeID: out.NodeID, Err: err}
			}
			if err := c.emit(chunk, it); err != nil {
				return err
			}
		}
		return nil
	case provider.SpeechChunk:
		return c.emit(v, it)
	case string:
		return c.emit(provider.SpeechChunk{Text: v}, it)
	default:
		return fmt.Errorf("terminal %s produced unsupported %T", out.NodeID, out.Value)
	}
}

// emit sends a TEXT and an AUDIO event sharing one utterance id and merges
// the text into the assistant message of the interaction.
func (c *Connection) emit(chunk provider.SpeechChunk, it *interaction) error {
	utteranceID := c.o.newID()
	if text := strings.TrimSpace(chunk.Text); text != "" {
		if err := c.send(protocol.NewText(text, it.id, utteranceID, protocol.AgentSource(it.agentID))); err != nil {
			return err
		}
		if !it.textSent {
			it.textSent = true
			c.o.metrics.Latency.Observe(it.graph, observability.StageFirstText, time.Since(it.started))
		}
		if it.reply.Len() > 0 {
			it.reply.WriteByte(' ')
		}
		it.reply.WriteString(text)
	}
	if len(chunk.Audio) > 0 {
		wav, err := audio.EncodeWAVBase64(chunk.Audio, chunk.SampleRate)
		if err != nil {
			return fmt.Errorf("encode audio: %w", err)
		}
		if err := c.send(protocol.NewAudio(wav, it.id, utteranceID)); err != nil {
			return err
		}
		if !it.audioSent {
			it.audioSent = true
			c.o.metrics.ObserveFirstAudioLatency(it.graph, time.Since(it.started))
		}
	}
	if it.reply.Len() == 0 {
		return nil
	}
	return c.sess.UpdateOrAppendAssistantMessage(it.id, it.reply.String())
}

func (c *Connection) reportFailure(g *graph.Graph, it *interaction, err error, log *slog.Logger) error {
	node := "execute"
	var stageErr *graph.StageError
	if errors.As(err, &stageErr) {
		node = stageErr.NodeID
	}
	c.o.metrics.StageErrors.WithLabelValues(g.Name(), node).Inc()
	log.Warn("interaction failed", "node", node, "error", err)

	if err := c.send(protocol.NewError(err, it.id)); err != nil {
		return err
	}
	if c.o.cfg.InteractionEndAfterError {
		return c.send(protocol.NewInteractionEnd(it.id))
	}
	return nil
}

// send delivers msg through the session transport. Any failure, including
// the session disappearing, is reported as ErrTransport.
func (c *Connection) send(msg any) error {
	err := c.sess.Send(msg)
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// saveTranscript stores the user turn and the reply of a completed
// interaction without holding up the connection.
func (c *Connection) saveTranscript(it *interaction) {
	if c.o.transcripts == nil || it.reply.Len() == 0 {
		return
	}
	snap, err := c.sess.Get()
	if err != nil {
		return
	}
	var records []transcript.Record
	for _, m := range snap.Messages {
		if m.ID != it.id {
			continue
		}
		records = append(records, transcript.Record{
			SessionKey:    c.key,
			InteractionID: it.id,
			AgentID:       it.agentID,
			Role:          string(m.Role),
			Content:       m.Content,
			CreatedAt:     m.CreatedAt,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
		defer cancel()
		if err := c.o.transcripts.Save(ctx, records...); err != nil {
			c.o.metrics.SessionEvents.WithLabelValues("transcript_save_failed").Inc()
		}
	}()
}

// teardown runs when the connection ends: the in-flight utterance is
// finalized and dropped, and the session it attached to is destroyed.
func (c *Connection) teardown(ctx context.Context) {
	if ev := c.seg.EndOfAudio(); ev.Type == segmenter.EventUtteranceReady {
		observability.Logger(ctx).Debug("dropping utterance of closed connection",
			"session", c.key, "duration", ev.Utterance.Duration())
		c.o.metrics.Latency.Count("utterance_dropped")
	}
	c.setState(StateIdle)
	if c.sess.Destroy() {
		c.o.metrics.SessionEvents.WithLabelValues("destroyed").Inc()
	}
	c.o.metrics.ActiveSessions.Set(float64(c.o.sessions.ActiveCount()))
}

func typeName(msg any) string {
	if t := protocol.TypeOf(msg); t != "" {
		return string(t)
	}
	return fmt.Sprintf("%T", msg)
}
