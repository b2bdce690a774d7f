package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/pipeline"
	"github.com/ent0n29/cadence/internal/prompt"
	"github.com/ent0n29/cadence/internal/protocol"
	"github.com/ent0n29/cadence/internal/provider/mock"
	"github.com/ent0n29/cadence/internal/session"
	"github.com/ent0n29/cadence/internal/transcript"
	"github.com/ent0n29/cadence/internal/vad"
)

const reply = "Evening, traveller. The lamp has been lit since dusk, as always."

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Send(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
	return nil
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

type harness struct {
	o          *Orchestrator
	sessions   *session.Manager
	generator  *mock.Generator
	recognizer *mock.Recognizer
	metrics    *observability.Metrics
	store      *transcript.InMemoryStore
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sessions:   session.NewManager(),
		generator:  &mock.Generator{Reply: reply},
		recognizer: mock.NewRecognizer(),
		metrics:    observability.NewMetrics("test", prometheus.NewRegistry()),
		store:      transcript.NewInMemoryStore(),
	}
	deps := pipeline.Deps{
		Sessions:    h.sessions,
		Prompt:      prompt.NewDefault(),
		Generator:   h.generator,
		Synthesizer: mock.NewSynthesizer(),
		Recognizer:  h.recognizer,
		VoiceID:     "voice",
		Generation:  pipeline.DefaultGeneration,
	}
	textGraph, err := pipeline.BuildTextGraph(deps)
	require.NoError(t, err)
	audioGraph, err := pipeline.BuildAudioGraph(deps)
	require.NoError(t, err)

	h.o, err = New(h.sessions, textGraph, audioGraph, vad.NewEnergyDetector(vad.DefaultEnergyThreshold), cfg,
		WithMetrics(h.metrics), WithTranscripts(h.store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.o.Shutdown() })
	return h
}

// connect creates a session with a recording transport attached.
func (h *harness) connect(t *testing.T, key string) (*Connection, *recorder) {
	t.Helper()
	_, err := h.sessions.Create(key, session.Agent{ID: "agent-" + key, Name: "Ada", Description: "Keeper of the lighthouse."}, "Sam")
	require.NoError(t, err)
	rec := &recorder{}
	sess, err := h.sessions.AttachTransport(key, rec)
	require.NoError(t, err)
	return h.o.NewConnection(sess), rec
}

func audioConfig() Config {
	cfg := DefaultConfig()
	cfg.FramePerBuffer = 160
	cfg.PauseThreshold = 50 * time.Millisecond
	return cfg
}

func frame(v float32) []float32 {
	f := make([]float32, 160)
	for i := range f {
		f[i] = v
	}
	return f
}

func requireAgentPairs(t *testing.T, events []any, interactionID, agentID string) []string {
	t.Helper()
	require.Zero(t, len(events)%2, "agent events come in TEXT/AUDIO pairs")
	var texts []string
	for i := 0; i < len(events); i += 2 {
		text, ok := events[i].(protocol.TextEvent)
		require.True(t, ok, "event %d is %T", i, events[i])
		sound, ok := events[i+1].(protocol.AudioEvent)
		require.True(t, ok, "event %d is %T", i+1, events[i+1])

		assert.True(t, text.Routing.Source.IsAgent)
		assert.Equal(t, agentID, text.Routing.Source.Name)
		assert.Equal(t, interactionID, text.PacketID.InteractionID)
		assert.Equal(t, interactionID, sound.PacketID.InteractionID)
		assert.NotEmpty(t, text.PacketID.UtteranceID)
		assert.Equal(t, text.PacketID.UtteranceID, sound.PacketID.UtteranceID)
		assert.NotEmpty(t, sound.Audio.Chunk)
		texts = append(texts, text.Text.Text)
	}
	return texts
}

func TestHandleTextStreamsReplyAndEndsInteraction(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c, rec := h.connect(t, "k1")

	require.NoError(t, c.HandleText(context.Background(), "  Is the lamp on? "))
	assert.Equal(t, StateIdle, c.State())

	events := rec.all()
	require.GreaterOrEqual(t, len(events), 4)

	echo := events[0].(protocol.TextEvent)
	assert.True(t, echo.Routing.Source.IsUser)
	assert.Equal(t, "Sam", echo.Routing.Source.Name)
	assert.Equal(t, "Is the lamp on?", echo.Text.Text)
	id := echo.PacketID.InteractionID
	require.NotEmpty(t, id)

	end, ok := events[len(events)-1].(protocol.InteractionEndEvent)
	require.True(t, ok, "last event is %T", events[len(events)-1])
	assert.Equal(t, id, end.PacketID.InteractionID)

	texts := requireAgentPairs(t, events[1:len(events)-1], id, "agent-k1")
	assert.GreaterOrEqual(t, len(texts), 2)

	snap, err := h.sessions.Get("k1")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, session.Message{ID: id, Role: session.RoleUser, Content: "Is the lamp on?"}, withoutTime(snap.Messages[0]))
	assert.Equal(t, session.Message{ID: id, Role: session.RoleAssistant, Content: reply}, withoutTime(snap.Messages[1]))

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		got, err := h.store.List(context.Background(), "k1", 0)
		assert.NoError(c, err)
		if assert.Len(c, got, 2) {
			assert.Equal(c, "user", got[0].Role)
			assert.Equal(c, reply, got[1].Content)
			assert.Equal(c, "agent-k1", got[1].AgentID)
		}
	}, time.Second, 10*time.Millisecond)
}

func TestHandleTextIgnoresBlankInput(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c, rec := h.connect(t, "k1")

	require.NoError(t, c.HandleText(context.Background(), " \n "))
	assert.Empty(t, rec.all())
	assert.Empty(t, h.generator.Calls())
}

func TestStageFailureSendsErrorThenInteractionEnd(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.generator.FailAfter = 3
	c, rec := h.connect(t, "k1")

	require.NoError(t, c.HandleText(context.Background(), "hello"))

	events := rec.all()
	require.Len(t, events, 3)
	id := events[0].(protocol.TextEvent).PacketID.InteractionID
	failure, ok := events[1].(protocol.ErrorEvent)
	require.True(t, ok, "second event is %T", events[1])
	assert.Equal(t, id, failure.PacketID.InteractionID)
	assert.Contains(t, failure.Error, "generation failed")
	assert.Equal(t, protocol.NewInteractionEnd(id).PacketID, events[2].(protocol.InteractionEndEvent).PacketID)

	snap, err := h.sessions.Get("k1")
	require.NoError(t, err, "session survives a stage failure")
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, session.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StageErrors.WithLabelValues(pipeline.TextGraph, pipeline.NodeTTS)))
}

func TestStageFailureWithoutCompensatingEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InteractionEndAfterError = false
	h := newHarness(t, cfg)
	h.generator.Err = fmt.Errorf("quota exhausted")
	h.generator.FailAfter = 1
	c, rec := h.connect(t, "k1")

	require.NoError(t, c.HandleText(context.Background(), "hello"))

	events := rec.all()
	require.Len(t, events, 2)
	assert.IsType(t, protocol.TextEvent{}, events[0])
	assert.Contains(t, events[1].(protocol.ErrorEvent).Error, "quota exhausted")

	// The session is still usable.
	h.generator.FailAfter = 0
	require.NoError(t, c.HandleText(context.Background(), "again"))
	assert.IsType(t, protocol.InteractionEndEvent{}, rec.all()[len(rec.all())-1])
}

func TestHandleAudioSegmentsAndRunsAudioGraph(t *testing.T) {
	h := newHarness(t, audioConfig())
	h.recognizer.Transcript = "is the lamp on"
	c, rec := h.connect(t, "k1")
	ctx := context.Background()

	require.NoError(t, c.HandleAudio(ctx, make([]float32, 100)))
	assert.Equal(t, StateIdle, c.State(), "short buffers are dropped")

	for range 5 {
		require.NoError(t, c.HandleAudio(ctx, frame(0.5)))
	}
	assert.Equal(t, StateCapturing, c.State())

	for range 5 {
		require.NoError(t, c.HandleAudio(ctx, frame(0)))
	}
	assert.Empty(t, rec.all(), "pause has not exceeded the threshold yet")

	require.NoError(t, c.HandleAudio(ctx, frame(0)))
	assert.Equal(t, StateIdle, c.State())

	events := rec.all()
	require.GreaterOrEqual(t, len(events), 4)
	echo := events[0].(protocol.TextEvent)
	assert.True(t, echo.Routing.Source.IsUser)
	assert.Equal(t, "is the lamp on", echo.Text.Text)
	assert.IsType(t, protocol.InteractionEndEvent{}, events[len(events)-1])
	requireAgentPairs(t, events[1:len(events)-1], echo.PacketID.InteractionID, "agent-k1")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UtterancesSegmented))
}

func TestAudioSessionEndFlushesUtterance(t *testing.T) {
	h := newHarness(t, audioConfig())
	c, rec := h.connect(t, "k1")
	ctx := context.Background()

	for range 3 {
		require.NoError(t, c.HandleAudio(ctx, frame(0.5)))
	}
	require.NoError(t, c.HandleAudioSessionEnd(ctx))

	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, "simulated voice input", events[0].(protocol.TextEvent).Text.Text)
	assert.IsType(t, protocol.InteractionEndEvent{}, events[len(events)-1])

	// Nothing buffered: a second end is a no-op.
	n := len(events)
	require.NoError(t, c.HandleAudioSessionEnd(ctx))
	assert.Len(t, rec.all(), n)
}

func TestUnrecognizedUtteranceOnlyEndsInteraction(t *testing.T) {
	h := newHarness(t, audioConfig())
	h.recognizer.Transcript = ""
	c, rec := h.connect(t, "k1")
	ctx := context.Background()

	require.NoError(t, c.HandleAudio(ctx, frame(0.5)))
	require.NoError(t, c.HandleAudioSessionEnd(ctx))

	events := rec.all()
	require.Len(t, events, 1)
	assert.IsType(t, protocol.InteractionEndEvent{}, events[0])
	snap, _ := h.sessions.Get("k1")
	assert.Empty(t, snap.Messages)
	assert.Empty(t, h.generator.Calls())
}

type client struct {
	inbound  chan any
	outbound chan any
	done     chan error

	mu     sync.Mutex
	events []any
	ends   int
}

func startClient(t *testing.T, o *Orchestrator, key string) *client {
	t.Helper()
	c := &client{
		inbound:  make(chan any),
		outbound: make(chan any, 16),
		done:     make(chan error, 1),
	}
	go func() {
		for msg := range c.outbound {
			c.mu.Lock()
			c.events = append(c.events, msg)
			if _, ok := msg.(protocol.InteractionEndEvent); ok {
				c.ends++
			}
			c.mu.Unlock()
		}
	}()
	go func() {
		c.done <- o.RunConnection(t.Context(), key, c.inbound, c.outbound)
	}()
	return c
}

func (c *client) endCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ends
}

func TestConcurrentSessionsKeepTheirOwnHistory(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.generator.Reply = "Noted."
	for _, key := range []string{"a", "b"} {
		_, err := h.sessions.Create(key, session.Agent{ID: key, Name: "Ada"}, "Sam")
		require.NoError(t, err)
	}
	a := startClient(t, h.o, "a")
	b := startClient(t, h.o, "b")

	const turns = 5
	for i := range turns {
		a.inbound <- protocol.ClientText{Type: protocol.TypeText, Text: fmt.Sprintf("a-%d", i)}
		b.inbound <- protocol.ClientText{Type: protocol.TypeText, Text: fmt.Sprintf("b-%d", i)}
	}
	require.Eventually(t, func() bool {
		return a.endCount() == turns && b.endCount() == turns
	}, 5*time.Second, 10*time.Millisecond)

	for _, key := range []string{"a", "b"} {
		snap, err := h.sessions.Get(key)
		require.NoError(t, err)
		require.Len(t, snap.Messages, 2*turns)
		for i := range turns {
			user, assistant := snap.Messages[2*i], snap.Messages[2*i+1]
			assert.Equal(t, fmt.Sprintf("%s-%d", key, i), user.Content)
			assert.Equal(t, session.RoleUser, user.Role)
			assert.Equal(t, session.RoleAssistant, assistant.Role)
			assert.Equal(t, user.ID, assistant.ID)
		}
	}

	close(a.inbound)
	close(b.inbound)
	require.NoError(t, <-a.done)
	require.NoError(t, <-b.done)
	close(a.outbound)
	close(b.outbound)
	assert.Zero(t, h.sessions.ActiveCount(), "closing the connection destroys the session")
}

func TestRunConnectionRejectsUnknownOrAttachedSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	err := h.o.RunConnection(t.Context(), "missing", make(chan any), make(chan any))
	require.ErrorIs(t, err, session.ErrNotFound)

	h.connect(t, "k1")
	err = h.o.RunConnection(t.Context(), "k1", make(chan any), make(chan any))
	require.ErrorIs(t, err, session.ErrTransportAttached)
	_, err = h.sessions.Get("k1")
	require.NoError(t, err, "a rejected connection leaves the session alone")
}

func TestStalledWriterTearsDownConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	_, err := h.sessions.Create("k1", session.Agent{ID: "k1", Name: "Ada"}, "Sam")
	require.NoError(t, err)

	inbound := make(chan any, 1)
	inbound <- protocol.ClientText{Type: protocol.TypeText, Text: "anyone there?"}
	err = h.o.RunConnection(t.Context(), "k1", inbound, make(chan any))
	require.ErrorIs(t, err, ErrTransport)

	_, err = h.sessions.Get("k1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCancelledConnectionDestroysSessionAndDropsUtterance(t *testing.T) {
	h := newHarness(t, audioConfig())
	_, err := h.sessions.Create("k1", session.Agent{ID: "k1", Name: "Ada"}, "Sam")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	inbound := make(chan any)
	done := make(chan error, 1)
	go func() { done <- h.o.RunConnection(ctx, "k1", inbound, make(chan any, 16)) }()

	inbound <- protocol.ClientAudio{Type: protocol.TypeAudio, Frames: []protocol.Frame{frame(0.5)}}
	cancel()
	require.NoError(t, <-done)

	_, err = h.sessions.Get("k1")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, h.generator.Calls())
}

func TestConnectionNeverReachesSessionReloadedUnderItsKey(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	stale, staleRec := h.connect(t, "k1")
	require.True(t, h.sessions.Destroy("k1"))
	_, rec := h.connect(t, "k1")

	err := stale.HandleText(context.Background(), "hello from the old socket")
	require.ErrorIs(t, err, session.ErrNotFound)
	stale.teardown(context.Background())

	snap, err := h.sessions.Get("k1")
	require.NoError(t, err, "the old connection must not destroy the reloaded session")
	assert.Empty(t, snap.Messages)
	assert.True(t, snap.Connected)
	assert.Empty(t, rec.all())
	assert.Empty(t, staleRec.all())
	assert.Empty(t, h.generator.Calls())
}

func TestUnloadEndsRunningConnection(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := h.sessions.Create("k1", session.Agent{ID: "k1", Name: "Ada"}, "Sam")
	require.NoError(t, err)
	old := startClient(t, h.o, "k1")
	require.Eventually(t, func() bool {
		snap, err := h.sessions.Get("k1")
		return err == nil && snap.Connected
	}, time.Second, 5*time.Millisecond)

	require.True(t, h.sessions.Destroy("k1"))
	select {
	case err := <-old.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connection still running after its session was unloaded")
	}

	_, rec := h.connect(t, "k1")
	snap, err := h.sessions.Get("k1")
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, rec.all())
	close(old.outbound)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "capturing", StateCapturing.String())
	assert.Equal(t, "dispatching", StateDispatching.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func withoutTime(m session.Message) session.Message {
	m.CreatedAt = time.Time{}
	return m
}
