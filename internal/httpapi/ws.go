package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/protocol"
)

const (
	wsReadLimit    = 8 << 20
	wsWriteTimeout = 10 * time.Second
)

// handleSessionWS upgrades /session?key= and runs the conversation. One
// goroutine reads, one writes and one runs the orchestrator; the first to
// stop takes the others down.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_key", "query parameter key is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	sess, err := s.sessions.Get(key)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Connected {
		respondError(w, http.StatusConflict, "session_connected", "session already has a connection")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)

	g.Go(func() error {
		defer cancel()
		return s.orchestrator.RunConnection(gctx, key, inbound, outbound)
	})
	g.Go(func() error {
		return s.writeLoop(gctx, conn, outbound)
	})
	g.Go(func() error {
		defer cancel()
		defer close(inbound)
		return s.readLoop(gctx, conn, inbound, outbound)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks the reader.
		_ = conn.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !isClosure(err) {
		observability.Logger(r.Context()).Warn("session connection ended", "session", key, "error", err)
	}
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, inbound, outbound chan<- any) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			select {
			case <-ctx.Done():
				return nil
			case outbound <- protocol.NewError(err, ""):
				s.metrics.WSMessages.WithLabelValues("outbound", string(protocol.TypeErrorEvent)).Inc()
			}
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", inboundType(parsed)).Inc()
		select {
		case <-ctx.Done():
			return nil
		case inbound <- parsed:
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.SessionEvents.WithLabelValues("ws_write_failed").Inc()
				return err
			}
		}
	}
}

func inboundType(msg any) string {
	switch m := msg.(type) {
	case protocol.ClientText:
		return string(m.Type)
	case protocol.ClientAudio:
		return string(m.Type)
	case protocol.ClientAudioSessionEnd:
		return string(m.Type)
	default:
		return "unknown"
	}
}

func isClosure(err error) bool {
	return errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
