package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/protocol"
)

// ErrTransport marks a failure to deliver an event to the client. The
// connection is torn down when it surfaces.
var ErrTransport = errors.New("transport send failed")

// channelTransport hands events to the connection writer. Send blocks until
// the writer takes the event so ordering is preserved.
type channelTransport struct {
	ctx     context.Context
	out     chan<- any
	timeout time.Duration
	metrics *observability.Metrics
}

func (t *channelTransport) Send(msg any) error {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case t.out <- msg:
		t.metrics.WSMessages.WithLabelValues("outbound", string(protocol.TypeOf(msg))).Inc()
		return nil
	case <-t.ctx.Done():
		return fmt.Errorf("%w: %w", ErrTransport, t.ctx.Err())
	case <-timer.C:
		t.metrics.SessionEvents.WithLabelValues("outbound_timeout").Inc()
		return fmt.Errorf("%w: writer stalled for %s", ErrTransport, t.timeout)
	}
}
