package transport

import (
	"context"
	"net"
)

// Pipe returns two channels connected back to back in memory. Used to
// run two sessions against each other in tests without a broker.
func Pipe() (Channel, Channel) {
	a, b := net.Pipe()
	return a, b
}

// PipeConnector hands out the two ends of an in-memory pipe: the first
// Connect call (either role) gets one end, the second gets the other.
type PipeConnector struct {
	sessionID string
	ends      chan Channel
}

// NewPipeConnector creates a connector backed by a single pipe pair.
func NewPipeConnector(sessionID string) *PipeConnector {
	a, b := Pipe()
	ends := make(chan Channel, 2)
	ends <- a
	ends <- b
	return &PipeConnector{sessionID: sessionID, ends: ends}
}

// Connect implements Connector.
func (p *PipeConnector) Connect(ctx context.Context, role Role, sessionID string) (*ConnectResult, error) {
	select {
	case ch := <-p.ends:
		return &ConnectResult{Channel: ch, SessionID: p.sessionID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
