// Package transport provides the ordered binary channel a session runs
// over, and the broker bootstrap used to establish one between two
// devices. The channel is a plain io.ReadWriteCloser; message framing
// lives in pkg/proto.
package transport

import (
	"context"
	"errors"
	"io"
	"time"
)

// Role identifies which side of a session this endpoint plays.
type Role string

const (
	// RoleSender initiates the connection using a session ID obtained
	// out-of-band from the receiver.
	RoleSender Role = "sender"

	// RoleReceiver registers a new session with the broker and waits for
	// a sender to attach.
	RoleReceiver Role = "receiver"
)

// ErrSessionIDRequired is returned when a sender connects without the
// receiver's session ID.
var ErrSessionIDRequired = errors.New("transport: sender requires a session id")

// Channel is a bidirectional ordered binary byte stream between two
// endpoints. Reads and writes carry framed protocol messages.
type Channel interface {
	io.ReadWriteCloser
}

// ConnectResult reports the outcome of a bootstrap.
type ConnectResult struct {
	Channel Channel

	// SessionID is the rendezvous token for this session. For a
	// receiver this is freshly issued and must be shown to the sender;
	// for a sender it echoes the ID that was supplied.
	SessionID string
}

// Connector resolves a session ID to a reachable peer and opens a
// channel to it.
type Connector interface {
	// Connect opens a channel. Receivers pass an empty sessionID and
	// get a new one back; senders must supply the receiver's ID.
	Connect(ctx context.Context, role Role, sessionID string) (*ConnectResult, error)
}

// Options configures the broker-backed connector.
type Options struct {
	// BrokerURL is the HTTP(S) base URL of the rendezvous broker.
	BrokerURL string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}
