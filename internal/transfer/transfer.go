// Package transfer implements the chunked transfer protocol: slicing
// file payloads into bounded messages on the way out, and reassembling
// inbound chunk streams into complete payloads with integrity checks.
package transfer

import (
	"context"
	"time"

	"github.com/lexisync/lexisync/pkg/proto"
)

// ChunkSize is the fixed size of a file chunk on the wire.
const ChunkSize = 8 * 1024

// DefaultChunkDelay is the yield between chunk sends, keeping the
// channel's send queue responsive during large transfers.
const DefaultChunkDelay = 5 * time.Millisecond

// Status describes the lifecycle of a single file transfer.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// MessageSender sends a protocol message over the session channel.
type MessageSender interface {
	Send(ctx context.Context, msg *proto.Message) error
}

// Exchanger brackets a multi-message exchange so the session can enter
// and leave the transferring state.
type Exchanger interface {
	BeginExchange(reason string) error
	EndExchange(reason string)
}

// TotalChunks returns the number of chunks for a payload of the given size.
func TotalChunks(size int64) int {
	return int((size + ChunkSize - 1) / ChunkSize)
}
