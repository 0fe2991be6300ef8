package transfer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/lexisync/lexisync/internal/eventlog"
	"github.com/lexisync/lexisync/pkg/bytesize"
	"github.com/lexisync/lexisync/pkg/proto"
)

// FileTransfer tracks one inbound file in flight. The chunk arena is
// pre-sized from the declared chunk count and addressed by chunk index.
type FileTransfer struct {
	ID          string
	Name        string
	Size        int64
	FileType    string
	TotalChunks int
	Status      Status

	chunks   [][]byte
	filled   []bool
	received int
}

// ReceivedCount returns the number of distinct chunk indices populated.
func (ft *FileTransfer) ReceivedCount() int {
	return ft.received
}

// FileFunc delivers a fully reassembled file.
type FileFunc func(name, fileType string, data []byte)

// TextFunc delivers an inbound text payload.
type TextFunc func(content, contentType string, timestamp int64)

// Receiver reassembles inbound chunk streams. It implements the
// session handler contract for file and text messages.
type Receiver struct {
	mu        sync.Mutex
	transfers map[string]*FileTransfer

	events    *eventlog.Log
	exchanger Exchanger
	onFile    FileFunc
	onText    TextFunc
}

// ReceiverConfig holds the wiring for a Receiver.
type ReceiverConfig struct {
	Events    *eventlog.Log
	Exchanger Exchanger
	OnFile    FileFunc
	OnText    TextFunc
}

// NewReceiver creates a Receiver.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Events == nil {
		cfg.Events = eventlog.New()
	}
	return &Receiver{
		transfers: make(map[string]*FileTransfer),
		events:    cfg.Events,
		exchanger: cfg.Exchanger,
		onFile:    cfg.OnFile,
		onText:    cfg.OnText,
	}
}

// Status returns the status of a transfer, or empty if unknown.
// Completed and failed transfers are forgotten, so this reports only
// transfers still in flight.
func (r *Receiver) Status(fileID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ft, ok := r.transfers[fileID]; ok {
		return ft.Status
	}
	return ""
}

// InFlight returns the number of transfers currently open.
func (r *Receiver) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

// HandleMessage routes file-metadata, file-chunk and text-content messages.
func (r *Receiver) HandleMessage(ctx context.Context, msg *proto.Message) error {
	switch msg.Type {
	case proto.MessageTypeFileMetadata:
		return r.handleMetadata(msg)
	case proto.MessageTypeFileChunk:
		return r.handleChunk(msg)
	case proto.MessageTypeTextContent:
		return r.handleText(msg)
	default:
		return fmt.Errorf("transfer: unexpected message type %s", msg.Type)
	}
}

// Reset drops all in-flight chunk buffers. Called when the session
// disconnects; partially received files are discarded.
func (r *Receiver) Reset() {
	r.mu.Lock()
	n := len(r.transfers)
	r.transfers = make(map[string]*FileTransfer)
	r.mu.Unlock()

	if n > 0 {
		r.events.Warn("in-flight transfers dropped", fmt.Sprintf("%d file(s)", n))
	}
}

func (r *Receiver) handleMetadata(msg *proto.Message) error {
	meta, err := msg.DecodeFileMetadata()
	if err != nil {
		return err
	}
	if meta.ID == "" || meta.Size < 0 || meta.TotalChunks < 0 {
		return fmt.Errorf("transfer: malformed file metadata for %q", meta.Name)
	}
	if meta.TotalChunks != TotalChunks(meta.Size) {
		return fmt.Errorf("transfer: declared chunk count %d does not match size %d", meta.TotalChunks, meta.Size)
	}

	ft := &FileTransfer{
		ID:          meta.ID,
		Name:        meta.Name,
		Size:        meta.Size,
		FileType:    meta.FileType,
		TotalChunks: meta.TotalChunks,
		Status:      StatusTransferring,
		chunks:      make([][]byte, meta.TotalChunks),
		filled:      make([]bool, meta.TotalChunks),
	}

	r.mu.Lock()
	if _, exists := r.transfers[meta.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("transfer: duplicate file id %s", meta.ID)
	}
	r.transfers[meta.ID] = ft
	r.mu.Unlock()

	if r.exchanger != nil {
		_ = r.exchanger.BeginExchange("incoming file " + meta.Name)
	}
	r.events.Info("file receive started", fmt.Sprintf("%s (%s, %d chunks)", meta.Name, bytesize.Format(meta.Size), meta.TotalChunks))

	// A zero-byte file has no chunks and completes immediately
	if ft.TotalChunks == 0 {
		r.complete(ft)
	}
	return nil
}

func (r *Receiver) handleChunk(msg *proto.Message) error {
	chunk, err := msg.DecodeFileChunk()
	if err != nil {
		return err
	}

	r.mu.Lock()
	ft, ok := r.transfers[chunk.FileID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("transfer: chunk for unknown file %s", chunk.FileID)
	}
	if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= ft.TotalChunks {
		r.mu.Unlock()
		r.fail(ft, fmt.Sprintf("chunk index %d out of range [0,%d)", chunk.ChunkIndex, ft.TotalChunks))
		return nil
	}

	if !ft.filled[chunk.ChunkIndex] {
		ft.filled[chunk.ChunkIndex] = true
		ft.received++
	}
	ft.chunks[chunk.ChunkIndex] = chunk.Chunk
	done := ft.received == ft.TotalChunks
	r.mu.Unlock()

	if done {
		r.complete(ft)
	}
	return nil
}

// complete concatenates the arena in index order, verifies the
// reassembled length against the declared size and delivers the file.
// A length mismatch is a fatal integrity error for this file only.
func (r *Receiver) complete(ft *FileTransfer) {
	data := bytes.Join(ft.chunks, nil)

	if int64(len(data)) != ft.Size {
		r.fail(ft, fmt.Sprintf("reassembled %d bytes, declared %d", len(data), ft.Size))
		return
	}

	r.mu.Lock()
	ft.Status = StatusCompleted
	delete(r.transfers, ft.ID)
	r.mu.Unlock()

	r.events.Info("file receive finished", ft.Name)
	if r.exchanger != nil {
		r.exchanger.EndExchange("file received " + ft.Name)
	}
	if r.onFile != nil {
		r.onFile(ft.Name, ft.FileType, data)
	}
}

// fail drops a file after an integrity error. The session stays usable.
func (r *Receiver) fail(ft *FileTransfer, detail string) {
	r.mu.Lock()
	ft.Status = StatusError
	delete(r.transfers, ft.ID)
	r.mu.Unlock()

	r.events.Error("file integrity error", ft.Name+": "+detail)
	if r.exchanger != nil {
		r.exchanger.EndExchange("file dropped " + ft.Name)
	}
}

func (r *Receiver) handleText(msg *proto.Message) error {
	text, err := msg.DecodeTextContent()
	if err != nil {
		return err
	}
	r.events.Info("text received", text.ContentType)
	if r.onText != nil {
		r.onText(text.Content, text.ContentType, text.Timestamp)
	}
	return nil
}
