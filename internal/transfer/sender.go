package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lexisync/lexisync/internal/eventlog"
	"github.com/lexisync/lexisync/pkg/bytesize"
	"github.com/lexisync/lexisync/pkg/proto"
)

// ProgressFunc reports per-file progress as sentChunks out of totalChunks.
type ProgressFunc func(sentChunks, totalChunks int)

// Sender slices payloads into chunk messages and writes them in index
// order. Transfer is fire-and-forget per file; the sender does not wait
// for a receiver acknowledgment.
type Sender struct {
	send       MessageSender
	events     *eventlog.Log
	chunkDelay time.Duration
}

// NewSender creates a Sender writing through the given message sender.
func NewSender(send MessageSender, events *eventlog.Log) *Sender {
	if events == nil {
		events = eventlog.New()
	}
	return &Sender{
		send:       send,
		events:     events,
		chunkDelay: DefaultChunkDelay,
	}
}

// SetChunkDelay overrides the inter-chunk yield. Zero disables it.
func (s *Sender) SetChunkDelay(d time.Duration) {
	s.chunkDelay = d
}

// SendFile transmits one file: a metadata message followed by every
// chunk strictly in index order. Returns the generated file ID.
func (s *Sender) SendFile(ctx context.Context, name, fileType string, data []byte, progress ProgressFunc) (string, error) {
	id := uuid.NewString()
	size := int64(len(data))
	totalChunks := TotalChunks(size)

	meta, err := proto.NewMessage(proto.MessageTypeFileMetadata, proto.FileMetadataPayload{
		ID:          id,
		Name:        name,
		Size:        size,
		FileType:    fileType,
		TotalChunks: totalChunks,
	})
	if err != nil {
		return "", err
	}
	if err := s.send.Send(ctx, meta); err != nil {
		return "", fmt.Errorf("send file metadata: %w", err)
	}

	s.events.Info("file send started", fmt.Sprintf("%s (%s, %d chunks)", name, bytesize.Format(size), totalChunks))

	for i := 0; i < totalChunks; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}

		msg, err := proto.NewMessage(proto.MessageTypeFileChunk, proto.FileChunkPayload{
			FileID:     id,
			ChunkIndex: i,
			Chunk:      data[start:end],
		})
		if err != nil {
			return id, err
		}
		if err := s.send.Send(ctx, msg); err != nil {
			return id, fmt.Errorf("send chunk %d/%d: %w", i, totalChunks, err)
		}

		if progress != nil {
			progress(i+1, totalChunks)
		}

		if s.chunkDelay > 0 && i < totalChunks-1 {
			select {
			case <-time.After(s.chunkDelay):
			case <-ctx.Done():
				return id, ctx.Err()
			}
		}
	}

	s.events.Info("file send finished", name)
	return id, nil
}

// SendText transmits a text payload as a single unchunked message.
func (s *Sender) SendText(ctx context.Context, content, contentType string) error {
	msg, err := proto.NewMessage(proto.MessageTypeTextContent, proto.TextContentPayload{
		Content:     content,
		ContentType: contentType,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := s.send.Send(ctx, msg); err != nil {
		return fmt.Errorf("send text content: %w", err)
	}
	s.events.Info("text sent", contentType)
	return nil
}
