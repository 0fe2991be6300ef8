// Package proto defines the wire messages exchanged between two
// lexisync sessions and the framing used to carry them over a channel.
package proto

import (
	"encoding/json"
	"fmt"

	"github.com/lexisync/lexisync/pkg/vocab"
)

// MessageType identifies the type of a wire message.
type MessageType string

const (
	// MessageTypeVerificationRequest carries the sender's generated code.
	MessageTypeVerificationRequest MessageType = "verification-request"

	// MessageTypeVerificationResponse carries the code entered on the receiver.
	MessageTypeVerificationResponse MessageType = "verification-response"

	// MessageTypeVerificationSuccess confirms the codes matched.
	MessageTypeVerificationSuccess MessageType = "verification-success"

	// MessageTypeVerificationFailed signals a code mismatch; the receiver may retry.
	MessageTypeVerificationFailed MessageType = "verification-failed"

	// MessageTypeFileMetadata announces an incoming file and its chunk count.
	MessageTypeFileMetadata MessageType = "file-metadata"

	// MessageTypeFileChunk carries one chunk of a file payload.
	MessageTypeFileChunk MessageType = "file-chunk"

	// MessageTypeTextContent carries a single unchunked text payload.
	MessageTypeTextContent MessageType = "text-content"

	// MessageTypeSyncRequest opens a sync round with the initiator's changed entries.
	MessageTypeSyncRequest MessageType = "sync-request"

	// MessageTypeSyncResponse returns the responder's changed entries after merging.
	MessageTypeSyncResponse MessageType = "sync-response"

	// MessageTypeSyncComplete closes a sync round with the initiator's merge stats.
	MessageTypeSyncComplete MessageType = "sync-complete"

	// MessageTypeSyncError aborts a sync round.
	MessageTypeSyncError MessageType = "sync-error"
)

// Message is the envelope for all wire messages.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// VerificationPayload carries a 6-digit verification code.
type VerificationPayload struct {
	VerificationCode string `json:"verificationCode"`
}

// FileMetadataPayload announces a file transfer.
type FileMetadataPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	FileType    string `json:"fileType"`
	TotalChunks int    `json:"totalChunks"`
}

// FileChunkPayload carries a single chunk of file data.
type FileChunkPayload struct {
	FileID     string `json:"fileId"`
	ChunkIndex int    `json:"chunkIndex"`
	Chunk      []byte `json:"chunk"`
}

// TextContentPayload carries a text payload that fits in one message.
type TextContentPayload struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// SyncRequestPayload opens a sync round.
type SyncRequestPayload struct {
	Profile           vocab.Profile `json:"profile"`
	LastSync          int64         `json:"lastSync"`
	VocabularyEntries []vocab.Entry `json:"vocabularyEntries"`
}

// SyncResponsePayload answers a sync request.
type SyncResponsePayload struct {
	Profile           vocab.Profile `json:"profile"`
	VocabularyEntries []vocab.Entry `json:"vocabularyEntries"`
	Timestamp         int64         `json:"timestamp"`
}

// SyncCompletePayload closes a sync round.
type SyncCompletePayload struct {
	Stats     vocab.SyncStats `json:"stats"`
	Timestamp int64           `json:"timestamp"`
}

// SyncErrorPayload aborts a sync round.
type SyncErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage builds a message of the given type around a payload.
// A nil payload produces an empty-body message (verification-success/-failed).
func NewMessage(t MessageType, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Message{Type: t, Payload: data}, nil
}

func (m *Message) decode(want MessageType, into any) error {
	if m.Type != want {
		return fmt.Errorf("message type is %s, not %s", m.Type, want)
	}
	if err := json.Unmarshal(m.Payload, into); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", want, err)
	}
	return nil
}

// DecodeVerification decodes a verification-request or verification-response payload.
func (m *Message) DecodeVerification() (*VerificationPayload, error) {
	if m.Type != MessageTypeVerificationRequest && m.Type != MessageTypeVerificationResponse {
		return nil, fmt.Errorf("message type is %s, not a verification code message", m.Type)
	}
	var p VerificationPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", m.Type, err)
	}
	return &p, nil
}

// DecodeFileMetadata decodes a file-metadata payload.
func (m *Message) DecodeFileMetadata() (*FileMetadataPayload, error) {
	var p FileMetadataPayload
	if err := m.decode(MessageTypeFileMetadata, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeFileChunk decodes a file-chunk payload.
func (m *Message) DecodeFileChunk() (*FileChunkPayload, error) {
	var p FileChunkPayload
	if err := m.decode(MessageTypeFileChunk, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeTextContent decodes a text-content payload.
func (m *Message) DecodeTextContent() (*TextContentPayload, error) {
	var p TextContentPayload
	if err := m.decode(MessageTypeTextContent, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeSyncRequest decodes a sync-request payload.
func (m *Message) DecodeSyncRequest() (*SyncRequestPayload, error) {
	var p SyncRequestPayload
	if err := m.decode(MessageTypeSyncRequest, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeSyncResponse decodes a sync-response payload.
func (m *Message) DecodeSyncResponse() (*SyncResponsePayload, error) {
	var p SyncResponsePayload
	if err := m.decode(MessageTypeSyncResponse, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeSyncComplete decodes a sync-complete payload.
func (m *Message) DecodeSyncComplete() (*SyncCompletePayload, error) {
	var p SyncCompletePayload
	if err := m.decode(MessageTypeSyncComplete, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeSyncError decodes a sync-error payload.
func (m *Message) DecodeSyncError() (*SyncErrorPayload, error) {
	var p SyncErrorPayload
	if err := m.decode(MessageTypeSyncError, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
