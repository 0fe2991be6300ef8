package proto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single decoded frame. A file chunk is 8 KiB of
// raw bytes before base64 and envelope overhead; sync payloads carrying
// a full record set are the largest messages on the wire.
const MaxFrameSize = 16 << 20 // 16 MiB

// Codec converts messages to and from their wire representation.
// Protocol logic never touches the encoding directly, so the format can
// be swapped without touching the state machine or the sync engine.
type Codec interface {
	Encode(*Message) ([]byte, error)
	Decode([]byte) (*Message, error)
}

// JSONCodec encodes messages as JSON. This is the default wire format.
type JSONCodec struct{}

// Encode serializes the message to JSON.
func (JSONCodec) Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode deserializes a message from JSON.
func (JSONCodec) Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type discriminator")
	}
	return &msg, nil
}

// WriteFrame writes a length-delimited frame: a 4-byte big-endian
// length prefix followed by the body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds max %d", len(body), MaxFrameSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	n, err := w.Write(body)
	if err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	if n != len(body) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads one length-delimited frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds max %d", length, MaxFrameSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}
