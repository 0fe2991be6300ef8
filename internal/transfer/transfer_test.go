package transfer

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexisync/lexisync/pkg/proto"
)

// captureSender records sent messages in order.
type captureSender struct {
	mu   sync.Mutex
	msgs []*proto.Message
}

func (c *captureSender) Send(ctx context.Context, msg *proto.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

// exchangeCounter records BeginExchange/EndExchange calls.
type exchangeCounter struct {
	mu          sync.Mutex
	begun, done int
}

func (e *exchangeCounter) BeginExchange(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.begun++
	return nil
}

func (e *exchangeCounter) EndExchange(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done++
}

func testPayload(n int) []byte {
	data := make([]byte, n)
	rnd := rand.New(rand.NewSource(42))
	rnd.Read(data)
	return data
}

func sendTestFile(t *testing.T, data []byte) (meta *proto.Message, chunks []*proto.Message) {
	t.Helper()
	cs := &captureSender{}
	s := NewSender(cs, nil)
	s.SetChunkDelay(0)

	_, err := s.SendFile(context.Background(), "export.json", "application/json", data, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cs.msgs)
	return cs.msgs[0], cs.msgs[1:]
}

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		size int64
		want int
	}{
		{0, 0},
		{1, 1},
		{ChunkSize, 1},
		{ChunkSize + 1, 2},
		{3 * ChunkSize, 3},
		{3*ChunkSize + 100, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalChunks(tt.size), "size %d", tt.size)
	}
}

func TestSendFileChunkOrder(t *testing.T) {
	data := testPayload(3*ChunkSize + 100)
	meta, chunks := sendTestFile(t, data)

	m, err := meta.DecodeFileMetadata()
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), m.Size)
	assert.Equal(t, 4, m.TotalChunks)
	require.Len(t, chunks, 4)

	for i, msg := range chunks {
		c, err := msg.DecodeFileChunk()
		require.NoError(t, err)
		assert.Equal(t, i, c.ChunkIndex, "chunks must be sent strictly in index order")
		assert.Equal(t, m.ID, c.FileID)
	}
}

func TestSendFileProgress(t *testing.T) {
	cs := &captureSender{}
	s := NewSender(cs, nil)
	s.SetChunkDelay(0)

	var progress []int
	_, err := s.SendFile(context.Background(), "f", "", testPayload(2*ChunkSize+1), func(sent, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, sent)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestReassemblyInOrder(t *testing.T) {
	data := testPayload(2*ChunkSize + 8192/2)
	meta, chunks := sendTestFile(t, data)

	var got []byte
	r := NewReceiver(ReceiverConfig{
		OnFile: func(name, fileType string, d []byte) { got = d },
	})

	require.NoError(t, r.HandleMessage(context.Background(), meta))
	for _, c := range chunks {
		require.NoError(t, r.HandleMessage(context.Background(), c))
	}

	assert.True(t, bytes.Equal(data, got), "reassembled payload must match the source")
	assert.Equal(t, 0, r.InFlight())
}

func TestReassemblyAnyInterleaving(t *testing.T) {
	data := testPayload(5*ChunkSize + 77)
	meta, chunks := sendTestFile(t, data)

	rnd := rand.New(rand.NewSource(7))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]*proto.Message, len(chunks))
		copy(shuffled, chunks)
		rnd.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		var got []byte
		r := NewReceiver(ReceiverConfig{
			OnFile: func(name, fileType string, d []byte) { got = d },
		})
		require.NoError(t, r.HandleMessage(context.Background(), meta))
		for _, c := range shuffled {
			require.NoError(t, r.HandleMessage(context.Background(), c))
		}
		assert.True(t, bytes.Equal(data, got), "trial %d", trial)
	}
}

func TestWithheldChunkNeverCompletes(t *testing.T) {
	data := testPayload(4 * ChunkSize)
	meta, chunks := sendTestFile(t, data)

	delivered := false
	r := NewReceiver(ReceiverConfig{
		OnFile: func(name, fileType string, d []byte) { delivered = true },
	})
	require.NoError(t, r.HandleMessage(context.Background(), meta))

	m, _ := meta.DecodeFileMetadata()
	// Withhold chunk 2; deliver the rest, some twice
	for _, i := range []int{0, 1, 3, 1, 0} {
		require.NoError(t, r.HandleMessage(context.Background(), chunks[i]))
	}

	assert.False(t, delivered, "transfer must not complete with a missing chunk")
	assert.Equal(t, StatusTransferring, r.Status(m.ID))
	assert.Equal(t, 1, r.InFlight())
}

func TestSizeMismatchIsIntegrityError(t *testing.T) {
	data := testPayload(ChunkSize + 10)
	meta, chunks := sendTestFile(t, data)

	// Corrupt the declared size
	m, _ := meta.DecodeFileMetadata()
	m.Size = int64(len(data) + 5)
	badMeta, err := proto.NewMessage(proto.MessageTypeFileMetadata, *m)
	require.NoError(t, err)

	delivered := false
	r := NewReceiver(ReceiverConfig{
		OnFile: func(name, fileType string, d []byte) { delivered = true },
	})
	require.NoError(t, r.HandleMessage(context.Background(), badMeta))
	for _, c := range chunks {
		require.NoError(t, r.HandleMessage(context.Background(), c))
	}

	assert.False(t, delivered, "integrity failure must drop the file")
	assert.Equal(t, 0, r.InFlight(), "failed transfer is forgotten")
}

func TestChunkIndexOutOfRange(t *testing.T) {
	data := testPayload(ChunkSize)
	meta, _ := sendTestFile(t, data)
	m, _ := meta.DecodeFileMetadata()

	r := NewReceiver(ReceiverConfig{})
	require.NoError(t, r.HandleMessage(context.Background(), meta))

	bad, err := proto.NewMessage(proto.MessageTypeFileChunk, proto.FileChunkPayload{
		FileID:     m.ID,
		ChunkIndex: 7,
		Chunk:      []byte("x"),
	})
	require.NoError(t, err)
	require.NoError(t, r.HandleMessage(context.Background(), bad))

	assert.Equal(t, 0, r.InFlight(), "out-of-range chunk drops the file")
}

func TestChunkForUnknownFile(t *testing.T) {
	r := NewReceiver(ReceiverConfig{})
	msg, err := proto.NewMessage(proto.MessageTypeFileChunk, proto.FileChunkPayload{
		FileID:     "nope",
		ChunkIndex: 0,
	})
	require.NoError(t, err)
	assert.Error(t, r.HandleMessage(context.Background(), msg))
}

func TestZeroByteFile(t *testing.T) {
	meta, chunks := sendTestFile(t, nil)
	assert.Empty(t, chunks)

	var got []byte
	delivered := false
	r := NewReceiver(ReceiverConfig{
		OnFile: func(name, fileType string, d []byte) { delivered, got = true, d },
	})
	require.NoError(t, r.HandleMessage(context.Background(), meta))
	assert.True(t, delivered)
	assert.Empty(t, got)
}

func TestExchangeBracketsTransfer(t *testing.T) {
	data := testPayload(2 * ChunkSize)
	meta, chunks := sendTestFile(t, data)

	ex := &exchangeCounter{}
	r := NewReceiver(ReceiverConfig{Exchanger: ex})
	require.NoError(t, r.HandleMessage(context.Background(), meta))
	assert.Equal(t, 1, ex.begun)
	assert.Equal(t, 0, ex.done)

	for _, c := range chunks {
		require.NoError(t, r.HandleMessage(context.Background(), c))
	}
	assert.Equal(t, 1, ex.done)
}

func TestResetDropsInFlight(t *testing.T) {
	data := testPayload(3 * ChunkSize)
	meta, chunks := sendTestFile(t, data)

	r := NewReceiver(ReceiverConfig{})
	require.NoError(t, r.HandleMessage(context.Background(), meta))
	require.NoError(t, r.HandleMessage(context.Background(), chunks[0]))
	require.Equal(t, 1, r.InFlight())

	r.Reset()
	assert.Equal(t, 0, r.InFlight())
}

func TestTextRoundTrip(t *testing.T) {
	cs := &captureSender{}
	s := NewSender(cs, nil)
	require.NoError(t, s.SendText(context.Background(), "hola mundo", "text/plain"))
	require.Len(t, cs.msgs, 1)

	var gotContent, gotType string
	r := NewReceiver(ReceiverConfig{
		OnText: func(content, contentType string, ts int64) {
			gotContent, gotType = content, contentType
		},
	})
	require.NoError(t, r.HandleMessage(context.Background(), cs.msgs[0]))
	assert.Equal(t, "hola mundo", gotContent)
	assert.Equal(t, "text/plain", gotType)
}

func TestDuplicateMetadataRejected(t *testing.T) {
	meta, _ := sendTestFile(t, testPayload(ChunkSize))
	r := NewReceiver(ReceiverConfig{})
	require.NoError(t, r.HandleMessage(context.Background(), meta))
	assert.Error(t, r.HandleMessage(context.Background(), meta))
}
