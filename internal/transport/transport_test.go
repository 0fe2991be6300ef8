package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexisync/lexisync/pkg/proto"
)

func TestPipeCarriesFrames(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	body := []byte(`{"type":"verification-success"}`)
	errCh := make(chan error, 1)
	go func() {
		errCh <- proto.WriteFrame(a, body)
	}()

	got, err := proto.ReadFrame(b)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	require.NoError(t, <-errCh)
}

func TestPipeConnectorPairsBothEnds(t *testing.T) {
	pc := NewPipeConnector("sess-1")
	ctx := context.Background()

	recv, err := pc.Connect(ctx, RoleReceiver, "")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", recv.SessionID)

	send, err := pc.Connect(ctx, RoleSender, "sess-1")
	require.NoError(t, err)

	go func() {
		_ = proto.WriteFrame(send.Channel, []byte("hello"))
	}()
	got, err := proto.ReadFrame(recv.Channel)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	recv.Channel.Close()
	send.Channel.Close()
}

func TestPipeConnectorExhausted(t *testing.T) {
	pc := NewPipeConnector("sess-1")
	ctx := context.Background()

	_, err := pc.Connect(ctx, RoleReceiver, "")
	require.NoError(t, err)
	_, err = pc.Connect(ctx, RoleSender, "sess-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pc.Connect(ctx, RoleSender, "sess-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBrokerConnectorRequiresSessionID(t *testing.T) {
	c := NewBrokerConnector(Options{BrokerURL: "http://127.0.0.1:0"})
	_, err := c.Connect(context.Background(), RoleSender, "")
	assert.ErrorIs(t, err, ErrSessionIDRequired)
}

func TestHTTPToWSURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://broker.example:8443", "ws://broker.example:8443", false},
		{"https://broker.example", "wss://broker.example", false},
		{"ftp://broker.example", "", true},
	}
	for _, tt := range tests {
		got, err := httpToWSURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
