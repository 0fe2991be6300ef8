package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexisync/lexisync/internal/transport"
	"github.com/lexisync/lexisync/pkg/proto"
)

func newTestBroker(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(Config{SignKey: "test-sign-key", PairTimeout: 2 * time.Second})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func createSession(t *testing.T, baseURL string) proto.SessionCreateResponse {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/v1/session", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out proto.SessionCreateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateSession(t *testing.T) {
	_, ts := newTestBroker(t)

	created := createSession(t, ts.URL)
	assert.Len(t, created.SessionID, sessionIDLength)
	assert.NotEmpty(t, created.Token)

	// The ID uses only the unambiguous alphabet.
	for _, c := range created.SessionID {
		assert.Contains(t, sessionIDAlphabet, string(c))
	}
}

func TestCreateSessionMethodNotAllowed(t *testing.T) {
	_, ts := newTestBroker(t)

	resp, err := http.Get(ts.URL + "/api/v1/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestJoinSession(t *testing.T) {
	_, ts := newTestBroker(t)
	created := createSession(t, ts.URL)

	resp, err := http.Post(ts.URL+"/api/v1/session/"+created.SessionID+"/join", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out proto.SessionJoinResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Token)
	assert.NotEqual(t, created.Token, out.Token)
}

func TestJoinUnknownSession(t *testing.T) {
	_, ts := newTestBroker(t)

	resp, err := http.Post(ts.URL+"/api/v1/session/NOPE99/join", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var apiErr proto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Contains(t, apiErr.Error, "unknown session")
}

func TestJoinTwice(t *testing.T) {
	_, ts := newTestBroker(t)
	created := createSession(t, ts.URL)

	joinURL := ts.URL + "/api/v1/session/" + created.SessionID + "/join"

	resp, err := http.Post(joinURL, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(joinURL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTokenRoundTrip(t *testing.T) {
	srv, _ := newTestBroker(t)

	token, err := srv.GenerateToken("ABCDEF", "receiver")
	require.NoError(t, err)

	claims, err := srv.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", claims.SessionID)
	assert.Equal(t, "receiver", claims.Role)
}

func TestTokenWrongKeyRejected(t *testing.T) {
	srv1 := NewServer(Config{SignKey: "key-one"})
	srv2 := NewServer(Config{SignKey: "key-two"})

	token, err := srv1.GenerateToken("ABCDEF", "receiver")
	require.NoError(t, err)

	_, err = srv2.ValidateToken(token)
	assert.Error(t, err)

	_, err = srv1.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestRelayRejectsBadAuth(t *testing.T) {
	srv, ts := newTestBroker(t)
	created := createSession(t, ts.URL)

	// No Authorization header at all.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/relay/"+created.SessionID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Token issued for a different session.
	other, err := srv.GenerateToken("OTHER1", "sender")
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/relay/"+created.SessionID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+other)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// TestRelayBridgesEndpoints runs the full bootstrap through the
// client connector: a receiver registers and waits, a sender joins,
// and bytes written on one channel come out of the other.
func TestRelayBridgesEndpoints(t *testing.T) {
	_, ts := newTestBroker(t)
	ctx := context.Background()

	connector := transport.NewBrokerConnector(transport.Options{BrokerURL: ts.URL})

	type result struct {
		res *transport.ConnectResult
		err error
	}
	receiverCh := make(chan result, 1)
	go func() {
		res, err := connector.Connect(ctx, transport.RoleReceiver, "")
		receiverCh <- result{res, err}
	}()

	recv := <-receiverCh
	require.NoError(t, recv.err)
	defer recv.res.Channel.Close()

	sender, err := connector.Connect(ctx, transport.RoleSender, recv.res.SessionID)
	require.NoError(t, err)
	defer sender.Channel.Close()

	assert.Equal(t, recv.res.SessionID, sender.SessionID)

	payload := []byte("hello across the relay")
	require.NoError(t, proto.WriteFrame(sender.Channel, payload))

	got, err := proto.ReadFrame(recv.res.Channel)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// And in the other direction.
	require.NoError(t, proto.WriteFrame(recv.res.Channel, []byte("ack")))
	got, err = proto.ReadFrame(sender.Channel)
	require.NoError(t, err)
	assert.Equal(t, []byte("ack"), got)
}

func TestSenderRequiresSessionID(t *testing.T) {
	_, ts := newTestBroker(t)
	connector := transport.NewBrokerConnector(transport.Options{BrokerURL: ts.URL})

	_, err := connector.Connect(context.Background(), transport.RoleSender, "")
	assert.ErrorIs(t, err, transport.ErrSessionIDRequired)
}

func TestSweepExpired(t *testing.T) {
	srv, ts := newTestBroker(t)
	created := createSession(t, ts.URL)

	srv.mu.Lock()
	srv.sessions[created.SessionID].createdAt = time.Now().Add(-time.Hour)
	srv.mu.Unlock()

	srv.sweepExpired()

	resp, err := http.Post(ts.URL+"/api/v1/session/"+created.SessionID+"/join", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
