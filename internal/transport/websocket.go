package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lexisync/lexisync/pkg/proto"
)

// WSChannel implements Channel over a websocket relay connection.
type WSChannel struct {
	conn   *websocket.Conn
	reader io.Reader
	mu     sync.Mutex
	closed bool
}

// Read reads data from the websocket channel, spanning message
// boundaries the way a byte stream would.
func (c *WSChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.EOF
	}

	// Continue a partially consumed message first
	if c.reader != nil {
		c.mu.Unlock()
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.mu.Lock()
			c.reader = nil
			c.mu.Unlock()
			if n > 0 {
				return n, nil
			}
			return c.Read(p)
		}
		return n, err
	}
	c.mu.Unlock()

	messageType, reader, err := c.conn.NextReader()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("read message: %w", err)
	}

	if messageType != websocket.BinaryMessage {
		return c.Read(p)
	}

	n, err := reader.Read(p)
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, err
	}

	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	return n, nil
}

// Write writes data to the websocket channel as one binary message.
func (c *WSChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	c.mu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("write message: %w", err)
	}
	return len(p), nil
}

// Close closes the websocket channel.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	return c.conn.Close()
}

// BrokerConnector bootstraps channels through the rendezvous broker.
type BrokerConnector struct {
	opts   Options
	client *http.Client
}

// NewBrokerConnector creates a connector against the given broker.
func NewBrokerConnector(opts Options) *BrokerConnector {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	return &BrokerConnector{
		opts:   opts,
		client: &http.Client{Timeout: opts.HandshakeTimeout},
	}
}

// Connect implements Connector. Receivers register a fresh session and
// block in the relay until a sender attaches; senders join by ID.
func (b *BrokerConnector) Connect(ctx context.Context, role Role, sessionID string) (*ConnectResult, error) {
	var token string
	var err error

	switch role {
	case RoleReceiver:
		sessionID, token, err = b.createSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	case RoleSender:
		if sessionID == "" {
			return nil, ErrSessionIDRequired
		}
		token, err = b.joinSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("join session %s: %w", sessionID, err)
		}
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	ch, err := b.dialRelay(ctx, sessionID, token)
	if err != nil {
		return nil, err
	}

	return &ConnectResult{Channel: ch, SessionID: sessionID}, nil
}

func (b *BrokerConnector) createSession(ctx context.Context) (sessionID, token string, err error) {
	var resp proto.SessionCreateResponse
	if err := b.post(ctx, "/api/v1/session", &resp); err != nil {
		return "", "", err
	}
	return resp.SessionID, resp.Token, nil
}

func (b *BrokerConnector) joinSession(ctx context.Context, sessionID string) (string, error) {
	var resp proto.SessionJoinResponse
	if err := b.post(ctx, "/api/v1/session/"+url.PathEscape(sessionID)+"/join", &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (b *BrokerConnector) post(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.opts.BrokerURL, "/")+path, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr proto.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("broker: %s", apiErr.Error)
		}
		return fmt.Errorf("broker: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return json.Unmarshal(body, into)
}

func (b *BrokerConnector) dialRelay(ctx context.Context, sessionID, token string) (*WSChannel, error) {
	wsURL, err := httpToWSURL(b.opts.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("convert URL: %w", err)
	}

	relayURL := wsURL + "/api/v1/relay/" + url.PathEscape(sessionID)

	log.Debug().
		Str("url", relayURL).
		Str("session", sessionID).
		Msg("connecting to relay")

	dialer := websocket.Dialer{HandshakeTimeout: b.opts.HandshakeTimeout}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, relayURL, headers)
	if err != nil {
		if resp != nil {
			body := make([]byte, 256)
			n, _ := resp.Body.Read(body)
			return nil, fmt.Errorf("relay connection failed: %s - %s", resp.Status, string(body[:n]))
		}
		return nil, fmt.Errorf("relay connection failed: %w", err)
	}

	log.Info().
		Str("session", sessionID).
		Msg("relay channel established")

	return &WSChannel{conn: conn}, nil
}

// httpToWSURL converts an HTTP(S) URL to a WebSocket URL.
func httpToWSURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	return u.String(), nil
}
