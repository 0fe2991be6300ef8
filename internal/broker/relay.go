package broker

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin: func(r *http.Request) bool {
		return true // devices connect from arbitrary origins
	},
}

// relayConn is one endpoint waiting to be bridged.
type relayConn struct {
	role   string
	conn   *websocket.Conn
	paired chan struct{} // closed when the counterpart arrives
}

// handleRelay upgrades an endpoint to a websocket and bridges it with
// the session's other endpoint. The first arrival waits; the second
// one pairs and runs the bridge.
// URL format: /api/v1/relay/{session_id}
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/v1/relay/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	token, err := parseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		log.Debug().Err(err).Msg("relay auth failed")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if claims.SessionID != sessionID {
		http.Error(w, "token not valid for this session", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	_, known := s.sessions[sessionID]
	s.mu.Unlock()
	if !known {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("relay websocket upgrade failed")
		return
	}

	log.Info().
		Str("session", sessionID).
		Str("role", claims.Role).
		Msg("relay endpoint connected")

	s.mu.Lock()
	if waiting, ok := s.pending[sessionID]; ok {
		delete(s.pending, sessionID)
		s.mu.Unlock()

		// Signal the waiting endpoint; this goroutine runs the bridge
		close(waiting.paired)
		s.bridge(sessionID, waiting.conn, conn)
		return
	}

	rc := &relayConn{role: claims.Role, conn: conn, paired: make(chan struct{})}
	s.pending[sessionID] = rc
	s.mu.Unlock()

	// A receiver sits here while its user relays the session ID to the
	// other device, so it gets the session's full lifetime. The tight
	// pair timeout is for senders, whose counterpart is already waiting.
	wait := s.cfg.PairTimeout
	if claims.Role == "receiver" {
		wait = s.cfg.SessionTTL
	}

	select {
	case <-rc.paired:
		// The counterpart's goroutine owns the bridge
		return

	case <-time.After(wait):
		s.mu.Lock()
		if s.pending[sessionID] == rc {
			delete(s.pending, sessionID)
		}
		s.mu.Unlock()

		log.Debug().Str("session", sessionID).Msg("relay pairing timeout")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pairing timeout"),
			time.Now().Add(5*time.Second))
		conn.Close()
	}
}

// bridge relays messages between the two endpoints of a session until
// either side closes.
func (s *Server) bridge(sessionID string, conn1, conn2 *websocket.Conn) {
	log.Info().Str("session", sessionID).Msg("relay bridge started")
	s.metrics.RelayPairs.Inc()
	s.metrics.RelaysActive.Inc()
	defer s.metrics.RelaysActive.Dec()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.relayMessages(conn1, conn2)
	}()
	go func() {
		defer wg.Done()
		s.relayMessages(conn2, conn1)
	}()

	wg.Wait()

	conn1.Close()
	conn2.Close()

	// A bridged session is finished; it cannot be re-joined
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	log.Info().Str("session", sessionID).Msg("relay bridge closed")
}

// relayMessages copies websocket messages from src to dst.
func (s *Server) relayMessages(src, dst *websocket.Conn) {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("relay read error")
			}
			_ = dst.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(5*time.Second))
			return
		}

		s.metrics.RelayBytes.Add(float64(len(data)))

		if err := dst.WriteMessage(messageType, data); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("relay write error")
			}
			return
		}
	}
}
