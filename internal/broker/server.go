// Package broker implements the rendezvous broker: session
// registration, join, and the websocket relay that bridges the two
// devices of a session.
package broker

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lexisync/lexisync/internal/metrics"
	"github.com/lexisync/lexisync/pkg/proto"
)

const (
	// DefaultSessionTTL expires sessions no sender ever joined.
	DefaultSessionTTL = 15 * time.Minute

	// DefaultPairTimeout bounds how long one relay endpoint waits for
	// its counterpart.
	DefaultPairTimeout = 30 * time.Second

	// DefaultTokenTTL bounds relay token validity.
	DefaultTokenTTL = 30 * time.Minute
)

// sessionIDAlphabet excludes ambiguous characters; the ID is read off
// one screen and typed (or scanned) into another.
const sessionIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const sessionIDLength = 6

// Config holds broker settings.
type Config struct {
	// SignKey signs relay tokens. Required.
	SignKey string

	SessionTTL  time.Duration
	PairTimeout time.Duration
	TokenTTL    time.Duration
}

type sessionState struct {
	id        string
	createdAt time.Time
	joined    bool
}

// Server is the rendezvous broker.
type Server struct {
	cfg     Config
	signKey []byte
	mux     *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*sessionState
	pending  map[string]*relayConn // sessionID -> first endpoint waiting

	metrics *metrics.Metrics
}

// NewServer creates a broker server.
func NewServer(cfg Config) *Server {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.PairTimeout == 0 {
		cfg.PairTimeout = DefaultPairTimeout
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}

	s := &Server{
		cfg:      cfg,
		signKey:  []byte(cfg.SignKey),
		mux:      http.NewServeMux(),
		sessions: make(map[string]*sessionState),
		pending:  make(map[string]*relayConn),
		metrics:  metrics.Init(nil),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/session", s.handleCreateSession)
	s.mux.HandleFunc("/api/v1/session/", s.handleJoinSession)
	s.mux.HandleFunc("/api/v1/relay/", s.handleRelay)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Janitor sweeps expired sessions until stop is closed.
func (s *Server) Janitor(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Server) sweepExpired() {
	cutoff := time.Now().Add(-s.cfg.SessionTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.createdAt.Before(cutoff) {
			delete(s.sessions, id)
			log.Debug().Str("session", id).Msg("expired session swept")
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleCreateSession registers a new session for a receiver and
// returns its ID together with a relay token.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := s.newSessionID()
	if err != nil {
		s.jsonError(w, "generate session id: "+err.Error(), http.StatusInternalServerError)
		return
	}

	token, err := s.GenerateToken(id, "receiver")
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sessions[id] = &sessionState{id: id, createdAt: time.Now()}
	s.mu.Unlock()

	s.metrics.SessionsCreated.Inc()
	log.Info().Str("session", id).Msg("session created")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proto.SessionCreateResponse{SessionID: id, Token: token})
}

// handleJoinSession admits a sender into an existing session.
// URL format: /api/v1/session/{id}/join
func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/session/")
	id, ok := strings.CutSuffix(rest, "/join")
	if !ok || id == "" || strings.Contains(id, "/") {
		s.jsonError(w, "not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	sess, exists := s.sessions[id]
	switch {
	case !exists:
		s.mu.Unlock()
		s.jsonError(w, "unknown session", http.StatusNotFound)
		return
	case sess.joined:
		s.mu.Unlock()
		s.jsonError(w, "session already has a sender", http.StatusConflict)
		return
	}
	sess.joined = true
	s.mu.Unlock()

	token, err := s.GenerateToken(id, "sender")
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.metrics.SessionsJoined.Inc()
	log.Info().Str("session", id).Msg("sender joined session")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proto.SessionJoinResponse{Token: token})
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(proto.ErrorResponse{Error: message, Code: code})
}

// newSessionID returns an unused random session ID.
func (s *Server) newSessionID() (string, error) {
	for {
		id, err := randomID()
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		_, taken := s.sessions[id]
		s.mu.Unlock()
		if !taken {
			return id, nil
		}
	}
}

func randomID() (string, error) {
	buf := make([]byte, sessionIDLength)
	max := big.NewInt(int64(len(sessionIDAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = sessionIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}
