// Package session implements the connection manager for a lexisync
// session: the connection/verification state machine, idle-timeout
// handling, and dispatch of decoded wire messages to the transfer and
// sync subsystems.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexisync/lexisync/internal/eventlog"
	"github.com/lexisync/lexisync/internal/transport"
	"github.com/lexisync/lexisync/pkg/proto"
)

const (
	// DefaultConnectTimeout bounds address resolution and channel opening.
	DefaultConnectTimeout = 15 * time.Second

	// DefaultIdleTimeout disconnects a session with no inbound traffic.
	DefaultIdleTimeout = 15 * time.Minute
)

// Handler consumes decoded protocol messages routed by the session.
type Handler interface {
	HandleMessage(ctx context.Context, msg *proto.Message) error

	// Reset discards any in-flight state when the session disconnects.
	Reset()
}

// Config holds the dependencies for creating a Session.
type Config struct {
	Connector      transport.Connector
	Codec          proto.Codec
	Events         *eventlog.Log
	Observers      []Observer
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

// Session owns one channel at a time and drives the connection and
// verification state machine. It is safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	connector transport.Connector
	codec     proto.Codec
	events    *eventlog.Log
	observers []Observer

	connectTimeout time.Duration
	idleTimeout    time.Duration

	// Session attributes
	role             transport.Role
	sessionID        string
	state            State
	isVerified       bool
	verificationCode string
	lastError        error

	// Active channel
	ch      transport.Channel
	writeMu sync.Mutex
	done    chan struct{}

	idleTimer *time.Timer

	// Nested multi-message exchanges currently in flight
	exchanges int

	fileHandler Handler
	syncHandler Handler
}

// New creates a Session in the Disconnected state.
func New(cfg Config) *Session {
	if cfg.Codec == nil {
		cfg.Codec = proto.JSONCodec{}
	}
	if cfg.Events == nil {
		cfg.Events = eventlog.New()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Session{
		connector:      cfg.Connector,
		codec:          cfg.Codec,
		events:         cfg.Events,
		observers:      cfg.Observers,
		connectTimeout: cfg.ConnectTimeout,
		idleTimeout:    cfg.IdleTimeout,
		state:          StateDisconnected,
	}
}

// SetFileHandler attaches the handler for file and text messages.
func (s *Session) SetFileHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileHandler = h
}

// SetSyncHandler attaches the handler for sync messages.
func (s *Session) SetSyncHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncHandler = h
}

// AddObserver adds an observer to receive state change notifications.
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Events returns the session's event log.
func (s *Session) Events() *eventlog.Log {
	return s.events
}

// Role returns the transport role of the current connection.
func (s *Session) Role() transport.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// SessionID returns the resolved session ID, empty if not connected.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsVerified reports whether the verification handshake has completed.
func (s *Session) IsVerified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isVerified
}

// VerificationCode returns the generated 6-digit code on the sender
// side, present only between code generation and confirmation.
func (s *Session) VerificationCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verificationCode
}

// LastError returns the last fatal reason recorded on this session.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// TransitionTo attempts to transition to the target state.
// Returns an error if the transition is invalid.
// On success, notifies all observers of the transition.
func (s *Session) TransitionTo(target State, reason string, err error) error {
	s.mu.Lock()

	from := s.state
	if !from.CanTransitionTo(target) {
		s.mu.Unlock()
		return NewTransitionError(from, target, s.sessionID, "invalid transition")
	}

	now := time.Now()
	s.state = target
	if err != nil {
		s.lastError = err
	}

	transition := Transition{
		SessionID: s.sessionID,
		From:      from,
		To:        target,
		Timestamp: now,
		Reason:    reason,
		Error:     err,
	}

	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	logEvent := log.Debug().
		Str("session", transition.SessionID).
		Str("from", from.String()).
		Str("to", target.String()).
		Str("reason", reason)
	if err != nil {
		logEvent = logEvent.Err(err)
	}
	logEvent.Msg("session state transition")

	detail := fmt.Sprintf("%s -> %s (%s)", from, target, reason)
	if err != nil {
		s.events.Error("state transition", detail)
	} else {
		s.events.Info("state transition", detail)
	}

	for _, o := range observers {
		o.OnTransition(transition)
	}

	return nil
}

// Connect resolves the session and opens a channel. Receivers pass an
// empty sessionID and get the freshly issued one back; senders must
// supply the receiver's ID. On success a sender has already transmitted
// its verification request.
func (s *Session) Connect(ctx context.Context, role transport.Role, sessionID string) (string, error) {
	s.mu.Lock()
	if s.ch != nil {
		s.mu.Unlock()
		return "", ErrAlreadyConnected
	}
	s.role = role
	s.lastError = nil
	s.mu.Unlock()

	if err := s.TransitionTo(StateConnecting, "connect requested", nil); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	result, err := s.connector.Connect(ctx, role, sessionID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()
		_ = s.TransitionTo(StateDisconnected, "channel open failed", err)
		return "", err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.ch = result.Channel
	s.sessionID = result.SessionID
	s.done = done
	s.idleTimer = time.AfterFunc(s.idleTimeout, s.onIdleExpired)
	s.mu.Unlock()

	s.events.Info("channel open", "session "+result.SessionID)

	switch role {
	case transport.RoleReceiver:
		if err := s.TransitionTo(StateWaiting, "waiting for sender", nil); err != nil {
			return "", err
		}
	case transport.RoleSender:
		if err := s.TransitionTo(StateVerifying, "channel open", nil); err != nil {
			return "", err
		}
		if err := s.sendVerificationRequest(ctx); err != nil {
			s.Disconnect("verification request failed", err)
			return "", err
		}
	default:
		s.Disconnect("unknown role", nil)
		return "", fmt.Errorf("unknown role %q", role)
	}

	go s.readLoop(result.Channel, done)

	return result.SessionID, nil
}

// Disconnect tears down the channel, cancels timers, clears in-flight
// transfer state and resets verification. The session can connect again
// afterwards.
func (s *Session) Disconnect(reason string, err error) {
	s.mu.Lock()
	ch := s.ch
	if ch == nil && s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.ch = nil
	done := s.done
	s.done = nil
	timer := s.idleTimer
	s.idleTimer = nil
	s.isVerified = false
	s.verificationCode = ""
	s.exchanges = 0
	fh, sh := s.fileHandler, s.syncHandler
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if timer != nil {
		timer.Stop()
	}
	if ch != nil {
		ch.Close()
	}
	if fh != nil {
		fh.Reset()
	}
	if sh != nil {
		sh.Reset()
	}

	_ = s.TransitionTo(StateDisconnected, reason, err)
}

// Send encodes and frames a message onto the channel. Returns
// ErrNotConnected if no connection exists.
func (s *Session) Send(ctx context.Context, msg *proto.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	ch := s.ch
	s.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	data, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return proto.WriteFrame(ch, data)
}

// SubmitCode sends the code the receiver's user entered. The sender is
// the sole arbiter of correctness.
func (s *Session) SubmitCode(ctx context.Context, code string) error {
	s.mu.RLock()
	state := s.state
	role := s.role
	s.mu.RUnlock()

	if role != transport.RoleReceiver {
		return fmt.Errorf("session: only the receiver submits verification codes")
	}
	if state != StateVerifying {
		return fmt.Errorf("session: cannot submit code in state %s", state)
	}

	msg, err := proto.NewMessage(proto.MessageTypeVerificationResponse, proto.VerificationPayload{VerificationCode: code})
	if err != nil {
		return err
	}
	s.events.Info("verification code submitted", "")
	return s.Send(ctx, msg)
}

// BeginExchange marks the start of a multi-message exchange, entering
// the transferring state. Exchanges nest; only the first one
// transitions.
func (s *Session) BeginExchange(reason string) error {
	s.mu.Lock()
	if s.ch == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if !s.isVerified {
		s.mu.Unlock()
		return ErrNotVerified
	}
	s.exchanges++
	first := s.exchanges == 1
	s.mu.Unlock()

	if first {
		return s.TransitionTo(StateTransferring, reason, nil)
	}
	return nil
}

// EndExchange marks the end of a multi-message exchange, returning to
// the connected state once no exchanges remain.
func (s *Session) EndExchange(reason string) {
	s.mu.Lock()
	if s.exchanges == 0 {
		s.mu.Unlock()
		return
	}
	s.exchanges--
	last := s.exchanges == 0
	state := s.state
	s.mu.Unlock()

	if last && state == StateTransferring {
		_ = s.TransitionTo(StateConnected, reason, nil)
	}
}

func (s *Session) sendVerificationRequest(ctx context.Context) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	s.mu.Lock()
	s.verificationCode = code
	s.mu.Unlock()

	msg, err := proto.NewMessage(proto.MessageTypeVerificationRequest, proto.VerificationPayload{VerificationCode: code})
	if err != nil {
		return err
	}
	s.events.Info("verification code generated", "")
	return s.Send(ctx, msg)
}

// generateCode returns a random 6-digit numeric code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Session) onIdleExpired() {
	s.mu.Lock()
	state := s.state
	timer := s.idleTimer
	s.mu.Unlock()

	// Expiry only forces disconnect while not transferring
	if state == StateTransferring {
		if timer != nil {
			timer.Reset(s.idleTimeout)
		}
		return
	}

	s.events.Error("session timeout", "no activity for "+s.idleTimeout.String())
	s.Disconnect("idle session timeout", ErrSessionTimeout)
}

func (s *Session) resetIdleTimer() {
	s.mu.Lock()
	timer := s.idleTimer
	s.mu.Unlock()
	if timer != nil {
		timer.Reset(s.idleTimeout)
	}
}

func (s *Session) readLoop(ch transport.Channel, done chan struct{}) {
	for {
		frame, err := proto.ReadFrame(ch)
		if err != nil {
			select {
			case <-done:
				// Intentional disconnect
			default:
				s.Disconnect("channel closed unexpectedly", err)
			}
			return
		}

		msg, err := s.codec.Decode(frame)
		if err != nil {
			s.events.Warn("undecodable message dropped", err.Error())
			continue
		}

		s.resetIdleTimer()
		s.dispatch(context.Background(), msg)
	}
}

// dispatch routes a decoded message by its type discriminator.
func (s *Session) dispatch(ctx context.Context, msg *proto.Message) {
	switch msg.Type {
	case proto.MessageTypeVerificationRequest:
		s.handleVerificationRequest(msg)
	case proto.MessageTypeVerificationResponse:
		s.handleVerificationResponse(ctx, msg)
	case proto.MessageTypeVerificationSuccess:
		s.handleVerificationSuccess()
	case proto.MessageTypeVerificationFailed:
		s.handleVerificationFailed()

	case proto.MessageTypeFileMetadata, proto.MessageTypeFileChunk, proto.MessageTypeTextContent:
		s.routeTo(ctx, s.fileHandlerRef(), msg)

	case proto.MessageTypeSyncRequest, proto.MessageTypeSyncResponse,
		proto.MessageTypeSyncComplete, proto.MessageTypeSyncError:
		s.routeTo(ctx, s.syncHandlerRef(), msg)

	default:
		s.events.Warn("unknown message type dropped", string(msg.Type))
	}
}

func (s *Session) fileHandlerRef() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fileHandler
}

func (s *Session) syncHandlerRef() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncHandler
}

// routeTo forwards a payload message to a subsystem handler.
// Unverified connections silently drop payload messages.
func (s *Session) routeTo(ctx context.Context, h Handler, msg *proto.Message) {
	if !s.IsVerified() {
		s.events.Warn("message dropped before verification", string(msg.Type))
		return
	}
	if h == nil {
		s.events.Warn("no handler registered for message", string(msg.Type))
		return
	}
	if err := h.HandleMessage(ctx, msg); err != nil {
		s.events.Error("message handling failed", fmt.Sprintf("%s: %v", msg.Type, err))
	}
}

func (s *Session) handleVerificationRequest(msg *proto.Message) {
	payload, err := msg.DecodeVerification()
	if err != nil {
		s.events.Warn("malformed verification request", err.Error())
		return
	}

	s.mu.RLock()
	role := s.role
	state := s.state
	s.mu.RUnlock()

	if role != transport.RoleReceiver {
		s.events.Warn("verification request ignored", "not a receiver")
		return
	}
	if state == StateWaiting {
		_ = s.TransitionTo(StateVerifying, "sender attached", nil)
	}

	// The code travels on the wire but the receiver's user types the
	// one shown on the sender's screen; the received value is only
	// surfaced through the event log.
	s.events.Info("verification requested", "code received ("+redactCode(payload.VerificationCode)+")")
}

func (s *Session) handleVerificationResponse(ctx context.Context, msg *proto.Message) {
	payload, err := msg.DecodeVerification()
	if err != nil {
		s.events.Warn("malformed verification response", err.Error())
		return
	}

	s.mu.Lock()
	if s.role != transport.RoleSender {
		s.mu.Unlock()
		s.events.Warn("verification response ignored", "not a sender")
		return
	}
	expected := s.verificationCode
	match := expected != "" && payload.VerificationCode == expected
	if match {
		s.isVerified = true
		s.verificationCode = ""
	} else {
		s.lastError = ErrVerificationFailed
	}
	s.mu.Unlock()

	if match {
		reply, _ := proto.NewMessage(proto.MessageTypeVerificationSuccess, nil)
		if err := s.Send(ctx, reply); err != nil {
			s.Disconnect("verification success send failed", err)
			return
		}
		s.events.Info("verification succeeded", "")
		_ = s.TransitionTo(StateConnected, "verification succeeded", nil)
		return
	}

	reply, _ := proto.NewMessage(proto.MessageTypeVerificationFailed, nil)
	if err := s.Send(ctx, reply); err != nil {
		s.Disconnect("verification failure send failed", err)
		return
	}
	// Remain in verifying; the receiver may retry
	s.events.Warn("verification failed", "code mismatch")
}

func (s *Session) handleVerificationSuccess() {
	s.mu.Lock()
	if s.role != transport.RoleReceiver {
		s.mu.Unlock()
		return
	}
	s.isVerified = true
	s.mu.Unlock()

	s.events.Info("verification succeeded", "")
	_ = s.TransitionTo(StateConnected, "verification succeeded", nil)
}

func (s *Session) handleVerificationFailed() {
	s.mu.Lock()
	if s.role != transport.RoleReceiver {
		s.mu.Unlock()
		return
	}
	s.lastError = ErrVerificationFailed
	s.mu.Unlock()

	// Retry signal, not a terminal error
	s.events.Warn("verification failed", "re-enter the code shown on the sender")
}

func redactCode(code string) string {
	if len(code) <= 2 {
		return "**"
	}
	return code[:1] + "****" + code[len(code)-1:]
}
