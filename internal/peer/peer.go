// Package peer assembles a full device endpoint: one session, the
// chunked transfer subsystem and the sync engine, wired over a shared
// store and event log.
package peer

import (
	"context"
	"time"

	"github.com/lexisync/lexisync/internal/eventlog"
	"github.com/lexisync/lexisync/internal/session"
	"github.com/lexisync/lexisync/internal/store"
	"github.com/lexisync/lexisync/internal/syncengine"
	"github.com/lexisync/lexisync/internal/transfer"
	"github.com/lexisync/lexisync/internal/transport"
	"github.com/lexisync/lexisync/pkg/vocab"
)

// Config holds the wiring for a Peer.
type Config struct {
	Connector transport.Connector
	Store     store.Store
	Events    *eventlog.Log
	Observers []session.Observer

	// OnFile and OnText deliver inbound payloads to the application.
	OnFile transfer.FileFunc
	OnText transfer.TextFunc

	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	SyncTimeout    time.Duration
}

// Peer is a single device endpoint. It can host a session (receiver)
// or join one (sender), exchange files and text once verified, and run
// sync rounds against the connected peer.
type Peer struct {
	sess     *session.Session
	sender   *transfer.Sender
	receiver *transfer.Receiver
	engine   *syncengine.Engine
	store    store.Store
	events   *eventlog.Log
}

// New assembles a Peer.
func New(cfg Config) *Peer {
	if cfg.Events == nil {
		cfg.Events = eventlog.New()
	}

	sess := session.New(session.Config{
		Connector:      cfg.Connector,
		Events:         cfg.Events,
		Observers:      cfg.Observers,
		ConnectTimeout: cfg.ConnectTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	})

	receiver := transfer.NewReceiver(transfer.ReceiverConfig{
		Events:    cfg.Events,
		Exchanger: sess,
		OnFile:    cfg.OnFile,
		OnText:    cfg.OnText,
	})
	sess.SetFileHandler(receiver)

	engine := syncengine.New(syncengine.Config{
		Store:     cfg.Store,
		Sender:    sess,
		Exchanger: sess,
		Events:    cfg.Events,
		Timeout:   cfg.SyncTimeout,
	})
	sess.SetSyncHandler(engine)

	return &Peer{
		sess:     sess,
		sender:   transfer.NewSender(sess, cfg.Events),
		receiver: receiver,
		engine:   engine,
		store:    cfg.Store,
		events:   cfg.Events,
	}
}

// Host registers a new session and waits for a sender to attach.
// Returns the session ID to show to the other device.
func (p *Peer) Host(ctx context.Context) (string, error) {
	return p.sess.Connect(ctx, transport.RoleReceiver, "")
}

// Join attaches to the session a receiver is hosting.
func (p *Peer) Join(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return transport.ErrSessionIDRequired
	}
	_, err := p.sess.Connect(ctx, transport.RoleSender, sessionID)
	return err
}

// SubmitCode forwards the verification code the user typed. Only valid
// on the hosting side during verification.
func (p *Peer) SubmitCode(ctx context.Context, code string) error {
	return p.sess.SubmitCode(ctx, code)
}

// VerificationCode returns the code to read out to the other device.
// Present only on the joining side, between connect and confirmation.
func (p *Peer) VerificationCode() string {
	return p.sess.VerificationCode()
}

// State returns the current session state.
func (p *Peer) State() session.State {
	return p.sess.State()
}

// SessionID returns the active session ID, empty when disconnected.
func (p *Peer) SessionID() string {
	return p.sess.SessionID()
}

// Events returns the shared event log.
func (p *Peer) Events() *eventlog.Log {
	return p.events
}

// Session exposes the underlying session for observers.
func (p *Peer) Session() *session.Session {
	return p.sess
}

// Disconnect tears the session down.
func (p *Peer) Disconnect(reason string) {
	p.sess.Disconnect(reason, nil)
}

// SendFile transmits one file to the connected peer. The session holds
// the transferring state for the duration of the chunk stream.
func (p *Peer) SendFile(ctx context.Context, name, fileType string, data []byte, progress transfer.ProgressFunc) (string, error) {
	if err := p.sess.BeginExchange("sending " + name); err != nil {
		return "", err
	}
	defer p.sess.EndExchange("sent " + name)
	return p.sender.SendFile(ctx, name, fileType, data, progress)
}

// SendText transmits a text payload to the connected peer.
func (p *Peer) SendText(ctx context.Context, content, contentType string) error {
	if err := p.sess.BeginExchange("sending text"); err != nil {
		return err
	}
	defer p.sess.EndExchange("sent text")
	return p.sender.SendText(ctx, content, contentType)
}

// Sync runs one sync round against the connected peer and returns the
// merge outcome from the local perspective.
func (p *Peer) Sync(ctx context.Context) (vocab.SyncStats, error) {
	return p.engine.Start(ctx)
}

// LastSyncStats returns the outcome of the most recent merge, whether
// this side initiated it or served it. Nil before the first round.
func (p *Peer) LastSyncStats() *vocab.SyncStats {
	return p.engine.LastStats()
}
