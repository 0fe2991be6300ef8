package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexisync/lexisync/internal/eventlog"
	"github.com/lexisync/lexisync/internal/store"
	"github.com/lexisync/lexisync/pkg/proto"
	"github.com/lexisync/lexisync/pkg/vocab"
)

// DefaultRoundTimeout bounds an initiated sync round end to end.
const DefaultRoundTimeout = 30 * time.Second

var (
	// ErrSyncInProgress is returned when a sync is started while
	// another one is in flight for this session.
	ErrSyncInProgress = errors.New("sync: already in progress")

	// ErrProfileMismatch is returned when the two sides' language
	// pairs do not match. No data is touched.
	ErrProfileMismatch = errors.New("sync: incompatible profiles")

	// ErrSyncTimeout is returned when the round-trip response does not
	// arrive in time.
	ErrSyncTimeout = errors.New("sync: round timed out")

	// ErrSyncAborted is returned when the session disconnects with a
	// round in flight.
	ErrSyncAborted = errors.New("sync: aborted by disconnect")
)

// RemoteError is a sync-error received from the peer.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return "sync: peer reported: " + e.Reason
}

// MessageSender sends a protocol message over the session channel.
type MessageSender interface {
	Send(ctx context.Context, msg *proto.Message) error
}

// Exchanger brackets a multi-message exchange so the session can enter
// and leave the transferring state.
type Exchanger interface {
	BeginExchange(reason string) error
	EndExchange(reason string)
}

type outcome struct {
	stats vocab.SyncStats
	err   error
}

// deliver hands an outcome to the initiator's response slot without
// blocking. The slot holds one outcome per round; once it is settled
// any later delivery is dropped, so a straggling sync-error arriving
// after a timeout cannot wedge the session read loop.
func deliver(pending chan outcome, out outcome) {
	select {
	case pending <- out:
	default:
	}
}

// Engine runs sync rounds over one session. Either side may initiate;
// only one round may be in flight at a time, in either direction.
type Engine struct {
	mu sync.Mutex

	store     store.Store
	send      MessageSender
	exchanger Exchanger
	events    *eventlog.Log
	timeout   time.Duration

	// Round state. pending is the single response slot held by an
	// initiated round; responding marks a round served for the peer.
	pending    chan outcome
	responding bool

	lastStats *vocab.SyncStats
}

// Config holds the wiring for an Engine.
type Config struct {
	Store     store.Store
	Sender    MessageSender
	Exchanger Exchanger
	Events    *eventlog.Log
	Timeout   time.Duration
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Events == nil {
		cfg.Events = eventlog.New()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRoundTimeout
	}
	return &Engine{
		store:     cfg.Store,
		send:      cfg.Sender,
		exchanger: cfg.Exchanger,
		events:    cfg.Events,
		timeout:   cfg.Timeout,
	}
}

// LastStats returns the stats of the most recent merge performed by
// this engine, in either role. Nil if no merge has completed.
func (e *Engine) LastStats() *vocab.SyncStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastStats == nil {
		return nil
	}
	s := *e.lastStats
	return &s
}

// CreateSyncRequest builds the opening payload of a round from the
// store: the local profile, lastSync, and the changed entries (falling
// back to the full set when the filter comes up empty).
func CreateSyncRequest(ctx context.Context, st store.Store) (*proto.SyncRequestPayload, error) {
	profile, err := st.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync profile: %w", err)
	}
	lastSync, err := st.LastSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last sync: %w", err)
	}
	entries, err := st.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	return &proto.SyncRequestPayload{
		Profile:           profile,
		LastSync:          lastSync,
		VocabularyEntries: FilterChanged(entries, lastSync),
	}, nil
}

// Start initiates a sync round and blocks until the peer's response is
// merged or the round fails. A second call while a round is in flight
// fails immediately with ErrSyncInProgress.
func (e *Engine) Start(ctx context.Context) (vocab.SyncStats, error) {
	e.mu.Lock()
	if e.pending != nil || e.responding {
		e.mu.Unlock()
		return vocab.SyncStats{}, ErrSyncInProgress
	}
	pending := make(chan outcome, 1)
	e.pending = pending
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
	}()

	if e.exchanger != nil {
		if err := e.exchanger.BeginExchange("sync round"); err != nil {
			return vocab.SyncStats{}, err
		}
		defer e.exchanger.EndExchange("sync round done")
	}

	req, err := CreateSyncRequest(ctx, e.store)
	if err != nil {
		return vocab.SyncStats{}, err
	}
	msg, err := proto.NewMessage(proto.MessageTypeSyncRequest, req)
	if err != nil {
		return vocab.SyncStats{}, err
	}
	if err := e.send.Send(ctx, msg); err != nil {
		return vocab.SyncStats{}, fmt.Errorf("send sync request: %w", err)
	}

	e.events.Info("sync round started", fmt.Sprintf("%d entries offered", len(req.VocabularyEntries)))

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case out := <-pending:
		return out.stats, out.err
	case <-timer.C:
		e.events.Error("sync timeout", "no response within "+e.timeout.String())
		return vocab.SyncStats{}, ErrSyncTimeout
	case <-ctx.Done():
		return vocab.SyncStats{}, ctx.Err()
	}
}

// HandleMessage consumes sync protocol messages routed by the session.
func (e *Engine) HandleMessage(ctx context.Context, msg *proto.Message) error {
	switch msg.Type {
	case proto.MessageTypeSyncRequest:
		return e.handleRequest(ctx, msg)
	case proto.MessageTypeSyncResponse:
		return e.handleResponse(ctx, msg)
	case proto.MessageTypeSyncComplete:
		return e.handleComplete(ctx, msg)
	case proto.MessageTypeSyncError:
		return e.handleError(msg)
	default:
		return fmt.Errorf("sync: unexpected message type %s", msg.Type)
	}
}

// Reset aborts any round in flight. Called when the session disconnects.
func (e *Engine) Reset() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	wasResponding := e.responding
	e.responding = false
	e.mu.Unlock()

	if pending != nil {
		deliver(pending, outcome{err: ErrSyncAborted})
	}
	if wasResponding && e.exchanger != nil {
		e.exchanger.EndExchange("sync aborted")
	}
}

// handleRequest serves the responder half of a round: validate the
// profile, merge, persist, reply with our own changed entries.
func (e *Engine) handleRequest(ctx context.Context, msg *proto.Message) error {
	req, err := msg.DecodeSyncRequest()
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.pending != nil || e.responding {
		e.mu.Unlock()
		return e.sendError(ctx, ErrSyncInProgress.Error())
	}
	e.responding = true
	e.mu.Unlock()

	if e.exchanger != nil {
		if err := e.exchanger.BeginExchange("serving sync round"); err != nil {
			e.clearResponding(false)
			return e.sendError(ctx, err.Error())
		}
	}

	profile, err := e.store.Profile(ctx)
	if err != nil {
		e.clearResponding(true)
		return e.sendError(ctx, "no sync profile configured")
	}
	if !profile.Compatible(req.Profile) {
		e.clearResponding(true)
		e.events.Warn("sync rejected", fmt.Sprintf("profile mismatch: %s-%s vs %s-%s",
			profile.SourceLanguage, profile.TargetLanguage,
			req.Profile.SourceLanguage, req.Profile.TargetLanguage))
		return e.sendError(ctx, ErrProfileMismatch.Error())
	}

	local, err := e.store.GetAll(ctx)
	if err != nil {
		e.clearResponding(true)
		return e.sendError(ctx, "load entries: "+err.Error())
	}

	merged, stats := Merge(local, req.VocabularyEntries)
	if err := e.store.ReplaceAll(ctx, merged); err != nil {
		e.clearResponding(true)
		return e.sendError(ctx, "persist merge: "+err.Error())
	}

	e.mu.Lock()
	e.lastStats = &stats
	e.mu.Unlock()

	lastSync, err := e.store.LastSync(ctx)
	if err != nil {
		e.clearResponding(true)
		return e.sendError(ctx, "load last sync: "+err.Error())
	}

	resp := proto.SyncResponsePayload{
		Profile:           profile,
		VocabularyEntries: FilterChanged(local, lastSync),
		Timestamp:         time.Now().UnixMilli(),
	}
	reply, err := proto.NewMessage(proto.MessageTypeSyncResponse, resp)
	if err != nil {
		e.clearResponding(true)
		return err
	}
	if err := e.send.Send(ctx, reply); err != nil {
		e.clearResponding(true)
		return fmt.Errorf("send sync response: %w", err)
	}

	e.events.Info("sync round served",
		fmt.Sprintf("merged %d entries (+%d from peer), returned %d",
			stats.TotalMerged, stats.RemoteAdded, len(resp.VocabularyEntries)))

	// The round stays open until sync-complete arrives
	return nil
}

// handleResponse finishes the initiator half: merge the responder's
// entries, persist, advance lastSync and acknowledge with our stats.
func (e *Engine) handleResponse(ctx context.Context, msg *proto.Message) error {
	resp, err := msg.DecodeSyncResponse()
	if err != nil {
		return err
	}

	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()
	if pending == nil {
		e.events.Warn("unsolicited sync response dropped", "")
		return nil
	}

	local, err := e.store.GetAll(ctx)
	if err != nil {
		deliver(pending, outcome{err: err})
		return nil
	}

	merged, stats := Merge(local, resp.VocabularyEntries)
	if err := e.store.ReplaceAll(ctx, merged); err != nil {
		deliver(pending, outcome{err: fmt.Errorf("persist merge: %w", err)})
		return nil
	}
	if err := e.store.SetLastSync(ctx, resp.Timestamp); err != nil {
		deliver(pending, outcome{err: fmt.Errorf("advance last sync: %w", err)})
		return nil
	}

	e.mu.Lock()
	e.lastStats = &stats
	e.mu.Unlock()

	complete, err := proto.NewMessage(proto.MessageTypeSyncComplete, proto.SyncCompletePayload{
		Stats:     stats,
		Timestamp: resp.Timestamp,
	})
	if err == nil {
		err = e.send.Send(ctx, complete)
	}
	if err != nil {
		deliver(pending, outcome{err: fmt.Errorf("send sync complete: %w", err)})
		return nil
	}

	e.events.Info("sync round completed",
		fmt.Sprintf("merged %d entries (+%d from peer)", stats.TotalMerged, stats.RemoteAdded))

	deliver(pending, outcome{stats: stats})
	return nil
}

// handleComplete closes the responder half: advance lastSync to the
// exchange timestamp.
func (e *Engine) handleComplete(ctx context.Context, msg *proto.Message) error {
	complete, err := msg.DecodeSyncComplete()
	if err != nil {
		return err
	}

	if err := e.store.SetLastSync(ctx, complete.Timestamp); err != nil {
		e.clearResponding(true)
		return fmt.Errorf("advance last sync: %w", err)
	}

	e.clearResponding(true)
	e.events.Info("sync round closed",
		fmt.Sprintf("peer merged %d entries (+%d from us)",
			complete.Stats.TotalMerged, complete.Stats.RemoteAdded))
	return nil
}

func (e *Engine) handleError(msg *proto.Message) error {
	p, err := msg.DecodeSyncError()
	if err != nil {
		return err
	}

	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()

	if pending != nil {
		deliver(pending, outcome{err: &RemoteError{Reason: p.Error}})
		return nil
	}

	e.clearResponding(true)
	e.events.Error("sync error from peer", p.Error)
	return nil
}

func (e *Engine) sendError(ctx context.Context, reason string) error {
	msg, err := proto.NewMessage(proto.MessageTypeSyncError, proto.SyncErrorPayload{Error: reason})
	if err != nil {
		return err
	}
	return e.send.Send(ctx, msg)
}

// clearResponding closes the responder round; endExchange is false when
// the exchange bracket was never entered.
func (e *Engine) clearResponding(endExchange bool) {
	e.mu.Lock()
	wasResponding := e.responding
	e.responding = false
	e.mu.Unlock()

	if wasResponding && endExchange && e.exchanger != nil {
		e.exchanger.EndExchange("sync round closed")
	}
}
