package syncengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexisync/lexisync/internal/store"
	"github.com/lexisync/lexisync/pkg/proto"
	"github.com/lexisync/lexisync/pkg/vocab"
)

var testProfile = vocab.Profile{
	ProfileID:      "p1",
	ProfileName:    "Spanish",
	SourceLanguage: "en",
	TargetLanguage: "es",
}

// loopSender delivers each sent message straight into the peer engine,
// standing in for the session channel.
type loopSender struct {
	peer *Engine
}

func (s *loopSender) Send(ctx context.Context, msg *proto.Message) error {
	return s.peer.HandleMessage(ctx, msg)
}

// swallowSender accepts messages and drops them.
type swallowSender struct {
	sent chan *proto.Message
}

func newSwallowSender() *swallowSender {
	return &swallowSender{sent: make(chan *proto.Message, 16)}
}

func (s *swallowSender) Send(_ context.Context, msg *proto.Message) error {
	s.sent <- msg
	return nil
}

func newStore(t *testing.T, profile vocab.Profile, entries ...vocab.Entry) store.Store {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.SetProfile(ctx, profile))
	require.NoError(t, st.BulkInsert(ctx, entries))
	return st
}

// enginePair wires two engines back to back.
func enginePair(t *testing.T, a, b store.Store) (*Engine, *Engine) {
	t.Helper()
	sa := &loopSender{}
	sb := &loopSender{}
	ea := New(Config{Store: a, Sender: sa})
	eb := New(Config{Store: b, Sender: sb})
	sa.peer = eb
	sb.peer = ea
	return ea, eb
}

func TestSyncRoundMergesBothSides(t *testing.T) {
	ctx := context.Background()
	storeA := newStore(t, testProfile, entry("a", 100, 0))
	storeB := newStore(t, testProfile, entry("b", 200, 0))
	ea, eb := enginePair(t, storeA, storeB)

	stats, err := ea.Start(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.RemoteAdded)
	assert.Equal(t, 1, stats.LocalAdded)
	assert.Equal(t, 2, stats.TotalMerged)

	peerStats := eb.LastStats()
	require.NotNil(t, peerStats)
	assert.Equal(t, 1, peerStats.RemoteAdded)
	assert.Equal(t, 2, peerStats.TotalMerged)

	gotA, err := storeA.GetAll(ctx)
	require.NoError(t, err)
	gotB, err := storeB.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, gotA, 2)
	assert.Equal(t, gotA, gotB)

	// Both sides advanced lastSync to the same exchange timestamp.
	lsA, err := storeA.LastSync(ctx)
	require.NoError(t, err)
	lsB, err := storeB.LastSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, lsA, lsB)
	assert.Greater(t, lsA, int64(0))
}

func TestSyncRoundConflictResolution(t *testing.T) {
	ctx := context.Background()
	localVer := entry("a", 100, 5)
	localVer.Translation = "old"
	remoteVer := entry("a", 200, 3)
	remoteVer.Translation = "new"

	storeA := newStore(t, testProfile, localVer)
	storeB := newStore(t, testProfile, remoteVer)
	ea, _ := enginePair(t, storeA, storeB)

	_, err := ea.Start(ctx)
	require.NoError(t, err)

	for _, st := range []store.Store{storeA, storeB} {
		got, err := st.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "new", got[0].Translation)
		assert.EqualValues(t, 5, got[0].SRSData.NextReview)
	}
}

func TestSyncProfileMismatchTouchesNothing(t *testing.T) {
	ctx := context.Background()
	french := testProfile
	french.TargetLanguage = "fr"

	storeA := newStore(t, testProfile, entry("a", 100, 0))
	storeB := newStore(t, french, entry("b", 200, 0))
	ea, _ := enginePair(t, storeA, storeB)

	_, err := ea.Start(ctx)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Reason, "incompatible")

	gotB, err := storeB.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, gotB, 1)
	assert.Equal(t, "b", gotB[0].ID)

	ls, err := storeB.LastSync(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ls)
}

func TestStartWhileRoundInFlight(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testProfile, entry("a", 100, 0))
	sender := newSwallowSender()
	e := New(Config{Store: st, Sender: sender, Timeout: time.Second})

	errs := make(chan error, 1)
	go func() {
		_, err := e.Start(ctx)
		errs <- err
	}()
	<-sender.sent // first round has sent its request

	_, err := e.Start(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	e.Reset()
	assert.ErrorIs(t, <-errs, ErrSyncAborted)
}

func TestRequestWhileRoundInFlight(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testProfile, entry("a", 100, 0))
	sender := newSwallowSender()
	e := New(Config{Store: st, Sender: sender, Timeout: time.Second})

	go e.Start(ctx) //nolint:errcheck
	<-sender.sent

	req, err := CreateSyncRequest(ctx, st)
	require.NoError(t, err)
	msg, err := proto.NewMessage(proto.MessageTypeSyncRequest, req)
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ctx, msg))

	reply := <-sender.sent
	require.Equal(t, proto.MessageTypeSyncError, reply.Type)
	p, err := reply.DecodeSyncError()
	require.NoError(t, err)
	assert.Contains(t, p.Error, "in progress")

	e.Reset()
}

func TestStartTimesOut(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testProfile, entry("a", 100, 0))
	e := New(Config{Store: st, Sender: newSwallowSender(), Timeout: 50 * time.Millisecond})

	_, err := e.Start(ctx)
	assert.ErrorIs(t, err, ErrSyncTimeout)
}

// A sync-error landing after the round has already settled (say a
// timeout raced the peer's reply) must be dropped, not wedge the
// dispatch goroutine on the response slot.
func TestLateSyncErrorDoesNotBlockDispatch(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testProfile)
	e := New(Config{Store: st, Sender: newSwallowSender()})

	pending := make(chan outcome, 1)
	e.mu.Lock()
	e.pending = pending
	e.mu.Unlock()

	errMsg, err := proto.NewMessage(proto.MessageTypeSyncError, proto.SyncErrorPayload{Error: "peer busy"})
	require.NoError(t, err)

	// First delivery settles the round.
	require.NoError(t, e.HandleMessage(ctx, errMsg))

	done := make(chan struct{})
	go func() {
		assert.NoError(t, e.HandleMessage(ctx, errMsg))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second delivery blocked on the settled round")
	}

	out := <-pending
	var remote *RemoteError
	require.ErrorAs(t, out.err, &remote)
	assert.Equal(t, "peer busy", remote.Reason)
}

func TestUnsolicitedResponseDropped(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testProfile)
	e := New(Config{Store: st, Sender: newSwallowSender()})

	msg, err := proto.NewMessage(proto.MessageTypeSyncResponse, proto.SyncResponsePayload{
		Profile:   testProfile,
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, e.HandleMessage(ctx, msg))

	got, err := st.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCreateSyncRequestFiltersByLastSync(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testProfile, entry("old", 100, 0), entry("new", 900, 0))
	require.NoError(t, st.SetLastSync(ctx, 500))

	req, err := CreateSyncRequest(ctx, st)
	require.NoError(t, err)
	assert.EqualValues(t, 500, req.LastSync)
	require.Len(t, req.VocabularyEntries, 1)
	assert.Equal(t, "new", req.VocabularyEntries[0].ID)
}

func TestCreateSyncRequestFallsBackToFullSet(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, testProfile, entry("a", 100, 0), entry("b", 200, 0))
	require.NoError(t, st.SetLastSync(ctx, 9999999999999))

	req, err := CreateSyncRequest(ctx, st)
	require.NoError(t, err)
	assert.Len(t, req.VocabularyEntries, 2)
}

func TestCreateSyncRequestWithoutProfile(t *testing.T) {
	st := store.NewMemory()
	_, err := CreateSyncRequest(context.Background(), st)
	assert.True(t, errors.Is(err, store.ErrNoProfile))
}

func TestSecondRoundSendsOnlyChanges(t *testing.T) {
	ctx := context.Background()
	storeA := newStore(t, testProfile, entry("a", 100, 0))
	storeB := newStore(t, testProfile, entry("b", 200, 0))
	ea, _ := enginePair(t, storeA, storeB)

	_, err := ea.Start(ctx)
	require.NoError(t, err)

	// A new entry appears on A after the first round.
	fresh := entry("c", time.Now().UnixMilli()+1000, 0)
	require.NoError(t, storeA.BulkInsert(ctx, []vocab.Entry{fresh}))

	req, err := CreateSyncRequest(ctx, storeA)
	require.NoError(t, err)
	require.Len(t, req.VocabularyEntries, 1)
	assert.Equal(t, "c", req.VocabularyEntries[0].ID)

	stats, err := ea.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMerged)

	gotB, err := storeB.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, gotB, 3)
}
