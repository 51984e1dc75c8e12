package blocksync

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triunity/node/block"
	"github.com/triunity/node/crypto"
	"github.com/triunity/node/errors"
	"github.com/triunity/node/events"
	"github.com/triunity/node/transaction"
	"github.com/triunity/node/types"
	"github.com/triunity/node/utils"
)

var genesisTip = types.HashBytes([]byte("tip-100"))

type recordingApplier struct {
	applied  []uint64
	failNext int
}

func (a *recordingApplier) Apply(blk *block.Block) error {
	if a.failNext > 0 {
		a.failNext--
		return errors.New(errors.CodeStorage, errors.MsgStorageWriteBlock)
	}
	a.applied = append(a.applied, blk.Height())
	return nil
}

// buildChain returns linked empty blocks for heights from..to on top of parent.
func buildChain(from, to uint64, parent types.Hash) []*block.Block {
	clock := utils.NewManualClock(time.Unix(1_700_000_000, 0))
	var out []*block.Block
	for h := from; h <= to; h++ {
		blk := block.Assemble(parent, nil, h, nil, clock)
		out = append(out, blk)
		parent = blk.Hash()
	}
	return out
}

func newTestManager(t *testing.T, applier Applier) (*Manager, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(time.Unix(1_700_000_000, 0))
	return NewManager(DefaultConfig(), 100, genesisTip, applier, WithClock(clock)), clock
}

func TestCheckSyncNeededSelectsBlockSync(t *testing.T) {
	m, _ := newTestManager(t, nil)

	needed := m.CheckSyncNeeded([]PeerHeight{{"a", 150}, {"b", 145}, {"c", 155}})
	require.True(t, needed)
	assert.Equal(t, uint64(155), m.TargetHeight())
	assert.Equal(t, BlockSync{From: 101, To: 155}, m.Mode())
	assert.Len(t, m.Peers(), 3)
}

func TestCheckSyncNeededModes(t *testing.T) {
	tests := []struct {
		name string
		peer uint64
		want Mode
	}{
		{"within tolerance", 110, Synced{}},
		{"block sync at the full sync boundary", 200, BlockSync{From: 101, To: 200}},
		{"full sync", 201, FullSync{StartHeight: 101}},
		{"fast sync", 1600, FastSync{CheckpointHeight: 1500}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(t, nil)
			needed := m.CheckSyncNeeded([]PeerHeight{{"a", tc.peer}})
			_, synced := tc.want.(Synced)
			assert.Equal(t, !synced, needed)
			assert.Equal(t, tc.want, m.Mode())
		})
	}
}

func TestCheckSyncNeededEmptyFeed(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assert.False(t, m.CheckSyncNeeded(nil))
	assert.True(t, m.IsSynced())
}

func TestCheckSyncNeededSupersedesMode(t *testing.T) {
	m, _ := newTestManager(t, nil)
	require.True(t, m.CheckSyncNeeded([]PeerHeight{{"a", 2000}}))
	assert.Equal(t, ModeFastSync, m.Mode().Name())

	require.True(t, m.CheckSyncNeeded([]PeerHeight{{"a", 130}}))
	assert.Equal(t, BlockSync{From: 101, To: 130}, m.Mode())
	assert.Equal(t, uint64(130), m.TargetHeight())
}

func TestCreateSyncRequestSizing(t *testing.T) {
	t.Run("block sync caps at 20", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		m.CheckSyncNeeded([]PeerHeight{{"a", 155}})
		a, err := m.CreateSyncRequest()
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, SyncRequest{StartHeight: 101, EndHeight: 120, MaxBlocks: 20}, a.Request)
	})
	t.Run("block sync exact short range", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		m.CheckSyncNeeded([]PeerHeight{{"a", 115}})
		a, err := m.CreateSyncRequest()
		require.NoError(t, err)
		assert.Equal(t, SyncRequest{StartHeight: 101, EndHeight: 115, MaxBlocks: 15}, a.Request)
	})
	t.Run("full sync window of 50", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		m.CheckSyncNeeded([]PeerHeight{{"a", 500}})
		a, err := m.CreateSyncRequest()
		require.NoError(t, err)
		assert.Equal(t, SyncRequest{StartHeight: 101, EndHeight: 150, MaxBlocks: 50}, a.Request)
	})
	t.Run("fast sync fetches the checkpoint window", func(t *testing.T) {
		m, _ := newTestManager(t, nil)
		m.CheckSyncNeeded([]PeerHeight{{"a", 1600}})
		a, err := m.CreateSyncRequest()
		require.NoError(t, err)
		assert.Equal(t, SyncRequest{StartHeight: 1500, EndHeight: 1599, MaxBlocks: 100}, a.Request)
		assert.Equal(t, uint64(100), a.Request.Count())
	})
}

func TestCreateSyncRequestPicksBestPeer(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"slow", 150}, {"fast", 150}, {"behind", 90}})

	m.mu.Lock()
	m.peers["fast"].Speed = 40
	m.peers["behind"].Speed = 1000
	m.mu.Unlock()

	a, err := m.CreateSyncRequest()
	require.NoError(t, err)
	assert.Equal(t, "fast", a.PeerID)

	p, ok := m.Peer("fast")
	require.True(t, ok)
	assert.True(t, p.Syncing)

	m.ReleasePeer("fast")
	p, _ = m.Peer("fast")
	assert.False(t, p.Syncing)
}

func TestCreateSyncRequestWhenSynced(t *testing.T) {
	m, _ := newTestManager(t, nil)
	a, err := m.CreateSyncRequest()
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestCreateSyncRequestNoEligiblePeer(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})
	m.mu.Lock()
	m.peers["a"].Reliability = 0.5
	m.mu.Unlock()

	a, err := m.CreateSyncRequest()
	assert.Nil(t, a)
	require.Error(t, err)
	assert.Equal(t, errors.CodeSyncStall, errors.CodeOf(err))
}

func TestContiguousBlocksAdvanceAndSync(t *testing.T) {
	applier := &recordingApplier{}
	m, _ := newTestManager(t, applier)
	m.CheckSyncNeeded([]PeerHeight{{"a", 102}})
	require.Equal(t, uint64(102), m.TargetHeight())

	blocks := buildChain(101, 102, genesisTip)
	n, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: blocks, StartHeight: 101, IsFinal: true, PeerHeight: 102})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(102), m.CurrentHeight())
	assert.Equal(t, blocks[1].Hash(), m.TipHash())
	assert.True(t, m.IsSynced())
	assert.Equal(t, []uint64{101, 102}, applier.applied)
	assert.Equal(t, 100.0, m.Progress().Percentage)
}

func TestOutOfOrderArrivalAppliesInOrder(t *testing.T) {
	applier := &recordingApplier{}
	m, _ := newTestManager(t, applier)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})

	blocks := buildChain(101, 105, genesisTip)
	n, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: blocks[4:], StartHeight: 105, PeerHeight: 150})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(100), m.CurrentHeight())
	assert.Equal(t, 1, m.PendingCount())
	assert.Empty(t, applier.applied)

	_, err = m.ProcessSyncResponse("a", &SyncResponse{Blocks: blocks[:4], StartHeight: 101, PeerHeight: 150})
	require.NoError(t, err)
	assert.Equal(t, uint64(105), m.CurrentHeight())
	assert.Zero(t, m.PendingCount())
	assert.Equal(t, []uint64{101, 102, 103, 104, 105}, applier.applied)
	assert.False(t, m.IsSynced())
}

func TestInvalidBlockPenalizesPeer(t *testing.T) {
	bus := events.NewEventBus()
	_, ch := bus.Subscribe(events.EventPeerPenalized)
	clock := utils.NewManualClock(time.Unix(1_700_000_000, 0))
	m := NewManager(DefaultConfig(), 100, genesisTip, nil, WithClock(clock), WithEventBus(bus))
	m.CheckSyncNeeded([]PeerHeight{{"bad", 150}})

	tampered := buildChain(101, 101, genesisTip)[0]
	tampered.Header.MerkleRoot = types.HashBytes([]byte("forged"))

	n, err := m.ProcessSyncResponse("bad", &SyncResponse{Blocks: []*block.Block{tampered}, PeerHeight: 150})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(100), m.CurrentHeight())

	p, _ := m.Peer("bad")
	assert.LessOrEqual(t, p.Reliability, 0.4)

	select {
	case ev := <-ch:
		penalized := ev.(*events.PeerPenalized)
		assert.Equal(t, "bad", penalized.PeerID)
		assert.Equal(t, string(errors.CodeMerkleMismatch), penalized.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a penalty event")
	}

	for i := 0; i < 5; i++ {
		_, err = m.ProcessSyncResponse("bad", &SyncResponse{Blocks: []*block.Block{tampered}})
		require.NoError(t, err)
	}
	p, _ = m.Peer("bad")
	assert.InDelta(t, 0.1, p.Reliability, 1e-9)

	assert.Equal(t, 1, m.CleanupInactivePeers())
	_, ok := m.Peer("bad")
	assert.False(t, ok)
}

func TestBadSignatureIsRejected(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})

	kp, err := crypto.GenerateKeyPair(nil)
	require.NoError(t, err)
	tx := transaction.NewTransfer(kp.PublicKey(), []byte("bob"), 5, 1, 1)
	tx.Sign(kp)
	tx.Amount.SetUint64(6)

	blk := block.Assemble(genesisTip, []*transaction.Transaction{tx}, 101, nil, nil)
	n, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: []*block.Block{blk}})
	require.NoError(t, err)
	assert.Zero(t, n)
	p, _ := m.Peer("a")
	assert.InDelta(t, 0.4, p.Reliability, 1e-9)
}

func TestLinkageMismatchIsRejected(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})

	fork := buildChain(101, 102, types.HashBytes([]byte("other chain")))
	n, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: fork})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the detached successor is buffered")
	assert.Equal(t, uint64(100), m.CurrentHeight())

	// halved for 101, then nudged for the buffered 102
	p, _ := m.Peer("a")
	assert.InDelta(t, 0.46, p.Reliability, 1e-9)
}

func TestMixedResponsePenalizesThenRewards(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})

	blocks := buildChain(101, 102, genesisTip)
	blocks[1].Header.MerkleRoot = types.HashBytes([]byte("forged"))

	n, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: blocks, PeerHeight: 150})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(101), m.CurrentHeight())

	p, _ := m.Peer("a")
	assert.InDelta(t, 0.46, p.Reliability, 1e-9)
}

func TestBufferedBlockWithWrongParentIsDropped(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}, {"b", 150}})

	good := buildChain(101, 101, genesisTip)
	fork := buildChain(101, 102, types.HashBytes([]byte("other chain")))

	_, err := m.ProcessSyncResponse("b", &SyncResponse{Blocks: fork[1:]})
	require.NoError(t, err)
	require.Equal(t, 1, m.PendingCount())

	_, err = m.ProcessSyncResponse("a", &SyncResponse{Blocks: good})
	require.NoError(t, err)
	assert.Equal(t, uint64(101), m.CurrentHeight())
	assert.Zero(t, m.PendingCount())

	// 0.82 after the buffered delivery, halved once the parent mismatch shows
	p, _ := m.Peer("b")
	assert.InDelta(t, 0.41, p.Reliability, 1e-9)
}

func TestApplierFailureKeepsBlockBuffered(t *testing.T) {
	applier := &recordingApplier{failNext: 1}
	m, _ := newTestManager(t, applier)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})

	blocks := buildChain(101, 102, genesisTip)
	n, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: blocks})
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, errors.CodeStorage, errors.CodeOf(err))
	assert.Equal(t, uint64(100), m.CurrentHeight())
	assert.Equal(t, 2, m.PendingCount())

	require.NoError(t, m.ProcessPendingBlocks())
	assert.Equal(t, uint64(102), m.CurrentHeight())
}

type blockingApplier struct {
	entered chan uint64
	release chan struct{}
}

func (a *blockingApplier) Apply(blk *block.Block) error {
	a.entered <- blk.Height()
	<-a.release
	return nil
}

func TestApplyRunsWithoutHoldingState(t *testing.T) {
	applier := &blockingApplier{entered: make(chan uint64, 1), release: make(chan struct{})}
	m, _ := newTestManager(t, applier)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})

	done := make(chan error, 1)
	go func() {
		_, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: buildChain(101, 101, genesisTip)})
		done <- err
	}()

	select {
	case h := <-applier.entered:
		assert.Equal(t, uint64(101), h)
	case <-time.After(time.Second):
		t.Fatal("applier was not called")
	}

	read := make(chan Progress, 1)
	go func() { read <- m.Progress() }()
	select {
	case pr := <-read:
		assert.Equal(t, uint64(100), pr.CurrentHeight)
		assert.Equal(t, 1, pr.PendingBlocks)
	case <-time.After(time.Second):
		t.Fatal("progress blocked while the applier ran")
	}

	close(applier.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("apply did not finish")
	}
	assert.Equal(t, uint64(101), m.CurrentHeight())
	assert.Zero(t, m.PendingCount())
}

func TestPenalizePeerReleasesAndLowersReliability(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})
	a, err := m.CreateSyncRequest()
	require.NoError(t, err)

	m.PenalizePeer(a.PeerID, errors.New(errors.CodeMalformedBlock, "undecodable sync response"))
	p, _ := m.Peer("a")
	assert.False(t, p.Syncing)
	assert.InDelta(t, 0.4, p.Reliability, 1e-9)

	m.PenalizePeer("unknown", errors.New(errors.CodeMalformedBlock, "undecodable sync response"))
	_, ok := m.Peer("unknown")
	assert.False(t, ok)
}

func TestSuccessfulDeliveryRaisesReliability(t *testing.T) {
	m, clock := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})
	a, err := m.CreateSyncRequest()
	require.NoError(t, err)

	clock.Advance(time.Second)
	blocks := buildChain(101, 120, genesisTip)
	n, err := m.ProcessSyncResponse(a.PeerID, &SyncResponse{Blocks: blocks, PeerHeight: 160, IsFinal: true})
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	p, _ := m.Peer("a")
	assert.InDelta(t, 0.82, p.Reliability, 1e-9)
	assert.InDelta(t, 0.7*10+0.3*20, p.Speed, 1e-9)
	assert.Equal(t, uint64(160), p.Height)
	assert.False(t, p.Syncing)
}

func TestBlocksOutsideWindowAreIgnored(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 115}})

	blocks := buildChain(99, 120, types.HashBytes([]byte("old")))
	n, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: []*block.Block{blocks[0], blocks[1], blocks[len(blocks)-1]}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, m.PendingCount())
	p, _ := m.Peer("a")
	assert.Equal(t, 0.8, p.Reliability)
}

func TestFastSyncCheckpointThenBackfill(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 1600}})

	a, err := m.CreateSyncRequest()
	require.NoError(t, err)
	require.Equal(t, uint64(1500), a.Request.StartHeight)

	window := buildChain(1500, 1599, types.HashBytes([]byte("checkpoint parent")))
	n, err := m.ProcessSyncResponse(a.PeerID, &SyncResponse{Blocks: window, PeerHeight: 1600})
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, uint64(100), m.CurrentHeight())

	a, err = m.CreateSyncRequest()
	require.NoError(t, err)
	assert.Equal(t, SyncRequest{StartHeight: 101, EndHeight: 200, MaxBlocks: 100}, a.Request)
}

func TestEvictStale(t *testing.T) {
	m, clock := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 150}})

	blocks := buildChain(101, 105, genesisTip)
	_, err := m.ProcessSyncResponse("a", &SyncResponse{Blocks: blocks[4:]})
	require.NoError(t, err)
	require.Equal(t, 1, m.PendingCount())

	clock.Advance(10 * time.Second)
	assert.Zero(t, m.EvictStale())

	clock.Advance(25 * time.Second)
	assert.Equal(t, 1, m.EvictStale())
	assert.Zero(t, m.PendingCount())
}

func TestProgress(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.CheckSyncNeeded([]PeerHeight{{"a", 200}, {"b", 200}})
	_, err := m.CreateSyncRequest()
	require.NoError(t, err)

	p := m.Progress()
	assert.Equal(t, 50.0, p.Percentage)
	assert.Equal(t, 1, p.ActivePeers)
	assert.Equal(t, 10.0, p.SyncSpeed)
	assert.Equal(t, 10*time.Second, p.ETA)
	assert.Equal(t, "block_sync(101..200)", p.Mode)
}

func TestModeChangeEvents(t *testing.T) {
	bus := events.NewEventBus()
	_, ch := bus.Subscribe(events.EventSyncModeChanged)
	m := NewManager(DefaultConfig(), 100, genesisTip, nil, WithEventBus(bus))

	m.CheckSyncNeeded([]PeerHeight{{"a", 102}})
	select {
	case <-ch:
		t.Fatal("staying synced should not publish")
	default:
	}

	m.CheckSyncNeeded([]PeerHeight{{"a", 400}})
	ev := (<-ch).(*events.SyncModeChanged)
	assert.Equal(t, ModeSynced, ev.From)
	assert.Equal(t, ModeFullSync, ev.To)
	assert.Equal(t, uint64(400), ev.TargetHeight)
}

func TestChainApplierRetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{failures: 2}
	state := &flakyState{}
	a := NewChainApplier(store, state, Config{ApplyRetryInterval: time.Millisecond})

	blk := buildChain(101, 101, genesisTip)[0]
	require.NoError(t, a.Apply(blk))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 1, state.calls)
}

func TestChainApplierSurfacesStateFailure(t *testing.T) {
	state := &flakyState{failures: 100}
	a := NewChainApplier(&flakyStore{}, state, Config{ApplyRetryInterval: time.Millisecond, ApplyMaxRetries: 2})

	err := a.Apply(buildChain(101, 101, genesisTip)[0])
	require.Error(t, err)
	assert.Equal(t, errors.CodeState, errors.CodeOf(err))
	assert.Equal(t, 3, state.calls)
}

type flakyStore struct {
	failures int
	calls    int
}

func (s *flakyStore) StoreBlock(*block.Block) error {
	s.calls++
	if s.calls <= s.failures {
		return stderrors.New("disk busy")
	}
	return nil
}

type flakyState struct {
	failures int
	calls    int
}

func (s *flakyState) Apply(*block.Block) error {
	s.calls++
	if s.calls <= s.failures {
		return stderrors.New("state locked")
	}
	return nil
}
