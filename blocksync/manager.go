package blocksync

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/triunity/node/errors"
	"github.com/triunity/node/events"
	"github.com/triunity/node/logx"
	"github.com/triunity/node/monitoring"
	"github.com/triunity/node/types"
	"github.com/triunity/node/utils"
)

// Manager tracks how far the local chain lags its peers and drives catch-up.
// State transitions hold mu only for their own duration; network exchanges
// happen outside, between CreateSyncRequest and ProcessSyncResponse.
type Manager struct {
	mu sync.RWMutex
	// applyMu serializes appliers; the applier itself runs without mu.
	applyMu sync.Mutex

	cfg     Config
	clock   utils.Clock
	bus     *events.EventBus
	applier Applier

	mode          Mode
	currentHeight uint64
	targetHeight  uint64
	tipHash       types.Hash
	peers         map[string]*Peer
	pending       *pendingBuffer
}

type Option func(*Manager)

func WithClock(clock utils.Clock) Option {
	return func(m *Manager) { m.clock = utils.OrSystem(clock) }
}

func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// NewManager starts in Synced at currentHeight whose block hash is tipHash.
// A nil applier only advances heights.
func NewManager(cfg Config, currentHeight uint64, tipHash types.Hash, applier Applier, opts ...Option) *Manager {
	m := &Manager{
		cfg:           cfg.withDefaults(),
		clock:         utils.SystemClock{},
		applier:       applier,
		mode:          Synced{},
		currentHeight: currentHeight,
		targetHeight:  currentHeight,
		tipHash:       tipHash,
		peers:         make(map[string]*Peer),
		pending:       newPendingBuffer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	monitoring.SetBlockHeight(currentHeight)
	monitoring.SetSyncMode(ModeSynced, ModeNames)
	return m
}

// CheckSyncNeeded records the reported heights and recomputes mode and target.
// It reports whether the node lags the best peer by more than the tolerance.
func (m *Manager) CheckSyncNeeded(heights []PeerHeight) bool {
	if len(heights) == 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var best uint64
	for _, ph := range heights {
		p, ok := m.peers[ph.PeerID]
		if !ok {
			p = &Peer{
				ID:          ph.PeerID,
				Speed:       m.cfg.DefaultPeerSpeed,
				Reliability: m.cfg.DefaultPeerReliability,
			}
			m.peers[ph.PeerID] = p
			monitoring.SetPeerReliability(p.ID, p.Reliability)
		}
		p.Height = ph.Height
		p.LastSeen = now
		best = max(best, ph.Height)
	}
	monitoring.SetPeerCount(len(m.peers))

	if best <= m.currentHeight || best-m.currentHeight <= m.cfg.LagTolerance {
		m.targetHeight = max(m.currentHeight, best)
		m.setModeLocked(Synced{})
		return false
	}

	gap := best - m.currentHeight
	m.targetHeight = best
	monitoring.SetSyncTargetHeight(best)

	switch {
	case gap > m.cfg.FastSyncGap:
		m.setModeLocked(FastSync{CheckpointHeight: best - m.cfg.CheckpointDistance})
	case gap > m.cfg.FullSyncGap:
		m.setModeLocked(FullSync{StartHeight: m.currentHeight + 1})
	default:
		m.setModeLocked(BlockSync{From: m.currentHeight + 1, To: best})
	}
	logx.Info("SYNC", "Behind best peer by", gap, "blocks, target", best, "mode", m.mode.String())
	return true
}

func (m *Manager) setModeLocked(next Mode) {
	prev := m.mode
	m.mode = next
	if prev.Name() == next.Name() {
		return
	}
	monitoring.SetSyncMode(next.Name(), ModeNames)
	m.bus.Publish(events.NewSyncModeChanged(prev.Name(), next.Name(), m.targetHeight, m.clock.Now()))
	if _, synced := next.(Synced); synced {
		logx.Info("SYNC", "Synchronized at height", m.currentHeight)
	}
}

// CreateSyncRequest picks the best eligible peer and sizes a request for the
// current mode. It returns nil without error when already synced and a
// sync_stall error when no peer can serve.
func (m *Manager) CreateSyncRequest() (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, synced := m.mode.(Synced); synced {
		return nil, nil
	}
	m.evictStaleLocked()

	p := m.bestPeerLocked()
	if p == nil {
		return nil, errors.New(errors.CodeSyncStall, errors.MsgNoEligiblePeer)
	}

	req, ok := m.requestForModeLocked()
	if !ok {
		return nil, nil
	}
	p.Syncing = true
	p.AssignedAt = m.clock.Now()

	logx.Debug("SYNC", "Requesting blocks", req.StartHeight, "to", req.EndHeight, "from", utils.ShortenLog(p.ID))
	return &Assignment{PeerID: p.ID, Request: req}, nil
}

func (m *Manager) bestPeerLocked() *Peer {
	var best *Peer
	var bestScore float64
	for _, p := range m.peers {
		if p.Height <= m.currentHeight || p.Reliability <= m.cfg.MinPeerReliability {
			continue
		}
		score := p.Speed * p.Reliability
		if best == nil || score > bestScore || (score == bestScore && p.ID < best.ID) {
			best, bestScore = p, score
		}
	}
	return best
}

func (m *Manager) requestForModeLocked() (SyncRequest, bool) {
	next := m.currentHeight + 1
	switch mode := m.mode.(type) {
	case FastSync:
		cp := mode.CheckpointHeight
		if cp > m.currentHeight && !m.pending.Has(cp) {
			end := min(m.targetHeight, cp+m.cfg.FastSyncWindow-1)
			return SyncRequest{StartHeight: cp, EndHeight: end, MaxBlocks: uint32(end - cp + 1)}, true
		}
		end := min(m.targetHeight, next+m.cfg.FastSyncWindow-1)
		return SyncRequest{StartHeight: next, EndHeight: end, MaxBlocks: uint32(end - next + 1)}, true
	case FullSync:
		start := max(mode.StartHeight, next)
		end := min(m.targetHeight, start+m.cfg.FullSyncWindow-1)
		if end < start {
			return SyncRequest{}, false
		}
		return SyncRequest{StartHeight: start, EndHeight: end, MaxBlocks: uint32(m.cfg.FullSyncWindow)}, true
	case BlockSync:
		start := max(mode.From, next)
		end := min(mode.To, start+m.cfg.BlockSyncWindow-1)
		if end < start {
			return SyncRequest{}, false
		}
		return SyncRequest{StartHeight: start, EndHeight: end, MaxBlocks: uint32(end - start + 1)}, true
	default:
		return SyncRequest{}, false
	}
}

// ReleasePeer clears the syncing flag after a failed exchange.
func (m *Manager) ReleasePeer(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[peerID]; ok {
		p.Syncing = false
	}
}

// PenalizePeer releases the peer and lowers its reliability for a response
// that could not be used, such as one that failed to decode.
func (m *Manager) PenalizePeer(peerID string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[peerID]
	if !ok {
		return
	}
	p.Syncing = false
	m.penalizeLocked(p, cause)
}

func (m *Manager) capacityLocked() uint64 {
	gap := uint64(1)
	if m.targetHeight > m.currentHeight {
		gap = m.targetHeight - m.currentHeight
	}
	return min(uint64(m.cfg.MaxPendingBlocks), gap)
}

func (m *Manager) acceptsHeightLocked(h uint64) bool {
	if h <= m.currentHeight {
		return false
	}
	if h-m.currentHeight <= m.capacityLocked() {
		return true
	}
	fs, ok := m.mode.(FastSync)
	return ok && h >= fs.CheckpointHeight && h < fs.CheckpointHeight+m.cfg.FastSyncWindow &&
		m.pending.Len() < m.cfg.MaxPendingBlocks+int(m.cfg.FastSyncWindow)
}

// ProcessSyncResponse validates each delivered block, buffers the valid ones
// and applies every contiguous block above the current height. It returns the
// number of blocks accepted into the buffer. A non-nil error comes from the
// applier; the failed block stays buffered.
func (m *Manager) ProcessSyncResponse(peerID string, resp *SyncResponse) (int, error) {
	if resp == nil {
		return 0, nil
	}
	accepted := m.bufferResponse(peerID, resp)
	return accepted, m.ProcessPendingBlocks()
}

func (m *Manager) bufferResponse(peerID string, resp *SyncResponse) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	p := m.peerLocked(peerID)
	accepted, rejected := 0, 0

	for _, blk := range resp.Blocks {
		if err := blk.Validate(); err != nil {
			rejected++
			m.penalizeLocked(p, err)
			continue
		}
		h := blk.Height()
		if !m.acceptsHeightLocked(h) || m.pending.Has(h) {
			continue
		}
		if h == m.currentHeight+1 && blk.PrevHash() != m.tipHash {
			rejected++
			m.penalizeLocked(p, errors.New(errors.CodeBrokenLinkage, errors.MsgLinkageMismatch))
			continue
		}
		m.pending.Put(&pendingBlock{height: h, block: blk, peerID: p.ID, received: now})
		accepted++
	}

	p.Height = max(p.Height, resp.PeerHeight)
	p.LastSeen = now
	if accepted > 0 {
		p.Reliability = p.Reliability*0.9 + 0.1
		monitoring.SetPeerReliability(p.ID, p.Reliability)
	}
	if accepted > 0 && !p.AssignedAt.IsZero() {
		if elapsed := now.Sub(p.AssignedAt).Seconds(); elapsed > 0 {
			observed := float64(accepted) / elapsed
			p.Speed = (1-m.cfg.SpeedSmoothing)*p.Speed + m.cfg.SpeedSmoothing*observed
		}
	}
	if resp.IsFinal || len(resp.Blocks) == 0 {
		p.Syncing = false
	}

	logx.Debug("SYNC", "Peer", utils.ShortenLog(p.ID), "delivered", len(resp.Blocks), "blocks, accepted", accepted, "rejected", rejected)
	return accepted
}

// ProcessPendingBlocks applies buffered blocks that have become contiguous.
// The applier runs outside mu so readers are not blocked by storage retries.
func (m *Manager) ProcessPendingBlocks() error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	defer m.finishApply()

	for {
		pb, parent, ok := m.nextContiguous()
		if !ok {
			return nil
		}
		if m.applier != nil {
			if err := m.applier.Apply(pb.block); err != nil {
				return fmt.Errorf("apply block %d: %w", pb.height, err)
			}
		}
		if !m.commitApplied(pb, parent) {
			return nil
		}
	}
}

// nextContiguous returns the buffered block directly above the tip together
// with the tip hash it was checked against.
func (m *Manager) nextContiguous() (*pendingBlock, types.Hash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending.DropThrough(m.currentHeight)
	pb, ok := m.pending.Min()
	if !ok || pb.height != m.currentHeight+1 {
		return nil, types.Hash{}, false
	}
	if pb.block.PrevHash() != m.tipHash {
		m.pending.Delete(pb.height)
		if src, known := m.peers[pb.peerID]; known {
			m.penalizeLocked(src, errors.New(errors.CodeBrokenLinkage, errors.MsgLinkageMismatch))
		}
		return nil, types.Hash{}, false
	}
	return pb, m.tipHash, true
}

// commitApplied advances the tip to pb unless the tip moved while the applier
// ran, in which case nothing is committed.
func (m *Manager) commitApplied(pb *pendingBlock, parent types.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentHeight+1 != pb.height || m.tipHash != parent {
		logx.Warn("SYNC", "Tip moved while applying block", pb.height, "current", m.currentHeight)
		return false
	}
	m.pending.Delete(pb.height)
	m.currentHeight = pb.height
	m.tipHash = pb.block.Hash()

	monitoring.SetBlockHeight(m.currentHeight)
	monitoring.RecordAppliedBlock(pb.block.Size(), pb.block.TxCount())
	m.bus.Publish(events.NewBlockApplied(pb.height, m.tipHash, pb.block.TxCount(), m.clock.Now()))
	return true
}

func (m *Manager) finishApply() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentHeight >= m.targetHeight {
		m.setModeLocked(Synced{})
	}
	monitoring.SetPendingBlocks(m.pending.Len())
	monitoring.SetSyncProgress(m.percentageLocked())
}

func (m *Manager) peerLocked(peerID string) *Peer {
	p, ok := m.peers[peerID]
	if !ok {
		p = &Peer{
			ID:          peerID,
			Speed:       m.cfg.DefaultPeerSpeed,
			Reliability: m.cfg.DefaultPeerReliability,
		}
		m.peers[peerID] = p
		monitoring.SetPeerCount(len(m.peers))
	}
	return p
}

func (m *Manager) penalizeLocked(p *Peer, cause error) {
	p.Reliability = max(p.Reliability*m.cfg.PenaltyFactor, m.cfg.ReliabilityFloor)
	reason := string(errors.CodeOf(cause))

	logx.Warn("SYNC", "Penalizing peer", utils.ShortenLog(p.ID), "reliability", p.Reliability, "reason:", cause)
	monitoring.RecordRejectedBlock(reason)
	monitoring.SetPeerReliability(p.ID, p.Reliability)
	m.bus.Publish(events.NewPeerPenalized(p.ID, p.Reliability, reason, m.clock.Now()))
}

// CleanupInactivePeers drops peers whose reliability has reached the floor and
// returns how many were removed.
func (m *Manager) CleanupInactivePeers() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, p := range m.peers {
		if p.Reliability <= m.cfg.ReliabilityFloor {
			delete(m.peers, id)
			monitoring.RemovePeer(id)
			removed++
		}
	}
	if removed > 0 {
		logx.Info("SYNC", "Removed", removed, "unreliable peers")
		monitoring.SetPeerCount(len(m.peers))
	}
	return removed
}

// EvictStale drops buffered blocks older than the pending timeout so their
// heights are requested again.
func (m *Manager) EvictStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictStaleLocked()
}

func (m *Manager) evictStaleLocked() int {
	stale := m.pending.DropBefore(m.clock.Now().Add(-m.cfg.PendingTimeout))
	if len(stale) > 0 {
		logx.Warn("SYNC", "Evicted", len(stale), "stale pending blocks starting at", stale[0])
		monitoring.SetPendingBlocks(m.pending.Len())
	}
	return len(stale)
}

func (m *Manager) percentageLocked() float64 {
	if _, synced := m.mode.(Synced); synced || m.currentHeight >= m.targetHeight {
		return 100
	}
	return float64(m.currentHeight) / float64(m.targetHeight) * 100
}

func (m *Manager) Progress() Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var speeds float64
	active := 0
	for _, p := range m.peers {
		if p.Syncing && p.Reliability > m.cfg.MinPeerReliability {
			speeds += p.Speed
			active++
		}
	}
	var speed float64
	if active > 0 {
		speed = speeds / float64(active)
	}

	var eta time.Duration
	if speed > 0 && m.targetHeight > m.currentHeight {
		remaining := float64(m.targetHeight - m.currentHeight)
		eta = time.Duration(remaining / speed * float64(time.Second))
	}

	return Progress{
		CurrentHeight: m.currentHeight,
		TargetHeight:  m.targetHeight,
		Percentage:    m.percentageLocked(),
		Mode:          m.mode.String(),
		ActivePeers:   active,
		SyncSpeed:     speed,
		ETA:           eta,
		PendingBlocks: m.pending.Len(),
	}
}

func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

func (m *Manager) CurrentHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentHeight
}

func (m *Manager) TargetHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.targetHeight
}

func (m *Manager) TipHash() types.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tipHash
}

func (m *Manager) IsSynced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, synced := m.mode.(Synced)
	return synced
}

func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending.Len()
}

// Peers returns copies sorted by ID.
func (m *Manager) Peers() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Peer returns a copy of the tracked peer.
func (m *Manager) Peer(id string) (Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}
