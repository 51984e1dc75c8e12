package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/triunity/node/block"
	"github.com/triunity/node/blocksync"
	"github.com/triunity/node/config"
	"github.com/triunity/node/consensus"
	"github.com/triunity/node/errors"
	"github.com/triunity/node/events"
	"github.com/triunity/node/ledger"
	"github.com/triunity/node/logx"
	"github.com/triunity/node/monitoring"
	"github.com/triunity/node/store"
	"github.com/triunity/node/types"
	"github.com/triunity/node/utils"
)

// Transport performs the network side of a sync exchange.
type Transport interface {
	PeerHeights(ctx context.Context) ([]blocksync.PeerHeight, error)
	RequestBlocks(ctx context.Context, peerID string, req blocksync.SyncRequest) (*blocksync.SyncResponse, error)
}

type Config struct {
	Sync            blocksync.Config
	Router          consensus.Config
	Genesis         config.GenesisConfig
	Validators      [][]byte
	SyncInterval    time.Duration
	MetricsInterval time.Duration
	HistorySize     int
	CapacityTPS     float64
}

type Deps struct {
	Blocks    store.BlockStore
	Ledger    *ledger.Ledger
	Transport Transport
	Sampler   monitoring.ResourceSampler
	Clock     utils.Clock
}

// Node wires the consensus router and the sync manager to the local chain and
// the network.
type Node struct {
	cfg   Config
	clock utils.Clock

	router    *consensus.Router
	manager   *blocksync.Manager
	blocks    store.BlockStore
	ledger    *ledger.Ledger
	collector *monitoring.Collector
	bus       *events.EventBus

	mu          sync.RWMutex
	transport   Transport
	currentPath consensus.Path
	algorithm   consensus.Algorithm
	lastApplied time.Time
}

func New(cfg Config, deps Deps) (*Node, error) {
	if deps.Blocks == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("block store and ledger are required")
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = config.DefaultSyncInterval
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = config.DefaultMetricsInterval
	}
	clock := utils.OrSystem(deps.Clock)

	tip, err := bootstrap(deps.Blocks, deps.Ledger, cfg.Genesis)
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus()
	applier := blocksync.NewChainApplier(deps.Blocks, deps.Ledger, cfg.Sync)
	n := &Node{
		cfg:         cfg,
		clock:       clock,
		router:      consensus.NewRouter(cfg.Router, clock),
		manager:     blocksync.NewManager(cfg.Sync, tip.Height(), tip.Hash(), applier, blocksync.WithClock(clock), blocksync.WithEventBus(bus)),
		blocks:      deps.Blocks,
		ledger:      deps.Ledger,
		collector:   monitoring.NewCollector(cfg.HistorySize, cfg.CapacityTPS, deps.Sampler, clock),
		bus:         bus,
		transport:   deps.Transport,
		lastApplied: clock.Now(),
	}
	supply, err := deps.Ledger.TotalSupply()
	if err != nil {
		return nil, fmt.Errorf("read total supply: %w", err)
	}
	logx.Info("NODE", "Starting at height", tip.Height(), "tip", tip.Hash().String(), "supply", supply.Dec())
	return n, nil
}

// bootstrap returns the local chain tip, writing the genesis block and
// allocations on first start. Stored blocks the ledger has not applied yet
// are replayed so state matches the tip.
func bootstrap(blocks store.BlockStore, ld *ledger.Ledger, genesis config.GenesisConfig) (*block.Block, error) {
	latest := blocks.GetLatestHeight()
	tip, err := blocks.GetBlock(latest)
	if err != nil {
		return nil, fmt.Errorf("load chain tip: %w", err)
	}
	if tip != nil {
		if err := replay(blocks, ld, genesis.Height, tip.Height()); err != nil {
			return nil, err
		}
		return tip, nil
	}

	g := block.Genesis(genesis.Height, genesis.Timestamp)
	if err := blocks.StoreBlock(g); err != nil {
		return nil, fmt.Errorf("store genesis block: %w", err)
	}
	if err := ld.CreateGenesisAccounts(genesis.Accounts); err != nil {
		return nil, fmt.Errorf("create genesis accounts: %w", err)
	}
	logx.Info("NODE", "Initialized genesis at height", g.Height(), "with", len(genesis.Accounts), "accounts")
	return g, nil
}

func replay(blocks store.BlockStore, ld *ledger.Ledger, genesisHeight, tipHeight uint64) error {
	applied, err := ld.AppliedHeight()
	if err != nil {
		return fmt.Errorf("load applied height: %w", err)
	}
	from := max(applied, genesisHeight) + 1
	if from > tipHeight {
		return nil
	}

	logx.Info("NODE", "Replaying blocks", from, "to", tipHeight, "into the ledger")
	for h := from; h <= tipHeight; h++ {
		blk, err := blocks.GetBlock(h)
		if err != nil {
			return fmt.Errorf("load block %d: %w", h, err)
		}
		if blk == nil {
			return errors.New(errors.CodeState, fmt.Sprintf("block %d missing below tip %d", h, tipHeight))
		}
		if err := ld.Apply(blk); err != nil {
			return fmt.Errorf("replay block %d: %w", h, err)
		}
	}
	return nil
}

// SetTransport attaches the network once the transport, which serves this
// node's chain, has been built.
func (n *Node) SetTransport(t Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transport = t
}

func (n *Node) getTransport() Transport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.transport
}

// SyncOnce runs one catch-up round. No manager lock is held while the
// transport is waiting on the network.
func (n *Node) SyncOnce(ctx context.Context) error {
	t := n.getTransport()
	if t == nil {
		return fmt.Errorf("no transport attached")
	}

	heights, err := t.PeerHeights(ctx)
	if err != nil {
		return fmt.Errorf("collect peer heights: %w", err)
	}
	if !n.manager.CheckSyncNeeded(heights) {
		return n.manager.ProcessPendingBlocks()
	}

	assignment, err := n.manager.CreateSyncRequest()
	if err != nil || assignment == nil {
		return err
	}

	started := n.clock.Now()
	resp, err := t.RequestBlocks(ctx, assignment.PeerID, assignment.Request)
	if err != nil {
		if errors.IsValidation(err) {
			n.manager.PenalizePeer(assignment.PeerID, err)
		} else {
			n.manager.ReleasePeer(assignment.PeerID)
		}
		return fmt.Errorf("request blocks %d-%d from %s: %w", assignment.Request.StartHeight,
			assignment.Request.EndHeight, utils.ShortenLog(assignment.PeerID), err)
	}
	n.collector.RecordLatency(uint64(n.clock.Now().Sub(started).Milliseconds()), len(heights))

	_, err = n.manager.ProcessSyncResponse(assignment.PeerID, resp)
	n.manager.CleanupInactivePeers()
	return err
}

// RefreshMetrics feeds the collector's view of the network to the router and
// records how the previous path performed.
func (n *Node) RefreshMetrics() consensus.Path {
	stats := n.collector.Stats()

	n.mu.Lock()
	prev := n.currentPath
	n.mu.Unlock()
	if prev != nil && stats.AvgTPS > 0 {
		n.router.RecordPerformance(prev, consensus.PerformancePrediction{
			ExpectedThroughput: stats.AvgTPS,
			ExpectedLatencyMs:  stats.AvgLatencyMs,
			SecurityScore:      stats.SecurityScore,
		})
	}

	n.router.UpdateMetrics(n.collector.NetworkMetrics(len(n.cfg.Validators)))
	metrics := n.router.NetworkStatus()
	path := n.router.SelectOptimalPath()
	confidence := n.router.AIConfidence()
	algorithm := consensus.AlgorithmFor(path, n.cfg.Validators)

	n.mu.Lock()
	n.currentPath = path
	n.algorithm = algorithm
	n.mu.Unlock()

	kinds := make([]string, 0, len(consensus.AllKinds))
	for _, k := range consensus.AllKinds {
		kinds = append(kinds, string(k))
	}
	monitoring.SetConsensusPath(string(path.Kind()), kinds)
	monitoring.SetAIConfidence(confidence)
	monitoring.SetFinalityTime(algorithm.FinalityTimeMs())
	monitoring.SetNetworkStressed(metrics.IsStressed())
	if trend, ok := n.collector.TPSTrend(); ok {
		monitoring.SetTPSTrend(trend)
	}

	if metrics.IsStressed() {
		logx.Warn("NODE", "Network stressed: congestion", metrics.CongestionLevel, "attack", metrics.AttackProbability,
			"security events in the last hour", len(n.collector.RecentSecurityEvents(time.Hour)),
			"needs security", metrics.NeedsSecurity(), "needs performance", metrics.NeedsPerformance())
	}
	if prev == nil || prev.Kind() != path.Kind() {
		logx.Info("NODE", "Consensus path", path.String(), "via", algorithm.Name(), "finality", algorithm.FinalityTimeMs(), "ms, confidence", confidence)
		n.bus.Publish(events.NewPathSelected(string(path.Kind()), path.String(), algorithm.Name(), confidence, n.clock.Now()))
	}
	return path
}

// HandleEvent folds sync events into the collector.
func (n *Node) HandleEvent(ev events.NodeEvent) {
	switch e := ev.(type) {
	case *events.BlockApplied:
		n.mu.Lock()
		elapsed := e.Timestamp().Sub(n.lastApplied).Seconds()
		n.lastApplied = e.Timestamp()
		n.mu.Unlock()
		var tps uint64
		if elapsed > 0 {
			tps = uint64(float64(e.TxCount) / elapsed)
		} else {
			tps = uint64(e.TxCount)
		}
		n.collector.RecordTPS(tps, e.Height)
	case *events.PeerPenalized:
		kind, severity := securityEventFor(errors.Code(e.Reason))
		n.collector.RecordSecurityEvent(kind, severity, fmt.Sprintf("peer %s: %s", e.PeerID, e.Reason))
	}
}

func securityEventFor(code errors.Code) (monitoring.SecurityEventType, monitoring.Severity) {
	switch code {
	case errors.CodeInvalidSignature:
		return monitoring.InvalidSignature, monitoring.SeverityHigh
	case errors.CodeBrokenLinkage:
		return monitoring.ValidatorMisbehavior, monitoring.SeverityMedium
	case errors.CodeMerkleMismatch, errors.CodeMalformedBlock, errors.CodeInvalidVersion:
		return monitoring.SuspiciousActivity, monitoring.SeverityMedium
	default:
		return monitoring.SuspiciousActivity, monitoring.SeverityLow
	}
}

func (n *Node) NetworkStatus() consensus.NetworkMetrics {
	return n.router.NetworkStatus()
}

func (n *Node) AIConfidence() float64 {
	return n.router.AIConfidence()
}

func (n *Node) SelectOptimalPath() consensus.Path {
	return n.router.SelectOptimalPath()
}

func (n *Node) SyncProgress() blocksync.Progress {
	return n.manager.Progress()
}

// ProducerConsensusData is the header tag for a block produced now.
func (n *Node) ProducerConsensusData() block.ConsensusData {
	return consensus.ConsensusDataFor(n.router.SelectOptimalPath(), n.cfg.Validators)
}

func (n *Node) Router() *consensus.Router {
	return n.router
}

func (n *Node) Manager() *blocksync.Manager {
	return n.manager
}

func (n *Node) Collector() *monitoring.Collector {
	return n.collector
}

func (n *Node) Events() *events.EventBus {
	return n.bus
}

func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

func (n *Node) CurrentPath() consensus.Path {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.currentPath
}

// Algorithm is the agreement protocol behind the current path, nil before the
// first refresh.
func (n *Node) Algorithm() consensus.Algorithm {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.algorithm
}

// Status and Blocks let the transport serve this node's chain to peers.
func (n *Node) Status() (uint64, types.Hash) {
	return n.manager.CurrentHeight(), n.manager.TipHash()
}

func (n *Node) Blocks(from, to uint64, limit int) ([]*block.Block, error) {
	return n.blocks.GetRange(from, to, limit)
}
