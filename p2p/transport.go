package p2p

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/triunity/node/block"
	"github.com/triunity/node/blocksync"
	"github.com/triunity/node/errors"
	"github.com/triunity/node/jsonx"
	"github.com/triunity/node/logx"
	"github.com/triunity/node/ratelimit"
	"github.com/triunity/node/types"
	"golang.org/x/sync/errgroup"
)

// ChainView is the read access the transport needs to serve peers.
type ChainView interface {
	Status() (height uint64, tip types.Hash)
	Blocks(from, to uint64, limit int) ([]*block.Block, error)
}

type Config struct {
	ListenAddrs    []string
	Identity       p2pcrypto.PrivKey
	RequestTimeout time.Duration
	ServeLimit     ratelimit.Config
	// MDNSTag enables local network discovery when set.
	MDNSTag string
}

// Transport exchanges status and sync messages with peers over libp2p streams.
type Transport struct {
	host    host.Host
	chain   ChainView
	timeout time.Duration
	limiter *ratelimit.Limiter
	mdns    mdns.Service
	cancel  context.CancelFunc

	mu       sync.RWMutex
	statuses map[peer.ID]StatusMessage
}

// IdentityFromSeed derives a stable libp2p identity from a 32-byte seed.
func IdentityFromSeed(seed []byte) (p2pcrypto.PrivKey, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("identity seed must be at least 32 bytes, got %d", len(seed))
	}
	priv, _, err := p2pcrypto.GenerateEd25519Key(bytes.NewReader(seed[:32]))
	if err != nil {
		return nil, fmt.Errorf("derive libp2p identity: %w", err)
	}
	return priv, nil
}

func NewTransport(cfg Config, chain ChainView) (*Transport, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain view cannot be nil")
	}
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.DefaultSecurity,
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
	}
	if cfg.Identity != nil {
		opts = append(opts, libp2p.Identity(cfg.Identity))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	t := &Transport{
		host:     h,
		chain:    chain,
		timeout:  timeout,
		limiter:  ratelimit.NewLimiter(cfg.ServeLimit, nil),
		statuses: make(map[peer.ID]StatusMessage),
	}
	h.SetStreamHandler(StatusProtocol, t.handleStatusStream)
	h.SetStreamHandler(SyncProtocol, t.handleSyncStream)

	if cfg.MDNSTag != "" {
		ctx, cancel := context.WithCancel(context.Background())
		service, err := startMDNS(ctx, h, cfg.MDNSTag)
		if err != nil {
			cancel()
			_ = h.Close()
			return nil, fmt.Errorf("start mdns discovery: %w", err)
		}
		t.mdns, t.cancel = service, cancel
	}

	logx.Info("NETWORK:SETUP", "Listening as", h.ID().String(), "on", t.Addrs())
	return t, nil
}

func (t *Transport) ID() string {
	return t.host.ID().String()
}

// Addrs returns dialable multiaddrs including the peer ID.
func (t *Transport) Addrs() []string {
	out := make([]string, 0, len(t.host.Addrs()))
	for _, a := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, t.host.ID()))
	}
	return out
}

func (t *Transport) Connect(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	if err := t.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	logx.Info("NETWORK:CONNECT", "Connected to", info.ID.String())
	return nil
}

func (t *Transport) ConnectedPeers() int {
	return len(t.host.Network().Peers())
}

// PeerHeights queries every connected peer for its head. Peers that fail to
// answer are left out.
func (t *Transport) PeerHeights(ctx context.Context) ([]blocksync.PeerHeight, error) {
	peers := t.host.Network().Peers()
	results := make([]*blocksync.PeerHeight, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusFanout)
	for i, pid := range peers {
		i, pid := i, pid
		g.Go(func() error {
			status, err := t.requestStatus(gctx, pid)
			if err != nil {
				logx.Debug("NETWORK:STATUS", "Status from", pid.String(), "failed:", err)
				return nil
			}
			t.mu.Lock()
			t.statuses[pid] = *status
			t.mu.Unlock()
			results[i] = &blocksync.PeerHeight{PeerID: pid.String(), Height: status.Height}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]blocksync.PeerHeight, 0, len(peers))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, ctx.Err()
}

func (t *Transport) requestStatus(ctx context.Context, pid peer.ID) (*StatusMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	s, err := t.host.NewStream(ctx, pid, StatusProtocol)
	if err != nil {
		return nil, fmt.Errorf("open status stream: %w", err)
	}
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(t.timeout))

	var status StatusMessage
	if err := jsonx.ReadMessage(s, MaxRequestBytes, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestBlocks performs one sync exchange with peerID.
func (t *Transport) RequestBlocks(ctx context.Context, peerID string, req blocksync.SyncRequest) (*blocksync.SyncResponse, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("invalid peer id %q: %w", peerID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	s, err := t.host.NewStream(ctx, pid, SyncProtocol)
	if err != nil {
		return nil, fmt.Errorf("open sync stream: %w", err)
	}
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(t.timeout))

	if err := jsonx.WriteMessage(s, req); err != nil {
		_ = s.Reset()
		return nil, fmt.Errorf("write sync request: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close sync request: %w", err)
	}

	resp, err := readSyncResponse(s)
	if err != nil {
		return nil, err
	}
	logx.Debug("NETWORK:SYNC", "Received", len(resp.Blocks), "blocks from", peerID)
	return resp, nil
}

// readSyncResponse separates stream failures from payloads the peer got
// wrong; only the latter carry malformed_block.
func readSyncResponse(r io.Reader) (*blocksync.SyncResponse, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read sync response: %w", err)
	}
	if len(data) > MaxResponseBytes {
		return nil, errors.New(errors.CodeMalformedBlock, fmt.Sprintf("sync response exceeds %d bytes", MaxResponseBytes))
	}
	var resp blocksync.SyncResponse
	if err := jsonx.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedBlock, errors.MsgUndecodable, err)
	}
	return &resp, nil
}

func (t *Transport) handleStatusStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(t.timeout))

	height, tip := t.chain.Status()
	if err := jsonx.WriteMessage(s, StatusMessage{Height: height, TipHash: tip}); err != nil {
		logx.Error("NETWORK:STATUS", "Failed to write status:", err)
		_ = s.Reset()
	}
}

func (t *Transport) handleSyncStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(t.timeout))
	remote := s.Conn().RemotePeer().String()
	if !t.limiter.Allow(remote) {
		logx.Warn("NETWORK:SYNC", "Rate limited sync request from", remote)
		_ = s.Reset()
		return
	}

	var req blocksync.SyncRequest
	if err := jsonx.ReadMessage(s, MaxRequestBytes, &req); err != nil {
		logx.Warn("NETWORK:SYNC", "Bad sync request from", remote, ":", err)
		_ = s.Reset()
		return
	}

	resp, err := t.serve(req)
	if err != nil {
		logx.Error("NETWORK:SYNC", "Failed to load blocks for", remote, ":", err)
		_ = s.Reset()
		return
	}
	if err := jsonx.WriteMessage(s, resp); err != nil {
		logx.Error("NETWORK:SYNC", "Failed to write sync response to", remote, ":", err)
		_ = s.Reset()
	}
}

// serve answers req from the local chain, capped at the request's max_blocks
// and MaxServeBlocks.
func (t *Transport) serve(req blocksync.SyncRequest) (*blocksync.SyncResponse, error) {
	height, _ := t.chain.Status()
	resp := &blocksync.SyncResponse{StartHeight: req.StartHeight, PeerHeight: height, IsFinal: true}
	if req.Count() == 0 || req.StartHeight > height {
		return resp, nil
	}

	limit := min(req.Count(), uint64(MaxServeBlocks))
	if req.MaxBlocks > 0 {
		limit = min(limit, uint64(req.MaxBlocks))
	}
	blocks, err := t.chain.Blocks(req.StartHeight, min(req.EndHeight, height), int(limit))
	if err != nil {
		return nil, err
	}
	resp.Blocks = blocks
	resp.IsFinal = uint64(len(blocks)) >= req.Count() || req.StartHeight+uint64(len(blocks)) > height
	return resp, nil
}

// PeerStatus returns the last status received from peerID.
func (t *Transport) PeerStatus(peerID string) (StatusMessage, bool) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return StatusMessage{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[pid]
	return s, ok
}

func (t *Transport) Close() error {
	if t.mdns != nil {
		t.cancel()
		_ = t.mdns.Close()
	}
	return t.host.Close()
}
