package p2p

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triunity/node/block"
	"github.com/triunity/node/blocksync"
	"github.com/triunity/node/errors"
	"github.com/triunity/node/jsonx"
	"github.com/triunity/node/ratelimit"
	"github.com/triunity/node/types"
	"github.com/triunity/node/utils"
)

type sliceChain struct {
	blocks []*block.Block // blocks[i] is at height i
}

func newSliceChain(height uint64) *sliceChain {
	clock := utils.NewManualClock(time.Unix(1_700_000_000, 0))
	c := &sliceChain{blocks: []*block.Block{block.Genesis(0, 0)}}
	for h := uint64(1); h <= height; h++ {
		c.blocks = append(c.blocks, block.Assemble(c.blocks[h-1].Hash(), nil, h, nil, clock))
	}
	return c
}

func (c *sliceChain) Status() (uint64, types.Hash) {
	tip := c.blocks[len(c.blocks)-1]
	return tip.Height(), tip.Hash()
}

func (c *sliceChain) Blocks(from, to uint64, limit int) ([]*block.Block, error) {
	var out []*block.Block
	for h := from; h <= to && h < uint64(len(c.blocks)) && len(out) < limit; h++ {
		out = append(out, c.blocks[h])
	}
	return out, nil
}

func newTestTransport(t *testing.T, chain ChainView) *Transport {
	t.Helper()
	tr, err := NewTransport(Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}, RequestTimeout: 5 * time.Second}, chain)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestStatusAndSyncExchange(t *testing.T) {
	serverChain := newSliceChain(150)
	server := newTestTransport(t, serverChain)
	client := newTestTransport(t, newSliceChain(0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, server.Addrs()[0]))
	assert.Equal(t, 1, client.ConnectedPeers())

	heights, err := client.PeerHeights(ctx)
	require.NoError(t, err)
	require.Equal(t, []blocksync.PeerHeight{{PeerID: server.ID(), Height: 150}}, heights)

	status, ok := client.PeerStatus(server.ID())
	require.True(t, ok)
	_, tip := serverChain.Status()
	assert.Equal(t, tip, status.TipHash)

	resp, err := client.RequestBlocks(ctx, server.ID(), blocksync.SyncRequest{StartHeight: 1, EndHeight: 20, MaxBlocks: 20})
	require.NoError(t, err)
	require.Len(t, resp.Blocks, 20)
	assert.True(t, resp.IsFinal)
	assert.Equal(t, uint64(150), resp.PeerHeight)
	for i, blk := range resp.Blocks {
		require.NoError(t, blk.Validate())
		assert.Equal(t, serverChain.blocks[i+1].Hash(), blk.Hash())
	}
}

func TestServeCapsResponse(t *testing.T) {
	tr := &Transport{chain: newSliceChain(300)}

	resp, err := tr.serve(blocksync.SyncRequest{StartHeight: 1, EndHeight: 250, MaxBlocks: 250})
	require.NoError(t, err)
	assert.Len(t, resp.Blocks, MaxServeBlocks)
	assert.False(t, resp.IsFinal)

	resp, err = tr.serve(blocksync.SyncRequest{StartHeight: 290, EndHeight: 320, MaxBlocks: 50})
	require.NoError(t, err)
	assert.Len(t, resp.Blocks, 11)
	assert.True(t, resp.IsFinal)

	resp, err = tr.serve(blocksync.SyncRequest{StartHeight: 500, EndHeight: 510})
	require.NoError(t, err)
	assert.Empty(t, resp.Blocks)
	assert.Equal(t, uint64(300), resp.PeerHeight)
}

func TestIdentityFromSeedIsStable(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7
	a, err := IdentityFromSeed(seed)
	require.NoError(t, err)
	b, err := IdentityFromSeed(seed)
	require.NoError(t, err)
	assert.True(t, a.Equals(b))

	_, err = IdentityFromSeed([]byte("short"))
	assert.Error(t, err)
}

func TestRequestBlocksRejectsBadPeerID(t *testing.T) {
	client := newTestTransport(t, newSliceChain(0))
	_, err := client.RequestBlocks(context.Background(), "not-a-peer", blocksync.SyncRequest{StartHeight: 1, EndHeight: 1})
	assert.Error(t, err)
}

func TestSyncRequestsAreRateLimited(t *testing.T) {
	server, err := NewTransport(Config{
		ListenAddrs:    []string{"/ip4/127.0.0.1/tcp/0"},
		RequestTimeout: 5 * time.Second,
		ServeLimit:     ratelimit.Config{MaxRequests: 1, WindowSize: time.Minute},
	}, newSliceChain(10))
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	client := newTestTransport(t, newSliceChain(0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, server.Addrs()[0]))

	req := blocksync.SyncRequest{StartHeight: 1, EndHeight: 5, MaxBlocks: 5}
	resp, err := client.RequestBlocks(ctx, server.ID(), req)
	require.NoError(t, err)
	assert.Len(t, resp.Blocks, 5)

	_, err = client.RequestBlocks(ctx, server.ID(), req)
	require.Error(t, err)
	assert.False(t, errors.IsValidation(err), "a reset stream is not the peer's bad data")
}

func TestReadSyncResponseCodesBadPayloads(t *testing.T) {
	var buf bytes.Buffer
	chain := newSliceChain(3)
	require.NoError(t, jsonx.WriteMessage(&buf, blocksync.SyncResponse{Blocks: chain.blocks[1:], StartHeight: 1, PeerHeight: 3, IsFinal: true}))
	resp, err := readSyncResponse(&buf)
	require.NoError(t, err)
	assert.Len(t, resp.Blocks, 3)

	_, err = readSyncResponse(strings.NewReader(`{"blocks":[{"header":`))
	require.Error(t, err)
	assert.Equal(t, errors.CodeMalformedBlock, errors.CodeOf(err))
	assert.True(t, errors.IsValidation(err))

	_, err = readSyncResponse(strings.NewReader(""))
	assert.Equal(t, errors.CodeMalformedBlock, errors.CodeOf(err))

	_, err = readSyncResponse(bytes.NewReader(make([]byte, MaxResponseBytes+1)))
	assert.Equal(t, errors.CodeMalformedBlock, errors.CodeOf(err))
}
