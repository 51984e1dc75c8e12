package store

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triunity/node/block"
	"github.com/triunity/node/db"
	"github.com/triunity/node/types"
	"github.com/triunity/node/utils"
)

func TestBlockStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	provider, err := db.NewProvider(db.BackendLevelDB, dir)
	require.NoError(t, err)

	bs, err := NewGenericBlockStore(provider, 2)
	require.NoError(t, err)

	clock := utils.NewManualClock(time.Unix(1_700_000_000, 0))
	genesis := block.Genesis(0, 1)
	b1 := block.Assemble(genesis.Hash(), nil, 1, nil, clock)
	b2 := block.Assemble(b1.Hash(), nil, 2, block.SecureLaneData{Validators: [][]byte{{1}, {2}}}, clock)

	for _, blk := range []*block.Block{genesis, b1, b2} {
		require.NoError(t, bs.StoreBlock(blk))
	}
	assert.Equal(t, uint64(2), bs.GetLatestHeight())
	assert.True(t, bs.HasBlock(0))
	assert.False(t, bs.HasBlock(3))

	got, err := bs.GetBlock(2)
	require.NoError(t, err)
	assert.Equal(t, b2.Hash(), got.Hash())

	missing, err := bs.GetBlock(9)
	require.NoError(t, err)
	assert.Nil(t, missing)

	blocks, err := bs.GetRange(0, 10, 2)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
	require.NoError(t, bs.Close())

	provider, err = db.NewProvider(db.BackendLevelDB, dir)
	require.NoError(t, err)
	reopened, err := NewGenericBlockStore(provider, 0)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.GetLatestHeight())
	fromDisk, err := reopened.GetBlock(2)
	require.NoError(t, err)
	assert.Equal(t, b2.Hash(), fromDisk.Hash())
	assert.Equal(t, block.KindSecureLane, fromDisk.Header.Consensus.Kind())
}

func TestBlockStoreRangeStopsAtGap(t *testing.T) {
	bs, err := NewGenericBlockStore(db.NewMemoryProvider(), 0)
	require.NoError(t, err)

	require.NoError(t, bs.StoreBlock(block.Genesis(1, 1)))
	require.NoError(t, bs.StoreBlock(block.Genesis(3, 1)))

	blocks, err := bs.GetRange(1, 3, 10)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
	assert.Equal(t, uint64(3), bs.GetLatestHeight())
}

func TestAccountStore(t *testing.T) {
	as, err := NewGenericAccountStore(db.NewMemoryProvider())
	require.NoError(t, err)

	missing, err := as.GetByAddr("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	alice := types.NewAccount("alice", uint256.NewInt(1000))
	bob := &types.Account{Address: "bob", Balance: uint256.NewInt(5), Nonce: 3}
	require.NoError(t, as.StoreBatch([]*types.Account{alice}))
	require.NoError(t, as.CommitBlock([]*types.Account{bob}, 7))

	got, err := as.GetByAddr("bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Nonce)
	assert.Equal(t, uint64(5), got.Balance.Uint64())

	batch, err := as.GetBatch([]string{"alice", "carol"})
	require.NoError(t, err)
	require.Contains(t, batch, "carol")
	assert.Nil(t, batch["carol"])
	assert.Equal(t, uint64(1000), batch["alice"].Balance.Uint64())

	h, err := as.AppliedHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h)

	var seen []string
	require.NoError(t, as.ForEach(func(acc *types.Account) bool {
		seen = append(seen, acc.Address)
		return true
	}))
	assert.Equal(t, []string{"alice", "bob"}, seen, "applied height metadata is not an account")
}
