package store

// Declare database key prefix for objects
const (
	PrefixAccount = "account:"

	PrefixBlock         = "blk:"
	PrefixBlockMeta     = "blk_meta:"
	BlockMetaKeyLatest  = "latest_height"
	PrefixStateMeta     = "state_meta:"
	StateMetaKeyApplied = "applied_height"
)

func heightKey(prefix string, height uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	putUint64(key[len(prefix):], height)
	return key
}
