package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/triunity/node/types"
)

const (
	StatusProtocol protocol.ID = "/triunity/status/1.0.0"
	SyncProtocol   protocol.ID = "/triunity/sync/1.0.0"

	MaxRequestBytes  = 4 << 10
	MaxResponseBytes = 16 << 20

	// MaxServeBlocks caps the blocks returned for one sync request.
	MaxServeBlocks = 100

	DefaultRequestTimeout = 10 * time.Second
	statusFanout          = 8
)

// StatusMessage answers a status stream with the serving node's chain head.
type StatusMessage struct {
	Height  uint64     `json:"height"`
	TipHash types.Hash `json:"tip_hash"`
}
