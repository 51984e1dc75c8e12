package events

import (
	"strconv"
	"time"

	"github.com/triunity/node/types"
)

// EventType is an enum-like string type for node events
type EventType string

const (
	EventBlockApplied    EventType = "BlockApplied"
	EventSyncModeChanged EventType = "SyncModeChanged"
	EventPathSelected    EventType = "PathSelected"
	EventPeerPenalized   EventType = "PeerPenalized"
)

// NodeEvent represents anything subscribers can observe about the node
type NodeEvent interface {
	Type() EventType
	Timestamp() time.Time
	// Subject identifies what the event is about: a height, a peer or a path.
	Subject() string
}

// BlockApplied is published once per height when a block joins the local chain
type BlockApplied struct {
	Height    uint64
	Hash      types.Hash
	TxCount   int
	timestamp time.Time
}

func NewBlockApplied(height uint64, hash types.Hash, txCount int, at time.Time) *BlockApplied {
	return &BlockApplied{Height: height, Hash: hash, TxCount: txCount, timestamp: at}
}

func (e *BlockApplied) Type() EventType      { return EventBlockApplied }
func (e *BlockApplied) Timestamp() time.Time { return e.timestamp }
func (e *BlockApplied) Subject() string      { return strconv.FormatUint(e.Height, 10) }

// SyncModeChanged is published when the sync manager switches strategy
type SyncModeChanged struct {
	From         string
	To           string
	TargetHeight uint64
	timestamp    time.Time
}

func NewSyncModeChanged(from, to string, target uint64, at time.Time) *SyncModeChanged {
	return &SyncModeChanged{From: from, To: to, TargetHeight: target, timestamp: at}
}

func (e *SyncModeChanged) Type() EventType      { return EventSyncModeChanged }
func (e *SyncModeChanged) Timestamp() time.Time { return e.timestamp }
func (e *SyncModeChanged) Subject() string      { return e.To }

// PathSelected is published when the router's choice differs from the previous one
type PathSelected struct {
	Kind       string
	Detail     string
	Algorithm  string
	Confidence float64
	timestamp  time.Time
}

func NewPathSelected(kind, detail, algorithm string, confidence float64, at time.Time) *PathSelected {
	return &PathSelected{Kind: kind, Detail: detail, Algorithm: algorithm, Confidence: confidence, timestamp: at}
}

func (e *PathSelected) Type() EventType      { return EventPathSelected }
func (e *PathSelected) Timestamp() time.Time { return e.timestamp }
func (e *PathSelected) Subject() string      { return e.Kind }

// PeerPenalized is published when a peer delivered data that failed validation
type PeerPenalized struct {
	PeerID      string
	Reliability float64
	Reason      string
	timestamp   time.Time
}

func NewPeerPenalized(peerID string, reliability float64, reason string, at time.Time) *PeerPenalized {
	return &PeerPenalized{PeerID: peerID, Reliability: reliability, Reason: reason, timestamp: at}
}

func (e *PeerPenalized) Type() EventType      { return EventPeerPenalized }
func (e *PeerPenalized) Timestamp() time.Time { return e.timestamp }
func (e *PeerPenalized) Subject() string      { return e.PeerID }
