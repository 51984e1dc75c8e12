package blocksync

import (
	"fmt"
	"time"
)

type Config struct {
	LagTolerance           uint64        `ini:"lag_tolerance"`
	FullSyncGap            uint64        `ini:"full_sync_gap"`
	FastSyncGap            uint64        `ini:"fast_sync_gap"`
	CheckpointDistance     uint64        `ini:"checkpoint_distance"`
	FastSyncWindow         uint64        `ini:"fast_sync_window"`
	FullSyncWindow         uint64        `ini:"full_sync_window"`
	BlockSyncWindow        uint64        `ini:"block_sync_window"`
	MinPeerReliability     float64       `ini:"min_peer_reliability"`
	PenaltyFactor          float64       `ini:"penalty_factor"`
	ReliabilityFloor       float64       `ini:"reliability_floor"`
	DefaultPeerSpeed       float64       `ini:"default_peer_speed"`
	DefaultPeerReliability float64       `ini:"default_peer_reliability"`
	SpeedSmoothing         float64       `ini:"speed_smoothing"`
	MaxPendingBlocks       int           `ini:"max_pending_blocks"`
	PendingTimeout         time.Duration `ini:"pending_timeout"`
	ApplyRetryInterval     time.Duration `ini:"apply_retry_interval"`
	ApplyMaxRetries        uint64        `ini:"apply_max_retries"`
}

func DefaultConfig() Config {
	return Config{
		LagTolerance:           10,
		FullSyncGap:            100,
		FastSyncGap:            1000,
		CheckpointDistance:     100,
		FastSyncWindow:         100,
		FullSyncWindow:         50,
		BlockSyncWindow:        20,
		MinPeerReliability:     0.5,
		PenaltyFactor:          0.5,
		ReliabilityFloor:       0.1,
		DefaultPeerSpeed:       10,
		DefaultPeerReliability: 0.8,
		SpeedSmoothing:         0.3,
		MaxPendingBlocks:       1024,
		PendingTimeout:         30 * time.Second,
		ApplyRetryInterval:     10 * time.Millisecond,
		ApplyMaxRetries:        3,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LagTolerance == 0 {
		c.LagTolerance = d.LagTolerance
	}
	if c.FullSyncGap == 0 {
		c.FullSyncGap = d.FullSyncGap
	}
	if c.FastSyncGap == 0 {
		c.FastSyncGap = d.FastSyncGap
	}
	if c.CheckpointDistance == 0 {
		c.CheckpointDistance = d.CheckpointDistance
	}
	if c.FastSyncWindow == 0 {
		c.FastSyncWindow = d.FastSyncWindow
	}
	if c.FullSyncWindow == 0 {
		c.FullSyncWindow = d.FullSyncWindow
	}
	if c.BlockSyncWindow == 0 {
		c.BlockSyncWindow = d.BlockSyncWindow
	}
	if c.MinPeerReliability == 0 {
		c.MinPeerReliability = d.MinPeerReliability
	}
	if c.PenaltyFactor == 0 {
		c.PenaltyFactor = d.PenaltyFactor
	}
	if c.ReliabilityFloor == 0 {
		c.ReliabilityFloor = d.ReliabilityFloor
	}
	if c.DefaultPeerSpeed == 0 {
		c.DefaultPeerSpeed = d.DefaultPeerSpeed
	}
	if c.DefaultPeerReliability == 0 {
		c.DefaultPeerReliability = d.DefaultPeerReliability
	}
	if c.SpeedSmoothing == 0 {
		c.SpeedSmoothing = d.SpeedSmoothing
	}
	if c.MaxPendingBlocks <= 0 {
		c.MaxPendingBlocks = d.MaxPendingBlocks
	}
	if c.PendingTimeout == 0 {
		c.PendingTimeout = d.PendingTimeout
	}
	if c.ApplyRetryInterval == 0 {
		c.ApplyRetryInterval = d.ApplyRetryInterval
	}
	if c.ApplyMaxRetries == 0 {
		c.ApplyMaxRetries = d.ApplyMaxRetries
	}
	return c
}

// Validate reports settings the manager cannot work with.
func (c Config) Validate() error {
	switch {
	case c.FullSyncGap >= c.FastSyncGap:
		return fmt.Errorf("full_sync_gap %d must be below fast_sync_gap %d", c.FullSyncGap, c.FastSyncGap)
	case c.LagTolerance > c.FullSyncGap:
		return fmt.Errorf("lag_tolerance %d exceeds full_sync_gap %d", c.LagTolerance, c.FullSyncGap)
	case c.CheckpointDistance >= c.FastSyncGap:
		return fmt.Errorf("checkpoint_distance %d must be below fast_sync_gap %d", c.CheckpointDistance, c.FastSyncGap)
	case c.PenaltyFactor <= 0 || c.PenaltyFactor >= 1:
		return fmt.Errorf("penalty_factor %.2f must be in (0, 1)", c.PenaltyFactor)
	case c.ReliabilityFloor >= c.MinPeerReliability:
		return fmt.Errorf("reliability_floor %.2f must be below min_peer_reliability %.2f", c.ReliabilityFloor, c.MinPeerReliability)
	case c.MinPeerReliability >= 1:
		return fmt.Errorf("min_peer_reliability %.2f must be below 1", c.MinPeerReliability)
	case c.SpeedSmoothing > 1:
		return fmt.Errorf("speed_smoothing %.2f must not exceed 1", c.SpeedSmoothing)
	}
	return nil
}
