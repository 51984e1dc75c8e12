package monitoring

import (
	"math"
	"sync"
	"time"

	"github.com/triunity/node/consensus"
	"github.com/triunity/node/utils"
	"gonum.org/v1/gonum/stat"
)

type SecurityEventType string

const (
	SuspiciousActivity   SecurityEventType = "suspicious_activity"
	InvalidSignature     SecurityEventType = "invalid_signature"
	DoubleSpend          SecurityEventType = "double_spend"
	NetworkAttack        SecurityEventType = "network_attack"
	ValidatorMisbehavior SecurityEventType = "validator_misbehavior"
	UnusualTraffic       SecurityEventType = "unusual_traffic"
)

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) weight() float64 {
	switch s {
	case SeverityLow:
		return 0.1
	case SeverityMedium:
		return 0.3
	case SeverityHigh:
		return 0.6
	default:
		return 1.0
	}
}

type TPSReading struct {
	Timestamp   time.Time
	TPS         uint64
	BlockHeight uint64
}

type LatencyReading struct {
	Timestamp time.Time
	LatencyMs uint64
	NodeCount int
}

type SecurityEvent struct {
	Timestamp   time.Time
	Type        SecurityEventType
	Severity    Severity
	Description string
}

type PerformanceStats struct {
	AvgTPS            float64
	PeakTPS           uint64
	AvgLatencyMs      float64
	MinLatencyMs      uint64
	MaxLatencyMs      uint64
	SecurityScore     float64
	TotalTransactions uint64
}

// ResourceSampler reports host CPU and memory usage as ratios in [0, 1].
type ResourceSampler interface {
	Sample() (cpu, memory float64, err error)
}

const securityWindow = time.Hour

// Collector keeps bounded histories of throughput, latency and security events
// and condenses them into the NetworkMetrics the router consumes.
type Collector struct {
	mu          sync.RWMutex
	clock       utils.Clock
	maxHistory  int
	capacityTPS float64
	sampler     ResourceSampler
	tps         []TPSReading
	latency     []LatencyReading
	security    []SecurityEvent
}

// NewCollector keeps at most maxHistory entries per series. capacityTPS is the
// throughput treated as full congestion.
func NewCollector(maxHistory int, capacityTPS float64, sampler ResourceSampler, clock utils.Clock) *Collector {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	if capacityTPS <= 0 {
		capacityTPS = 100000
	}
	return &Collector{
		clock:       utils.OrSystem(clock),
		maxHistory:  maxHistory,
		capacityTPS: capacityTPS,
		sampler:     sampler,
	}
}

func trim[T any](s []T, limit int) []T {
	if over := len(s) - limit; over > 0 {
		return append(s[:0:0], s[over:]...)
	}
	return s
}

func (c *Collector) RecordTPS(tps, blockHeight uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tps = trim(append(c.tps, TPSReading{Timestamp: c.clock.Now(), TPS: tps, BlockHeight: blockHeight}), c.maxHistory)
}

func (c *Collector) RecordLatency(latencyMs uint64, nodeCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = trim(append(c.latency, LatencyReading{Timestamp: c.clock.Now(), LatencyMs: latencyMs, NodeCount: nodeCount}), c.maxHistory)
}

func (c *Collector) RecordSecurityEvent(kind SecurityEventType, severity Severity, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.security = trim(append(c.security, SecurityEvent{
		Timestamp:   c.clock.Now(),
		Type:        kind,
		Severity:    severity,
		Description: description,
	}), c.maxHistory)
}

func (c *Collector) Stats() PerformanceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := PerformanceStats{SecurityScore: c.securityScoreLocked()}
	if len(c.tps) > 0 {
		values := make([]float64, len(c.tps))
		for i, r := range c.tps {
			values[i] = float64(r.TPS)
			stats.TotalTransactions += r.TPS
			if r.TPS > stats.PeakTPS {
				stats.PeakTPS = r.TPS
			}
		}
		stats.AvgTPS = stat.Mean(values, nil)
	}
	if len(c.latency) > 0 {
		values := make([]float64, len(c.latency))
		stats.MinLatencyMs = math.MaxUint64
		for i, r := range c.latency {
			values[i] = float64(r.LatencyMs)
			stats.MinLatencyMs = min(stats.MinLatencyMs, r.LatencyMs)
			stats.MaxLatencyMs = max(stats.MaxLatencyMs, r.LatencyMs)
		}
		stats.AvgLatencyMs = stat.Mean(values, nil)
	}
	return stats
}

// securityScoreLocked is one minus the mean severity of events in the last hour.
func (c *Collector) securityScoreLocked() float64 {
	cutoff := c.clock.Now().Add(-securityWindow)
	weights := make([]float64, 0, len(c.security))
	for _, ev := range c.security {
		if ev.Timestamp.After(cutoff) {
			weights = append(weights, ev.Severity.weight())
		}
	}
	if len(weights) == 0 {
		return 1.0
	}
	return math.Max(0, 1-stat.Mean(weights, nil))
}

// TPSTrend is the relative change across the most recent quarter of readings.
func (c *Collector) TPSTrend() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.tps) < 2 {
		return 0, false
	}
	recent := max(len(c.tps)/4, 2)
	first := float64(c.tps[len(c.tps)-recent].TPS)
	last := float64(c.tps[len(c.tps)-1].TPS)
	if first == 0 {
		return 0, false
	}
	return (last - first) / first, true
}

func (c *Collector) RecentSecurityEvents(window time.Duration) []SecurityEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.clock.Now().Add(-window)
	var out []SecurityEvent
	for _, ev := range c.security {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// NetworkMetrics condenses the latest readings into a router snapshot.
func (c *Collector) NetworkMetrics(validatorCount int) consensus.NetworkMetrics {
	m := consensus.DefaultNetworkMetrics()
	m.ValidatorCount = validatorCount

	c.mu.RLock()
	if n := len(c.tps); n > 0 {
		m.CurrentTPS = float64(c.tps[n-1].TPS)
		m.CongestionLevel = math.Min(m.CurrentTPS/c.capacityTPS, 1)
	}
	if n := len(c.latency); n > 0 {
		m.AverageLatencyMs = float64(c.latency[n-1].LatencyMs)
	}
	m.AttackProbability = 1 - c.securityScoreLocked()
	sampler := c.sampler
	c.mu.RUnlock()

	if sampler != nil {
		if cpu, memory, err := sampler.Sample(); err == nil {
			m.CPUUsage = cpu
			m.MemoryUsage = memory
		}
	}
	return m.Normalized()
}
