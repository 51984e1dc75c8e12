package consensus

import "math"

// NetworkMetrics is a point-in-time view of network conditions. Ratios are in [0, 1].
type NetworkMetrics struct {
	CurrentTPS        float64 `json:"current_tps"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	ValidatorCount    int     `json:"validator_count"`
	AttackProbability float64 `json:"attack_probability"`
	CongestionLevel   float64 `json:"congestion_level"`
	MemoryUsage       float64 `json:"memory_usage"`
	CPUUsage          float64 `json:"cpu_usage"`
}

func DefaultNetworkMetrics() NetworkMetrics {
	return NetworkMetrics{
		CurrentTPS:        1000,
		AverageLatencyMs:  100,
		ValidatorCount:    100,
		AttackProbability: 0.1,
		CongestionLevel:   0.3,
		MemoryUsage:       0.5,
		CPUUsage:          0.4,
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalized clamps ratios into [0, 1] and negative counts to zero.
func (m NetworkMetrics) Normalized() NetworkMetrics {
	m.AttackProbability = clampUnit(m.AttackProbability)
	m.CongestionLevel = clampUnit(m.CongestionLevel)
	m.MemoryUsage = clampUnit(m.MemoryUsage)
	m.CPUUsage = clampUnit(m.CPUUsage)
	if m.ValidatorCount < 0 {
		m.ValidatorCount = 0
	}
	if m.CurrentTPS < 0 || math.IsNaN(m.CurrentTPS) {
		m.CurrentTPS = 0
	}
	if m.AverageLatencyMs < 0 || math.IsNaN(m.AverageLatencyMs) {
		m.AverageLatencyMs = 0
	}
	return m
}

func (m NetworkMetrics) IsStressed() bool {
	return m.CongestionLevel > 0.8 || m.AttackProbability > 0.3 || m.CPUUsage > 0.9 || m.MemoryUsage > 0.9
}

func (m NetworkMetrics) NeedsPerformance() bool {
	return m.CurrentTPS > 50000 || m.CongestionLevel > 0.6
}

func (m NetworkMetrics) NeedsSecurity() bool {
	return m.AttackProbability > 0.2 || m.ValidatorCount < 50
}
