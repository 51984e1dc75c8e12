package consensus

import "math"

const (
	WeightSecurity           = "security"
	WeightPerformance        = "performance"
	WeightDecentralization   = "decentralization"
	WeightEnergy             = "energy"
	WeightLatencySensitivity = "latency_sensitivity"
	WeightAttackResponse     = "attack_response"
)

const (
	minLearningRate = 0.001
	maxLearningRate = 0.1
	lowAccuracy     = 0.7
)

func baselineWeights() map[string]float64 {
	return map[string]float64{
		WeightSecurity:           0.3,
		WeightPerformance:        0.4,
		WeightDecentralization:   0.3,
		WeightEnergy:             0.1,
		WeightLatencySensitivity: 0.5,
		WeightAttackResponse:     0.8,
	}
}

// AIModel scores confidence in current conditions and keeps the adaptive weights
// that shift the router's secure and fast thresholds. Not safe for concurrent use;
// the Router serializes access.
type AIModel struct {
	weights      map[string]float64
	baseline     map[string]float64
	learningRate float64
}

func NewAIModel(learningRate float64) *AIModel {
	return &AIModel{
		weights:      baselineWeights(),
		baseline:     baselineWeights(),
		learningRate: learningRate,
	}
}

// Confidence is the mean of network headroom, safety and resource headroom.
func (m *AIModel) Confidence(metrics NetworkMetrics) float64 {
	network := 1.0 - metrics.CongestionLevel
	security := 1.0 - metrics.AttackProbability
	resources := (2.0 - metrics.CPUUsage - metrics.MemoryUsage) / 2.0
	return (network + security + resources) / 3.0
}

// Adapt steps the security and performance weights up under stress and relaxes
// them toward baseline by the learning rate otherwise.
func (m *AIModel) Adapt(metrics NetworkMetrics, cfg Config) {
	if metrics.AttackProbability > cfg.StressAttack {
		m.weights[WeightSecurity] = math.Min(m.weights[WeightSecurity]+cfg.WeightStep, cfg.SecurityWeightCap)
	} else {
		m.relax(WeightSecurity)
	}
	if metrics.CongestionLevel > cfg.StressCongestion {
		m.weights[WeightPerformance] = math.Min(m.weights[WeightPerformance]+cfg.WeightStep, cfg.PerformanceWeightCap)
	} else {
		m.relax(WeightPerformance)
	}
}

func (m *AIModel) relax(name string) {
	base := m.baseline[name]
	if w := m.weights[name]; w > base {
		m.weights[name] = math.Max(base, w-m.learningRate)
	}
}

// Shift is how far a weight has moved above its baseline.
func (m *AIModel) Shift(name string) float64 {
	return m.weights[name] - m.baseline[name]
}

func (m *AIModel) Weight(name string) float64 {
	return m.weights[name]
}

func (m *AIModel) Weights() map[string]float64 {
	out := make(map[string]float64, len(m.weights))
	for k, v := range m.weights {
		out[k] = v
	}
	return out
}

func (m *AIModel) LearningRate() float64 {
	return m.learningRate
}

// Learn speeds adaptation up when predictions have been poor and slows it down otherwise.
func (m *AIModel) Learn(meanAccuracy float64) {
	if meanAccuracy < lowAccuracy {
		m.learningRate = math.Min(m.learningRate*1.1, maxLearningRate)
	} else {
		m.learningRate = math.Max(m.learningRate*0.95, minLearningRate)
	}
}
