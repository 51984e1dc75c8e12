package consensus

import "fmt"

// Config holds the router thresholds. Attack and congestion thresholds for the
// secure and fast rules are baselines; the AI weights shift them at runtime.
type Config struct {
	EmergencyAttack      float64 `ini:"emergency_attack"`
	EmergencyCongestion  float64 `ini:"emergency_congestion"`
	SecureAttack         float64 `ini:"secure_attack"`
	SecureMinConfidence  float64 `ini:"secure_min_confidence"`
	FastCongestion       float64 `ini:"fast_congestion"`
	FastMaxAttack        float64 `ini:"fast_max_attack"`
	WeightSensitivity    float64 `ini:"weight_sensitivity"`
	StressAttack         float64 `ini:"stress_attack"`
	StressCongestion     float64 `ini:"stress_congestion"`
	WeightStep           float64 `ini:"weight_step"`
	SecurityWeightCap    float64 `ini:"security_weight_cap"`
	PerformanceWeightCap float64 `ini:"performance_weight_cap"`
	LearningRate         float64 `ini:"learning_rate"`
	HistorySize          int     `ini:"history_size"`
}

func DefaultConfig() Config {
	return Config{
		EmergencyAttack:      0.8,
		EmergencyCongestion:  0.95,
		SecureAttack:         0.4,
		SecureMinConfidence:  0.6,
		FastCongestion:       0.7,
		FastMaxAttack:        0.2,
		WeightSensitivity:    0.5,
		StressAttack:         0.5,
		StressCongestion:     0.7,
		WeightStep:           0.1,
		SecurityWeightCap:    0.8,
		PerformanceWeightCap: 0.9,
		LearningRate:         0.01,
		HistorySize:          1000,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.EmergencyAttack, d.EmergencyAttack)
	fill(&c.EmergencyCongestion, d.EmergencyCongestion)
	fill(&c.SecureAttack, d.SecureAttack)
	fill(&c.SecureMinConfidence, d.SecureMinConfidence)
	fill(&c.FastCongestion, d.FastCongestion)
	fill(&c.FastMaxAttack, d.FastMaxAttack)
	fill(&c.WeightSensitivity, d.WeightSensitivity)
	fill(&c.StressAttack, d.StressAttack)
	fill(&c.StressCongestion, d.StressCongestion)
	fill(&c.WeightStep, d.WeightStep)
	fill(&c.SecurityWeightCap, d.SecurityWeightCap)
	fill(&c.PerformanceWeightCap, d.PerformanceWeightCap)
	fill(&c.LearningRate, d.LearningRate)
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}

// Validate checks that the thresholds keep the rules in priority order.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"emergency_attack":      c.EmergencyAttack,
		"emergency_congestion":  c.EmergencyCongestion,
		"secure_attack":         c.SecureAttack,
		"secure_min_confidence": c.SecureMinConfidence,
		"fast_congestion":       c.FastCongestion,
		"fast_max_attack":       c.FastMaxAttack,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %.2f must be within [0, 1]", name, v)
		}
	}
	if c.SecureAttack >= c.EmergencyAttack {
		return fmt.Errorf("secure_attack %.2f must be below emergency_attack %.2f", c.SecureAttack, c.EmergencyAttack)
	}
	if c.FastCongestion >= c.EmergencyCongestion {
		return fmt.Errorf("fast_congestion %.2f must be below emergency_congestion %.2f", c.FastCongestion, c.EmergencyCongestion)
	}
	if c.FastMaxAttack > c.SecureAttack {
		return fmt.Errorf("fast_max_attack %.2f exceeds secure_attack %.2f", c.FastMaxAttack, c.SecureAttack)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning_rate %.3f must be in (0, 1]", c.LearningRate)
	}
	return nil
}
