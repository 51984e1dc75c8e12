package consensus

import (
	"math"
	"sync"
	"time"

	"github.com/triunity/node/logx"
	"github.com/triunity/node/utils"
	"gonum.org/v1/gonum/stat"
)

const learnWindow = 10

// PerformancePrediction is the expected behaviour of a path under current metrics.
type PerformancePrediction struct {
	ExpectedThroughput    float64 `json:"expected_throughput"`
	ExpectedLatencyMs     float64 `json:"expected_latency_ms"`
	SecurityScore         float64 `json:"security_score"`
	DecentralizationScore float64 `json:"decentralization_score"`
	Confidence            float64 `json:"confidence"`
	EnergyEfficiency      float64 `json:"energy_efficiency"`
}

// PerformanceSnapshot pairs a prediction with what was observed.
type PerformanceSnapshot struct {
	Timestamp time.Time
	Metrics   NetworkMetrics
	Path      PathKind
	Predicted PerformancePrediction
	Actual    PerformancePrediction
	Accuracy  float64
}

// Router maps network conditions to a consensus path.
type Router struct {
	mu      sync.RWMutex
	cfg     Config
	clock   utils.Clock
	metrics NetworkMetrics
	model   *AIModel
	history []PerformanceSnapshot
}

func NewRouter(cfg Config, clock utils.Clock) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:     cfg,
		clock:   utils.OrSystem(clock),
		metrics: DefaultNetworkMetrics(),
		model:   NewAIModel(cfg.LearningRate),
	}
}

// UpdateMetrics replaces the snapshot and adapts the model weights.
func (r *Router) UpdateMetrics(m NetworkMetrics) {
	m = m.Normalized()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	r.model.Adapt(m, r.cfg)
	logx.Debug("ROUTER", "metrics updated: attack", m.AttackProbability, "congestion", m.CongestionLevel,
		"security weight", r.model.Weight(WeightSecurity), "performance weight", r.model.Weight(WeightPerformance))
}

func (r *Router) NetworkStatus() NetworkMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

func (r *Router) AIConfidence() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model.Confidence(r.metrics)
}

func (r *Router) Weights() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model.Weights()
}

func (r *Router) LearningRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model.LearningRate()
}

// secureAttackThreshold drops as the security weight rises above baseline.
func (r *Router) secureAttackThreshold() float64 {
	t := r.cfg.SecureAttack - r.cfg.WeightSensitivity*r.model.Shift(WeightSecurity)
	return math.Max(t, r.cfg.FastMaxAttack/2)
}

// fastCongestionThreshold drops as the performance weight rises above baseline.
func (r *Router) fastCongestionThreshold() float64 {
	t := r.cfg.FastCongestion - r.cfg.WeightSensitivity*r.model.Shift(WeightPerformance)
	return math.Max(t, 0.3)
}

// Thresholds returns the effective secure-lane attack and fast-lane congestion thresholds.
func (r *Router) Thresholds() (secureAttack, fastCongestion float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.secureAttackThreshold(), r.fastCongestionThreshold()
}

// SelectOptimalPath applies the rules in priority order; the first match wins.
func (r *Router) SelectOptimalPath() Path {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.metrics
	confidence := r.model.Confidence(m)
	vc := m.ValidatorCount

	switch {
	case m.AttackProbability > r.cfg.EmergencyAttack || m.CongestionLevel > r.cfg.EmergencyCongestion:
		return EmergencyMode{FallbackValidators: max(10, vc*3/4), SecurityOverride: true}
	case m.AttackProbability > r.secureAttackThreshold() || confidence < r.cfg.SecureMinConfidence:
		return SecureLane{ValidatorThreshold: vc * 2 / 3, SecurityLevel: 0.95, DecentralizationScore: 0.9}
	case m.CongestionLevel > r.fastCongestionThreshold() && m.AttackProbability < r.cfg.FastMaxAttack:
		return FastLane{ExpectedTPS: 100000, FinalityTimeMs: 100, ValidatorCount: max(21, vc/4)}
	default:
		return HybridPath{
			FastPercentage:    0.7 - m.AttackProbability*0.5,
			SecurePercentage:  0.3 + m.AttackProbability*0.5,
			AdaptiveThreshold: confidence,
		}
	}
}

// PredictPerformance is deterministic for a given metrics snapshot.
func (r *Router) PredictPerformance(p Path) PerformancePrediction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.predict(p)
}

func (r *Router) predict(p Path) PerformancePrediction {
	switch v := p.(type) {
	case FastLane:
		decentralization := 0.0
		if r.metrics.ValidatorCount > 0 {
			decentralization = math.Min(float64(v.ValidatorCount)/float64(r.metrics.ValidatorCount), 0.8)
		}
		return PerformancePrediction{
			ExpectedThroughput:    v.ExpectedTPS,
			ExpectedLatencyMs:     float64(v.FinalityTimeMs),
			SecurityScore:         0.7 + math.Min(float64(v.ValidatorCount)/100.0, 0.2),
			DecentralizationScore: decentralization,
			Confidence:            r.model.Confidence(r.metrics),
			EnergyEfficiency:      0.9,
		}
	case SecureLane:
		return PerformancePrediction{
			ExpectedThroughput:    5000,
			ExpectedLatencyMs:     2000,
			SecurityScore:         v.SecurityLevel,
			DecentralizationScore: v.DecentralizationScore,
			Confidence:            0.95,
			EnergyEfficiency:      0.6,
		}
	case HybridPath:
		f, sec := v.FastPercentage, v.SecurePercentage
		return PerformancePrediction{
			ExpectedThroughput:    math.Trunc(100000*f + 5000*sec),
			ExpectedLatencyMs:     math.Trunc(100*f + 2000*sec),
			SecurityScore:         0.7*f + 0.95*sec,
			DecentralizationScore: 0.6*f + 0.9*sec,
			Confidence:            v.AdaptiveThreshold,
			EnergyEfficiency:      0.9*f + 0.6*sec,
		}
	case EmergencyMode:
		decentralization := 0.95
		if r.metrics.ValidatorCount > 0 {
			decentralization = math.Min(float64(v.FallbackValidators)/float64(r.metrics.ValidatorCount), 0.95)
		}
		return PerformancePrediction{
			ExpectedThroughput:    1000,
			ExpectedLatencyMs:     5000,
			SecurityScore:         0.99,
			DecentralizationScore: decentralization,
			Confidence:            0.8,
			EnergyEfficiency:      0.4,
		}
	default:
		return PerformancePrediction{}
	}
}

// predictionAccuracy is one minus the mean relative error over throughput, latency and security.
func predictionAccuracy(predicted, actual PerformancePrediction) float64 {
	relErr := func(p, a float64) float64 {
		denom := math.Max(math.Abs(p), 1e-9)
		return math.Min(math.Abs(p-a)/denom, 1)
	}
	errs := []float64{
		relErr(predicted.ExpectedThroughput, actual.ExpectedThroughput),
		relErr(predicted.ExpectedLatencyMs, actual.ExpectedLatencyMs),
		relErr(predicted.SecurityScore, actual.SecurityScore),
	}
	return 1 - stat.Mean(errs, nil)
}

// RecordPerformance stores the observed outcome of path and retunes the learning rate
// from the accuracy of the most recent predictions.
func (r *Router) RecordPerformance(p Path, actual PerformancePrediction) PerformanceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	predicted := r.predict(p)
	snap := PerformanceSnapshot{
		Timestamp: r.clock.Now(),
		Metrics:   r.metrics,
		Path:      p.Kind(),
		Predicted: predicted,
		Actual:    actual,
		Accuracy:  predictionAccuracy(predicted, actual),
	}
	r.history = append(r.history, snap)
	if over := len(r.history) - r.cfg.HistorySize; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}

	start := max(0, len(r.history)-learnWindow)
	accuracies := make([]float64, 0, learnWindow)
	for _, s := range r.history[start:] {
		accuracies = append(accuracies, s.Accuracy)
	}
	r.model.Learn(stat.Mean(accuracies, nil))
	return snap
}

func (r *Router) History() []PerformanceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PerformanceSnapshot, len(r.history))
	copy(out, r.history)
	return out
}
