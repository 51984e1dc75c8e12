package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triunity/node/utils"
)

func newTestRouter() *Router {
	return NewRouter(DefaultConfig(), utils.NewManualClock(time.Unix(1_700_000_000, 0)))
}

func withMetrics(mutate func(m *NetworkMetrics)) NetworkMetrics {
	m := DefaultNetworkMetrics()
	mutate(&m)
	return m
}

func TestDefaultMetricsSelectHybrid(t *testing.T) {
	r := newTestRouter()

	path := r.SelectOptimalPath()
	hybrid, ok := path.(HybridPath)
	require.True(t, ok, "got %s", path)
	assert.InDelta(t, 0.65, hybrid.FastPercentage, 1e-9)
	assert.InDelta(t, 0.35, hybrid.SecurePercentage, 1e-9)
	assert.InDelta(t, r.AIConfidence(), hybrid.AdaptiveThreshold, 1e-9)
}

func TestHeavyAttackSelectsEmergency(t *testing.T) {
	r := newTestRouter()
	r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) { m.AttackProbability = 0.9 }))

	path := r.SelectOptimalPath()
	em, ok := path.(EmergencyMode)
	require.True(t, ok, "got %s", path)
	assert.Equal(t, 75, em.FallbackValidators)
	assert.True(t, em.SecurityOverride)
}

func TestExtremeCongestionSelectsEmergency(t *testing.T) {
	r := newTestRouter()
	r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) {
		m.CongestionLevel = 0.96
		m.ValidatorCount = 8
	}))

	em, ok := r.SelectOptimalPath().(EmergencyMode)
	require.True(t, ok)
	assert.Equal(t, 10, em.FallbackValidators)
}

func TestModerateAttackSelectsSecureLane(t *testing.T) {
	r := newTestRouter()
	r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) {
		m.AttackProbability = 0.5
		m.CongestionLevel = 0.8
		m.CPUUsage = 0.9
		m.MemoryUsage = 0.9
	}))
	assert.Less(t, r.AIConfidence(), 0.6)

	secure, ok := r.SelectOptimalPath().(SecureLane)
	require.True(t, ok)
	assert.Equal(t, 66, secure.ValidatorThreshold)
	assert.Equal(t, 0.95, secure.SecurityLevel)
	assert.Equal(t, 0.9, secure.DecentralizationScore)
}

func TestLowConfidenceSelectsSecureLane(t *testing.T) {
	r := newTestRouter()
	// default resources put confidence at 0.55 for this load
	r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) {
		m.CongestionLevel = 0.8
		m.AttackProbability = 0.1
	}))
	assert.InDelta(t, 0.55, r.AIConfidence(), 1e-9)
	assert.IsType(t, SecureLane{}, r.SelectOptimalPath())
}

func TestCongestionSelectsFastLane(t *testing.T) {
	r := newTestRouter()
	r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) {
		m.CongestionLevel = 0.8
		m.AttackProbability = 0.1
		m.CPUUsage = 0.2
		m.MemoryUsage = 0.3
	}))
	assert.GreaterOrEqual(t, r.AIConfidence(), 0.6)

	fast, ok := r.SelectOptimalPath().(FastLane)
	require.True(t, ok)
	assert.Equal(t, 100000.0, fast.ExpectedTPS)
	assert.Equal(t, uint64(100), fast.FinalityTimeMs)
	assert.Equal(t, 25, fast.ValidatorCount)
}

func TestFastLaneMinimumCommittee(t *testing.T) {
	r := newTestRouter()
	r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) {
		m.CongestionLevel = 0.8
		m.AttackProbability = 0.05
		m.CPUUsage = 0.1
		m.MemoryUsage = 0.1
		m.ValidatorCount = 40
	}))
	fast, ok := r.SelectOptimalPath().(FastLane)
	require.True(t, ok)
	assert.Equal(t, 21, fast.ValidatorCount)
}

func TestWeightAdaptationAndCaps(t *testing.T) {
	r := newTestRouter()
	hostile := withMetrics(func(m *NetworkMetrics) {
		m.AttackProbability = 0.9
		m.CongestionLevel = 0.9
	})

	r.UpdateMetrics(hostile)
	w := r.Weights()
	assert.InDelta(t, 0.4, w[WeightSecurity], 1e-9)
	assert.InDelta(t, 0.5, w[WeightPerformance], 1e-9)

	for i := 0; i < 20; i++ {
		r.UpdateMetrics(hostile)
	}
	w = r.Weights()
	assert.InDelta(t, 0.8, w[WeightSecurity], 1e-9)
	assert.InDelta(t, 0.9, w[WeightPerformance], 1e-9)
	assert.InDelta(t, 0.3, w[WeightDecentralization], 1e-9)
}

func TestAdaptedWeightsLowerSecureThreshold(t *testing.T) {
	r := newTestRouter()
	calmAttack := withMetrics(func(m *NetworkMetrics) { m.AttackProbability = 0.3 })

	r.UpdateMetrics(calmAttack)
	assert.IsType(t, HybridPath{}, r.SelectOptimalPath())

	for i := 0; i < 3; i++ {
		r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) { m.AttackProbability = 0.9 }))
	}
	secureAttack, _ := r.Thresholds()
	assert.InDelta(t, 0.25, secureAttack, 1e-9)

	r.UpdateMetrics(calmAttack)
	assert.IsType(t, SecureLane{}, r.SelectOptimalPath())
}

func TestWeightsRelaxWhenCalm(t *testing.T) {
	r := newTestRouter()
	r.UpdateMetrics(withMetrics(func(m *NetworkMetrics) { m.AttackProbability = 0.9 }))
	require.InDelta(t, 0.4, r.Weights()[WeightSecurity], 1e-9)

	for i := 0; i < 100; i++ {
		r.UpdateMetrics(DefaultNetworkMetrics())
	}
	assert.InDelta(t, 0.3, r.Weights()[WeightSecurity], 1e-9)
	secureAttack, fastCongestion := r.Thresholds()
	assert.InDelta(t, 0.4, secureAttack, 1e-9)
	assert.InDelta(t, 0.7, fastCongestion, 1e-9)
}

func TestUpdateMetricsClampsRatios(t *testing.T) {
	r := newTestRouter()
	r.UpdateMetrics(NetworkMetrics{AttackProbability: 7, CongestionLevel: -1, CPUUsage: 2, MemoryUsage: 0.5, ValidatorCount: -3})

	m := r.NetworkStatus()
	assert.Equal(t, 1.0, m.AttackProbability)
	assert.Equal(t, 0.0, m.CongestionLevel)
	assert.Equal(t, 1.0, m.CPUUsage)
	assert.Equal(t, 0, m.ValidatorCount)
	assert.IsType(t, EmergencyMode{}, r.SelectOptimalPath())
}

func TestPredictPerformance(t *testing.T) {
	r := newTestRouter()

	fast := r.PredictPerformance(FastLane{ExpectedTPS: 100000, FinalityTimeMs: 100, ValidatorCount: 25})
	assert.Equal(t, 100000.0, fast.ExpectedThroughput)
	assert.Equal(t, 100.0, fast.ExpectedLatencyMs)
	assert.InDelta(t, 0.9, fast.SecurityScore, 1e-9)
	assert.InDelta(t, 0.25, fast.DecentralizationScore, 1e-9)
	assert.InDelta(t, r.AIConfidence(), fast.Confidence, 1e-9)
	assert.Equal(t, 0.9, fast.EnergyEfficiency)

	secure := r.PredictPerformance(SecureLane{ValidatorThreshold: 66, SecurityLevel: 0.95, DecentralizationScore: 0.9})
	assert.Equal(t, PerformancePrediction{
		ExpectedThroughput:    5000,
		ExpectedLatencyMs:     2000,
		SecurityScore:         0.95,
		DecentralizationScore: 0.9,
		Confidence:            0.95,
		EnergyEfficiency:      0.6,
	}, secure)

	emergency := r.PredictPerformance(EmergencyMode{FallbackValidators: 75, SecurityOverride: true})
	assert.Equal(t, 1000.0, emergency.ExpectedThroughput)
	assert.Equal(t, 5000.0, emergency.ExpectedLatencyMs)
	assert.InDelta(t, 0.75, emergency.DecentralizationScore, 1e-9)

	hybrid := r.PredictPerformance(HybridPath{FastPercentage: 0.5, SecurePercentage: 0.5, AdaptiveThreshold: 0.7})
	assert.InDelta(t, 52500, hybrid.ExpectedThroughput, 1e-6)
	assert.InDelta(t, 1050, hybrid.ExpectedLatencyMs, 1e-6)
	assert.InDelta(t, 0.7, hybrid.Confidence, 1e-9)
	assert.InDelta(t, 0.75, hybrid.EnergyEfficiency, 1e-9)
	assert.InDelta(t, 0.825, hybrid.SecurityScore, 1e-9)
	assert.InDelta(t, 0.75, hybrid.DecentralizationScore, 1e-9)

	assert.Equal(t, fast, r.PredictPerformance(FastLane{ExpectedTPS: 100000, FinalityTimeMs: 100, ValidatorCount: 25}))
}

func TestHybridPredictionIgnoresValidatorCount(t *testing.T) {
	path := HybridPath{FastPercentage: 0.5, SecurePercentage: 0.5, AdaptiveThreshold: 0.7}

	small := newTestRouter()
	m := small.NetworkStatus()
	m.ValidatorCount = 4
	small.UpdateMetrics(m)

	large := newTestRouter()
	m = large.NetworkStatus()
	m.ValidatorCount = 1000
	large.UpdateMetrics(m)

	a, b := small.PredictPerformance(path), large.PredictPerformance(path)
	assert.Equal(t, a, b)
	assert.InDelta(t, 0.825, a.SecurityScore, 1e-9)
	assert.InDelta(t, 0.75, a.DecentralizationScore, 1e-9)
}

func TestRecordPerformanceTunesLearningRate(t *testing.T) {
	r := newTestRouter()
	path := SecureLane{ValidatorThreshold: 66, SecurityLevel: 0.95, DecentralizationScore: 0.9}

	exact := r.PredictPerformance(path)
	snap := r.RecordPerformance(path, exact)
	assert.InDelta(t, 1.0, snap.Accuracy, 1e-9)
	assert.InDelta(t, 0.0095, r.LearningRate(), 1e-12)

	r2 := newTestRouter()
	poor := r2.RecordPerformance(path, PerformancePrediction{})
	assert.InDelta(t, 0.0, poor.Accuracy, 1e-9)
	assert.InDelta(t, 0.011, r2.LearningRate(), 1e-12)
	assert.Equal(t, KindSecureLane, poor.Path)
}

func TestRecordPerformanceHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 5
	r := NewRouter(cfg, nil)
	path := HybridPath{FastPercentage: 0.6, SecurePercentage: 0.4, AdaptiveThreshold: 0.7}

	for i := 0; i < 12; i++ {
		r.RecordPerformance(path, PerformancePrediction{ExpectedThroughput: float64(i)})
	}
	h := r.History()
	require.Len(t, h, 5)
	assert.Equal(t, 11.0, h[4].Actual.ExpectedThroughput)
	assert.Equal(t, 7.0, h[0].Actual.ExpectedThroughput)
}

func TestMetricsHelpers(t *testing.T) {
	m := DefaultNetworkMetrics()
	assert.False(t, m.IsStressed())
	assert.False(t, m.NeedsPerformance())
	assert.False(t, m.NeedsSecurity())

	m.CongestionLevel = 0.85
	assert.True(t, m.IsStressed())
	assert.True(t, m.NeedsPerformance())

	m = DefaultNetworkMetrics()
	m.ValidatorCount = 30
	assert.True(t, m.NeedsSecurity())
}
