package consensus

import "fmt"

// Path is the consensus strategy chosen for the next block.
// Implemented by FastLane, SecureLane, HybridPath and EmergencyMode.
type Path interface {
	Kind() PathKind
	String() string
}

type PathKind string

const (
	KindFastLane   PathKind = "fast_lane"
	KindSecureLane PathKind = "secure_lane"
	KindHybrid     PathKind = "hybrid_path"
	KindEmergency  PathKind = "emergency_mode"
)

var AllKinds = []PathKind{KindFastLane, KindSecureLane, KindHybrid, KindEmergency}

type FastLane struct {
	ExpectedTPS    float64
	FinalityTimeMs uint64
	ValidatorCount int
}

type SecureLane struct {
	ValidatorThreshold    int
	SecurityLevel         float64
	DecentralizationScore float64
}

type HybridPath struct {
	FastPercentage    float64
	SecurePercentage  float64
	AdaptiveThreshold float64
}

type EmergencyMode struct {
	FallbackValidators int
	SecurityOverride   bool
}

func (FastLane) Kind() PathKind      { return KindFastLane }
func (SecureLane) Kind() PathKind    { return KindSecureLane }
func (HybridPath) Kind() PathKind    { return KindHybrid }
func (EmergencyMode) Kind() PathKind { return KindEmergency }

func (p FastLane) String() string {
	return fmt.Sprintf("FastLane(tps=%.0f finality=%dms validators=%d)", p.ExpectedTPS, p.FinalityTimeMs, p.ValidatorCount)
}

func (p SecureLane) String() string {
	return fmt.Sprintf("SecureLane(threshold=%d security=%.2f decentralization=%.2f)", p.ValidatorThreshold, p.SecurityLevel, p.DecentralizationScore)
}

func (p HybridPath) String() string {
	return fmt.Sprintf("HybridPath(fast=%.2f secure=%.2f threshold=%.2f)", p.FastPercentage, p.SecurePercentage, p.AdaptiveThreshold)
}

func (p EmergencyMode) String() string {
	return fmt.Sprintf("EmergencyMode(fallback=%d override=%t)", p.FallbackValidators, p.SecurityOverride)
}
