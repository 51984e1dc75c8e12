package consensus

import (
	"math"
	"time"

	"github.com/triunity/node/block"
)

// Algorithm is the concrete agreement protocol run for a path.
type Algorithm interface {
	Name() string
	FinalityTimeMs() uint64
	MaxThroughput() float64
	SecurityLevel() float64
	DecentralizationScore() float64
}

// DelegatedProofOfStake backs the fast lane with a small rotating committee.
type DelegatedProofOfStake struct {
	ValidatorCount   int
	RotationInterval time.Duration
}

// ByzantineFaultTolerance backs the secure lane.
type ByzantineFaultTolerance struct {
	RequiredConfirmations int
	TimeoutMs             uint64
}

// ProofOfAuthority backs emergency mode.
type ProofOfAuthority struct {
	Authorities [][]byte
}

// HybridStakeWork backs the hybrid path.
type HybridStakeWork struct {
	StakeWeight float64
	WorkWeight  float64
}

const maxFastCommittee = 21

func FastConsensus(validatorCount int) DelegatedProofOfStake {
	return DelegatedProofOfStake{ValidatorCount: min(validatorCount, maxFastCommittee), RotationInterval: 30 * time.Second}
}

func SecureConsensus(totalValidators int) ByzantineFaultTolerance {
	return ByzantineFaultTolerance{RequiredConfirmations: totalValidators*2/3 + 1, TimeoutMs: 10_000}
}

func EmergencyConsensus(authorities [][]byte) ProofOfAuthority {
	return ProofOfAuthority{Authorities: authorities}
}

func HybridConsensus(stakePreference float64) HybridStakeWork {
	s := clampUnit(stakePreference)
	return HybridStakeWork{StakeWeight: s, WorkWeight: 1 - s}
}

func (DelegatedProofOfStake) Name() string   { return "dpos" }
func (ByzantineFaultTolerance) Name() string { return "bft" }
func (ProofOfAuthority) Name() string        { return "poa" }
func (HybridStakeWork) Name() string         { return "hybrid_stake_work" }

func (DelegatedProofOfStake) FinalityTimeMs() uint64     { return 100 }
func (a ByzantineFaultTolerance) FinalityTimeMs() uint64 { return a.TimeoutMs }
func (ProofOfAuthority) FinalityTimeMs() uint64          { return 500 }
func (HybridStakeWork) FinalityTimeMs() uint64           { return 2000 }

func (DelegatedProofOfStake) MaxThroughput() float64   { return 100_000 }
func (ByzantineFaultTolerance) MaxThroughput() float64 { return 5_000 }
func (ProofOfAuthority) MaxThroughput() float64        { return 10_000 }
func (HybridStakeWork) MaxThroughput() float64         { return 25_000 }

func (a DelegatedProofOfStake) SecurityLevel() float64 {
	return math.Min(float64(a.ValidatorCount)/21.0, 1.0)*0.7 + 0.1
}

func (a ByzantineFaultTolerance) SecurityLevel() float64 {
	return math.Min(float64(a.RequiredConfirmations)/100.0, 1.0)*0.3 + 0.7
}

func (a ProofOfAuthority) SecurityLevel() float64 {
	return math.Min(float64(len(a.Authorities))/10.0, 0.8)
}

func (a HybridStakeWork) SecurityLevel() float64 {
	return 0.5 + a.StakeWeight*0.3
}

func (a DelegatedProofOfStake) DecentralizationScore() float64 {
	return math.Min(float64(a.ValidatorCount)/50.0, 0.7)
}

func (a ByzantineFaultTolerance) DecentralizationScore() float64 {
	return math.Max(0, math.Min((float64(a.RequiredConfirmations)-1.0)/200.0, 0.95))
}

func (a ProofOfAuthority) DecentralizationScore() float64 {
	return math.Min(float64(len(a.Authorities))/20.0, 0.5)
}

func (a HybridStakeWork) DecentralizationScore() float64 {
	return 0.4 + a.StakeWeight*0.4
}

// AlgorithmFor picks the protocol that runs a path. validators is the active set,
// used as the authority list in emergency mode.
func AlgorithmFor(p Path, validators [][]byte) Algorithm {
	switch v := p.(type) {
	case FastLane:
		return FastConsensus(v.ValidatorCount)
	case SecureLane:
		return SecureConsensus(v.ValidatorThreshold)
	case HybridPath:
		return HybridConsensus(v.FastPercentage)
	case EmergencyMode:
		return EmergencyConsensus(block.Validators(ConsensusDataFor(v, validators)))
	default:
		return nil
	}
}

func firstN(ids [][]byte, n int) [][]byte {
	if n < 0 {
		n = 0
	}
	if n > len(ids) {
		n = len(ids)
	}
	out := make([][]byte, n)
	copy(out, ids[:n])
	return out
}

// ConsensusDataFor builds the header tag a producer stamps on a block made under p.
func ConsensusDataFor(p Path, validators [][]byte) block.ConsensusData {
	switch v := p.(type) {
	case FastLane:
		if len(validators) == 0 {
			return block.DefaultConsensusData()
		}
		return block.FastLaneData{Validator: validators[0]}
	case SecureLane:
		return block.SecureLaneData{Validators: firstN(validators, max(v.ValidatorThreshold, 1))}
	case HybridPath:
		split := int(math.Round(float64(len(validators)) * clampUnit(v.FastPercentage)))
		return block.HybridData{
			FastValidators:   firstN(validators, split),
			SecureValidators: firstN(validators[split:], len(validators)-split),
		}
	case EmergencyMode:
		return block.EmergencyData{AuthorityValidators: firstN(validators, v.FallbackValidators)}
	default:
		return block.DefaultConsensusData()
	}
}
