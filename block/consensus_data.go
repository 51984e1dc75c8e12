package block

import (
	"encoding/binary"
	"fmt"

	"github.com/triunity/node/jsonx"
)

// ConsensusData records which consensus path produced a block and who attested it.
// Implemented by FastLaneData, SecureLaneData, HybridData and EmergencyData.
type ConsensusData interface {
	Kind() string
	appendTo(buf []byte) []byte
}

const (
	KindFastLane   = "fast_lane"
	KindSecureLane = "secure_lane"
	KindHybrid     = "hybrid_path"
	KindEmergency  = "emergency"
)

type FastLaneData struct {
	Validator []byte `json:"validator"`
}

type SecureLaneData struct {
	Validators [][]byte `json:"validators"`
}

type HybridData struct {
	FastValidators   [][]byte `json:"fast_validators"`
	SecureValidators [][]byte `json:"secure_validators"`
}

type EmergencyData struct {
	AuthorityValidators [][]byte `json:"authority_validators"`
}

func (FastLaneData) Kind() string   { return KindFastLane }
func (SecureLaneData) Kind() string { return KindSecureLane }
func (HybridData) Kind() string     { return KindHybrid }
func (EmergencyData) Kind() string  { return KindEmergency }

// DefaultConsensusData is a fast-lane tag with an all-zero validator.
func DefaultConsensusData() ConsensusData {
	return FastLaneData{Validator: make([]byte, 32)}
}

func appendIdentity(buf, id []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(id)))
	return append(buf, id...)
}

func appendIdentities(buf []byte, ids [][]byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		buf = appendIdentity(buf, id)
	}
	return buf
}

func (d FastLaneData) appendTo(buf []byte) []byte {
	return appendIdentity(append(buf, 0), d.Validator)
}

func (d SecureLaneData) appendTo(buf []byte) []byte {
	return appendIdentities(append(buf, 1), d.Validators)
}

func (d HybridData) appendTo(buf []byte) []byte {
	buf = appendIdentities(append(buf, 2), d.FastValidators)
	return appendIdentities(buf, d.SecureValidators)
}

func (d EmergencyData) appendTo(buf []byte) []byte {
	return appendIdentities(append(buf, 3), d.AuthorityValidators)
}

// Validators lists every identity attesting under d.
func Validators(d ConsensusData) [][]byte {
	switch v := d.(type) {
	case FastLaneData:
		return [][]byte{v.Validator}
	case SecureLaneData:
		return v.Validators
	case HybridData:
		out := make([][]byte, 0, len(v.FastValidators)+len(v.SecureValidators))
		out = append(out, v.FastValidators...)
		return append(out, v.SecureValidators...)
	case EmergencyData:
		return v.AuthorityValidators
	default:
		return nil
	}
}

type consensusEnvelope struct {
	Kind string           `json:"kind"`
	Data jsonx.RawMessage `json:"data"`
}

func marshalConsensus(d ConsensusData) ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	data, err := jsonx.Marshal(d)
	if err != nil {
		return nil, err
	}
	return jsonx.Marshal(consensusEnvelope{Kind: d.Kind(), Data: data})
}

func unmarshalConsensus(raw []byte) (ConsensusData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env consensusEnvelope
	if err := jsonx.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("consensus data: %w", err)
	}
	switch env.Kind {
	case KindFastLane:
		var d FastLaneData
		err := jsonx.Unmarshal(env.Data, &d)
		return d, err
	case KindSecureLane:
		var d SecureLaneData
		err := jsonx.Unmarshal(env.Data, &d)
		return d, err
	case KindHybrid:
		var d HybridData
		err := jsonx.Unmarshal(env.Data, &d)
		return d, err
	case KindEmergency:
		var d EmergencyData
		err := jsonx.Unmarshal(env.Data, &d)
		return d, err
	default:
		return nil, fmt.Errorf("unknown consensus kind %q", env.Kind)
	}
}
