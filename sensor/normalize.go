package sensor

import (
	"time"

	"github.com/homesense/sensord/internal/types"
)

// Meta is the static description of one sensor instance.
type Meta struct {
	ID   string
	Unit string
}

// Normalizer converts decoded frames or raw samples into Readings and
// keeps per-sensor timestamps monotonic non-decreasing.
type Normalizer struct {
	meta Meta
	last time.Time
}

func NewNormalizer(meta Meta) *Normalizer { return &Normalizer{meta: meta} }

func (n *Normalizer) stamp(t time.Time) time.Time {
	if t.Before(n.last) {
		return n.last
	}
	n.last = t
	return t
}

// FromFrame maps a decoded stream frame to a Reading. The quality flag
// carries frame validity to consumers.
func (n *Normalizer) FromFrame(f types.DecodedFrame, at time.Time) types.Reading {
	return types.Reading{
		SensorID: n.meta.ID,
		Unit:     n.meta.Unit,
		Value:    f.Value,
		Stamp:    n.stamp(at),
		Quality:  f.Valid,
	}
}

// FromAnalog maps a raw ADC code through the calibration scale.
func (n *Normalizer) FromAnalog(code uint16, scale AnalogScale, at time.Time) types.Reading {
	return types.Reading{
		SensorID: n.meta.ID,
		Unit:     n.meta.Unit,
		Value:    scale.Value(code),
		Stamp:    n.stamp(at),
		Quality:  true,
	}
}

// FromState maps a debounced occupancy state. Value encodes the state
// for threshold-style consumers, payload formatting uses the token.
func (n *Normalizer) FromState(s types.RoomState, at time.Time) types.Reading {
	v := 0.0
	if s == types.StateIn {
		v = 1.0
	}
	return types.Reading{
		SensorID: n.meta.ID,
		Unit:     "",
		Value:    v,
		Stamp:    n.stamp(at),
		Quality:  true,
	}
}
