package sensor

import "github.com/juju/errors"

// AnalogScale maps a raw ADC code to an engineering unit in two linear
// stages: code -> voltage against the reference, voltage -> unit
// against the sensor full-scale value.
type AnalogScale struct {
	ReferenceVolt  float64 // ADC reference, e.g. 3.3
	ResolutionBits uint    // e.g. 12
	FullScale      float64 // engineering units at ReferenceVolt, e.g. 2.0
}

func (a AnalogScale) Validate() error {
	if a.ReferenceVolt <= 0 {
		return errors.NotValidf("adc reference_volt=%v", a.ReferenceVolt)
	}
	if a.ResolutionBits < 1 || a.ResolutionBits > 16 {
		return errors.NotValidf("adc resolution_bits=%d", a.ResolutionBits)
	}
	if a.FullScale <= 0 {
		return errors.NotValidf("adc full_scale=%v", a.FullScale)
	}
	return nil
}

func (a AnalogScale) Value(code uint16) float64 {
	maxCode := float64(uint32(1)<<a.ResolutionBits - 1)
	voltage := float64(code) / maxCode * a.ReferenceVolt
	return voltage / a.ReferenceVolt * a.FullScale
}
