// Package policy decides whether a new reading differs enough from the
// previous one to be kept in history.
package policy

import (
	"fmt"
	"math"

	"climatecloud/internal/modules/climate/types"
)

const (
	DefaultTemperatureThreshold = 0.1
	DefaultHumidityThreshold    = 0.1
)

// Thresholds are the absolute deltas a field must exceed to count as changed.
// A zero threshold records any difference at all, float noise included.
type Thresholds struct {
	Temperature float64
	Humidity    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Temperature: DefaultTemperatureThreshold,
		Humidity:    DefaultHumidityThreshold,
	}
}

func (t Thresholds) Validate() error {
	if math.IsNaN(t.Temperature) || math.IsInf(t.Temperature, 0) || t.Temperature < 0 {
		return fmt.Errorf("temperature threshold must be a non-negative number, got %v", t.Temperature)
	}
	if math.IsNaN(t.Humidity) || math.IsInf(t.Humidity, 0) || t.Humidity < 0 {
		return fmt.Errorf("humidity threshold must be a non-negative number, got %v", t.Humidity)
	}
	return nil
}

// Decision is the outcome of evaluating a candidate against the previous reading.
type Decision struct {
	Changed          bool
	Kind             types.ChangeKind
	DeltaTemperature float64
	DeltaHumidity    float64
}

// Policy is a threshold-based change filter. The zero value treats every
// difference as a change; use New to apply validated thresholds.
type Policy struct {
	thresholds Thresholds
}

func New(t Thresholds) (Policy, error) {
	if err := t.Validate(); err != nil {
		return Policy{}, err
	}
	return Policy{thresholds: t}, nil
}

func (p Policy) Thresholds() Thresholds {
	return p.thresholds
}

// Evaluate compares candidate against previous. A nil previous means no
// reading has been recorded yet, which always counts as a change. Both readings
// must already hold finite values.
func (p Policy) Evaluate(previous *types.Reading, candidate types.Reading) Decision {
	if previous == nil {
		return Decision{Changed: true, Kind: types.ChangeFirst}
	}

	dt := candidate.Temperature - previous.Temperature
	dh := candidate.Humidity - previous.Humidity
	tempChanged := math.Abs(dt) > p.thresholds.Temperature
	humChanged := math.Abs(dh) > p.thresholds.Humidity

	d := Decision{
		Changed:          tempChanged || humChanged,
		DeltaTemperature: dt,
		DeltaHumidity:    dh,
	}
	switch {
	case tempChanged && humChanged:
		d.Kind = types.ChangeBoth
	case tempChanged:
		d.Kind = types.ChangeTemperature
	case humChanged:
		d.Kind = types.ChangeHumidity
	default:
		d.Kind = types.ChangeNone
	}
	return d
}
