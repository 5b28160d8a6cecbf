package types

import (
	"fmt"
	"time"
)

// Reading is one temperature/humidity sample. RecordedAt is assigned by the
// store when the reading is accepted, never by the caller.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	RecordedAt  time.Time `json:"recordedAt"`
	SourceID    string    `json:"sourceId"`
}

func (r Reading) String() string {
	return fmt.Sprintf("source=%s temperature=%.2f humidity=%.2f recorded_at=%s",
		r.SourceID,
		r.Temperature,
		r.Humidity,
		r.RecordedAt.Format(time.RFC3339Nano),
	)
}

// ChangeKind classifies which fields moved past their threshold.
type ChangeKind string

const (
	ChangeNone        ChangeKind = "none"
	ChangeFirst       ChangeKind = "first"
	ChangeTemperature ChangeKind = "temperature"
	ChangeHumidity    ChangeKind = "humidity"
	ChangeBoth        ChangeKind = "both"
)

// Change is the enriched record written to the durable backend for every
// reading the change policy accepted.
type Change struct {
	ID               string     `json:"id"`
	Kind             ChangeKind `json:"kind"`
	Current          Reading    `json:"current"`
	Previous         *Reading   `json:"previous,omitempty"`
	DeltaTemperature float64    `json:"deltaTemperature"`
	DeltaHumidity    float64    `json:"deltaHumidity"`
}
