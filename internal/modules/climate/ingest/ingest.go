// Package ingest turns device payloads into canonical readings. Devices in the
// field disagree on field names, so every known variant is mapped here and
// nowhere else.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"climatecloud/internal/modules/climate/store"
	"climatecloud/internal/modules/climate/types"
)

// payload lists every accepted spelling. The first non-nil field of each
// group wins, in declaration order.
type payload struct {
	Temperature  *float64 `json:"temperature"`
	Temp         *float64 `json:"temp"`
	TemperatureC *float64 `json:"temperature_c"`

	Humidity    *float64 `json:"humidity"`
	Humid       *float64 `json:"humid"`
	HumidityPct *float64 `json:"humidity_pct"`

	// Ids are optional; a non-string id is ignored rather than failing the
	// whole reading.
	SourceID  json.RawMessage `json:"sourceId"`
	DeviceID  json.RawMessage `json:"deviceId"`
	DeviceID2 json.RawMessage `json:"device_id"`
	StationID json.RawMessage `json:"station_id"`
}

// Decode parses a single JSON reading. Any timestamp in the payload is
// ignored; the store stamps readings on acceptance. Errors wrap
// store.ErrInvalidReading.
func Decode(data []byte) (types.Reading, error) {
	data = bytes.TrimSpace(bytes.ReplaceAll(data, []byte{0}, nil))
	if len(data) == 0 {
		return types.Reading{}, fmt.Errorf("%w: empty body", store.ErrInvalidReading)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.Reading{}, fmt.Errorf("%w: invalid JSON: %v", store.ErrInvalidReading, err)
	}

	temperature := firstNonNil(p.Temperature, p.Temp, p.TemperatureC)
	if temperature == nil {
		return types.Reading{}, fmt.Errorf("%w: temperature is required", store.ErrInvalidReading)
	}
	humidity := firstNonNil(p.Humidity, p.Humid, p.HumidityPct)
	if humidity == nil {
		return types.Reading{}, fmt.Errorf("%w: humidity is required", store.ErrInvalidReading)
	}

	return types.Reading{
		Temperature: *temperature,
		Humidity:    *humidity,
		SourceID:    firstNonEmpty(p.SourceID, p.DeviceID, p.DeviceID2, p.StationID),
	}, nil
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// firstNonEmpty returns the first value that is a non-empty JSON string.
func firstNonEmpty(vals ...json.RawMessage) string {
	for _, raw := range vals {
		var v string
		if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
			continue
		}
		if v != "" {
			return v
		}
	}
	return ""
}
