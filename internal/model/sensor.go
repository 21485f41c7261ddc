package model

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// RelayState indicates whether the pump relay is on or off.
type RelayState string

const (
	RelayOff RelayState = "OFF"
	RelayOn  RelayState = "ON"
)

// InitialStatus is the status text shown before any device has reported.
const InitialStatus = "Menunggu data..."

// ParseRelayState accepts the relay payload published by the device.
// Device firmware is not consistent about case and trailing newlines.
func ParseRelayState(raw string) (RelayState, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(RelayOn):
		return RelayOn, true
	case string(RelayOff):
		return RelayOff, true
	}
	return "", false
}

// SensorSnapshot is the latest known view of the hydroponic station.
// LastUpdate is nil until the first message has been processed.
type SensorSnapshot struct {
	Temperature float64
	Humidity    float64
	StatusText  string
	RelayStatus RelayState
	LastUpdate  *time.Time
}

// NewSensorSnapshot returns the snapshot a freshly started process exposes.
func NewSensorSnapshot() SensorSnapshot {
	return SensorSnapshot{
		StatusText:  InitialStatus,
		RelayStatus: RelayOff,
	}
}

// Clone copies the snapshot, including the LastUpdate pointee.
func (s SensorSnapshot) Clone() SensorSnapshot {
	if s.LastUpdate != nil {
		t := *s.LastUpdate
		s.LastUpdate = &t
	}
	return s
}

type snapshotJSON struct {
	Temperature *float64   `json:"suhu"`
	Humidity    *float64   `json:"humidity"`
	Status      string     `json:"status"`
	RelayStatus RelayState `json:"relayStatus"`
	LastUpdate  *time.Time `json:"lastUpdate"`
}

// MarshalJSON keeps the field names the dashboard reads.
// NaN and Inf values (unparsable payloads) are emitted as null.
func (s SensorSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Temperature: Finite(s.Temperature),
		Humidity:    Finite(s.Humidity),
		Status:      s.StatusText,
		RelayStatus: s.RelayStatus,
		LastUpdate:  s.LastUpdate,
	})
}

// Finite returns nil for NaN and ±Inf so they encode as JSON null.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
