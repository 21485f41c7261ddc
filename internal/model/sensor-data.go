package model

import (
	"encoding/json"
	"time"
)

// Reading is one persisted temperature/humidity sample.
type Reading struct {
	ID          int64
	Temperature float64
	Humidity    float64
	Brightness  int
	RecordedAt  time.Time
}

type readingJSON struct {
	ID          int64     `json:"id"`
	Temperature *float64  `json:"suhu"`
	Humidity    *float64  `json:"humidity"`
	Brightness  int       `json:"lux"`
	RecordedAt  time.Time `json:"timestamp"`
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{
		ID:          r.ID,
		Temperature: Finite(r.Temperature),
		Humidity:    Finite(r.Humidity),
		Brightness:  r.Brightness,
		RecordedAt:  r.RecordedAt,
	})
}

// Aggregates summarises all stored temperatures.
type Aggregates struct {
	Max float64
	Min float64
	Avg float64
}
