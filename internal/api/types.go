package api

import (
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
)

/************* DTO verso la dashboard *************/

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
	Command string `json:"command,omitempty"`
}

type relayRequest struct {
	Command string `json:"command"`
}

// PeakRow is one entry of nilai_suhu_max_humid_max.
type PeakRow struct {
	Index       int64     `json:"idx"`
	Temperature *float64  `json:"suhun"`
	Humidity    *float64  `json:"humid"`
	Brightness  int       `json:"kecerahan"`
	Timestamp   time.Time `json:"timestamp"`
}

type Period struct {
	MonthYear string `json:"month_year"`
}

// Summary is the body of GET /api/sensor/database.
type Summary struct {
	Max     float64   `json:"suhumax"`
	Min     float64   `json:"suhumin"`
	Avg     float64   `json:"suhurata"`
	Peaks   []PeakRow `json:"nilai_suhu_max_humid_max"`
	Periods []Period  `json:"month_year_max"`
}

type healthResponse struct {
	Status string `json:"status"`
	MQTT   string `json:"mqtt"`
}

type readyResponse struct {
	Ready  bool              `json:"ready"`
	MQTT   bool              `json:"mqtt"`
	Checks map[string]string `json:"checks,omitempty"`
}

func toPeakRows(rs []model.Reading) []PeakRow {
	out := make([]PeakRow, 0, len(rs))
	for _, r := range rs {
		out = append(out, PeakRow{
			Index:       r.ID,
			Temperature: model.Finite(r.Temperature),
			Humidity:    model.Finite(r.Humidity),
			Brightness:  r.Brightness,
			Timestamp:   r.RecordedAt,
		})
	}
	return out
}

func toPeriods(labels []string) []Period {
	out := make([]Period, 0, len(labels))
	for _, l := range labels {
		out = append(out, Period{MonthYear: l})
	}
	return out
}
