package timeseries

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ReadingToPoint turns a reading into a single Influx point.
func ReadingToPoint(measurement string, tags map[string]string, temperature, humidity float64, brightness int, at time.Time) *write.Point {
	t := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != "" {
			t[k] = v
		}
	}
	fields := map[string]interface{}{
		"temperature": temperature,
		"humidity":    humidity,
		"brightness":  int64(brightness),
	}
	return influxdb2.NewPoint(measurement, t, fields, at.UTC())
}
