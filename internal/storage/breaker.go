package storage

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// ReadingWriter is anything that accepts a reading insert.
type ReadingWriter interface {
	InsertReading(ctx context.Context, temperature, humidity float64, brightness int) error
}

type BreakerConfig struct {
	Name     string        `yaml:"name"`
	Failures int           `yaml:"failures"`
	Open     time.Duration `yaml:"open"`
	Interval time.Duration `yaml:"interval"`
}

// GuardedWriter trips after consecutive insert failures so a dead database
// fails fast instead of stacking up blocked writes.
type GuardedWriter struct {
	next ReadingWriter
	cb   *gobreaker.CircuitBreaker
}

func NewGuardedWriter(next ReadingWriter, cfg BreakerConfig, onChange func(name string, from, to gobreaker.State)) *GuardedWriter {
	fails := cfg.Failures
	if fails <= 0 {
		fails = 5
	}
	name := cfg.Name
	if name == "" {
		name = "storage"
	}
	return &GuardedWriter{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     name,
			Interval: cfg.Interval,
			Timeout:  cfg.Open,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(fails)
			},
			OnStateChange: onChange,
		}),
	}
}

func (w *GuardedWriter) InsertReading(ctx context.Context, temperature, humidity float64, brightness int) error {
	_, err := w.cb.Execute(func() (any, error) {
		return nil, w.next.InsertReading(ctx, temperature, humidity, brightness)
	})
	return err
}

// State exposes the breaker state for readiness reporting.
func (w *GuardedWriter) State() gobreaker.State {
	return w.cb.State()
}
