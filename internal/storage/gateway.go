package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
)

const (
	DefaultPeakLimit   = 2
	DefaultPeriodLimit = 2
	DefaultRecentLimit = 50
	DefaultScanWindow  = 500
	readingColumns     = "id, temperature, humidity, brightness, recorded_at"
)

// StorageError wraps any failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Gateway runs every query the bridge needs against the readings table.
type Gateway struct {
	db         *sql.DB
	dialect    Dialect
	scanWindow int
	loc        *time.Location
	now        func() time.Time
}

type Option func(*Gateway)

// WithScanWindow bounds how many recent rows DistinctPeriods looks at.
func WithScanWindow(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.scanWindow = n
		}
	}
}

// WithLocation sets the zone month labels are computed in.
func WithLocation(loc *time.Location) Option {
	return func(g *Gateway) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithClock replaces the clock used to stamp inserted rows.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(db *sql.DB, dialect Dialect, opts ...Option) *Gateway {
	g := &Gateway{
		db:         db,
		dialect:    dialect,
		scanWindow: DefaultScanWindow,
		loc:        time.UTC,
		now:        time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// EnsureSchema creates the readings table when missing.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemas[g.dialect] {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "schema", Err: err}
		}
	}
	return nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// InsertReading appends one row stamped with the gateway clock.
func (g *Gateway) InsertReading(ctx context.Context, temperature, humidity float64, brightness int) error {
	q := rebind(g.dialect, `INSERT INTO readings (temperature, humidity, brightness, recorded_at) VALUES (?, ?, ?, ?)`)
	if _, err := g.db.ExecContext(ctx, q, temperature, humidity, brightness, g.now().UTC()); err != nil {
		return &StorageError{Op: "insert", Err: err}
	}
	return nil
}

// Aggregates returns max, min and the average rounded to two decimals over
// all stored temperatures. An empty table yields zeros.
func (g *Gateway) Aggregates(ctx context.Context) (model.Aggregates, error) {
	var maxT, minT, avgT sql.NullFloat64
	err := g.db.QueryRowContext(ctx,
		`SELECT MAX(temperature), MIN(temperature), AVG(temperature) FROM readings`,
	).Scan(&maxT, &minT, &avgT)
	if err != nil {
		return model.Aggregates{}, &StorageError{Op: "aggregates", Err: err}
	}
	return model.Aggregates{
		Max: maxT.Float64,
		Min: minT.Float64,
		Avg: round2(avgT.Float64),
	}, nil
}

// PeakReadings returns the hottest rows; equal temperatures favour the newest.
func (g *Gateway) PeakReadings(ctx context.Context, limit int) ([]model.Reading, error) {
	if limit <= 0 {
		limit = DefaultPeakLimit
	}
	q := rebind(g.dialect, `SELECT `+readingColumns+` FROM readings
		ORDER BY temperature DESC, recorded_at DESC, id DESC LIMIT ?`)
	return g.queryReadings(ctx, "peak readings", q, limit)
}

// Recent returns the newest rows first.
func (g *Gateway) Recent(ctx context.Context, limit int) ([]model.Reading, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	q := rebind(g.dialect, `SELECT `+readingColumns+` FROM readings
		ORDER BY recorded_at DESC, id DESC LIMIT ?`)
	return g.queryReadings(ctx, "recent", q, limit)
}

// DistinctPeriods walks the newest scanWindow rows and collects up to limit
// distinct "M-YYYY" labels, newest first. Months older than the window are
// never reported.
func (g *Gateway) DistinctPeriods(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultPeriodLimit
	}
	q := rebind(g.dialect, `SELECT recorded_at FROM readings ORDER BY recorded_at DESC, id DESC LIMIT ?`)
	rows, err := g.db.QueryContext(ctx, q, g.scanWindow)
	if err != nil {
		return nil, &StorageError{Op: "distinct periods", Err: err}
	}
	defer rows.Close()

	seen := make(map[string]struct{}, limit)
	out := make([]string, 0, limit)
	for rows.Next() && len(out) < limit {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, &StorageError{Op: "distinct periods", Err: err}
		}
		label := PeriodLabel(ts.In(g.loc))
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "distinct periods", Err: err}
	}
	return out, nil
}

// PeriodLabel formats t as month-year without zero padding, e.g. "4-2024".
func PeriodLabel(t time.Time) string {
	return fmt.Sprintf("%d-%d", int(t.Month()), t.Year())
}

func (g *Gateway) queryReadings(ctx context.Context, op, q string, args ...any) ([]model.Reading, error) {
	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	out := make([]model.Reading, 0)
	for rows.Next() {
		var r model.Reading
		if err := rows.Scan(&r.ID, &r.Temperature, &r.Humidity, &r.Brightness, &r.RecordedAt); err != nil {
			return nil, &StorageError{Op: op, Err: err}
		}
		r.RecordedAt = r.RecordedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
