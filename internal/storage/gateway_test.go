package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func openMemory(t *testing.T, opts ...Option) (*Gateway, *clock) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	g := NewGateway(db, SQLite, append([]Option{WithClock(c.now)}, opts...)...)
	if err := g.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return g, c
}

func insertAt(t *testing.T, g *Gateway, c *clock, at time.Time, temp, hum float64) {
	t.Helper()
	c.t = at
	if err := g.InsertReading(context.Background(), temp, hum, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestAggregatesEmpty(t *testing.T) {
	g, _ := openMemory(t)
	agg, err := g.Aggregates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if agg.Max != 0 || agg.Min != 0 || agg.Avg != 0 {
		t.Fatalf("empty aggregates = %+v", agg)
	}
}

func TestAggregates(t *testing.T) {
	g, c := openMemory(t)
	base := c.t
	for i, v := range []float64{20, 25, 30} {
		insertAt(t, g, c, base.Add(time.Duration(i)*time.Minute), v, 60)
	}
	agg, err := g.Aggregates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if agg.Max != 30 || agg.Min != 20 || agg.Avg != 25 {
		t.Fatalf("aggregates = %+v", agg)
	}
}

func TestAggregatesAverageRounded(t *testing.T) {
	g, c := openMemory(t)
	for _, v := range []float64{1, 2, 2} {
		insertAt(t, g, c, c.t.Add(time.Second), v, 60)
	}
	agg, err := g.Aggregates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if agg.Avg != 1.67 {
		t.Fatalf("avg = %v, want 1.67", agg.Avg)
	}
}

func TestPeakReadingsTieBreaksOnRecency(t *testing.T) {
	g, c := openMemory(t)
	t0 := c.t
	insertAt(t, g, c, t0, 30, 50)
	insertAt(t, g, c, t0.Add(time.Hour), 30, 55)
	insertAt(t, g, c, t0.Add(2*time.Hour), 20, 70)

	peaks, err := g.PeakReadings(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(peaks) != 2 {
		t.Fatalf("got %d rows", len(peaks))
	}
	if peaks[0].Temperature != 30 || !peaks[0].RecordedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("first peak = %+v", peaks[0])
	}
	if peaks[1].Temperature != 30 || !peaks[1].RecordedAt.Equal(t0) {
		t.Errorf("second peak = %+v", peaks[1])
	}
}

func TestDistinctPeriods(t *testing.T) {
	g, c := openMemory(t)
	insertAt(t, g, c, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), 21, 60)
	insertAt(t, g, c, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), 22, 60)
	insertAt(t, g, c, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 23, 60)
	insertAt(t, g, c, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), 24, 60)

	got, err := g.DistinctPeriods(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "4-2024" || got[1] != "3-2024" {
		t.Fatalf("periods = %v", got)
	}
}

func TestDistinctPeriodsBoundedWindow(t *testing.T) {
	g, c := openMemory(t, WithScanWindow(2))
	insertAt(t, g, c, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), 21, 60)
	insertAt(t, g, c, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 23, 60)
	insertAt(t, g, c, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), 24, 60)

	got, err := g.DistinctPeriods(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	// march lies outside the two newest rows
	if len(got) != 1 || got[0] != "4-2024" {
		t.Fatalf("periods = %v", got)
	}
}

func TestRecentNewestFirstAndLimited(t *testing.T) {
	g, c := openMemory(t)
	t0 := c.t
	for i := 0; i < 60; i++ {
		insertAt(t, g, c, t0.Add(time.Duration(i)*time.Minute), float64(20+i%5), 60)
	}
	rows, err := g.Recent(context.Background(), DefaultRecentLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 50 {
		t.Fatalf("got %d rows, want 50", len(rows))
	}
	if !rows[0].RecordedAt.Equal(t0.Add(59 * time.Minute)) {
		t.Errorf("newest row = %v", rows[0].RecordedAt)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].RecordedAt.After(rows[i-1].RecordedAt) {
			t.Fatalf("rows not newest-first at %d", i)
		}
	}
	if rows[0].Brightness != 0 || rows[0].ID == 0 {
		t.Errorf("unexpected row %+v", rows[0])
	}
}

func TestClosedDatabaseReturnsStorageError(t *testing.T) {
	g, _ := openMemory(t)
	g.db.Close()
	_, err := g.Aggregates(context.Background())
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "aggregates" {
		t.Fatalf("err = %v", err)
	}
}

func TestRebind(t *testing.T) {
	q := "INSERT INTO t VALUES (?, ?, ?)"
	if got := rebind(Postgres, q); got != "INSERT INTO t VALUES ($1, $2, $3)" {
		t.Errorf("postgres rebind = %q", got)
	}
	if got := rebind(SQLite, q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"postgres": Postgres, "pgx": Postgres, "SQLite": SQLite} {
		if got, err := ParseDialect(in); err != nil || got != want {
			t.Errorf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Error("mysql accepted")
	}
}

type failingWriter struct{ calls int }

func (f *failingWriter) InsertReading(context.Context, float64, float64, int) error {
	f.calls++
	return errors.New("db down")
}

func TestGuardedWriterTrips(t *testing.T) {
	fw := &failingWriter{}
	gw := NewGuardedWriter(fw, BreakerConfig{Failures: 2, Open: time.Minute}, nil)
	for i := 0; i < 2; i++ {
		if err := gw.InsertReading(context.Background(), 25, 60, 0); err == nil {
			t.Fatal("expected failure")
		}
	}
	err := gw.InsertReading(context.Background(), 25, 60, 0)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open state", err)
	}
	if fw.calls != 2 {
		t.Fatalf("writer called %d times while open", fw.calls)
	}
	if gw.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v", gw.State())
	}
}
