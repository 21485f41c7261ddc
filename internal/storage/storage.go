// Package storage persists readings to a relational database and serves
// the aggregate queries behind the dashboard.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect is the database/sql driver name.
type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite"
)

type Config struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	ScanWindow   int           `yaml:"scan_window"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Timezone     string        `yaml:"timezone"`
}

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Open opens and pings the database described by cfg.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	dsn := cfg.DSN
	if d == SQLite && dsn != ":memory:" && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", d, err)
	}
	switch {
	case d == SQLite:
		// single writer; also keeps :memory: on one connection
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", d, err)
	}
	return db, d, nil
}

var schemas = map[Dialect][]string{
	Postgres: {
		`CREATE TABLE IF NOT EXISTS readings (
			id          BIGSERIAL PRIMARY KEY,
			temperature DOUBLE PRECISION NOT NULL,
			humidity    DOUBLE PRECISION NOT NULL,
			brightness  INTEGER NOT NULL DEFAULT 0,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS readings_recorded_at_idx ON readings (recorded_at DESC)`,
	},
	SQLite: {
		`CREATE TABLE IF NOT EXISTS readings (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			temperature REAL NOT NULL,
			humidity    REAL NOT NULL,
			brightness  INTEGER NOT NULL DEFAULT 0,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS readings_recorded_at_idx ON readings (recorded_at DESC)`,
	},
}

// rebind rewrites ? placeholders into $n for postgres.
func rebind(d Dialect, q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
