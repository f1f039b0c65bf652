// Package store persists a resolution audit log to SQLite, adapted from
// the teacher's internal/database package: the same WAL-mode connection
// setup and golang-migrate/embed.FS migration pattern, applied to a single
// append-only table instead of HydraDNS's config-mirroring schema. This
// supplements SPEC_FULL.md with an observability feature the original
// implementation never had; it is optional, and when configured the
// dispatcher calls it synchronously from inside Response each time a query
// completes or times out, inheriting the single-threaded contract.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite connection used to record completed resolutions.
type Store struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open opens (creating if necessary) a SQLite database at path and brings
// its schema up to date.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrating: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// RecordResolution appends one completed query to the audit log. It
// satisfies madns.AuditSink.
func (s *Store) RecordResolution(name, outcome, server string, latency time.Duration, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(
		`INSERT INTO resolutions (name, outcome, server, latency_ms, resolved_at) VALUES (?, ?, ?, ?, ?)`,
		name, outcome, server, float64(latency.Microseconds())/1000.0, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: recording resolution: %w", err)
	}
	return nil
}

// Resolution is one row of the audit log.
type Resolution struct {
	Name       string
	Outcome    string
	Server     string
	LatencyMS  float64
	ResolvedAt time.Time
}

// Recent returns the most recently recorded resolutions, newest first.
func (s *Store) Recent(limit int) ([]Resolution, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(
		`SELECT name, outcome, server, latency_ms, resolved_at FROM resolutions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying recent resolutions: %w", err)
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		var r Resolution
		if err := rows.Scan(&r.Name, &r.Outcome, &r.Server, &r.LatencyMS, &r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("store: scanning resolution row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
