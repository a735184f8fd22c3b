package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	createTableStatement = `
CREATE TABLE IF NOT EXISTS named_values (
    name TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (name, recorded_at)
)`
	recordedAtIndexStatement = `
CREATE INDEX IF NOT EXISTS named_values_recorded_at_idx
ON named_values (recorded_at DESC)`
	insertStatement = `
INSERT INTO named_values (name, value, recorded_at) VALUES ($1, $2, $3)
ON CONFLICT (name, recorded_at) DO UPDATE SET value = EXCLUDED.value`
)

// undefinedTable is the SQLSTATE raised when named_values was dropped under us.
const undefinedTable = "42P01"

// Config contains the configuration required to connect to a Postgres database.
type Config struct {
	DSN string
	// DB overrides the connection opened from DSN.
	DB Execer
}

// Execer executes SQL statements against Postgres. *sql.DB satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// Repository stores forwarded named values in Postgres.
type Repository struct {
	dsn string
	db  Execer

	schemaMu    sync.Mutex
	schemaReady bool

	closeOnce sync.Once
}

// New creates a repository. No connection is made until the first Send, so an
// unreachable database is only reported per call.
func New(cfg Config) (*Repository, error) {
	if cfg.DSN == "" && cfg.DB == nil {
		return nil, errors.New("postgres repository: DSN is required")
	}

	db := cfg.DB
	if db == nil {
		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres repository: open: %w", err)
		}
		conn.SetMaxOpenConns(2)
		conn.SetConnMaxIdleTime(time.Minute)
		db = conn
	}

	return &Repository{dsn: cfg.DSN, db: db}, nil
}

// Close releases resources held by the repository.
func (r *Repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.db.Close()
	})
	return err
}

// Send records one named value.
func (r *Repository) Send(ctx context.Context, name string, value float64, at time.Time) error {
	name = strings.TrimRight(name, "\x00")
	if name == "" {
		return errors.New("postgres repository: name is required")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("postgres repository: value for %s is not finite", name)
	}

	if err := r.ensureSchema(ctx); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, insertStatement, name, value, at.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
			r.resetSchema()
		}
		return fmt.Errorf("postgres repository: insert %s: %w", name, err)
	}
	return nil
}

// Target returns a printable form of the DSN with the password removed.
func (r *Repository) Target() string {
	if r.dsn == "" {
		return "postgres"
	}
	return redact(r.dsn)
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	if r.schemaReady {
		return nil
	}
	for _, stmt := range []string{createTableStatement, recordedAtIndexStatement} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres repository: ensure schema: %w", err)
		}
	}
	r.schemaReady = true
	return nil
}

func (r *Repository) resetSchema() {
	r.schemaMu.Lock()
	r.schemaReady = false
	r.schemaMu.Unlock()
}
