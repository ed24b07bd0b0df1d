package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/slyt3/GetItDone/internal/store"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Supported database/sql driver names.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

const (
	maxRows       = 100000
	timeLayout    = time.RFC3339Nano
	busyTimeoutMs = 5000
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

var _ store.Store = (*DB)(nil)

// NewDB opens dbPath with the given driver and initializes the schema.
// dbPath ":memory:" keeps everything in process memory.
func NewDB(driver, dbPath string) (*DB, error) {
	if err := assert.Check(driver == DriverCGO || driver == DriverPureGo, "unsupported sqlite driver %q", driver); err != nil {
		return nil, err
	}
	if err := assert.Check(dbPath != "", "database path must not be empty"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is per connection.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs),
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return nil, closeWith(conn, fmt.Errorf("applying %q: %w", p, err))
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		return nil, closeWith(conn, fmt.Errorf("executing schema: %w", err))
	}

	return &DB{conn: conn}, nil
}

func closeWith(conn *sql.DB, err error) error {
	if closeErr := conn.Close(); closeErr != nil {
		return fmt.Errorf("%v; closing database: %w", err, closeErr)
	}
	return err
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database answers.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithTx runs fn in a transaction and commits if fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w; rolling back: %v", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (db *DB) View(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning read transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&tx{tx: sqlTx})
}

// tx implements store.Tx on a *sql.Tx.
type tx struct {
	tx *sql.Tx
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOneRow(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: reading rows affected: %w", what, err)
	}
	if rows != 1 {
		return fmt.Errorf("%s: rows affected = %d", what, rows)
	}
	return nil
}
