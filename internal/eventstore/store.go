// Package eventstore is the central datastore: connections, cursors, canonical
// events, the run ledger, leases and the job outbox.
package eventstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Supported database drivers.
const (
	DriverSQLite    = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLiteCgo = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPostgres  = "postgres"
)

// Store is the datastore shared by every component of the sync worker.
type Store struct {
	DB       *sql.DB
	driver   string
	numbered bool

	// Now is the clock used for timestamps written by the store.
	Now func() time.Time
}

// Open opens (or creates) the datastore and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		source   string
		numbered bool
		serial   string
	)

	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		source = dsn + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
	case DriverSQLiteCgo:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		source = "file:" + dsn + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
	case DriverPostgres:
		source = dsn
		numbered = true
		serial = "BIGSERIAL PRIMARY KEY"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if numbered {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	} else {
		// SQLite has a single writer; one connection avoids SQLITE_BUSY between
		// the sync pipelines and the outbox dispatcher.
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := strings.ReplaceAll(schemaSQL, "BIGSERIAL_OR_INTEGER", serial)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{DB: db, driver: driver, numbered: numbered, Now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Driver returns the database driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// q rewrites ? placeholders to $N for drivers that need numbered parameters.
func (s *Store) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
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

func (s *Store) nowMS() int64 {
	return s.Now().UnixMilli()
}

func fromMS(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func fromNullMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
