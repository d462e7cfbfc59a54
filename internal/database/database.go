package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection. It is the single shared handle for
// records, alerts, the sent-log, the score cache, and the audit tables.
type DB struct {
	conn *sql.DB
	path string
}

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	log logrus.FieldLogger
}

// WithLogger sets the logger used while migrating the schema.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *openOptions) { o.log = log }
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Open creates or opens the store at dbPath and migrates it to the latest
// schema. The pool holds a single connection: every write is a short
// single-row statement and SQLite serializes writers anyway.
func Open(dbPath string, opts ...Option) (*DB, error) {
	o := openOptions{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("executing %q: %w", p, err)
		}
	}

	if err := migrate(conn, o.log.WithField("db", filepath.Base(dbPath))); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Check verifies the connection is usable.
func (db *DB) Check(ctx context.Context) error {
	var one int
	return db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
