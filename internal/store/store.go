package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a ledger from version-1 to version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order against ledgers whose user_version is behind.
// Version 0 is the bare schema in schema.sql.
var migrations = []migration{
	{
		version: 1,
		name:    "index job events by job",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, seq)`,
	},
}

// currentSchemaVersion is the version a read-write Open leaves behind.
var currentSchemaVersion = migrations[len(migrations)-1].version

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Option adjusts how a ledger is opened.
type Option func(*openConfig)

type openConfig struct {
	readOnly    bool
	busyTimeout time.Duration
}

// ReadOnly opens an existing ledger without creating, migrating or writing
// to it. Opening a missing file fails.
func ReadOnly() Option {
	return func(c *openConfig) { c.readOnly = true }
}

// WithBusyTimeout overrides DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *openConfig) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// Store is the job ledger. Safe for concurrent use; SQLite serializes writers
// through the single pooled connection.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open creates or opens a ledger database at path. A read-write open
// applies the schema and any pending migrations, so opening the same file
// repeatedly is safe.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite3", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to ledger %s: %w", path, err)
	}

	s := &Store{db: db, path: path, readOnly: cfg.readOnly}
	if cfg.readOnly {
		err = s.checkVersion()
	} else {
		err = s.migrate()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	return s, nil
}

// dsn carries the connection pragmas as go-sqlite3 URI parameters so every
// pooled connection gets them.
func dsn(path string, cfg openConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(cfg.busyTimeout.Milliseconds()))
	q.Set("_foreign_keys", "on")
	if cfg.readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + q.Encode()
}

// Path returns the file the ledger was opened from.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) version() (int, error) {
	var v int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) checkVersion() error {
	v, err := s.version()
	if err != nil {
		return err
	}
	if v != currentSchemaVersion {
		return fmt.Errorf("schema version %d, want %d; open it read-write once to migrate", v, currentSchemaVersion)
	}
	return nil
}

// migrate applies schema.sql, then each pending migration in its own
// transaction together with the version bump.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	v, err := s.version()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= v {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	return nil
}

// pragma reads one pragma's current value.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
