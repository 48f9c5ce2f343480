package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/syllabus/internal/gateway"
)

//go:embed schema.sql
var schemaSQL string

// migrations upgrade databases created by older builds. Each runs once,
// in order, when PRAGMA user_version is below its version.
var migrations = []struct {
	version int
	stmt    string
}{
	// Cross-course slug lookups and the lesson dedup pass.
	{1, `CREATE INDEX IF NOT EXISTS idx_lessons_slug_course ON lessons(slug, course_id)`},
}

var currentSchemaVersion = migrations[len(migrations)-1].version

// pragmas are set on the single pooled connection, with the values
// SQLite reports back for them.
var pragmas = []struct{ name, set, want string }{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "NORMAL", "1"},
	{"busy_timeout", "5000", "5000"},
	{"foreign_keys", "ON", "1"},
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed gateway.
type Store struct {
	db    *sql.DB
	q     querier
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides ID generation.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Open opens the SQLite database at path, creating it when missing, and
// brings its schema up to date.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, classify(err))
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := bootstrap(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, q: db, now: time.Now, newID: newUUID}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for ad hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Courses() gateway.CourseRepo { return courseRepo{s} }
func (s *Store) Units() gateway.NodeRepo     { return nodeRepos[0].bind(s) }
func (s *Store) Chapters() gateway.NodeRepo  { return nodeRepos[1].bind(s) }
func (s *Store) Topics() gateway.NodeRepo    { return nodeRepos[2].bind(s) }
func (s *Store) Lessons() gateway.LessonRepo { return lessonRepo{s} }

// Ping checks the database is reachable. Any failure is a connectivity
// failure.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return gateway.Unavailable(errors.New("store not open"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return gateway.Unavailable(err)
	}
	return nil
}

// InTx runs fn in a transaction. Failed statements inside fn do not abort
// the transaction; only an error returned by fn rolls it back. Nested calls
// reuse the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	txStore := &Store{db: s.db, q: tx, now: s.now, newID: s.newID}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// write runs fn atomically: in its own transaction, or under a savepoint
// when the store is already inside InTx. A failed fn leaves nothing behind
// and, inside InTx, keeps the outer transaction usable.
func (s *Store) write(ctx context.Context, fn func(q querier) error) error {
	if tx, nested := s.q.(*sql.Tx); nested {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT atomic_write"); err != nil {
			return classify(err)
		}
		if err := fn(tx); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO atomic_write; RELEASE atomic_write"); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", classify(rbErr)))
			}
			return err
		}
		_, err := tx.ExecContext(ctx, "RELEASE atomic_write")
		return classify(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", classify(rbErr)))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// classify marks errors that mean the database itself is unreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return gateway.Unavailable(err)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return gateway.Unavailable(err)
		}
	}
	if strings.Contains(err.Error(), "database is closed") {
		return gateway.Unavailable(err)
	}
	return err
}

func bootstrap(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec("PRAGMA " + p.name + " = " + p.set); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	}
	return nil
}

func (s *Store) pragma(name string) (string, error) {
	var value string
	err := s.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}

var (
	_ gateway.Gateway    = (*Store)(nil)
	_ gateway.Transactor = (*Store)(nil)
)
