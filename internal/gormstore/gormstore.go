// Package gormstore implements the gateway on gorm. Production runs use
// Postgres; the SQLite dialector backs tests and single-file setups.
//
// Foreign keys are checked by the repositories rather than declared, so the
// same models migrate cleanly on both dialects. Every write runs in its own
// gorm transaction; inside InTx that becomes a savepoint, which keeps one
// failed statement from aborting a Postgres transaction.
package gormstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/logger"
)

type Store struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() string
	inTx  bool
}

type config struct {
	now   func() time.Time
	newID func() string
	log   *logger.Logger
}

// Option configures a Store.
type Option func(*config)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithIDs overrides ID generation.
func WithIDs(newID func() string) Option {
	return func(c *config) { c.newID = newID }
}

// WithLogger routes gorm warnings (slow queries, driver errors) to log.
func WithLogger(log *logger.Logger) Option {
	return func(c *config) { c.log = log }
}

// OpenPostgres connects to Postgres and migrates the schema.
func OpenPostgres(dsn string, opts ...Option) (*Store, error) {
	return Open(postgres.Open(dsn), opts...)
}

// OpenSQLite opens a SQLite file through gorm with foreign keys and WAL on.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	s, err := Open(sqlite.Open(dsn), opts...)
	if err != nil {
		return nil, err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return s, nil
}

// Open connects through dialector and runs AutoMigrate.
func Open(dialector gorm.Dialector, opts ...Option) (*Store, error) {
	cfg := config{now: time.Now, newID: newUUID}
	for _, opt := range opts {
		opt(&cfg)
	}

	gcfg := &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)}
	if cfg.log != nil {
		gcfg.Logger = gormLogger.New(zapWriter{cfg.log}, gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", classify(err))
	}
	s := &Store{db: db, now: cfg.now, newID: cfg.newID}
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables, columns and indexes. Safe to repeat.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	err := db.AutoMigrate(
		&courseRow{},
		&unitRow{},
		&chapterRow{},
		&topicRow{},
		&lessonRow{},
		&lessonTagRow{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", classify(err))
	}
	for _, stmt := range naturalKeyIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", classify(err))
		}
	}
	return nil
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the gorm handle for direct queries.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Courses() gateway.CourseRepo { return courseRepo{s} }
func (s *Store) Units() gateway.NodeRepo     { return nodeRepo{s, nodeTables[0]} }
func (s *Store) Chapters() gateway.NodeRepo  { return nodeRepo{s, nodeTables[1]} }
func (s *Store) Topics() gateway.NodeRepo    { return nodeRepo{s, nodeTables[2]} }
func (s *Store) Lessons() gateway.LessonRepo { return lessonRepo{s} }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return gateway.Unavailable(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return gateway.Unavailable(err)
	}
	return nil
}

// InTx runs fn in one database transaction. Nested calls reuse it.
func (s *Store) InTx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	if s.inTx {
		return fn(s)
	}
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Store{db: tx, now: s.now, newID: s.newID, inTx: true})
		return fnErr
	})
	if err != nil && !errors.Is(err, fnErr) {
		return fmt.Errorf("transaction: %w", classify(err))
	}
	return err
}

// write runs fn as one atomic unit: a transaction, or a savepoint when the
// store is already inside one.
func (s *Store) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// classify marks errors that mean the database itself is unreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return gateway.Unavailable(err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return gateway.Unavailable(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection_exception
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "57P02", // crash_shutdown
			pgErr.Code == "57P03": // cannot_connect_now
			return gateway.Unavailable(err)
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return gateway.Unavailable(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return gateway.Unavailable(err)
	}
	if strings.Contains(err.Error(), "database is closed") {
		return gateway.Unavailable(err)
	}
	return err
}

// zapWriter adapts the logger to gorm's Printf-style writer.
type zapWriter struct{ log *logger.Logger }

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.log.SugaredLogger.Warnf(format, args...)
}

var (
	_ gateway.Gateway    = (*Store)(nil)
	_ gateway.Transactor = (*Store)(nil)
)
