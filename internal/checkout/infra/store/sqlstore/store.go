// Package sqlstore persists orders, the transition log and the product
// catalog over database/sql.
//
// Two dialects are supported: SQLite through the pure-Go modernc driver
// (single file, the default for a small storefront) and PostgreSQL through
// pgx's database/sql adapter. Both share every query; placeholders are
// written as ? and rebound to $n for PostgreSQL.
//
// Status changes are single conditional UPDATEs guarded on the current
// status, run in the same transaction as the order_events insert. Two
// reconciliation triggers racing for the same order therefore serialize on
// the row and exactly one of them observes RowsAffected == 1.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"

	// Pure-Go SQLite driver, registered as "sqlite". No CGO needed, so the
	// service builds on Alpine and scratch images.
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts the DATABASE_DRIVER spellings.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("sqlstore: unsupported driver %q", s)
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func (d Dialect) migrationsDir() string {
	return "migrations/" + string(d)
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func (d Dialect) rebind(q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
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

// timeArg formats a timestamp for the dialect: RFC3339 TEXT on SQLite,
// native TIMESTAMPTZ on PostgreSQL.
func (d Dialect) timeArg(t time.Time) any {
	if d == DialectPostgres {
		return t.UTC()
	}
	return formatTime(t)
}

// Store is the database/sql implementation of ports.OrderStore and
// ports.CatalogReader.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the database described by dialect and dsn and applies
// pending migrations. For SQLite dsn is a file path (or ":memory:").
//
//	store, err := sqlstore.Open(ctx, sqlstore.DialectSQLite, "./data/checkout.db")
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	connStr := dsn
	if dialect == DialectSQLite {
		// _pragma parameters configure every new connection. WAL lets readers
		// proceed while a writer holds the lock; busy_timeout waits for the
		// lock instead of failing with SQLITE_BUSY.
		connStr = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", dsn)
	}

	db, err := sql.Open(dialect.driverName(), connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite has a single writer; one connection also keeps a
		// :memory: database alive for the life of the pool.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", dialect, err)
	}

	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened pool without running migrations.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Migrate applies the embedded goose migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(s.dialect.gooseDialect()); err != nil {
		return fmt.Errorf("sqlstore: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, s.dialect.migrationsDir()); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Close releases the pool. Call it with defer in main().
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction, committing on nil and rolling back
// otherwise. Errors are classified as persistence failures.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op+": begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return persistErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr(op+": commit", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: sqlstore: %s: %w", domain.ErrPersistence, op, err)
}

// nullableString returns nil for empty strings so the column stores NULL.
// payment_session_id relies on this: UNIQUE admits many NULLs.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
