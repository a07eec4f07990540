// Package sqlstore persists ballots, kiosks and audit entries in PostgreSQL
// (pgx) or SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/migrate"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db      *sql.DB
	dialect migrate.Dialect
}

var (
	_ ballot.Repository = (*Store)(nil)
	_ kiosk.Store       = (*Store)(nil)
	_ audit.Store       = (*Store)(nil)
)

// Open connects with the driver of dialect and tunes the pool for it.
func Open(dialect migrate.Dialect, dsn string) (*Store, error) {
	if dialect == migrate.SQLite {
		dsn = withSQLitePragmas(dsn)
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case migrate.SQLite:
		// One writer at a time; SQLite serialises writes anyway.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return New(db, dialect), nil
}

// New wraps an existing pool.
func New(db *sql.DB, dialect migrate.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() migrate.Dialect { return s.dialect }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	mgr, err := migrate.NewManager(s.db, s.dialect)
	if err != nil {
		return nil, err
	}
	return mgr.Up(ctx)
}

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

func (s *Store) ts(t time.Time) any { return s.dialect.Time(t) }

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + url.QueryEscape("foreign_keys(1)") + "&_pragma=" + url.QueryEscape("busy_timeout(5000)")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

// nullTime scans timestamps from either driver. SQLite may hand back text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (n *nullTime) Scan(src any) error {
	n.Time, n.Valid = time.Time{}, false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (n *nullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unrecognised time %q", s)
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
