// Package migrate applies the schema embedded in the binary.
package migrate

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"time"
)

// Dialect names a supported SQL engine.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed sql
var embedded embed.FS

// ParseDialect accepts "postgres" or "sqlite".
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case Postgres, SQLite:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", s)
}

// Files returns the migrations of dialect.
func Files(d Dialect) (fs.FS, error) {
	if _, err := ParseDialect(string(d)); err != nil {
		return nil, err
	}
	return fs.Sub(embedded, "sql/"+string(d))
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

var dollarParam = regexp.MustCompile(`\$\d+`)

// Rebind rewrites $n placeholders to ? for SQLite. Queries must use each
// placeholder once and in ascending order.
func (d Dialect) Rebind(query string) string {
	if d != SQLite {
		return query
	}
	return dollarParam.ReplaceAllString(query, "?")
}

// Time converts t to the value stored in timestamp columns. SQLite keeps
// RFC 3339 text so values sort and parse predictably.
func (d Dialect) Time(t time.Time) any {
	t = t.UTC()
	if d == SQLite {
		return t.Format(time.RFC3339Nano)
	}
	return t
}
