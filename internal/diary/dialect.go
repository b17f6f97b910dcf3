package diary

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavor of the backing database.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unknown database driver %q", s)
	}
}

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	switch d {
	case DialectMySQL:
		return "mysql"
	case DialectPostgres:
		return "pgx"
	default:
		return "sqlite3"
	}
}

// Rebind rewrites ? placeholders into $1, $2, ... for postgres. Queries
// are always written with ? and must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// schema returns the DDL statements for d, one per Exec. MySQL rejects
// multi-statement Exec without a DSN flag.
func (d Dialect) schema() []string {
	switch d {
	case DialectMySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS moods (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				mood VARCHAR(32) NOT NULL,
				intensity INT NOT NULL,
				note TEXT NOT NULL,
				date_key VARCHAR(10) NOT NULL,
				created_at VARCHAR(40) NOT NULL,
				UNIQUE KEY uq_moods_date_key (date_key)
			)`,
			`CREATE TABLE IF NOT EXISTS periods (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				start_date VARCHAR(10) NOT NULL,
				created_at VARCHAR(40) NOT NULL,
				UNIQUE KEY uq_periods_start_date (start_date)
			)`,
		}
	case DialectPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS moods (
				id BIGSERIAL PRIMARY KEY,
				mood TEXT NOT NULL,
				intensity INTEGER NOT NULL,
				note TEXT NOT NULL DEFAULT '',
				date_key TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS periods (
				id BIGSERIAL PRIMARY KEY,
				start_date TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			)`,
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS moods (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mood TEXT NOT NULL,
				intensity INTEGER NOT NULL,
				note TEXT NOT NULL DEFAULT '',
				date_key TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS periods (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				start_date TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL
			)`,
		}
	}
}
