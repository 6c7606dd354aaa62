package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultDBName = "teamdash.db"

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Driver    string
	DSN       string
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".teamdash", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".teamdash")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// ParseDialect maps a driver name to a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported db driver %q", driver)
}

// Open opens the configured database. SQLite lives in the workspace with
// foreign keys on and a single connection, since SQLite admits one writer.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	switch dialect {
	case Postgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, "", fmt.Errorf("postgres dsn is required")
		}
		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		if err := conn.PingContext(context.Background()); err != nil {
			_ = conn.Close()
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return conn, dialect, nil
	default:
		path := cfg.DSN
		if path == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, "", err
			}
			path = dbPath(cfg.Workspace)
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", err
		}
		conn.SetMaxOpenConns(1)
		return conn, dialect, nil
	}
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Rebind rewrites '?' placeholders into the dialect's positional form.
// Queries must not contain literal question marks.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
