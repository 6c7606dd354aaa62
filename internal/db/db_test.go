package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, "SELECT * FROM jobs WHERE id=? AND status=?", "SELECT * FROM jobs WHERE id=? AND status=?"},
		{Postgres, "SELECT * FROM jobs WHERE id=? AND status=?", "SELECT * FROM jobs WHERE id=$1 AND status=$2"},
		{Postgres, "VALUES (?,?,?,?,?,?,?,?,?,?,?)", "VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)"},
		{Postgres, "SELECT 1", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := Rebind(tc.dialect, tc.in); got != tc.want {
			t.Fatalf("Rebind(%s, %q) = %q, want %q", tc.dialect, tc.in, got, tc.want)
		}
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "sqlite3": SQLite, "Postgres": Postgres, "pq": Postgres} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatal("expected error for mysql")
	}
}

func TestOpenRequiresPostgresDSN(t *testing.T) {
	if _, _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatal("expected error without dsn")
	}
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("dialect = %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if Path(dir) != filepath.Join(dir, ".teamdash", "teamdash.db") {
		t.Fatalf("unexpected db path %s", Path(dir))
	}
}
