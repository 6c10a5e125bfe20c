package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	sql := `
create table a (id text primary key);
insert into a values ('x;y');
insert into a values ('z')`

	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("got %d statements: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'x;y'") {
		t.Fatalf("semicolon inside string literal split: %q", stmts[1])
	}
	if !strings.Contains(stmts[2], "'z'") {
		t.Fatalf("trailing statement lost: %q", stmts[2])
	}
}

func TestSplitStatementsSkipsEmptyTail(t *testing.T) {
	stmts := splitStatements("select 1;\n\n  ")
	if len(stmts) != 1 {
		t.Fatalf("got %d statements: %q", len(stmts), stmts)
	}
}

func TestCollectSQLSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files: %+v", len(files), files)
	}
	if files[0].Base != "0001_a.up.sql" || files[1].Base != "0002_b.up.sql" {
		t.Fatalf("wrong order: %+v", files)
	}
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL(filepath.Join(t.TempDir(), "does-not-exist"), ".up.sql")
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %+v", files)
	}
}
