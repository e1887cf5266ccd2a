package mysql

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
)

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected embedded migrations, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].version > files[i].version {
			t.Fatalf("migrations out of order: %s before %s", files[i-1].name, files[i].name)
		}
	}
	if files[0].version != "0001" || !strings.Contains(files[0].statements[0], "mandates") {
		t.Fatalf("unexpected first migration: %+v", files[0])
	}
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (id INT);\n\n  ;CREATE TABLE b (id INT);")
	if len(got) != 2 || got[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0003_add_index.sql": "0003",
		"0004.sql":           "0004",
		"plain":              "plain",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestIsDuplicateEntry(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if !IsDuplicateEntry(dup) {
		t.Fatal("expected duplicate entry to be detected")
	}
	if IsDuplicateEntry(errors.New("boom")) {
		t.Fatal("plain errors are not duplicates")
	}
}
