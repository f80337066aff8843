package infra

import "testing"

func TestSplitSQLDropsCommentsAndBlanks(t *testing.T) {
	input := `-- header
CREATE TABLE a (id TEXT);

-- second
CREATE INDEX a_idx ON a (id);
`
	stmts := splitSQL(stripSQLComments(input))
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (id TEXT)" {
		t.Fatalf("unexpected first statement: %q", stmts[0])
	}
}

func TestMigrationsDirFindsRepoRoot(t *testing.T) {
	dir, err := MigrationsDir()
	if err != nil {
		t.Fatalf("migrations dir: %v", err)
	}
	if dir == "" {
		t.Fatal("expected a path")
	}
}
