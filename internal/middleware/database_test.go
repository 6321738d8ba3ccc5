package middleware

import (
	"context"
	"testing"

	"github.com/rscheiwe/deepharness/internal/fsbackend"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	backend, err := fsbackend.NewGORMBackend(fsbackend.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("new gorm backend: %v", err)
	}
	db := backend.DB()
	if err := db.Exec("CREATE TABLE widgets (id INTEGER, name TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.Exec("INSERT INTO widgets (id, name) VALUES (1, 'sprocket'), (2, 'gear')").Error; err != nil {
		t.Fatalf("seed rows: %v", err)
	}
	return NewDatabase(db)
}

func findExecuteSQLTool(t *testing.T, d *Database) toolkit.Tool {
	t.Helper()
	for _, tool := range d.Tools() {
		if tool.Name() == "execute_sql" {
			return tool
		}
	}
	t.Fatal("execute_sql tool not found")
	return nil
}

func TestDatabase_ExecuteSQLReturnsRows(t *testing.T) {
	d := newTestDatabase(t)
	tool := findExecuteSQLTool(t, d)

	res, err := tool.Execute(context.Background(), map[string]interface{}{"query": "SELECT id, name FROM widgets ORDER BY id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Metadata["row_count"] != 2 {
		t.Fatalf("expected 2 rows, got %+v", res.Metadata)
	}
}

func TestDatabase_ExecuteSQLRejectsNonSelect(t *testing.T) {
	d := newTestDatabase(t)
	tool := findExecuteSQLTool(t, d)

	res, err := tool.Execute(context.Background(), map[string]interface{}{"query": "DELETE FROM widgets"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected a non-SELECT statement to be rejected")
	}
}

func TestDatabase_ExecuteSQLRequiresQuery(t *testing.T) {
	d := newTestDatabase(t)
	tool := findExecuteSQLTool(t, d)

	res, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected empty query to fail")
	}
}

func TestDatabase_GetSystemPromptSegmentMentionsExecuteSQL(t *testing.T) {
	d := newTestDatabase(t)
	seg := d.GetSystemPromptSegment(context.Background())
	if seg == "" {
		t.Fatal("expected a non-empty system prompt segment")
	}
}
