package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Database exposes execute_sql over an already-connected *gorm.DB, reusing
// the same gorm/sqlite/postgres stack fsbackend.GORMBackend wires for blob
// storage rather than adding a second SQL driver dependency. A harness that
// wants this middleware typically shares the GORMBackend's own *gorm.DB
// (via (*fsbackend.GORMBackend).DB()) so execute_sql can inspect the same
// database the context manager and todo store write into, alongside
// whatever application tables the host process has migrated.
type Database struct {
	NoOp
	db *gorm.DB
}

// NewDatabase builds the Database middleware over an open connection.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Name() string { return "database" }

func (d *Database) Tools() []toolkit.Tool {
	return []toolkit.Tool{&executeSQLTool{db: d.db}}
}

func (d *Database) GetSystemPromptSegment(ctx context.Context) string {
	return "You have an execute_sql tool for read-only queries against the harness's database. Only SELECT statements are permitted."
}

// executeSQLTool runs a single read-only query and returns its rows as a
// JSON array of column-name-keyed objects, over the same GORM-backed
// persistence layer (fsbackend.GORMBackend); only SELECT is allowed since
// a model-issued write against shared harness state has no
// approval gate of its own — write access belongs to the filesystem
// middleware, whose edit-kind tools do have one.
type executeSQLTool struct{ db *gorm.DB }

func (executeSQLTool) Name() string       { return "execute_sql" }
func (executeSQLTool) Kind() toolkit.Kind { return toolkit.KindRead }
func (executeSQLTool) Description() string {
	return "Run a read-only SQL SELECT query against the harness database and return the matching rows as JSON."
}
func (executeSQLTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}

func (t *executeSQLTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	query, _ := args["query"].(string)
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &toolkit.Result{Output: "Error: 'query' is required", Success: false}, nil
	}
	if !strings.EqualFold(firstWord(trimmed), "select") {
		return &toolkit.Result{Output: "Error: only SELECT queries are permitted", Success: false}, nil
	}

	rows, err := t.db.WithContext(ctx).Raw(trimmed).Rows()
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Query failed: %v", err), Success: false}, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Query failed: %v", err), Success: false}, nil
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		scanArgs := make([]interface{}, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return &toolkit.Result{Output: fmt.Sprintf("Row scan failed: %v", err), Success: false}, nil
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	data, err := json.Marshal(results)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error: %v", err), Success: false}, nil
	}
	return &toolkit.Result{Output: string(data), Success: true, Metadata: map[string]interface{}{"row_count": len(results)}}, nil
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t\n("); i >= 0 {
		return s[:i]
	}
	return s
}
